package device

import (
	"fmt"
	"time"

	"github.com/nerrad567/portal-bridge/internal/command"
)

// DeviceType classifies a portal element by the affordances it exposes.
type DeviceType string

// Device types.
const (
	TypeLight             DeviceType = "Light"
	TypeDimmer            DeviceType = "Dimmer"
	TypeWindowCovering    DeviceType = "WindowCovering"
	TypeFan               DeviceType = "Fan"
	TypeTemperatureSensor DeviceType = "TemperatureSensor"
	TypeScene             DeviceType = "Scene"
	TypeUnknown           DeviceType = "Unknown"
)

// expectedKinds fixes the state variant each device type carries.
var expectedKinds = map[DeviceType]StateKind{
	TypeLight:             KindOnOff,
	TypeFan:               KindOnOff,
	TypeDimmer:            KindBrightness,
	TypeWindowCovering:    KindPosition,
	TypeTemperatureSensor: KindTemperature,
	TypeScene:             KindScene,
	TypeUnknown:           KindUnknown,
}

// AllTypes lists every device type in display order.
func AllTypes() []DeviceType {
	return []DeviceType{
		TypeLight, TypeDimmer, TypeWindowCovering, TypeFan,
		TypeTemperatureSensor, TypeScene, TypeUnknown,
	}
}

// Valid reports whether t is a known device type.
func (t DeviceType) Valid() bool {
	_, ok := expectedKinds[t]
	return ok
}

// ExpectedKind returns the state variant for t. Unrecognised types map to KindUnknown.
func (t DeviceType) ExpectedKind() StateKind {
	if k, ok := expectedKinds[t]; ok {
		return k
	}
	return KindUnknown
}

// InitialState returns the zero state for t.
func (t DeviceType) InitialState() State {
	switch t.ExpectedKind() {
	case KindOnOff:
		return OnOff(false)
	case KindBrightness:
		return Brightness(false, 0)
	case KindPosition:
		return Position(0, MotionStopped)
	case KindTemperature:
		return Temperature(0)
	case KindScene:
		return Scene(false)
	default:
		return Unknown()
	}
}

// Device is one controllable or monitorable portal element.
type Device struct {
	// Key is unique and stable across discovery runs: <element id>_page<NN>.
	Key  string     `json:"key"`
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type DeviceType `json:"device_type"`
	Page int        `json:"page"`

	// Index is the element's data-index, used when rendering commands.
	Index string `json:"-"`

	// Commands holds the rendered portal payloads for this device.
	Commands command.Descriptors `json:"-"`

	State          State     `json:"state"`
	StateUpdatedAt time.Time `json:"state_updated_at"`
}

// ReadOnly reports whether no command can be sent to the device.
func (d *Device) ReadOnly() bool {
	return d.Type == TypeUnknown || d.Commands.ReadOnly()
}

// DeepCopy returns an independent copy of d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.Commands = d.Commands.Clone()
	return &cpy
}

// Validate checks identity fields and that the state fits the type.
func (d *Device) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidDevice)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidDevice, d.Key)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidDevice, d.Key, d.Type)
	}
	if d.Page < 1 {
		return fmt.Errorf("%w: %s: page must be positive", ErrInvalidDevice, d.Key)
	}
	return CheckState(d.Type, d.State)
}

// CheckState verifies that s is the right variant for t and is in range.
func CheckState(t DeviceType, s State) error {
	if want := t.ExpectedKind(); s.Kind != want {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrTypeMismatch, t, want, s.Kind)
	}
	return s.Validate()
}
