package device

import (
	"encoding/json"
	"fmt"
)

// StateKind tags the State variant.
type StateKind string

// State kinds, as serialised in the "type" field.
const (
	KindOnOff       StateKind = "onoff"
	KindBrightness  StateKind = "brightness"
	KindPosition    StateKind = "position"
	KindTemperature StateKind = "temperature"
	KindScene       StateKind = "scene"
	KindUnknown     StateKind = "unknown"
)

// Motion is the travel direction of a window covering.
type Motion string

// Motion values.
const (
	MotionStopped Motion = "stopped"
	MotionOpening Motion = "opening"
	MotionClosing Motion = "closing"
)

// State is the last-known value of a device. Only the fields belonging to
// Kind are meaningful; use the constructors to build one.
type State struct {
	Kind     StateKind
	On       bool
	Level    int
	Position int
	Motion   Motion
	Celsius  float64
	Active   bool
}

// OnOff builds an onoff state.
func OnOff(on bool) State { return State{Kind: KindOnOff, On: on} }

// Brightness builds a brightness state with level in percent.
func Brightness(on bool, level int) State {
	return State{Kind: KindBrightness, On: on, Level: level}
}

// Position builds a covering state with position in percent open.
func Position(pct int, motion Motion) State {
	return State{Kind: KindPosition, Position: pct, Motion: motion}
}

// Temperature builds a temperature reading.
func Temperature(celsius float64) State { return State{Kind: KindTemperature, Celsius: celsius} }

// Scene builds a scene state.
func Scene(active bool) State { return State{Kind: KindScene, Active: active} }

// Unknown builds the empty state of unclassified devices.
func Unknown() State { return State{Kind: KindUnknown} }

// Validate checks ranges for the fields of s.Kind.
func (s State) Validate() error {
	switch s.Kind {
	case KindOnOff, KindScene, KindTemperature, KindUnknown:
		return nil
	case KindBrightness:
		if s.Level < 0 || s.Level > 100 {
			return fmt.Errorf("%w: level %d out of range", ErrInvalidState, s.Level)
		}
	case KindPosition:
		if s.Position < 0 || s.Position > 100 {
			return fmt.Errorf("%w: position %d out of range", ErrInvalidState, s.Position)
		}
		switch s.Motion {
		case MotionStopped, MotionOpening, MotionClosing:
		default:
			return fmt.Errorf("%w: motion %q", ErrInvalidState, s.Motion)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidState, s.Kind)
	}
	return nil
}

// IsOn reports the on/off part of switchable states.
func (s State) IsOn() bool {
	switch s.Kind {
	case KindOnOff, KindBrightness:
		return s.On
	case KindScene:
		return s.Active
	default:
		return false
	}
}

// Fields returns the numeric values of s keyed by field name, for metrics.
func (s State) Fields() map[string]float64 {
	b := func(v bool) float64 {
		if v {
			return 1
		}
		return 0
	}
	switch s.Kind {
	case KindOnOff:
		return map[string]float64{"on": b(s.On)}
	case KindBrightness:
		return map[string]float64{"on": b(s.On), "level": float64(s.Level)}
	case KindPosition:
		return map[string]float64{"position": float64(s.Position)}
	case KindTemperature:
		return map[string]float64{"celsius": s.Celsius}
	case KindScene:
		return map[string]float64{"active": b(s.Active)}
	default:
		return nil
	}
}

type onOffJSON struct {
	Type StateKind `json:"type"`
	On   bool      `json:"on"`
}

type brightnessJSON struct {
	Type  StateKind `json:"type"`
	On    bool      `json:"on"`
	Level int       `json:"level"`
}

type positionJSON struct {
	Type     StateKind `json:"type"`
	Position int       `json:"position"`
	Motion   Motion    `json:"motion"`
}

type temperatureJSON struct {
	Type    StateKind `json:"type"`
	Celsius float64   `json:"celsius"`
}

type sceneJSON struct {
	Type   StateKind `json:"type"`
	Active bool      `json:"active"`
}

type kindJSON struct {
	Type StateKind `json:"type"`
}

// MarshalJSON writes only the fields of the active variant.
func (s State) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindOnOff:
		return json.Marshal(onOffJSON{s.Kind, s.On})
	case KindBrightness:
		return json.Marshal(brightnessJSON{s.Kind, s.On, s.Level})
	case KindPosition:
		return json.Marshal(positionJSON{s.Kind, s.Position, s.Motion})
	case KindTemperature:
		return json.Marshal(temperatureJSON{s.Kind, s.Celsius})
	case KindScene:
		return json.Marshal(sceneJSON{s.Kind, s.Active})
	case KindUnknown, "":
		return json.Marshal(kindJSON{KindUnknown})
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidState, s.Kind)
	}
}

// UnmarshalJSON reads a state tagged by its "type" field.
func (s *State) UnmarshalJSON(data []byte) error {
	var tag kindJSON
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	switch tag.Type {
	case KindOnOff:
		var v onOffJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = OnOff(v.On)
	case KindBrightness:
		var v brightnessJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Brightness(v.On, v.Level)
	case KindPosition:
		var v positionJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		if v.Motion == "" {
			v.Motion = MotionStopped
		}
		*s = Position(v.Position, v.Motion)
	case KindTemperature:
		var v temperatureJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Temperature(v.Celsius)
	case KindScene:
		var v sceneJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Scene(v.Active)
	case KindUnknown:
		*s = Unknown()
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidState, tag.Type)
	}
	return nil
}
