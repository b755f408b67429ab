package accessory

import (
	"fmt"
	"sync"
	"time"

	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"

	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
)

// remote receives writes coming from HomeKit controllers.
type remote interface {
	toggle(key string, on bool)
	position(key string, pct int)
	trigger(key string, on bool)
}

// item is one device exposed as an accessory.
type item struct {
	key      string
	typ      device.DeviceType
	acc      *accessory.Accessory
	interval time.Duration

	mu sync.Mutex
	// apply copies a device state onto the accessory characteristics.
	apply func(device.State)
}

// update applies st. Pushes and polls may race on the same accessory.
func (it *item) update(st device.State) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.apply(st)
}

// supported reports whether t has an accessory mapping.
func supported(t device.DeviceType) bool {
	switch t {
	case device.TypeLight, device.TypeDimmer, device.TypeFan,
		device.TypeWindowCovering, device.TypeTemperatureSensor, device.TypeScene:
		return true
	}
	return false
}

// pollInterval picks the refresh interval for the device class of t.
func pollInterval(t device.DeviceType, poll config.PollConfig) time.Duration {
	switch t {
	case device.TypeWindowCovering:
		return poll.Position
	case device.TypeTemperatureSensor:
		return poll.Temperature
	default:
		return poll.OnOff
	}
}

func info(d device.Device, manufacturer string) accessory.Info {
	return accessory.Info{
		ID:           ID(d.Key),
		Name:         d.Name,
		SerialNumber: d.Key,
		Manufacturer: manufacturer,
		Model:        string(d.Type),
	}
}

// build maps d onto an accessory. Remote writes are forwarded to r.
func build(d device.Device, manufacturer string, poll config.PollConfig, r remote) (*item, error) {
	if !supported(d.Type) {
		return nil, fmt.Errorf("no accessory mapping for %s", d.Type)
	}

	it := &item{key: d.Key, typ: d.Type, interval: pollInterval(d.Type, poll)}
	key := d.Key

	switch d.Type {
	case device.TypeLight:
		acc := accessory.New(info(d, manufacturer), accessory.TypeLightbulb)
		lb := service.NewLightbulb()
		lb.On.OnValueRemoteUpdate(func(on bool) { r.toggle(key, on) })
		acc.AddService(lb.Service)
		it.acc = acc
		it.apply = func(s device.State) { lb.On.SetValue(s.On) }

	case device.TypeDimmer:
		acc := accessory.New(info(d, manufacturer), accessory.TypeLightbulb)
		lb := service.NewLightbulb()
		brightness := characteristic.NewBrightness()
		lb.AddCharacteristic(brightness.Characteristic)
		lb.On.OnValueRemoteUpdate(func(on bool) { r.toggle(key, on) })
		// The portal only switches dimmers; any non-zero level means on.
		brightness.OnValueRemoteUpdate(func(level int) { r.toggle(key, level > 0) })
		acc.AddService(lb.Service)
		it.acc = acc
		it.apply = func(s device.State) {
			lb.On.SetValue(s.On)
			brightness.SetValue(s.Level)
		}

	case device.TypeFan:
		acc := accessory.New(info(d, manufacturer), accessory.TypeFan)
		fan := service.NewFan()
		fan.On.OnValueRemoteUpdate(func(on bool) { r.toggle(key, on) })
		acc.AddService(fan.Service)
		it.acc = acc
		it.apply = func(s device.State) { fan.On.SetValue(s.On) }

	case device.TypeWindowCovering:
		acc := accessory.New(info(d, manufacturer), accessory.TypeWindowCovering)
		wc := service.NewWindowCovering()
		wc.TargetPosition.OnValueRemoteUpdate(func(pct int) { r.position(key, pct) })
		acc.AddService(wc.Service)
		it.acc = acc
		it.apply = func(s device.State) {
			wc.CurrentPosition.SetValue(s.Position)
			wc.TargetPosition.SetValue(s.Position)
			wc.PositionState.SetValue(positionState(s.Motion))
		}

	case device.TypeTemperatureSensor:
		acc := accessory.New(info(d, manufacturer), accessory.TypeSensor)
		ts := service.NewTemperatureSensor()
		acc.AddService(ts.Service)
		it.acc = acc
		it.apply = func(s device.State) { ts.CurrentTemperature.SetValue(s.Celsius) }

	case device.TypeScene:
		acc := accessory.New(info(d, manufacturer), accessory.TypeSwitch)
		sw := service.NewSwitch()
		sw.On.OnValueRemoteUpdate(func(on bool) { r.trigger(key, on) })
		acc.AddService(sw.Service)
		it.acc = acc
		it.apply = func(s device.State) { sw.On.SetValue(s.Active) }
	}

	it.apply(d.State)
	return it, nil
}

func positionState(m device.Motion) int {
	switch m {
	case device.MotionOpening:
		return characteristic.PositionStateIncreasing
	case device.MotionClosing:
		return characteristic.PositionStateDecreasing
	default:
		return characteristic.PositionStateStopped
	}
}
