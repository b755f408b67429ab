// Package device provides the Device Registry for Portal Bridge.
//
// The registry is the canonical, in-memory set of devices found on the
// portal. Discovery replaces it wholesale; the control plane only ever
// changes device state.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                        Device Registry                         │
//	│                                                                │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌────────────┐ │
//	│  │     Registry     │──▶│    Repository    │   │  Observers │ │
//	│  │  (registry.go)   │   │ (repository.go)  │   │ ws, mqtt,  │ │
//	│  │ • insertion order│   │ • snapshot rows  │   │ influx,    │ │
//	│  │ • atomic Replace │   │ • stale marking  │   │ history    │ │
//	│  └──────────────────┘   └──────────────────┘   └────────────┘ │
//	└───────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Device: one portal element with its type, commands and state
//   - DeviceType: Light, Dimmer, WindowCovering, Fan, TemperatureSensor, Scene, Unknown
//   - State: tagged variant whose kind is fixed by the device type
//
// # Usage
//
//	reg := device.NewRegistry(device.NewSQLiteRepository(db.DB))
//	reg.SetLogger(logger)
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//	summary, err := reg.Replace(ctx, discovered)
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Values handed out are
// copies, and readers never observe a partly replaced set.
package device
