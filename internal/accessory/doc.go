// Package accessory exposes registry devices as HomeKit accessories.
//
// One accessory is built per supported device at startup and hosted behind a
// HomeKit bridge over the HAP IP transport. Remote writes from Home apps go
// through the control plane tagged with device.SourceHomeKit. Values flow back
// two ways: registry state changes are pushed immediately through
// OnStateChange, and each accessory polls GetDeviceState on an interval chosen
// by its device class.
package accessory
