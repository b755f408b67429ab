// Package mqttbridge mirrors the device registry onto MQTT and accepts
// commands from it.
//
// State changes are published retained to portalbridge/state/{key}.
// Commands arrive on portalbridge/command/{key} and go through the same
// control plane as the REST API; the result is acknowledged on
// portalbridge/ack/{key}. A HealthReporter publishes retained bridge
// health to portalbridge/health, where the broker also drops the LWT.
package mqttbridge
