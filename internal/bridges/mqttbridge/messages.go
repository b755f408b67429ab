package mqttbridge

import (
	"time"

	"github.com/nerrad567/portal-bridge/internal/device"
)

// Command actions.
const (
	ActionToggle   = "toggle"
	ActionPosition = "position"
	ActionScene    = "scene"
)

// CommandMessage is received on portalbridge/command/{key}.
type CommandMessage struct {
	// ID correlates the command with its ack. Generated when empty.
	ID string `json:"id,omitempty"`

	// Action is toggle, position or scene.
	Action string `json:"action"`

	// On is required for toggle.
	On *bool `json:"on,omitempty"`

	// Position is required for position, 0..100.
	Position *int `json:"position,omitempty"`
}

// AckStatus represents the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the portal accepted the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"
)

// AckMessage is published to portalbridge/ack/{key}.
type AckMessage struct {
	CommandID string        `json:"command_id"`
	Timestamp time.Time     `json:"timestamp"`
	DeviceKey string        `json:"device_key"`
	Status    AckStatus     `json:"status"`
	State     *device.State `json:"state,omitempty"`
	Error     *AckError     `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeIncompatible      = "INCOMPATIBLE"
	ErrCodeReadOnly          = "READ_ONLY"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeDispatchFailed    = "DISPATCH_FAILED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is published retained to portalbridge/state/{key}.
type StateMessage struct {
	Key        string            `json:"key"`
	Name       string            `json:"name"`
	DeviceType device.DeviceType `json:"device_type"`
	State      device.State      `json:"state"`
	Source     device.Source     `json:"source,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained to portalbridge/health.
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version,omitempty"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	DevicesManaged int          `json:"devices_managed"`
	Session        string       `json:"session,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

// NewLWTMessage returns the offline message the broker publishes when the
// bridge disappears without a clean disconnect.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
