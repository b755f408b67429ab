package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix roots every topic when the config leaves it empty.
const DefaultTopicPrefix = "portalbridge"

// Topics builds Portal Bridge MQTT topics under a common prefix.
//
//	topics := mqtt.NewTopics("")
//	topics.State("Single_1_page01")
//	// Returns: "portalbridge/state/Single_1_page01"
type Topics struct {
	Prefix string
}

// NewTopics returns builders rooted at prefix, or DefaultTopicPrefix when
// prefix is empty. Trailing slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// State returns the retained state topic for a device.
//
// Example: portalbridge/state/Single_1_page01
func (t Topics) State(key string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix(), key)
}

// Command returns the topic a device listens on for commands.
//
// Example: portalbridge/command/Single_1_page01
func (t Topics) Command(key string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), key)
}

// Ack returns the topic command results are published to.
//
// Example: portalbridge/ack/Single_1_page01
func (t Topics) Ack(key string) string {
	return fmt.Sprintf("%s/ack/%s", t.prefix(), key)
}

// Health returns the bridge health topic. It doubles as the LWT topic.
//
// Example: portalbridge/health
func (t Topics) Health() string {
	return t.prefix() + "/health"
}

// AllCommands returns a pattern matching every device command topic.
//
// Pattern: portalbridge/command/+
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// AllStates returns a pattern matching every device state topic.
//
// Pattern: portalbridge/state/+
func (t Topics) AllStates() string {
	return t.prefix() + "/state/+"
}

// CommandKey extracts the device key from a command topic. It reports
// false for topics outside the command namespace.
func (t Topics) CommandKey(topic string) (string, bool) {
	key, ok := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
