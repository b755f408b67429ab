package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// milliseconds
	defaultDisconnectQuiesce = 1000

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

// Health topic status values.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// buildClientOptions maps the mqtt config section onto paho options. The
// session is clean; Client restores its own subscriptions on reconnect.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(scheme + "://" + net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port))).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetWriteTimeout(defaultWriteTimeout).
		SetKeepAlive(defaultKeepAlive).
		// A command handler waits on the portal; don't let it hold up the
		// next message.
		SetOrderMatters(false)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT makes the broker publish a retained offline status on the
// health topic if the bridge vanishes without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetBinaryWill(topics.Health(), statusPayload(statusOffline, clientID, reasonUnexpected, time.Now()), 1, true)
}

// connectionStatus is what the client itself publishes on the health
// topic. The bridge's periodic health report uses the same topic with a
// richer body.
type connectionStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, clientID, reason string, now time.Time) []byte {
	//nolint:errchkjson // a struct of strings always encodes
	b, _ := json.Marshal(connectionStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	return b
}
