package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
)

// Client is the bridge's connection to the broker. It announces itself on
// the health topic, keeps track of subscriptions so they survive a
// reconnect, and recovers panics in message handlers.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handlers may run concurrently; message order is not preserved.
type Client struct {
	client    pahomqtt.Client
	cfg       config.MQTTConfig
	topics    Topics
	subs      *subscriptionSet
	connected atomic.Bool

	mu           sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the logging subset the client needs. *logging.Logger and
// *slog.Logger both satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one message. Topic wildcards are already
// expanded. A returned error is logged and does not affect acknowledgment.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and waits for the first
// connection. The health topic carries a retained offline will; the online
// status is published from the connect handler, so it is repeated after
// every reconnect.
//
// Parameters:
//   - cfg: the mqtt section of config.yaml
//
// Returns:
//   - *Client: connected client
//   - error: ErrConnectionFailed if the broker is unreachable within the timeout
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
		subs:   newSubscriptionSet(),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if l := c.getLogger(); l != nil {
			l.Warn("MQTT reconnecting", "broker", cfg.Broker.Host)
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark the client usable now.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.publishStatus(statusOnline, "")

	c.mu.RLock()
	cb := c.onConnect
	c.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	cb := c.onDisconnect
	c.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// restoreSubscriptions re-issues every tracked subscription. The broker
// forgets them because sessions are clean.
func (c *Client) restoreSubscriptions() {
	subs := c.subs.list()
	tokens := make([]pahomqtt.Token, len(subs))
	for i, s := range subs {
		tokens[i] = c.client.Subscribe(s.topic, s.qos, c.wrapHandler(s.handler))
	}
	for i, t := range tokens {
		if t.WaitTimeout(defaultPublishTimeout) && t.Error() == nil {
			continue
		}
		if l := c.getLogger(); l != nil {
			l.Warn("MQTT subscription restore failed", "topic", subs[i].topic, "error", t.Error())
		}
	}
}

func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	payload := statusPayload(status, c.cfg.Broker.ClientID, reason, time.Now())
	return c.client.Publish(c.topics.Health(), byte(c.cfg.QoS), true, payload)
}

// Close announces a graceful shutdown on the health topic, which a
// subscriber can tell apart from the will, then disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonShutdown).WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers a callback for every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for connection loss.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for handler errors and recovered panics.
// Without one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
