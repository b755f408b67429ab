package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/portal-bridge/internal/control"
	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/mqtt"
)

const (
	defaultCommandTimeout = 15 * time.Second
	stateQueueSize        = 256
	defaultBridgeID       = "portalbridge"
)

// Logger is the logging surface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the interface for MQTT operations. *mqtt.Client implements it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Controller executes commands. *control.Plane implements it.
type Controller interface {
	ListDevices() []device.Device
	Toggle(ctx context.Context, key string, on bool) (device.State, error)
	SetPosition(ctx context.Context, key string, pct int) (device.State, error)
	TriggerScene(ctx context.Context, key string) (device.State, error)
}

// Options configures a Bridge.
type Options struct {
	MQTT    MQTTClient
	Control Controller
	Topics  mqtt.Topics

	// QoS for state and ack messages. Default 1.
	QoS byte

	BridgeID       string
	Version        string
	HealthInterval time.Duration
	CommandTimeout time.Duration

	// Session is optional and only feeds health reports.
	Session SessionStatus

	Logger Logger
}

// Bridge mirrors registry state to MQTT and executes MQTT commands.
// It implements device.Observer; register it with the registry.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - State publishes go through a bounded queue; a full queue drops updates.
type Bridge struct {
	mqtt           MQTTClient
	control        Controller
	topics         mqtt.Topics
	qos            byte
	commandTimeout time.Duration
	health         *HealthReporter
	logger         Logger

	states chan StateMessage

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewBridge creates a bridge. Call Start to subscribe and begin publishing.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Control == nil {
		return nil, fmt.Errorf("control plane is required")
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = mqtt.NewTopics("")
	}
	if opts.QoS == 0 {
		opts.QoS = 1
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.BridgeID == "" {
		opts.BridgeID = defaultBridgeID
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:           opts.MQTT,
		control:        opts.Control,
		topics:         opts.Topics,
		qos:            opts.QoS,
		commandTimeout: opts.CommandTimeout,
		logger:         logger,
		states:         make(chan StateMessage, stateQueueSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      cancel,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Topic:     opts.Topics.Health(),
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Session:   opts.Session,
		Devices:   func() int { return len(opts.Control.ListDevices()) },
		Logger:    logger,
	})
	return b, nil
}

// Start subscribes to command topics, publishes the current state of every
// device and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	if err := b.mqtt.Subscribe(b.topics.AllCommands(), b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", b.topics.AllCommands())

	devices := b.control.ListDevices()
	for _, d := range devices {
		b.publishState(StateMessage{
			Key:        d.Key,
			Name:       d.Name,
			DeviceType: d.Type,
			State:      d.State,
			Timestamp:  d.StateUpdatedAt,
		})
	}

	b.mu.Lock()
	b.started = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.publishLoop()

	b.health.Start(ctx)
	b.logger.Info("mqtt bridge started", "devices", len(devices))
	return nil
}

// Stop unsubscribes, waits for in-flight commands and publishes a final
// health status. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.mqtt.IsConnected() {
			if err := b.mqtt.Unsubscribe(b.topics.AllCommands()); err != nil {
				b.logger.Warn("unsubscribe from commands", "error", err)
			}
		}
		b.mu.Lock()
		b.stopped = true
		b.started = false
		b.mu.Unlock()

		b.ctxCancel()
		close(b.done)
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("mqtt bridge stopped")
	})
}

// OnStateChange implements device.Observer. Publishing happens on the
// bridge's own goroutine so a slow broker never stalls the registry.
func (b *Bridge) OnStateChange(_ context.Context, change device.StateChange) {
	b.enqueue(StateMessage{
		Key:        change.Key,
		Name:       change.Name,
		DeviceType: change.Type,
		State:      change.State,
		Source:     change.Source,
		Timestamp:  change.At,
	})
}

func (b *Bridge) enqueue(msg StateMessage) {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}

	select {
	case b.states <- msg:
	default:
		b.logger.Warn("state queue full, dropping update", "key", msg.Key)
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case u := <-b.states:
			b.publishState(u)
		}
	}
}

func (b *Bridge) publishState(msg StateMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("encoding state", "key", msg.Key, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.State(msg.Key), payload, b.qos, true); err != nil {
		b.logger.Warn("publishing state", "key", msg.Key, "error", err)
	}
}

// handleMessage is the MQTT handler for command topics. Commands run on
// their own goroutine since paho delivers messages in order.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	key, ok := b.topics.CommandKey(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(key, CommandMessage{ID: uuid.NewString()}, nil,
			&AckError{Code: ErrCodeInvalidCommand, Message: "invalid JSON payload"})
		return fmt.Errorf("decoding command for %s: %w", key, err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.execute(key, cmd)
	}()
	return nil
}

func (b *Bridge) execute(key string, cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(control.WithSource(b.ctx, device.SourceMQTT), b.commandTimeout)
	defer cancel()

	b.logger.Info("received command", "command_id", cmd.ID, "key", key, "action", cmd.Action)

	var (
		state device.State
		err   error
	)
	switch cmd.Action {
	case ActionToggle:
		if cmd.On == nil {
			b.publishAck(key, cmd, nil, &AckError{Code: ErrCodeInvalidParameters, Message: "field 'on' is required"})
			return
		}
		state, err = b.control.Toggle(ctx, key, *cmd.On)
	case ActionPosition:
		if cmd.Position == nil {
			b.publishAck(key, cmd, nil, &AckError{Code: ErrCodeInvalidParameters, Message: "field 'position' is required"})
			return
		}
		state, err = b.control.SetPosition(ctx, key, *cmd.Position)
	case ActionScene:
		state, err = b.control.TriggerScene(ctx, key)
	default:
		b.publishAck(key, cmd, nil, &AckError{Code: ErrCodeInvalidCommand, Message: "unknown action: " + cmd.Action})
		return
	}

	if err != nil {
		b.logger.Warn("command failed", "command_id", cmd.ID, "key", key, "error", err)
		b.publishAck(key, cmd, nil, &AckError{Code: errorCode(err), Message: err.Error()})
		return
	}
	b.publishAck(key, cmd, &state, nil)
}

func (b *Bridge) publishAck(key string, cmd CommandMessage, state *device.State, ackErr *AckError) {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceKey: key,
		Status:    AckAccepted,
		State:     state,
	}
	if ackErr != nil {
		ack.Status = AckFailed
		ack.Error = ackErr
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("encoding ack", "key", key, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(key), payload, b.qos, false); err != nil {
		b.logger.Warn("publishing ack", "key", key, "error", err)
	}
}

// errorCode maps control and registry errors to ack codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeNotFound
	case errors.Is(err, control.ErrValidation):
		return ErrCodeInvalidParameters
	case errors.Is(err, control.ErrIncompatible), errors.Is(err, device.ErrTypeMismatch):
		return ErrCodeIncompatible
	case errors.Is(err, control.ErrReadOnly):
		return ErrCodeReadOnly
	case errors.Is(err, control.ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, control.ErrDispatch):
		return ErrCodeDispatchFailed
	default:
		return ErrCodeBridgeError
	}
}
