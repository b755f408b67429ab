package mqttbridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/portal-bridge/internal/session"
)

const defaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
type HealthReporter struct {
	bridgeID  string
	version   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher Publisher
	session   SessionStatus
	devices   func() int

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// Publisher is the subset of the MQTT client health reporting needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// SessionStatus reports portal session health. *session.Manager implements it.
type SessionStatus interface {
	Info() session.Info
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Topic is where health is published, normally Topics.Health().
	Topic string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher Publisher

	// Session and Devices are optional.
	Session SessionStatus
	Devices func() int

	Logger Logger
}

// NewHealthReporter creates a new health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		topic:     cfg.Topic,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		session:   cfg.Session,
		devices:   cfg.Devices,
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// LWTPayload returns the Last Will and Testament payload.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.bridgeID))
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.session != nil {
		if info := h.session.Info(); info.State != session.Authenticated.String() && info.Logins > 0 {
			return HealthDegraded, "portal session " + info.State
		}
	}
	if h.devices != nil && h.devices() == 0 {
		return HealthDegraded, "no devices discovered"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.devices != nil {
		msg.DevicesManaged = h.devices()
	}
	if h.session != nil {
		msg.Session = h.session.Info().State
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}
