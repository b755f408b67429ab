package accessory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"

	"github.com/nerrad567/portal-bridge/internal/control"
	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
)

// DefaultRemoteTimeout bounds one control call made on behalf of HomeKit.
const DefaultRemoteTimeout = 15 * time.Second

// Logger is the logging surface the sync layer needs.
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

// Controller is the control plane surface used by accessories.
type Controller interface {
	ListDevices() []device.Device
	GetDeviceState(key string) (device.State, error)
	Toggle(ctx context.Context, key string, on bool) (device.State, error)
	SetPosition(ctx context.Context, key string, pct int) (device.State, error)
	TriggerScene(ctx context.Context, key string) (device.State, error)
}

type transportFunc func(cfg hc.Config, a *accessory.Accessory, as ...*accessory.Accessory) (hc.Transport, error)

// ipTransport adapts hc.NewIPTransport, whose concrete return type is
// unexported, to transportFunc.
func ipTransport(cfg hc.Config, a *accessory.Accessory, as ...*accessory.Accessory) (hc.Transport, error) {
	return hc.NewIPTransport(cfg, a, as...)
}

// Options configures a Sync.
type Options struct {
	Config        config.HomeKitConfig
	Control       Controller
	Logger        Logger
	RemoteTimeout time.Duration
}

// Sync owns the accessory set, its pollers and the HAP transport.
type Sync struct {
	cfg     config.HomeKitConfig
	control Controller
	logger  Logger
	timeout time.Duration

	bridge *accessory.Bridge
	items  map[string]*item
	order  []*item

	newTransport transportFunc
	transport    hc.Transport

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New fetches the device list once and builds one accessory per supported
// device. Unsupported types are skipped with a warning.
func New(opts Options) (*Sync, error) {
	if opts.Control == nil {
		return nil, errors.New("accessory: control plane is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}

	s := &Sync{
		cfg:          opts.Config,
		control:      opts.Control,
		logger:       opts.Logger,
		timeout:      opts.RemoteTimeout,
		items:        make(map[string]*item),
		newTransport: ipTransport,
		done:         make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	name := opts.Config.Name
	if name == "" {
		name = "Portal Bridge"
	}
	s.bridge = accessory.NewBridge(accessory.Info{
		ID:           BridgeID,
		Name:         name,
		Manufacturer: opts.Config.Manufacturer,
		Model:        "Bridge",
	})

	for _, d := range opts.Control.ListDevices() {
		if !supported(d.Type) {
			s.logger.Warn("skipping device without accessory mapping", "key", d.Key, "type", d.Type)
			continue
		}
		it, err := build(d, opts.Config.Manufacturer, opts.Config.Poll, s)
		if err != nil {
			return nil, fmt.Errorf("building accessory for %s: %w", d.Key, err)
		}
		s.items[d.Key] = it
		s.order = append(s.order, it)
	}
	return s, nil
}

// Len returns the number of accessories, excluding the bridge.
func (s *Sync) Len() int { return len(s.order) }

// Accessories returns the hosted accessories in device list order.
func (s *Sync) Accessories() []*accessory.Accessory {
	out := make([]*accessory.Accessory, 0, len(s.order))
	for _, it := range s.order {
		out = append(out, it.acc)
	}
	return out
}

// Start opens the HAP transport and launches the pollers. Cancelling ctx
// stops the pollers; Stop must still be called to tear down the transport.
func (s *Sync) Start(ctx context.Context) error {
	t, err := s.newTransport(hc.Config{
		Pin:         s.cfg.Pin,
		StoragePath: s.cfg.StoragePath,
		Port:        s.cfg.Port,
	}, s.bridge.Accessory, s.Accessories()...)
	if err != nil {
		return fmt.Errorf("creating HAP transport: %w", err)
	}
	s.transport = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.Start()
	}()

	for _, it := range s.order {
		if it.interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.poll(ctx, it)
	}

	s.logger.Info("homekit bridge started", "accessories", len(s.order), "port", s.cfg.Port)
	return nil
}

// Stop halts the pollers and the transport. Safe to call more than once.
func (s *Sync) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()
		if s.transport != nil {
			<-s.transport.Stop()
		}
		s.wg.Wait()
		s.logger.Info("homekit bridge stopped")
	})
}

// OnStateChange pushes a registry change onto the matching accessory.
func (s *Sync) OnStateChange(_ context.Context, change device.StateChange) {
	if it, ok := s.items[change.Key]; ok {
		it.update(change.State)
	}
}

func (s *Sync) poll(ctx context.Context, it *item) {
	defer s.wg.Done()

	ticker := time.NewTicker(it.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.refresh(it)
		}
	}
}

func (s *Sync) refresh(it *item) {
	st, err := s.control.GetDeviceState(it.key)
	if err != nil {
		s.logger.Warn("accessory poll failed", "key", it.key, "error", err)
		return
	}
	it.update(st)
}

func (s *Sync) remoteContext() (context.Context, context.CancelFunc) {
	ctx := control.WithSource(s.ctx, device.SourceHomeKit)
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Sync) toggle(key string, on bool) {
	ctx, cancel := s.remoteContext()
	defer cancel()
	if _, err := s.control.Toggle(ctx, key, on); err != nil {
		s.logger.Error("homekit toggle failed", "key", key, "on", on, "error", err)
		s.resync(key)
	}
}

func (s *Sync) position(key string, pct int) {
	ctx, cancel := s.remoteContext()
	defer cancel()
	if _, err := s.control.SetPosition(ctx, key, pct); err != nil {
		s.logger.Error("homekit position failed", "key", key, "position", pct, "error", err)
		s.resync(key)
	}
}

// trigger activates a scene. Switching the scene off from HomeKit does
// nothing; the control plane resets it.
func (s *Sync) trigger(key string, on bool) {
	if !on {
		return
	}
	ctx, cancel := s.remoteContext()
	defer cancel()
	if _, err := s.control.TriggerScene(ctx, key); err != nil {
		s.logger.Error("homekit scene trigger failed", "key", key, "error", err)
		s.resync(key)
	}
}

// resync puts the last known state back after a rejected remote write.
func (s *Sync) resync(key string) {
	if it, ok := s.items[key]; ok {
		s.refresh(it)
	}
}
