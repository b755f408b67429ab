package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Source records what caused a state change.
type Source string

// State change sources.
const (
	SourceDiscovery  Source = "discovery"
	SourceCommand    Source = "command"
	SourceSceneReset Source = "scene_reset"
	SourceMQTT       Source = "mqtt"
	SourceHomeKit    Source = "homekit"
)

// StateChange describes one state transition, delivered to observers.
type StateChange struct {
	Key      string
	Name     string
	Type     DeviceType
	Previous State
	State    State
	Source   Source
	At       time.Time
}

// Observer receives state changes after the registry has applied them.
// Implementations must not block for long; they run on the mutating goroutine.
type Observer interface {
	OnStateChange(ctx context.Context, change StateChange)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, change StateChange)

// OnStateChange calls f.
func (f ObserverFunc) OnStateChange(ctx context.Context, change StateChange) { f(ctx, change) }

// ReplaceSummary reports how a Replace changed the device set.
type ReplaceSummary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Retyped   int `json:"retyped"`
	Unchanged int `json:"unchanged"`
	Total     int `json:"total"`
}

// Stats summarises the registry contents.
type Stats struct {
	Total    int                `json:"total"`
	ByType   map[DeviceType]int `json:"by_type"`
	ReadOnly int                `json:"read_only"`
}

// Registry is the canonical in-memory device set with a persisted snapshot.
//
// Keys are unique and listing follows insertion order. Persistence is best
// effort: a failed write is logged and never rolls back the in-memory change.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	logger Logger
	now    func() time.Time

	mu      sync.RWMutex
	devices map[string]*Device
	order   []string

	obsMu     sync.RWMutex
	observers []Observer
}

// NewRegistry creates an empty registry. repo may be nil, in which case
// nothing is persisted.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		logger:  noopLogger{},
		now:     func() time.Time { return time.Now().UTC() },
		devices: make(map[string]*Device),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddObserver registers o for every subsequent state change.
func (r *Registry) AddObserver(o Observer) {
	r.obsMu.Lock()
	r.observers = append(r.observers, o)
	r.obsMu.Unlock()
}

// Load restores the last persisted snapshot. It is a no-op when the
// registry already holds devices or no repository is configured.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.devices) > 0 {
		return nil
	}
	for i := range devices {
		d := devices[i]
		if err := d.Validate(); err != nil {
			r.logger.Warn("skipping invalid persisted device", "key", d.Key, "error", err)
			continue
		}
		if _, dup := r.devices[d.Key]; dup {
			continue
		}
		r.devices[d.Key] = d.DeepCopy()
		r.order = append(r.order, d.Key)
	}
	r.logger.Info("device snapshot loaded", "count", len(r.order))
	return nil
}

// Get returns a copy of the device with the given key.
func (r *Registry) Get(key string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, key)
	}
	return d.DeepCopy(), nil
}

// List returns copies of all devices in insertion order.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, *r.devices[key].DeepCopy())
	}
	return out
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Stats counts devices per type.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.order), ByType: make(map[DeviceType]int)}
	for _, d := range r.devices {
		s.ByType[d.Type]++
		if d.ReadOnly() {
			s.ReadOnly++
		}
	}
	return s
}

// UpdateState sets the state of an existing device and notifies observers.
//
// Returns ErrDeviceNotFound for unknown keys and ErrTypeMismatch when the
// variant does not fit the device type.
func (r *Registry) UpdateState(ctx context.Context, key string, state State, source Source) (*Device, error) {
	r.mu.Lock()
	d, ok := r.devices[key]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, key)
	}
	if err := CheckState(d.Type, state); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	change := StateChange{
		Key:      d.Key,
		Name:     d.Name,
		Type:     d.Type,
		Previous: d.State,
		State:    state,
		Source:   source,
		At:       r.now(),
	}
	d.State = state
	d.StateUpdatedAt = change.At
	out := d.DeepCopy()
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.UpdateState(ctx, key, state, change.At); err != nil {
			r.logger.Warn("persisting device state failed", "key", key, "error", err)
		}
	}
	r.notify(ctx, change)
	return out, nil
}

// Replace swaps the whole device set atomically. The new set is validated
// first; on error the live registry is untouched.
func (r *Registry) Replace(ctx context.Context, devices []Device) (ReplaceSummary, error) {
	now := r.now()
	next := make(map[string]*Device, len(devices))
	order := make([]string, 0, len(devices))
	for i := range devices {
		d := devices[i].DeepCopy()
		if err := d.Validate(); err != nil {
			return ReplaceSummary{}, err
		}
		if _, dup := next[d.Key]; dup {
			return ReplaceSummary{}, fmt.Errorf("%w: %s", ErrDuplicateKey, d.Key)
		}
		if d.StateUpdatedAt.IsZero() {
			d.StateUpdatedAt = now
		}
		next[d.Key] = d
		order = append(order, d.Key)
	}

	var changes []StateChange
	summary := ReplaceSummary{Total: len(order)}

	// Copy for the repository while next is still private; once swapped in,
	// UpdateState may write to it.
	var snapshot []Device
	if r.repo != nil {
		snapshot = make([]Device, 0, len(order))
		for _, key := range order {
			snapshot = append(snapshot, *next[key].DeepCopy())
		}
	}

	r.mu.Lock()
	for _, key := range order {
		d := next[key]
		prev, existed := r.devices[key]
		switch {
		case !existed:
			summary.Added++
			changes = append(changes, StateChange{
				Key: key, Name: d.Name, Type: d.Type,
				Previous: d.Type.InitialState(), State: d.State,
				Source: SourceDiscovery, At: now,
			})
			continue
		case prev.Type != d.Type:
			summary.Retyped++
		default:
			summary.Unchanged++
		}
		if prev.State != d.State {
			changes = append(changes, StateChange{
				Key: key, Name: d.Name, Type: d.Type,
				Previous: prev.State, State: d.State,
				Source: SourceDiscovery, At: now,
			})
		}
	}
	for key := range r.devices {
		if _, kept := next[key]; !kept {
			summary.Removed++
		}
	}
	r.devices = next
	r.order = order
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.ReplaceAll(ctx, snapshot); err != nil {
			r.logger.Warn("persisting device snapshot failed", "error", err)
		}
	}

	r.logger.Info("device registry replaced",
		"total", summary.Total,
		"added", summary.Added,
		"removed", summary.Removed,
		"retyped", summary.Retyped,
	)

	for _, c := range changes {
		r.notify(ctx, c)
	}
	return summary, nil
}

func (r *Registry) notify(ctx context.Context, change StateChange) {
	r.obsMu.RLock()
	observers := r.observers
	r.obsMu.RUnlock()

	for _, o := range observers {
		o.OnStateChange(ctx, change)
	}
}
