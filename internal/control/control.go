package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/portal-bridge/internal/command"
	"github.com/nerrad567/portal-bridge/internal/device"
)

const (
	defaultCommandTimeout = 10 * time.Second
	defaultSceneReset     = time.Second

	// Blind thresholds: at or below closes, at or above opens, between stops.
	closeThreshold = 10
	openThreshold  = 90
)

// Logger defines the logging interface used by the control plane.
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

// Store is the device registry as seen by the control plane.
type Store interface {
	Get(key string) (*device.Device, error)
	List() []device.Device
	UpdateState(ctx context.Context, key string, state device.State, source device.Source) (*device.Device, error)
}

// Dispatcher sends a command payload to the portal.
// session.Manager implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload string) error
}

// Timer is a pending scene reset.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Options configures a Plane.
type Options struct {
	CommandTimeout time.Duration
	SceneReset     time.Duration

	// AfterFunc replaces time.AfterFunc for scene resets.
	AfterFunc AfterFunc

	// Auditor, when set, receives one record per dispatched command.
	Auditor Auditor

	Logger Logger
}

// CommandRecord describes one dispatch attempt.
type CommandRecord struct {
	Key      string
	Action   command.Action
	Source   device.Source
	Subject  string
	Duration time.Duration
	Err      error
	At       time.Time
}

// Auditor records dispatched commands. It is called with the per-device
// lock held and must not call back into the Plane.
type Auditor interface {
	RecordCommand(ctx context.Context, rec CommandRecord)
}

type pendingReset struct {
	timer Timer
	gen   uint64
}

// Plane executes device commands.
//
// All methods are safe for concurrent use.
type Plane struct {
	store          Store
	dispatcher     Dispatcher
	commandTimeout time.Duration
	sceneReset     time.Duration
	afterFunc      AfterFunc
	auditor        Auditor
	logger         Logger

	locksMu sync.Mutex
	locks   map[string]*keyLock

	resetMu  sync.Mutex
	resets   map[string]pendingReset
	resetGen uint64
	closed   bool
}

// New creates a control plane over store, dispatching through d.
func New(store Store, d Dispatcher, opts Options) *Plane {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.SceneReset <= 0 {
		opts.SceneReset = defaultSceneReset
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Plane{
		store:          store,
		dispatcher:     d,
		commandTimeout: opts.CommandTimeout,
		sceneReset:     opts.SceneReset,
		afterFunc:      opts.AfterFunc,
		auditor:        opts.Auditor,
		logger:         logger,
		locks:          make(map[string]*keyLock),
		resets:         make(map[string]pendingReset),
	}
}

type sourceKey struct{}

// WithSource tags ctx so state changes made under it are recorded with
// source instead of device.SourceCommand.
func WithSource(ctx context.Context, source device.Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) device.Source {
	if s, ok := ctx.Value(sourceKey{}).(device.Source); ok {
		return s
	}
	return device.SourceCommand
}

type subjectKey struct{}

// WithSubject records who issued the commands made under ctx, for auditing.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

func subjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// ListDevices returns every device in registry order.
func (p *Plane) ListDevices() []device.Device {
	return p.store.List()
}

// GetDevice returns one device.
func (p *Plane) GetDevice(key string) (*device.Device, error) {
	return p.store.Get(key)
}

// GetDeviceState returns the cached state of a device without contacting
// the portal.
func (p *Plane) GetDeviceState(key string) (device.State, error) {
	d, err := p.store.Get(key)
	if err != nil {
		return device.State{}, err
	}
	return d.State, nil
}

// Toggle switches a Light, Dimmer or Fan on or off. On a Scene, on=true
// triggers it and on=false does nothing. When the cached state already
// matches, nothing is sent.
func (p *Plane) Toggle(ctx context.Context, key string, on bool) (device.State, error) {
	unlock := p.lock(key)
	defer unlock()

	d, err := p.store.Get(key)
	if err != nil {
		return device.State{}, err
	}

	var next device.State
	switch d.Type {
	case device.TypeScene:
		if !on {
			return d.State, nil
		}
		return p.triggerLocked(ctx, d)
	case device.TypeLight, device.TypeFan:
		next = device.OnOff(on)
	case device.TypeDimmer:
		level := d.State.Level
		if on && level == 0 {
			level = 100
		}
		next = device.Brightness(on, level)
	default:
		return device.State{}, fmt.Errorf("%w: toggle on %s", ErrIncompatible, d.Type)
	}

	payload, err := payloadFor(d, command.ActionToggle)
	if err != nil {
		return device.State{}, err
	}
	if d.State.IsOn() == on {
		p.logger.Debug("device already in target state", "key", key, "on", on)
		return d.State, nil
	}

	if err := p.dispatch(ctx, d.Key, command.ActionToggle, payload); err != nil {
		return device.State{}, err
	}
	return p.commit(ctx, key, next)
}

// SetPosition moves a window covering. Positions at or below 10 close it,
// at or above 90 open it and anything between stops it.
func (p *Plane) SetPosition(ctx context.Context, key string, pct int) (device.State, error) {
	if pct < 0 || pct > 100 {
		return device.State{}, fmt.Errorf("%w: position %d outside 0..100", ErrValidation, pct)
	}

	unlock := p.lock(key)
	defer unlock()

	d, err := p.store.Get(key)
	if err != nil {
		return device.State{}, err
	}
	if d.Type != device.TypeWindowCovering {
		return device.State{}, fmt.Errorf("%w: position on %s", ErrIncompatible, d.Type)
	}

	action, motion := positionAction(pct)
	if err := p.send(ctx, d, action); err != nil {
		return device.State{}, err
	}
	return p.commit(ctx, key, device.Position(pct, motion))
}

func positionAction(pct int) (command.Action, device.Motion) {
	switch {
	case pct <= closeThreshold:
		return command.ActionDown, device.MotionClosing
	case pct >= openThreshold:
		return command.ActionUp, device.MotionOpening
	default:
		return command.ActionStop, device.MotionStopped
	}
}

// TriggerScene activates a scene. The state reads active until the reset
// delay passes; triggering again restarts the delay.
func (p *Plane) TriggerScene(ctx context.Context, key string) (device.State, error) {
	unlock := p.lock(key)
	defer unlock()

	d, err := p.store.Get(key)
	if err != nil {
		return device.State{}, err
	}
	if d.Type != device.TypeScene {
		return device.State{}, fmt.Errorf("%w: scene trigger on %s", ErrIncompatible, d.Type)
	}
	return p.triggerLocked(ctx, d)
}

func (p *Plane) triggerLocked(ctx context.Context, d *device.Device) (device.State, error) {
	if err := p.send(ctx, d, command.ActionTrigger); err != nil {
		return device.State{}, err
	}
	state, err := p.commit(ctx, d.Key, device.Scene(true))
	if err != nil {
		return device.State{}, err
	}
	p.scheduleReset(d.Key)
	return state, nil
}

func (p *Plane) scheduleReset(key string) {
	p.resetMu.Lock()
	defer p.resetMu.Unlock()
	if p.closed {
		return
	}
	if prev, ok := p.resets[key]; ok {
		prev.timer.Stop()
	}
	p.resetGen++
	gen := p.resetGen
	p.resets[key] = pendingReset{
		gen:   gen,
		timer: p.afterFunc(p.sceneReset, func() { p.resetScene(key, gen) }),
	}
}

func (p *Plane) resetScene(key string, gen uint64) {
	unlock := p.lock(key)
	defer unlock()

	p.resetMu.Lock()
	cur, ok := p.resets[key]
	if !ok || cur.gen != gen || p.closed {
		p.resetMu.Unlock()
		return
	}
	delete(p.resets, key)
	p.resetMu.Unlock()

	if _, err := p.store.UpdateState(context.Background(), key, device.Scene(false), device.SourceSceneReset); err != nil {
		p.logger.Warn("scene reset failed", "key", key, "error", err)
	}
}

// send renders and dispatches the payload for action.
func (p *Plane) send(ctx context.Context, d *device.Device, action command.Action) error {
	payload, err := payloadFor(d, action)
	if err != nil {
		return err
	}
	return p.dispatch(ctx, d.Key, action, payload)
}

func payloadFor(d *device.Device, action command.Action) (string, error) {
	payload, err := d.Commands.Payload(action)
	if err != nil {
		if errors.Is(err, command.ErrReadOnly) || errors.Is(err, command.ErrUnsupportedAction) {
			return "", fmt.Errorf("%w: %s: %w", ErrReadOnly, d.Key, err)
		}
		return "", err
	}
	return payload, nil
}

func (p *Plane) dispatch(ctx context.Context, key string, action command.Action, payload string) error {
	sendCtx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	defer cancel()

	start := time.Now()
	err := p.dispatcher.Dispatch(sendCtx, payload)
	p.audit(ctx, key, action, start, err)
	if err != nil {
		p.logger.Warn("command dispatch failed", "key", key, "action", action, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w: %w", ErrDispatch, ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	p.logger.Info("command dispatched",
		"key", key,
		"action", action,
		"duration", time.Since(start),
	)
	return nil
}

func (p *Plane) audit(ctx context.Context, key string, action command.Action, start time.Time, err error) {
	if p.auditor == nil {
		return
	}
	p.auditor.RecordCommand(context.WithoutCancel(ctx), CommandRecord{
		Key:      key,
		Action:   action,
		Source:   sourceFrom(ctx),
		Subject:  subjectFrom(ctx),
		Duration: time.Since(start),
		Err:      err,
		At:       start,
	})
}

func (p *Plane) commit(ctx context.Context, key string, state device.State) (device.State, error) {
	d, err := p.store.UpdateState(ctx, key, state, sourceFrom(ctx))
	if err != nil {
		return device.State{}, err
	}
	return d.State, nil
}

// keyLock serializes commands for one key. refs counts holders and
// waiters; the entry is dropped when it reaches zero.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the per-key mutex and returns its release.
func (p *Plane) lock(key string) func() {
	p.locksMu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &keyLock{}
		p.locks[key] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.locksMu.Unlock()
	}
}

// heldLocks returns the number of keys with a holder or waiter.
func (p *Plane) heldLocks() int {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	return len(p.locks)
}

// Close cancels pending scene resets.
func (p *Plane) Close() {
	p.resetMu.Lock()
	defer p.resetMu.Unlock()
	p.closed = true
	for key, r := range p.resets {
		r.timer.Stop()
		delete(p.resets, key)
	}
}
