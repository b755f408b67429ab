package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/retry"
)

// Discoverer runs one discovery pass.
type Discoverer interface {
	DiscoverAll(ctx context.Context) ([]device.Device, error)
}

// Replacer receives the result of a successful pass.
type Replacer interface {
	Replace(ctx context.Context, devices []device.Device) (device.ReplaceSummary, error)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Interval schedules rediscovery after the first success. Zero disables it.
	Interval time.Duration

	// Retry governs backoff between failed passes.
	Retry retry.Config

	Logger Logger
}

// Status is a snapshot of scheduler activity.
type Status struct {
	Running     bool                  `json:"running"`
	Passes      int                   `json:"passes"`
	Failures    int                   `json:"failures"`
	LastSuccess time.Time             `json:"last_success,omitzero"`
	LastError   string                `json:"last_error,omitempty"`
	LastSummary device.ReplaceSummary `json:"last_summary"`
}

// Scheduler runs discovery in the background and commits successful passes
// to the registry. A failed pass never touches the registry.
type Scheduler struct {
	discoverer Discoverer
	registry   Replacer
	interval   time.Duration
	retry      retry.Config
	logger     Logger

	mu      sync.Mutex
	status  Status
	started bool

	trigger  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. Call Start to begin.
func NewScheduler(d Discoverer, r Replacer, opts SchedulerOptions) *Scheduler {
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	if opts.Retry.InitialDelay <= 0 {
		opts.Retry = retry.DefaultConfig()
	}
	return &Scheduler{
		discoverer: d,
		registry:   r,
		interval:   opts.Interval,
		retry:      opts.Retry,
		logger:     logger,
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Start launches the background loop: an initial pass retried until it
// succeeds, then one pass per interval or per Trigger.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.loop(ctx)
	}()
}

// Stop ends the loop and waits for an in-flight pass to return.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// Trigger requests a pass now. It fails with ErrPassRunning while a pass is
// running or already queued.
func (s *Scheduler) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if s.status.Running {
		return ErrPassRunning
	}
	select {
	case s.trigger <- struct{}{}:
		return nil
	default:
		return ErrPassRunning
	}
}

// Status returns a snapshot of scheduler activity.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) loop(ctx context.Context) {
	s.runWithRetry(ctx)

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.runWithRetry(ctx)
		case <-s.trigger:
			s.runWithRetry(ctx)
		}
	}
}

func (s *Scheduler) runWithRetry(ctx context.Context) {
	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("discovery failed, retrying",
			"attempt", attempt,
			"error", err,
			"retry_in", delay,
		)
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		if errors.Is(err, ErrPassRunning) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrPassRunning) {
		s.logger.Error("discovery gave up", "error", err)
	}
}

// RunOnce runs a single pass and commits it on success.
func (s *Scheduler) RunOnce(ctx context.Context) (device.ReplaceSummary, error) {
	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		return device.ReplaceSummary{}, ErrPassRunning
	}
	s.status.Running = true
	s.mu.Unlock()

	summary, err := s.pass(ctx)

	s.mu.Lock()
	s.status.Running = false
	s.status.Passes++
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
		s.status.LastSuccess = time.Now().UTC()
		s.status.LastSummary = summary
	}
	s.mu.Unlock()
	return summary, err
}

func (s *Scheduler) pass(ctx context.Context) (device.ReplaceSummary, error) {
	devices, err := s.discoverer.DiscoverAll(ctx)
	if err != nil {
		return device.ReplaceSummary{}, err
	}
	return s.registry.Replace(ctx, devices)
}
