package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/portal-bridge/internal/command"
	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/retry"
	"github.com/nerrad567/portal-bridge/internal/portal/portaltest"
)

// scriptedDiscoverer fails the first failures calls, then returns devices.
type scriptedDiscoverer struct {
	mu       sync.Mutex
	calls    int
	failures int
	devices  []device.Device
	block    chan struct{}
}

func (d *scriptedDiscoverer) DiscoverAll(ctx context.Context) ([]device.Device, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= d.failures {
		return nil, ErrDiscovery
	}
	return d.devices, nil
}

func (d *scriptedDiscoverer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func fastRetry() retry.Config {
	return retry.Config{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func lightDevice(id string, page int) device.Device {
	return device.Device{
		Key:   command.DeviceKey(id, page),
		ID:    id,
		Name:  id,
		Type:  device.TypeLight,
		Page:  page,
		State: device.OnOff(false),
	}
}

func TestScheduler_RetriesUntilSuccess(t *testing.T) {
	d := &scriptedDiscoverer{failures: 3, devices: []device.Device{lightDevice("Single_1", 1)}}
	reg := device.NewRegistry(nil)
	s := NewScheduler(d, reg, SchedulerOptions{Retry: fastRetry()})

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return s.Status().LastSummary.Added == 1 })
	if reg.Len() != 1 {
		t.Fatalf("registry holds %d devices, want 1", reg.Len())
	}
	st := s.Status()
	if st.Failures != 3 || st.Passes != 4 {
		t.Errorf("Status() = %+v, want 3 failures over 4 passes", st)
	}
	if st.LastSummary.Added != 1 {
		t.Errorf("LastSummary = %+v", st.LastSummary)
	}
}

func TestScheduler_FailedPassKeepsRegistry(t *testing.T) {
	reg := device.NewRegistry(nil)
	prior := []device.Device{lightDevice("Single_1", 1), lightDevice("Single_2", 1)}
	if _, err := reg.Replace(context.Background(), prior); err != nil {
		t.Fatal(err)
	}

	p := portaltest.New()
	for page := 1; page <= 10; page++ {
		p.SetPage(page, portaltest.Element{ID: "Single_9", Index: page, Name: "Light"})
	}
	p.FailPage(5, errors.New("backend error"))

	s := NewScheduler(newEngine(p, Options{}), reg, SchedulerOptions{Retry: fastRetry()})
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, ErrDiscovery) {
		t.Fatalf("RunOnce() error = %v, want ErrDiscovery", err)
	}

	got := reg.List()
	if len(got) != 2 || got[0].Key != prior[0].Key || got[1].Key != prior[1].Key {
		t.Errorf("registry changed after failed pass: %+v", got)
	}
}

func TestScheduler_EmptyPageBoundsRegistry(t *testing.T) {
	p := portaltest.New()
	for page := 1; page <= 3; page++ {
		p.SetPage(page, portaltest.Element{ID: "Single_1", Index: page, Name: "Light"})
	}
	p.SetPage(5, portaltest.Element{ID: "Single_5", Index: 5, Name: "Hidden"})

	reg := device.NewRegistry(nil)
	s := NewScheduler(newEngine(p, Options{}), reg, SchedulerOptions{})
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if reg.Len() != 3 {
		t.Fatalf("registry holds %d devices, want 3", reg.Len())
	}
	for _, d := range reg.List() {
		if d.Page > 3 {
			t.Errorf("device %s from page %d should not be discovered", d.Key, d.Page)
		}
	}
}

func TestScheduler_Trigger(t *testing.T) {
	d := &scriptedDiscoverer{devices: []device.Device{lightDevice("Single_1", 1)}}
	reg := device.NewRegistry(nil)
	s := NewScheduler(d, reg, SchedulerOptions{Retry: fastRetry()})

	if err := s.Trigger(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Trigger() before Start error = %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()
	waitFor(t, func() bool { return s.Status().Passes == 1 && !s.Status().Running })

	d.mu.Lock()
	d.block = make(chan struct{})
	d.mu.Unlock()

	if err := s.Trigger(); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().Running })
	if err := s.Trigger(); !errors.Is(err, ErrPassRunning) {
		t.Errorf("Trigger() while running error = %v, want ErrPassRunning", err)
	}

	close(d.block)
	waitFor(t, func() bool { return s.Status().Passes == 2 })
}

func TestScheduler_StopInterruptsBackoff(t *testing.T) {
	d := &scriptedDiscoverer{failures: 1 << 30}
	s := NewScheduler(d, device.NewRegistry(nil), SchedulerOptions{
		Retry: retry.Config{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2},
	})
	s.Start(context.Background())
	waitFor(t, func() bool { return d.Calls() == 1 })

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked on backoff")
	}
}
