package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retries []int
	cfg := fastConfig(5)
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retries)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want boom", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_Permanent(t *testing.T) {
	boom := errors.New("bad credentials")
	calls := 0
	err := Do(context.Background(), fastConfig(0), func(context.Context) error {
		calls++
		return Permanent(boom)
	})
	if err != boom {
		t.Fatalf("Do() error = %v, want unwrapped boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_UnlimitedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	calls := 0
	err := Do(ctx, fastConfig(0), func(context.Context) error {
		calls++
		return errors.New("portal down")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want deadline exceeded", err)
	}
	if calls < 2 {
		t.Errorf("calls = %d, want several retries before the deadline", calls)
	}
}

func TestNext(t *testing.T) {
	cfg := Config{Multiplier: 2, MaxDelay: 5 * time.Minute}
	tests := []struct {
		current time.Duration
		want    time.Duration
	}{
		{2 * time.Second, 4 * time.Second},
		{3 * time.Minute, 5 * time.Minute},
		{5 * time.Minute, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := Next(cfg, tt.current); got != tt.want {
			t.Errorf("Next(%v) = %v, want %v", tt.current, got, tt.want)
		}
	}
	if got := Next(Config{Multiplier: 0.5}, time.Second); got != time.Second {
		t.Errorf("Next with multiplier < 1 = %v, want unchanged", got)
	}
}
