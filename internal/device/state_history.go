package device

import (
	"context"
	"time"
)

// StateHistoryEntry is one recorded state change.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceKey string    `json:"device_key"`
	State     State     `json:"state"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange appends a state snapshot for the device.
	RecordStateChange(ctx context.Context, key string, state State, source Source, at time.Time) error

	// GetHistory returns up to limit entries for the device, newest first.
	// Implementations clamp limit to their own bounds.
	GetHistory(ctx context.Context, key string, limit int) ([]StateHistoryEntry, error)

	// PruneHistory deletes entries older than olderThan and returns how many were removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// HistoryRecorder is an Observer that appends every state change to a
// StateHistoryRepository.
type HistoryRecorder struct {
	repo   StateHistoryRepository
	logger Logger
}

// NewHistoryRecorder creates a recorder writing to repo.
func NewHistoryRecorder(repo StateHistoryRepository, logger Logger) *HistoryRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistoryRecorder{repo: repo, logger: logger}
}

// OnStateChange records change. Failures are logged.
func (h *HistoryRecorder) OnStateChange(ctx context.Context, change StateChange) {
	if err := h.repo.RecordStateChange(ctx, change.Key, change.State, change.Source, change.At); err != nil {
		h.logger.Warn("recording state history failed", "key", change.Key, "error", err)
	}
}

// RunPruner deletes entries older than retention every interval until ctx ends.
func (h *HistoryRecorder) RunPruner(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.repo.PruneHistory(ctx, retention)
			if err != nil {
				h.logger.Warn("pruning state history failed", "error", err)
				continue
			}
			if n > 0 {
				h.logger.Debug("state history pruned", "rows", n)
			}
		}
	}
}
