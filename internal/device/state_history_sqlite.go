package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteStateHistoryRepository implements StateHistoryRepository using SQLite.
// Timestamps are stored as Unix milliseconds.
type SQLiteStateHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStateHistoryRepository creates a new SQLite state history repository.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// RecordStateChange inserts a new state history entry for a device.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, key string, state State, source Source, at time.Time) error {
	if key == "" {
		return fmt.Errorf("device key is required")
	}
	if source == "" {
		source = SourceCommand
	}
	if at.IsZero() {
		at = r.now()
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (device_key, state, source, created_at) VALUES (?, ?, ?, ?)",
		key, string(stateJSON), string(source), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a device, newest first.
// limit defaults to 50 and is capped at 200.
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, key string, limit int) ([]StateHistoryEntry, error) {
	if key == "" {
		return nil, fmt.Errorf("device key is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_key, state, source, created_at
		 FROM state_history
		 WHERE device_key = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry     StateHistoryEntry
			stateJSON string
			source    string
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.DeviceKey, &stateJSON, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		entry.Source = Source(source)
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes entries older than olderThan.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
