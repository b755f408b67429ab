// Package audit keeps a persistent trail of commands sent to the portal.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/portal-bridge/internal/control"
)

// Outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one audited command.
type Entry struct {
	ID         string    `json:"id"`
	DeviceKey  string    `json:"device_key"`
	Action     string    `json:"action"`
	Source     string    `json:"source"`
	Subject    string    `json:"subject,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceKey string
	Action    string
	Outcome   string
	Limit     int // default 50, max 200
	Offset    int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository stores entries in the command_audit table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts e. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.DeviceKey == "" || e.Action == "" {
		return errors.New("audit: device key and action are required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, device_key, action, source, subject, outcome, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceKey, e.Action, e.Source,
		nullableString(e.Subject), e.Outcome, nullableString(e.Error),
		e.DurationMS, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceKey != "" {
		conditions = append(conditions, "device_key = ?")
		args = append(args, filter.DeviceKey)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM command_audit " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := "SELECT id, device_key, action, source, subject, outcome, error, duration_ms, created_at FROM command_audit " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var subject, errText sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.DeviceKey, &e.Action, &e.Source,
			&subject, &e.Outcome, &errText, &e.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Subject = subject.String
		e.Error = errText.String
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("audit: prune age must be positive")
	}
	cutoff := r.now().Add(-olderThan).UnixNano()
	res, err := r.db.ExecContext(ctx, "DELETE FROM command_audit WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned audit entries: %w", err)
	}
	return n, nil
}

// Logger is the logging surface the Recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder adapts a Repository to control.Auditor.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// RecordCommand implements control.Auditor. Storage failures are logged.
func (r *Recorder) RecordCommand(ctx context.Context, rec control.CommandRecord) {
	e := &Entry{
		DeviceKey:  rec.Key,
		Action:     string(rec.Action),
		Source:     string(rec.Source),
		Subject:    rec.Subject,
		Outcome:    OutcomeOK,
		DurationMS: rec.Duration.Milliseconds(),
		CreatedAt:  rec.At.UTC(),
	}
	if rec.Err != nil {
		e.Outcome = OutcomeFailed
		e.Error = rec.Err.Error()
	}
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Warn("recording command audit failed", "key", rec.Key, "error", err)
	}
}

// RunPruner deletes entries older than retention every interval until ctx ends.
func (r *Recorder) RunPruner(ctx context.Context, retention, interval time.Duration) {
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
			if _, err := r.repo.Prune(ctx, retention); err != nil {
				r.logger.Warn("pruning command audit failed", "error", err)
			}
		}
	}
}
