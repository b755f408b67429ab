package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/portal-bridge/internal/command"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/database"
)

// Repository persists the device snapshot.
type Repository interface {
	// List returns the devices of the latest snapshot in insertion order.
	// Stale rows are excluded.
	List(ctx context.Context) ([]Device, error)

	// ReplaceAll upserts devices as the new snapshot. Rows missing from
	// devices are marked stale, not deleted.
	ReplaceAll(ctx context.Context, devices []Device) error

	// UpdateState stores a new state for one device.
	// Returns ErrDeviceNotFound if no live row has that key.
	UpdateState(ctx context.Context, key string, state State, at time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// List returns live devices ordered by their position in the last pass.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, element_id, name, device_type, page, element_idx,
			commands, state, updated_at
		FROM devices
		WHERE stale = 0
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var (
			d            Device
			deviceType   string
			commandsJSON string
			stateJSON    string
			updatedAt    string
		)
		if err := rows.Scan(&d.Key, &d.ID, &d.Name, &deviceType, &d.Page, &d.Index,
			&commandsJSON, &stateJSON, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.Type = DeviceType(deviceType)
		if err := json.Unmarshal([]byte(commandsJSON), &d.Commands); err != nil {
			return nil, fmt.Errorf("unmarshalling commands for %s: %w", d.Key, err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state for %s: %w", d.Key, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			d.StateUpdatedAt = t
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// ReplaceAll writes the snapshot in one transaction.
func (r *SQLiteRepository) ReplaceAll(ctx context.Context, devices []Device) error {
	now := r.now().Format(time.RFC3339Nano)

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE devices SET stale = 1"); err != nil {
			return fmt.Errorf("marking devices stale: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO devices (key, element_id, name, device_type, page, element_idx,
				commands, read_only, state, position, stale, discovered_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				element_id = excluded.element_id,
				name = excluded.name,
				device_type = excluded.device_type,
				page = excluded.page,
				element_idx = excluded.element_idx,
				commands = excluded.commands,
				read_only = excluded.read_only,
				state = excluded.state,
				position = excluded.position,
				stale = 0,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("preparing device upsert: %w", err)
		}
		defer stmt.Close()

		for i := range devices {
			d := &devices[i]
			commandsJSON, err := marshalCommands(d.Commands)
			if err != nil {
				return err
			}
			stateJSON, err := json.Marshal(d.State)
			if err != nil {
				return fmt.Errorf("marshalling state for %s: %w", d.Key, err)
			}
			updatedAt := now
			if !d.StateUpdatedAt.IsZero() {
				updatedAt = d.StateUpdatedAt.UTC().Format(time.RFC3339Nano)
			}
			if _, err := stmt.ExecContext(ctx,
				d.Key, d.ID, d.Name, string(d.Type), d.Page, d.Index,
				commandsJSON, d.ReadOnly(), string(stateJSON), i, now, updatedAt,
			); err != nil {
				return fmt.Errorf("upserting device %s: %w", d.Key, err)
			}
		}
		return nil
	})
}

// UpdateState stores the state of one live device.
func (r *SQLiteRepository) UpdateState(ctx context.Context, key string, state State, at time.Time) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET state = ?, updated_at = ? WHERE key = ? AND stale = 0",
		string(stateJSON), at.UTC().Format(time.RFC3339Nano), key,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, key)
	}
	return nil
}

// StaleKeys returns keys of devices that vanished from the portal.
func (r *SQLiteRepository) StaleKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key FROM devices WHERE stale = 1 ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying stale devices: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning stale device: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func marshalCommands(c command.Descriptors) (string, error) {
	if c == nil {
		return "{}", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshalling commands: %w", err)
	}
	return string(data), nil
}
