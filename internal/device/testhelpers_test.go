package device

import (
	"context"
	"testing"

	"github.com/nerrad567/portal-bridge/internal/command"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/database"
	"github.com/nerrad567/portal-bridge/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func testDevice(id string, page int, typ DeviceType) Device {
	return Device{
		Key:      command.DeviceKey(id, page),
		ID:       id,
		Name:     id + " name",
		Type:     typ,
		Page:     page,
		Index:    "1",
		Commands: command.DefaultTable().Render(string(typ), "1", page),
		State:    typ.InitialState(),
	}
}

type recordingObserver struct {
	changes []StateChange
}

func (r *recordingObserver) OnStateChange(_ context.Context, c StateChange) {
	r.changes = append(r.changes, c)
}
