package device

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestSQLiteRepository_ReplaceAllAndList(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	first := []Device{
		testDevice("Single_2", 1, TypeLight),
		testDevice("Double3_1", 1, TypeWindowCovering),
		testDevice("Temp_1", 2, TypeTemperatureSensor),
	}
	first[2].State = Temperature(21.5)

	if err := repo.ReplaceAll(ctx, first); err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}

	got, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List() returned %d devices, want 3", len(got))
	}
	for i := range first {
		if got[i].Key != first[i].Key {
			t.Errorf("List()[%d].Key = %s, want %s", i, got[i].Key, first[i].Key)
		}
		if got[i].State != first[i].State {
			t.Errorf("List()[%d].State = %+v, want %+v", i, got[i].State, first[i].State)
		}
		if !reflect.DeepEqual(got[i].Commands, first[i].Commands) {
			t.Errorf("List()[%d].Commands = %v, want %v", i, got[i].Commands, first[i].Commands)
		}
	}

	// Second pass drops the covering.
	if err := repo.ReplaceAll(ctx, []Device{first[0], first[2]}); err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}
	got, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() after second pass returned %d devices, want 2", len(got))
	}

	stale, err := repo.StaleKeys(ctx)
	if err != nil {
		t.Fatalf("StaleKeys() error = %v", err)
	}
	if len(stale) != 1 || stale[0] != "Double3_1_page01" {
		t.Errorf("StaleKeys() = %v, want [Double3_1_page01]", stale)
	}
}

func TestSQLiteRepository_UpdateState(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	if err := repo.ReplaceAll(ctx, []Device{testDevice("Single_1", 1, TypeLight)}); err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}

	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	if err := repo.UpdateState(ctx, "Single_1_page01", OnOff(true), at); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	got, _ := repo.List(ctx)
	if got[0].State != OnOff(true) {
		t.Errorf("State = %+v, want on", got[0].State)
	}
	if !got[0].StateUpdatedAt.Equal(at) {
		t.Errorf("StateUpdatedAt = %v, want %v", got[0].StateUpdatedAt, at)
	}

	if err := repo.UpdateState(ctx, "missing", OnOff(true), at); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateState(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_SnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	reg := NewRegistry(NewSQLiteRepository(db.DB))
	if _, err := reg.Replace(ctx, []Device{
		testDevice("Single_1", 1, TypeLight),
		testDevice("Slider_1", 1, TypeDimmer),
	}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if _, err := reg.UpdateState(ctx, "Slider_1_page01", Brightness(true, 70), SourceCommand); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	restored := NewRegistry(NewSQLiteRepository(db.DB))
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	d, err := restored.Get("Slider_1_page01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.State != Brightness(true, 70) {
		t.Errorf("restored state = %+v", d.State)
	}
}
