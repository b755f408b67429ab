package device

import (
	"context"
	"testing"
	"time"
)

func TestSQLiteStateHistoryRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db.DB)
	ctx := context.Background()

	base := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		state := OnOff(i%2 == 0)
		if err := repo.RecordStateChange(ctx, "Single_1_page01", state, SourceCommand, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}
	if err := repo.RecordStateChange(ctx, "Other_page01", OnOff(true), SourceDiscovery, base); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "Single_1_page01", 3)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("GetHistory() returned %d entries, want 3", len(entries))
	}
	if !entries[0].CreatedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("newest entry at %v, want %v", entries[0].CreatedAt, base.Add(4*time.Minute))
	}
	if entries[0].State != OnOff(true) || entries[0].Source != SourceCommand {
		t.Errorf("newest entry = %+v", entries[0])
	}

	if err := repo.RecordStateChange(ctx, "", OnOff(true), SourceCommand, base); err == nil {
		t.Error("RecordStateChange() expected error for empty key")
	}
}

func TestSQLiteStateHistoryRepository_Prune(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db.DB)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	if err := repo.RecordStateChange(ctx, "k", OnOff(true), SourceCommand, now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}
	if err := repo.RecordStateChange(ctx, "k", OnOff(false), SourceCommand, now.Add(-time.Hour)); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	n, err := repo.PruneHistory(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PruneHistory() removed %d rows, want 1", n)
	}
	if _, err := repo.PruneHistory(ctx, 0); err == nil {
		t.Error("PruneHistory(0) expected error")
	}
}

func TestHistoryRecorder_RecordsObservedChanges(t *testing.T) {
	db := openTestDB(t)
	history := NewSQLiteStateHistoryRepository(db.DB)
	reg := NewRegistry(nil)
	reg.AddObserver(NewHistoryRecorder(history, nil))
	ctx := context.Background()

	if _, err := reg.Replace(ctx, []Device{testDevice("Single_1", 1, TypeLight)}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if _, err := reg.UpdateState(ctx, "Single_1_page01", OnOff(true), SourceCommand); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	entries, err := history.GetHistory(ctx, "Single_1_page01", 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want 2 (discovery + command)", len(entries))
	}
	if entries[0].Source != SourceCommand || entries[1].Source != SourceDiscovery {
		t.Errorf("sources = %s, %s", entries[0].Source, entries[1].Source)
	}
}
