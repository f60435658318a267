package db

import (
	"context"
	"testing"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database := newTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second ApplyMigrations: %v", err)
	}
	ok, err := columnExists(database.DB, "trackers", "trailing_sl")
	if err != nil || !ok {
		t.Fatalf("trailing_sl column missing: ok=%v err=%v", ok, err)
	}
}

func TestReplaceTrackersIsWholesale(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	first := []TrackerRow{
		{Symbol: "BTC/USDT", Status: "SECURED", Side: "LONG", EntryPrice: 50000, SLPrice: 49000, TPPrice: 51500,
			TrailingActive: true, TrailingExtreme: 51000, TrailingSL: 50600, TrailingUpdatedAt: 1700000000000},
		{Symbol: "ETH/USDT", Status: "WAITING_ENTRY", EntryOrderID: "77", CreatedAt: 100, ExpiresAt: 7300},
	}
	if err := q.ReplaceTrackers(ctx, first); err != nil {
		t.Fatalf("ReplaceTrackers: %v", err)
	}

	got, err := q.ListTrackers(ctx)
	if err != nil {
		t.Fatalf("ListTrackers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0] != first[0] {
		t.Fatalf("row mismatch:\n got %+v\nwant %+v", got[0], first[0])
	}

	t.Run("second write drops missing symbols", func(t *testing.T) {
		if err := q.ReplaceTrackers(ctx, first[1:]); err != nil {
			t.Fatalf("ReplaceTrackers: %v", err)
		}
		if _, err := q.GetTracker(ctx, "BTC/USDT"); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		r, err := q.GetTracker(ctx, "ETH/USDT")
		if err != nil {
			t.Fatalf("GetTracker: %v", err)
		}
		if r.EntryOrderID != "77" || r.ExpiresAt != 7300 {
			t.Fatalf("unexpected row %+v", r)
		}
	})

	t.Run("empty write clears table", func(t *testing.T) {
		if err := q.ReplaceTrackers(ctx, nil); err != nil {
			t.Fatalf("ReplaceTrackers: %v", err)
		}
		rows, err := q.ListTrackers(ctx)
		if err != nil || len(rows) != 0 {
			t.Fatalf("rows=%v err=%v", rows, err)
		}
	})
}
