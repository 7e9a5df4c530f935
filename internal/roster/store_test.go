package roster

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"seatboard/pkg/types"
)

func idPtr(v int64) *int64 { return &v }
func intPtr(v int) *int     { return &v }

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "roster", "test.db")
	store, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, cfg.Path
}

func sampleSnapshot() types.Snapshot {
	return types.Snapshot{
		ClassID:       "C1",
		TotalCapacity: 5,
		Occupants: []types.OccupantPayload{
			{ID: idPtr(1), Name: "John", SeatNumber: intPtr(2), Score: 10},
			{Name: "Guest", SeatNumber: intPtr(1)},
			{ID: idPtr(2), Name: "Unseated"},
		},
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	snap, err := store.LoadSnapshot(ctx, "C1")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap.TotalCapacity != 5 || len(snap.Occupants) != 3 {
		t.Fatalf("Unexpected snapshot %+v", snap)
	}

	// Ordered by seat number with unseated occupants last
	first, second, third := snap.Occupants[0], snap.Occupants[1], snap.Occupants[2]
	if first.ID != nil || *first.SeatNumber != 1 {
		t.Errorf("Expected guest in seat 1 first, got %+v", first)
	}
	if second.ID == nil || *second.ID != 1 || second.Score != 10 || *second.SeatNumber != 2 {
		t.Errorf("Expected John in seat 2, got %+v", second)
	}
	if third.SeatNumber != nil || third.Name != "Unseated" {
		t.Errorf("Expected unseated occupant last, got %+v", third)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	replacement := types.Snapshot{ClassID: "C1", TotalCapacity: 8}
	if err := store.SaveSnapshot(ctx, replacement); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	snap, err := store.LoadSnapshot(ctx, "C1")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap.TotalCapacity != 8 || len(snap.Occupants) != 0 {
		t.Errorf("Expected replaced empty layout, got %+v", snap)
	}
}

func TestStore_DuplicateSeatRejected(t *testing.T) {
	store, _ := openTestStore(t)
	snap := types.Snapshot{
		ClassID:       "C1",
		TotalCapacity: 2,
		Occupants: []types.OccupantPayload{
			{Name: "a", SeatNumber: intPtr(1)},
			{Name: "b", SeatNumber: intPtr(1)},
		},
	}
	if err := store.SaveSnapshot(context.Background(), snap); err == nil {
		t.Error("Two occupants in one seat should violate the unique constraint")
	}
}

func TestStore_LoadMissingClass(t *testing.T) {
	store, _ := openTestStore(t)
	if _, err := store.LoadSnapshot(context.Background(), "nope"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("Expected ErrClassNotFound, got %v", err)
	}
}

func TestStore_ListAndLoadAll(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"B", "A"} {
		if err := store.SaveSnapshot(ctx, types.Snapshot{ClassID: id, TotalCapacity: 3}); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}

	ids, err := store.ListClassIDs(ctx)
	if err != nil || len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Errorf("ListClassIDs = %v, %v", ids, err)
	}
	all, err := store.LoadAll(ctx)
	if err != nil || len(all) != 2 {
		t.Errorf("LoadAll = %d snapshots, %v", len(all), err)
	}
}

func TestStore_AsyncSave(t *testing.T) {
	store, _ := openTestStore(t)
	if err := store.SaveSnapshotAsync(sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshotAsync failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, err := store.LoadSnapshot(context.Background(), "C1"); err == nil && len(snap.Occupants) == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Async write never landed")
}

func TestStore_CloseFlushesQueuedWrites(t *testing.T) {
	store, path := openTestStore(t)
	for capacity := 1; capacity <= 60; capacity++ {
		if err := store.SaveSnapshotAsync(types.Snapshot{ClassID: "C1", TotalCapacity: capacity}); err != nil {
			t.Fatalf("SaveSnapshotAsync(%d) failed: %v", capacity, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Path = path
	reopened, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	snap, err := reopened.LoadSnapshot(context.Background(), "C1")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap.TotalCapacity != 60 {
		t.Errorf("Expected the last queued write (capacity 60), got %d", snap.TotalCapacity)
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	store, path := openTestStore(t)
	if err := store.SaveSnapshot(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Path = path
	reopened, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.LoadSnapshot(context.Background(), "C1"); err != nil {
		t.Errorf("Data should survive reopen, got %v", err)
	}
}

func TestStore_Closed(t *testing.T) {
	store, _ := openTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Error("Second Close should be a no-op")
	}
	if err := store.SaveSnapshot(context.Background(), sampleSnapshot()); err != ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
	if err := store.HealthCheck(context.Background()); err != ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should be valid, got %v", err)
	}
	bad := DefaultConfig()
	bad.Path = ""
	if bad.Validate() == nil {
		t.Error("Empty path should be rejected")
	}
	bad = DefaultConfig()
	bad.MaxConnections = 0
	if bad.Validate() == nil {
		t.Error("Zero connections should be rejected")
	}
}

func TestSnapshotFromView(t *testing.T) {
	view := types.ClassView{
		ClassID:       "C1",
		TotalCapacity: 3,
		Seats: []types.Seat{
			{Number: 1, Occupant: types.Enrolled(4, "Ann", 9)},
			{Number: 2, Occupant: types.Empty()},
			{Number: 3, Occupant: types.Guest("Guest")},
		},
	}
	snap := SnapshotFromView(view)
	if snap.TotalCapacity != 3 || len(snap.Occupants) != 2 {
		t.Fatalf("Unexpected snapshot %+v", snap)
	}
	if *snap.Occupants[0].ID != 4 || snap.Occupants[0].Score != 9 || *snap.Occupants[0].SeatNumber != 1 {
		t.Errorf("Unexpected enrolled occupant %+v", snap.Occupants[0])
	}
	if snap.Occupants[1].ID != nil || *snap.Occupants[1].SeatNumber != 3 {
		t.Errorf("Unexpected guest %+v", snap.Occupants[1])
	}
}
