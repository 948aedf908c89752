package tripsync

import (
	"context"
	"testing"
)

func TestDetectConflictsBoundary(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.UpsertTrip(ctx, testTrip("t1", 5)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A device that observed version 5 pushes stamp 6; equal base is safe.
	out, err := DetectConflicts(ctx, store, "user-1", PushRequest{
		SyncVersion: 6,
		Trips:       []Trip{*testTrip("t1", 6)},
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if out.HasConflicts() {
		t.Fatalf("base == stored must not conflict: %+v", out.Conflicts)
	}
	if len(out.Trips) != 1 {
		t.Fatalf("expected 1 apply-ready trip, got %d", len(out.Trips))
	}

	// A device that observed version 4 pushes stamp 5; the stored record has
	// already advanced past its base.
	out, err = DetectConflicts(ctx, store, "user-1", PushRequest{
		SyncVersion: 5,
		Trips:       []Trip{*testTrip("t1", 5)},
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(out.Conflicts) != 1 || len(out.Trips) != 0 {
		t.Fatalf("expected single update conflict, got %+v", out)
	}
	c := out.Conflicts[0]
	if c.Kind != ConflictUpdate || c.EntityType != EntityTrips || c.EntityID != "t1" {
		t.Fatalf("unexpected conflict %+v", c)
	}
	if c.BaseVersion != 4 || c.ServerVersion != 5 {
		t.Fatalf("expected base=4 server=5, got base=%d server=%d", c.BaseVersion, c.ServerVersion)
	}
	if len(c.Server) == 0 || len(c.Incoming) == 0 {
		t.Fatalf("conflict should carry both views")
	}
}

func TestDetectConflictsNewRecord(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	out, err := DetectConflicts(ctx, store, "user-1", PushRequest{
		SyncVersion: 1,
		Trips:       []Trip{*testTrip("fresh", 1)},
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if out.HasConflicts() || len(out.Trips) != 1 {
		t.Fatalf("new record must be apply-ready: %+v", out)
	}
}

func TestDetectConflictsDeletion(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.UpsertTrip(ctx, testTrip("t1", 5)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.UpsertTrip(ctx, testTrip("t2", 2)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := DetectConflicts(ctx, store, "user-1", PushRequest{
		SyncVersion:    3,
		DeletedTripIDs: []string{"t1", "t2", "missing"},
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(out.Conflicts) != 1 {
		t.Fatalf("expected 1 delete conflict, got %+v", out.Conflicts)
	}
	if out.Conflicts[0].Kind != ConflictDelete || out.Conflicts[0].EntityID != "t1" {
		t.Fatalf("unexpected conflict %+v", out.Conflicts[0])
	}
	if out.Conflicts[0].Incoming != nil {
		t.Fatalf("deletion conflicts have no incoming view")
	}
	// t2 (at the declared base) and the absent id both proceed.
	if len(out.DeletedTripIDs) != 2 {
		t.Fatalf("expected 2 apply-ready deletions, got %v", out.DeletedTripIDs)
	}
}

func TestDetectConflictsSettings(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	incoming := &Settings{UserID: "user-1", Theme: "dark", SyncVersion: 1}

	// Lazily created settings never conflict on first push.
	out, err := DetectConflicts(ctx, store, "user-1", PushRequest{SyncVersion: 1, UserSettings: incoming})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if out.HasConflicts() || out.Settings == nil {
		t.Fatalf("first settings push must be apply-ready: %+v", out)
	}

	if err := store.UpsertSettings(ctx, &Settings{UserID: "user-1", Theme: "light", SyncVersion: 7}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	out, err = DetectConflicts(ctx, store, "user-1", PushRequest{SyncVersion: 3, UserSettings: incoming})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(out.Conflicts) != 1 || out.Settings != nil {
		t.Fatalf("expected settings conflict, got %+v", out)
	}
	if out.Conflicts[0].EntityType != EntitySettings || out.Conflicts[0].ServerVersion != 7 {
		t.Fatalf("unexpected conflict %+v", out.Conflicts[0])
	}
}

func TestDetectConflictsIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.UpsertTrip(ctx, testTrip("t1", 5)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := PushRequest{
		SyncVersion:    2,
		Trips:          []Trip{*testTrip("t1", 2)},
		DeletedTripIDs: []string{"t1"},
	}
	for i := 0; i < 3; i++ {
		if _, err := DetectConflicts(ctx, store, "user-1", req); err != nil {
			t.Fatalf("detect #%d: %v", i, err)
		}
	}

	got, err := store.TripByID(ctx, "user-1", "t1")
	if err != nil || got == nil {
		t.Fatalf("get: %+v %v", got, err)
	}
	if got.SyncVersion != 5 || got.Deleted() {
		t.Fatalf("classification must not mutate state: %+v", got)
	}
}
