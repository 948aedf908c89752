// ABOUTME: PocketBase-backed implementation of the tripsync store contract.
// ABOUTME: Maps trips and user_settings collections to the engine's data model.

package main

import (
	"context"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"github.com/fabianlopezdev/presence-sync/tripsync"
)

// pbStore adapts PocketBase collections to tripsync.TxStore. All reads and
// writes go through the core.App so they compose with RunInTransaction.
type pbStore struct {
	app core.App
}

var _ tripsync.TxStore = (*pbStore)(nil)

func newPBStore(app core.App) *pbStore {
	return &pbStore{app: app}
}

// RunInTransaction scopes fn to a transactional app instance. PocketBase
// commits on nil and rolls back on error.
func (s *pbStore) RunInTransaction(_ context.Context, fn func(tripsync.Store) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(&pbStore{app: txApp})
	})
}

func (s *pbStore) TripByID(_ context.Context, userID, tripID string) (*tripsync.Trip, error) {
	col, err := s.app.FindCollectionByNameOrId("trips")
	if err != nil {
		return nil, err
	}
	record, err := s.app.FindFirstRecordByFilter(col, "user_id = {:user_id} && trip_id = {:trip_id}",
		map[string]any{"user_id": userID, "trip_id": tripID})
	if err != nil {
		// Not found reads as absence; the engine treats it as a new record.
		return nil, nil
	}
	return recordToTrip(record), nil
}

func (s *pbStore) TripsSince(_ context.Context, userID string, afterVersion int64, limit int) ([]tripsync.Trip, error) {
	col, err := s.app.FindCollectionByNameOrId("trips")
	if err != nil {
		return nil, err
	}
	records, err := s.app.FindRecordsByFilter(col,
		"user_id = {:user_id} && sync_version > {:since}", "sync_version,trip_id", limit, 0,
		map[string]any{"user_id": userID, "since": afterVersion})
	if err != nil {
		return nil, err
	}
	trips := make([]tripsync.Trip, len(records))
	for i, r := range records {
		trips[i] = *recordToTrip(r)
	}
	return trips, nil
}

func (s *pbStore) TripsAtVersion(_ context.Context, userID string, version int64) ([]tripsync.Trip, error) {
	col, err := s.app.FindCollectionByNameOrId("trips")
	if err != nil {
		return nil, err
	}
	records, err := s.app.FindRecordsByFilter(col,
		"user_id = {:user_id} && sync_version = {:version}", "trip_id", 0, 0,
		map[string]any{"user_id": userID, "version": version})
	if err != nil {
		return nil, err
	}
	trips := make([]tripsync.Trip, len(records))
	for i, r := range records {
		trips[i] = *recordToTrip(r)
	}
	return trips, nil
}

func (s *pbStore) UpsertTrip(ctx context.Context, t *tripsync.Trip) error {
	col, err := s.app.FindCollectionByNameOrId("trips")
	if err != nil {
		return err
	}
	record, err := s.app.FindFirstRecordByFilter(col, "user_id = {:user_id} && trip_id = {:trip_id}",
		map[string]any{"user_id": t.UserID, "trip_id": t.ID})
	now := time.Now().UTC()
	if err != nil {
		record = core.NewRecord(col)
		record.Set("trip_id", t.ID)
		record.Set("user_id", t.UserID)
		record.Set("created_at", now.Unix())
	}
	record.Set("departure_date", t.DepartureDate)
	record.Set("return_date", t.ReturnDate)
	record.Set("location", t.Location)
	record.Set("is_simulated", t.IsSimulated)
	record.Set("sync_version", t.SyncVersion)
	if t.DeletedAt != nil {
		record.Set("deleted_at", t.DeletedAt.Unix())
	} else {
		record.Set("deleted_at", 0)
	}
	record.Set("updated_at", now.Unix())
	return s.app.Save(record)
}

func (s *pbStore) SoftDeleteTrip(_ context.Context, userID, tripID string, version int64, deletedAt time.Time) error {
	col, err := s.app.FindCollectionByNameOrId("trips")
	if err != nil {
		return err
	}
	record, err := s.app.FindFirstRecordByFilter(col, "user_id = {:user_id} && trip_id = {:trip_id}",
		map[string]any{"user_id": userID, "trip_id": tripID})
	if err != nil {
		// Deleting an absent trip is a no-op.
		return nil
	}
	record.Set("deleted_at", deletedAt.Unix())
	record.Set("sync_version", version)
	record.Set("updated_at", time.Now().UTC().Unix())
	return s.app.Save(record)
}

func (s *pbStore) SettingsByUser(_ context.Context, userID string) (*tripsync.Settings, error) {
	col, err := s.app.FindCollectionByNameOrId("user_settings")
	if err != nil {
		return nil, err
	}
	record, err := s.app.FindFirstRecordByFilter(col, "user_id = {:user_id}",
		map[string]any{"user_id": userID})
	if err != nil {
		return nil, nil
	}
	return recordToSettings(record), nil
}

func (s *pbStore) UpsertSettings(_ context.Context, st *tripsync.Settings) error {
	col, err := s.app.FindCollectionByNameOrId("user_settings")
	if err != nil {
		return err
	}
	record, err := s.app.FindFirstRecordByFilter(col, "user_id = {:user_id}",
		map[string]any{"user_id": st.UserID})
	if err != nil {
		record = core.NewRecord(col)
		record.Set("user_id", st.UserID)
	}
	record.Set("notify_milestones", st.NotifyMilestones)
	record.Set("notify_warnings", st.NotifyWarnings)
	record.Set("notify_reminders", st.NotifyReminders)
	record.Set("biometric_auth_enabled", st.BiometricAuthEnabled)
	record.Set("theme", st.Theme)
	record.Set("language", st.Language)
	record.Set("sync_enabled", st.SyncEnabled)
	record.Set("sync_device_id", st.SyncDeviceID)
	record.Set("sync_subscription_tier", st.SyncSubscriptionTier)
	record.Set("sync_version", st.SyncVersion)
	record.Set("updated_at", time.Now().UTC().Unix())
	return s.app.Save(record)
}

func recordToTrip(r *core.Record) *tripsync.Trip {
	t := &tripsync.Trip{
		ID:            r.GetString("trip_id"),
		UserID:        r.GetString("user_id"),
		DepartureDate: r.GetString("departure_date"),
		ReturnDate:    r.GetString("return_date"),
		Location:      r.GetString("location"),
		IsSimulated:   r.GetBool("is_simulated"),
		SyncVersion:   int64(r.GetInt("sync_version")),
		CreatedAt:     time.Unix(int64(r.GetInt("created_at")), 0).UTC(),
		UpdatedAt:     time.Unix(int64(r.GetInt("updated_at")), 0).UTC(),
	}
	if deleted := r.GetInt("deleted_at"); deleted != 0 {
		at := time.Unix(int64(deleted), 0).UTC()
		t.DeletedAt = &at
	}
	return t
}

func recordToSettings(r *core.Record) *tripsync.Settings {
	return &tripsync.Settings{
		UserID:               r.GetString("user_id"),
		NotifyMilestones:     r.GetBool("notify_milestones"),
		NotifyWarnings:       r.GetBool("notify_warnings"),
		NotifyReminders:      r.GetBool("notify_reminders"),
		BiometricAuthEnabled: r.GetBool("biometric_auth_enabled"),
		Theme:                r.GetString("theme"),
		Language:             r.GetString("language"),
		SyncEnabled:          r.GetBool("sync_enabled"),
		SyncDeviceID:         r.GetString("sync_device_id"),
		SyncSubscriptionTier: r.GetString("sync_subscription_tier"),
		SyncVersion:          int64(r.GetInt("sync_version")),
		UpdatedAt:            time.Unix(int64(r.GetInt("updated_at")), 0).UTC(),
	}
}
