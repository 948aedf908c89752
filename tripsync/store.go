package tripsync

import (
	"context"
	"time"
)

// Store gives the engine version-aware access to trips and settings.
// Point lookups return (nil, nil) when no row exists.
type Store interface {
	// TripByID fetches one trip for the user, tombstones included.
	TripByID(ctx context.Context, userID, tripID string) (*Trip, error)

	// TripsSince returns up to limit trips with sync_version > afterVersion,
	// ordered by sync_version ascending. Tombstones are included so deletions
	// propagate.
	TripsSince(ctx context.Context, userID string, afterVersion int64, limit int) ([]Trip, error)

	// TripsAtVersion returns every trip stamped with exactly version, in a
	// stable order. A push stamps its whole batch with one version, so pull
	// pages must be able to ship such a group intact.
	TripsAtVersion(ctx context.Context, userID string, version int64) ([]Trip, error)

	// UpsertTrip creates the trip if absent, otherwise replaces its fields.
	// The caller stamps SyncVersion before the write.
	UpsertTrip(ctx context.Context, t *Trip) error

	// SoftDeleteTrip marks the trip as a tombstone and stamps its version.
	// Deleting an absent trip is a no-op.
	SoftDeleteTrip(ctx context.Context, userID, tripID string, version int64, deletedAt time.Time) error

	// SettingsByUser fetches the user's singleton settings record.
	SettingsByUser(ctx context.Context, userID string) (*Settings, error)

	// UpsertSettings creates or replaces the user's settings record.
	UpsertSettings(ctx context.Context, s *Settings) error
}

// TxStore is a Store whose writes can be grouped into one all-or-nothing
// transaction. fn receives a Store scoped to the transaction; returning an
// error rolls everything back.
type TxStore interface {
	Store
	RunInTransaction(ctx context.Context, fn func(Store) error) error
}
