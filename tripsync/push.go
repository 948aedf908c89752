package tripsync

import (
	"context"
	"time"
)

// PushRequest is a device's batch of edits. SyncVersion is the stamp the
// server writes verbatim onto every record this push touches; the device sets
// it to one above the version it last observed, so the declared base is
// SyncVersion-1.
type PushRequest struct {
	SyncVersion         int64     `json:"syncVersion"`
	Trips               []Trip    `json:"trips,omitempty"`
	UserSettings        *Settings `json:"userSettings,omitempty"`
	DeletedTripIDs      []string  `json:"deletedTripIds,omitempty"`
	ForceOverwrite      bool      `json:"forceOverwrite,omitempty"`
	ApplyNonConflicting bool      `json:"applyNonConflicting,omitempty"`
}

// PushStatus is the terminal outcome of a push. The three cases are exhaustive.
type PushStatus string

const (
	// StatusSuccess means the full batch committed.
	StatusSuccess PushStatus = "success"
	// StatusConflict means conflicts were found and nothing committed.
	StatusConflict PushStatus = "conflict"
	// StatusPartialConflict means the non-conflicting subset committed and
	// the rest is reported back as conflicts.
	StatusPartialConflict PushStatus = "partial_conflict"
)

// SyncedEntities counts what a push actually committed.
type SyncedEntities struct {
	Trips        int  `json:"trips"`
	UserSettings bool `json:"userSettings"`
	DeletedTrips int  `json:"deletedTrips"`
}

// PushResponse reports a push outcome. SyncedEntities is nil on a full abort.
type PushResponse struct {
	Status         PushStatus      `json:"status"`
	SyncVersion    int64           `json:"syncVersion,omitempty"`
	SyncedEntities *SyncedEntities `json:"syncedEntities,omitempty"`
	Conflicts      []Conflict      `json:"conflicts,omitempty"`
}

// Push applies a device's batch. Validation happens before any store access;
// the apply phase runs in one all-or-nothing transaction, so a persistence
// error never leaves a half-applied batch visible to later pulls.
func (e *Engine) Push(ctx context.Context, userID string, req PushRequest) (PushResponse, error) {
	if userID == "" {
		return PushResponse{}, ErrUserRequired
	}
	if err := e.limits.validatePush(req); err != nil {
		return PushResponse{}, err
	}

	apply := Classification{
		Trips:          req.Trips,
		Settings:       req.UserSettings,
		DeletedTripIDs: req.DeletedTripIDs,
	}
	status := StatusSuccess

	if !req.ForceOverwrite {
		classified, err := DetectConflicts(ctx, e.store, userID, req)
		if err != nil {
			return PushResponse{}, err
		}
		if classified.HasConflicts() {
			if !req.ApplyNonConflicting {
				// Full abort: no entities are touched.
				return PushResponse{
					Status:    StatusConflict,
					Conflicts: classified.Conflicts,
				}, nil
			}
			status = StatusPartialConflict
		}
		apply = classified
	}

	counts, err := e.applyBatch(ctx, userID, req.SyncVersion, apply)
	if err != nil {
		return PushResponse{}, err
	}

	return PushResponse{
		Status:         status,
		SyncVersion:    req.SyncVersion,
		SyncedEntities: &counts,
		Conflicts:      apply.Conflicts,
	}, nil
}

// applyBatch commits the selected subset inside one transaction, stamping
// every record with the batch version.
func (e *Engine) applyBatch(ctx context.Context, userID string, version int64, batch Classification) (SyncedEntities, error) {
	var counts SyncedEntities
	now := time.Now().UTC()

	err := e.store.RunInTransaction(ctx, func(tx Store) error {
		for i := range batch.Trips {
			trip := batch.Trips[i]
			trip.UserID = userID
			trip.SyncVersion = version
			if err := tx.UpsertTrip(ctx, &trip); err != nil {
				return &StoreError{Entity: EntityTrips, EntityID: trip.ID, Cause: err}
			}
			counts.Trips++
		}

		if batch.Settings != nil {
			settings := *batch.Settings
			settings.UserID = userID
			settings.SyncVersion = version
			if err := tx.UpsertSettings(ctx, &settings); err != nil {
				return &StoreError{Entity: EntitySettings, EntityID: userID, Cause: err}
			}
			counts.UserSettings = true
		}

		for _, id := range batch.DeletedTripIDs {
			if err := tx.SoftDeleteTrip(ctx, userID, id, version, now); err != nil {
				return &StoreError{Entity: EntityTrips, EntityID: id, Cause: err}
			}
			counts.DeletedTrips++
		}
		return nil
	})
	if err != nil {
		return SyncedEntities{}, err
	}
	return counts, nil
}
