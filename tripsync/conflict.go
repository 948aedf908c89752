// ABOUTME: Conflict detection for multi-device sync pushes.
// ABOUTME: Classifies batch items against stored versions; a pure read-only pass.
package tripsync

import (
	"context"
	"encoding/json"
)

// ConflictKind distinguishes how the push collided with stored state.
type ConflictKind string

const (
	// ConflictUpdate means another push advanced the record past the
	// device's base version before this upsert arrived.
	ConflictUpdate ConflictKind = "update"
	// ConflictDelete means the device wants to delete a record that was
	// edited or re-created after its base version.
	ConflictDelete ConflictKind = "delete"
)

// Conflict identifies one contested entity and the competing views. The
// server never stores it; it lives in the push response for the device to
// resolve.
type Conflict struct {
	EntityType    string          `json:"entityType"` // EntityTrips or EntitySettings
	EntityID      string          `json:"entityId"`
	Kind          ConflictKind    `json:"type"`
	BaseVersion   int64           `json:"baseVersion"`
	ServerVersion int64           `json:"serverVersion"`
	Server        json.RawMessage `json:"server,omitempty"`   // server-held view
	Incoming      json.RawMessage `json:"incoming,omitempty"` // device's view, absent for deletions
}

// Classification is the detector's output: the full conflict set plus the
// filtered non-conflicting subsets a caller may choose to apply on their own.
type Classification struct {
	Conflicts      []Conflict
	Trips          []Trip    // apply-ready upserts
	Settings       *Settings // apply-ready settings, nil if absent or conflicting
	DeletedTripIDs []string  // apply-ready deletions
}

// HasConflicts reports whether any batch item was contested.
func (c Classification) HasConflicts() bool { return len(c.Conflicts) > 0 }

// DetectConflicts compares a push batch against stored state. The batch's
// declared base is one below its stamp: a device that last observed version N
// pushes with SyncVersion N+1. A stored record whose version is strictly
// greater than the base is in conflict, regardless of whether field values
// differ; a stored version equal to the base is safe. The pass has no side
// effects and may be repeated.
func DetectConflicts(ctx context.Context, store Store, userID string, req PushRequest) (Classification, error) {
	var out Classification
	base := req.SyncVersion - 1

	for i := range req.Trips {
		incoming := req.Trips[i]
		stored, err := store.TripByID(ctx, userID, incoming.ID)
		if err != nil {
			return Classification{}, err
		}
		if stored != nil && stored.SyncVersion > base {
			out.Conflicts = append(out.Conflicts, tripConflict(ConflictUpdate, base, stored, &incoming))
			continue
		}
		out.Trips = append(out.Trips, incoming)
	}

	if req.UserSettings != nil {
		stored, err := store.SettingsByUser(ctx, userID)
		if err != nil {
			return Classification{}, err
		}
		if stored != nil && stored.SyncVersion > base {
			out.Conflicts = append(out.Conflicts, settingsConflict(base, stored, req.UserSettings))
		} else {
			out.Settings = req.UserSettings
		}
	}

	for _, id := range req.DeletedTripIDs {
		stored, err := store.TripByID(ctx, userID, id)
		if err != nil {
			return Classification{}, err
		}
		if stored != nil && stored.SyncVersion > base {
			out.Conflicts = append(out.Conflicts, tripConflict(ConflictDelete, base, stored, nil))
			continue
		}
		out.DeletedTripIDs = append(out.DeletedTripIDs, id)
	}

	return out, nil
}

func tripConflict(kind ConflictKind, base int64, stored, incoming *Trip) Conflict {
	c := Conflict{
		EntityType:    EntityTrips,
		EntityID:      stored.ID,
		Kind:          kind,
		BaseVersion:   base,
		ServerVersion: stored.SyncVersion,
		Server:        mustJSON(stored),
	}
	if incoming != nil {
		c.Incoming = mustJSON(incoming)
	}
	return c
}

func settingsConflict(base int64, stored, incoming *Settings) Conflict {
	return Conflict{
		EntityType:    EntitySettings,
		EntityID:      stored.UserID,
		Kind:          ConflictUpdate,
		BaseVersion:   base,
		ServerVersion: stored.SyncVersion,
		Server:        mustJSON(stored),
		Incoming:      mustJSON(incoming),
	}
}

// mustJSON marshals engine-owned structs; these cannot fail to encode.
func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
