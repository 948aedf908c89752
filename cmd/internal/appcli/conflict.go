// ABOUTME: Device-side handling of conflicts reported by a push.
// ABOUTME: Lets the user accept the server's view or keep the local edit.

package appcli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fabianlopezdev/presence-sync/tripsync"
)

// AcceptServer resolves a reported conflict by adopting the server's view of
// the entity, discarding the local edit.
func (a *App) AcceptServer(ctx context.Context, c tripsync.Conflict) error {
	switch c.EntityType {
	case tripsync.EntityTrips:
		if len(c.Server) == 0 {
			return fmt.Errorf("conflict for trip %s carries no server view", c.EntityID)
		}
		var trip tripsync.Trip
		if err := json.Unmarshal(c.Server, &trip); err != nil {
			return fmt.Errorf("decode server trip %s: %w", c.EntityID, err)
		}
		// Clear the dirty flag first so the server view is allowed in.
		if _, err := a.db.ExecContext(ctx, `UPDATE trips SET dirty=0 WHERE trip_id=?`, trip.ID); err != nil {
			return err
		}
		if _, err := a.applyRemoteTrip(ctx, trip); err != nil {
			return err
		}
	case tripsync.EntitySettings:
		var settings tripsync.Settings
		if err := json.Unmarshal(c.Server, &settings); err != nil {
			return fmt.Errorf("decode server settings: %w", err)
		}
		if _, err := a.db.ExecContext(ctx, `UPDATE settings SET dirty=0 WHERE id=1`); err != nil {
			return err
		}
		if _, err := a.applyRemoteSettings(ctx, settings); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown conflict entity type %q", c.EntityType)
	}
	return a.deleteState(ctx, contestedKey(c))
}

// KeepLocal resolves a conflict by re-pushing only the contested entity with
// the overwrite flag, so the server adopts this device's view.
func (a *App) KeepLocal(ctx context.Context, c tripsync.Conflict) error {
	watermark, err := a.Watermark(ctx)
	if err != nil {
		return err
	}

	req := tripsync.PushRequest{
		SyncVersion:    watermark + 1,
		ForceOverwrite: true,
	}
	switch c.EntityType {
	case tripsync.EntityTrips:
		trip, err := a.localTrip(ctx, c.EntityID)
		if err != nil {
			return err
		}
		if trip == nil {
			return fmt.Errorf("trip %s not found locally", c.EntityID)
		}
		if trip.Deleted() {
			req.DeletedTripIDs = []string{trip.ID}
		} else {
			req.Trips = []tripsync.Trip{*trip}
		}
	case tripsync.EntitySettings:
		settings, _, err := a.settingsRow(ctx)
		if err != nil {
			return err
		}
		if settings == nil {
			return fmt.Errorf("no local settings to keep")
		}
		req.UserSettings = settings
	default:
		return fmt.Errorf("unknown conflict entity type %q", c.EntityType)
	}

	resp, err := tripsync.WithRetry(ctx, a.retry, "push", func() (tripsync.PushResponse, error) {
		return a.client.Push(ctx, req)
	})
	if err != nil {
		return err
	}
	if err := a.settlePush(ctx, req, resp); err != nil {
		return err
	}
	if resp.SyncedEntities != nil {
		return a.setWatermark(ctx, resp.SyncVersion)
	}
	return nil
}

// Conflicts returns the conflicts recorded by earlier syncs that are still
// waiting on a resolution.
func (a *App) Conflicts(ctx context.Context) ([]tripsync.Conflict, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT value FROM sync_state WHERE key LIKE ? ORDER BY key`, contestedStatePattern)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []tripsync.Conflict
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c tripsync.Conflict
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode recorded conflict: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Resolve settles one recorded conflict by entity id. "settings" addresses the
// settings conflict. keepLocal picks this device's edit; otherwise the
// server's view wins.
func (a *App) Resolve(ctx context.Context, entityID string, keepLocal bool) error {
	conflicts, err := a.Conflicts(ctx)
	if err != nil {
		return err
	}
	for _, c := range conflicts {
		if !matchesConflict(c, entityID) {
			continue
		}
		if keepLocal {
			return a.KeepLocal(ctx, c)
		}
		return a.AcceptServer(ctx, c)
	}
	return fmt.Errorf("no recorded conflict for %q", entityID)
}

func matchesConflict(c tripsync.Conflict, entityID string) bool {
	if c.EntityType == tripsync.EntitySettings {
		return entityID == "settings" || entityID == tripsync.EntitySettings
	}
	return c.EntityID == entityID
}

// markContested parks the conflict report in sync_state until resolved.
func (a *App) markContested(ctx context.Context, c tripsync.Conflict) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return a.setState(ctx, contestedKey(c), string(raw))
}

func contestedKey(c tripsync.Conflict) string {
	if c.EntityType == tripsync.EntitySettings {
		return contestedSettingsKey
	}
	return contestedTripPrefix + c.EntityID
}

func (a *App) localTrip(ctx context.Context, tripID string) (*tripsync.Trip, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT trip_id, departure_date, return_date, location, is_simulated, sync_version, deleted_at, created_at, updated_at
FROM trips WHERE trip_id=?`, tripID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := scanLocalTrip(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FormatConflict renders a conflict for terminal display.
func FormatConflict(c tripsync.Conflict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s conflict (base v%d, server v%d)",
		c.EntityType, c.EntityID, c.Kind, c.BaseVersion, c.ServerVersion)
	if len(c.Server) > 0 {
		fmt.Fprintf(&b, "\n  server:   %s", compactJSON(c.Server))
	}
	if len(c.Incoming) > 0 {
		fmt.Fprintf(&b, "\n  incoming: %s", compactJSON(c.Incoming))
	}
	return b.String()
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
