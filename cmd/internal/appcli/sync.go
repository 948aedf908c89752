// ABOUTME: One full sync pass for the device mirror.
// ABOUTME: Uploads dirty rows stamped watermark+1, then pulls remote pages.

package appcli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/fabianlopezdev/presence-sync/tripsync"
)

// SyncOptions tunes a single sync pass.
type SyncOptions struct {
	ApplyNonConflicting bool
	ForceOverwrite      bool
}

// SyncReport summarizes what one sync pass did.
type SyncReport struct {
	Pulled    int // remote records applied locally
	Status    tripsync.PushStatus
	Synced    *tripsync.SyncedEntities
	Conflicts []tripsync.Conflict
	Watermark int64
}

// Sync pushes everything dirty and then pulls remote changes. The push goes
// first because its base version must reflect what this device had seen when
// the edits were made; pulling first would advance the watermark past
// competing server edits and mask the conflict. Dirty rows are never
// overwritten by the pull.
func (a *App) Sync(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	if a.opts.ServerURL == "" || a.opts.AuthToken == "" {
		return nil, errors.New("server url and auth token required for sync")
	}

	report := &SyncReport{Status: tripsync.StatusSuccess}

	watermark, err := a.Watermark(ctx)
	if err != nil {
		return nil, err
	}

	resp, pushed, err := a.pushPending(ctx, watermark, opts)
	if err != nil {
		return nil, err
	}
	if pushed {
		report.Status = resp.Status
		report.Synced = resp.SyncedEntities
		report.Conflicts = resp.Conflicts
		if resp.SyncedEntities != nil {
			if err := a.setWatermark(ctx, resp.SyncVersion); err != nil {
				return nil, err
			}
		}
	}

	pulled, watermark, err := a.pullAll(ctx)
	if err != nil {
		return nil, err
	}
	report.Pulled = pulled
	report.Watermark = watermark
	return report, nil
}

// pullAll drains the change feed page by page, persisting the watermark after
// each page so an interrupted sync resumes where it stopped.
func (a *App) pullAll(ctx context.Context) (int, int64, error) {
	watermark, err := a.Watermark(ctx)
	if err != nil {
		return 0, 0, err
	}

	pulled := 0
	for {
		resp, err := tripsync.WithRetry(ctx, a.retry, "pull", func() (tripsync.PullResponse, error) {
			return a.client.Pull(ctx, tripsync.PullRequest{LastSyncVersion: watermark})
		})
		if err != nil {
			return pulled, watermark, err
		}

		for i := range resp.Trips {
			applied, err := a.applyRemoteTrip(ctx, resp.Trips[i])
			if err != nil {
				return pulled, watermark, err
			}
			if applied {
				pulled++
			}
		}
		if resp.UserSettings != nil {
			applied, err := a.applyRemoteSettings(ctx, *resp.UserSettings)
			if err != nil {
				return pulled, watermark, err
			}
			if applied {
				pulled++
			}
		}

		watermark = resp.SyncVersion
		if err := a.setWatermark(ctx, watermark); err != nil {
			return pulled, watermark, err
		}
		if !resp.HasMore {
			return pulled, watermark, nil
		}
	}
}

// applyRemoteTrip writes a pulled trip into the mirror unless the local row
// has unpushed edits.
func (a *App) applyRemoteTrip(ctx context.Context, t tripsync.Trip) (bool, error) {
	var dirty int
	err := a.db.QueryRowContext(ctx, `SELECT dirty FROM trips WHERE trip_id=?`, t.ID).Scan(&dirty)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// new to this device
	case err != nil:
		return false, err
	case dirty != 0:
		return false, nil
	}

	var deletedAt any
	if t.DeletedAt != nil {
		deletedAt = t.DeletedAt.Unix()
	}
	_, err = a.db.ExecContext(ctx, `
INSERT INTO trips(trip_id, departure_date, return_date, location, is_simulated, sync_version, deleted_at, dirty, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,0,?,?)
ON CONFLICT(trip_id) DO UPDATE SET
  departure_date=excluded.departure_date,
  return_date=excluded.return_date,
  location=excluded.location,
  is_simulated=excluded.is_simulated,
  sync_version=excluded.sync_version,
  deleted_at=excluded.deleted_at,
  dirty=0,
  updated_at=excluded.updated_at
`, t.ID, t.DepartureDate, t.ReturnDate, t.Location, boolToInt(t.IsSimulated),
		t.SyncVersion, deletedAt, t.CreatedAt.Unix(), t.UpdatedAt.Unix())
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *App) applyRemoteSettings(ctx context.Context, s tripsync.Settings) (bool, error) {
	_, dirty, err := a.settingsRow(ctx)
	if err != nil {
		return false, err
	}
	if dirty {
		return false, nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return false, err
	}
	_, err = a.db.ExecContext(ctx, `
INSERT INTO settings(id, payload, sync_version, dirty, updated_at)
VALUES(1,?,?,0,?)
ON CONFLICT(id) DO UPDATE SET
  payload=excluded.payload,
  sync_version=excluded.sync_version,
  dirty=0,
  updated_at=excluded.updated_at
`, string(payload), s.SyncVersion, s.UpdatedAt.Unix())
	if err != nil {
		return false, err
	}
	return true, nil
}

// pushPending uploads every dirty row as one batch stamped watermark+1.
// Contested rows sit out plain pushes: once the pull half of an earlier sync
// advanced the watermark, re-pushing them would declare a base past the
// competing edit and overwrite it unchallenged. ForceOverwrite includes them.
func (a *App) pushPending(ctx context.Context, watermark int64, opts SyncOptions) (*tripsync.PushResponse, bool, error) {
	req, err := a.collectPending(ctx, opts.ForceOverwrite)
	if err != nil {
		return nil, false, err
	}
	if len(req.Trips) == 0 && len(req.DeletedTripIDs) == 0 && req.UserSettings == nil {
		return nil, false, nil
	}

	req.SyncVersion = watermark + 1
	req.ApplyNonConflicting = opts.ApplyNonConflicting
	req.ForceOverwrite = opts.ForceOverwrite

	resp, err := tripsync.WithRetry(ctx, a.retry, "push", func() (tripsync.PushResponse, error) {
		return a.client.Push(ctx, req)
	})
	if err != nil {
		return nil, false, err
	}

	if err := a.settlePush(ctx, req, resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (a *App) collectPending(ctx context.Context, includeContested bool) (tripsync.PushRequest, error) {
	var req tripsync.PushRequest

	skipTrips := map[string]bool{}
	skipSettings := false
	if !includeContested {
		conflicts, err := a.Conflicts(ctx)
		if err != nil {
			return req, err
		}
		for _, c := range conflicts {
			if c.EntityType == tripsync.EntitySettings {
				skipSettings = true
			} else {
				skipTrips[c.EntityID] = true
			}
		}
	}

	rows, err := a.db.QueryContext(ctx, `
SELECT trip_id, departure_date, return_date, location, is_simulated, sync_version, deleted_at, created_at, updated_at
FROM trips WHERE dirty=1 ORDER BY trip_id`)
	if err != nil {
		return req, err
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		t, err := scanLocalTrip(rows)
		if err != nil {
			return req, err
		}
		if skipTrips[t.ID] {
			continue
		}
		if t.Deleted() {
			req.DeletedTripIDs = append(req.DeletedTripIDs, t.ID)
		} else {
			req.Trips = append(req.Trips, t)
		}
	}
	if err := rows.Err(); err != nil {
		return req, err
	}

	settings, dirty, err := a.settingsRow(ctx)
	if err != nil {
		return req, err
	}
	if dirty && !skipSettings {
		req.UserSettings = settings
	}
	return req, nil
}

// settlePush clears the dirty flag on everything the server committed and
// records each reported conflict so later plain syncs hold the contested
// entity back until the user resolves it.
func (a *App) settlePush(ctx context.Context, req tripsync.PushRequest, resp tripsync.PushResponse) error {
	contested := make(map[string]bool, len(resp.Conflicts))
	settingsContested := false
	for _, c := range resp.Conflicts {
		if err := a.markContested(ctx, c); err != nil {
			return err
		}
		if c.EntityType == tripsync.EntitySettings {
			settingsContested = true
			continue
		}
		contested[c.EntityID] = true
	}

	if resp.SyncedEntities == nil {
		return nil
	}

	for i := range req.Trips {
		if contested[req.Trips[i].ID] {
			continue
		}
		if err := a.settleTrip(ctx, req.Trips[i].ID, resp.SyncVersion); err != nil {
			return err
		}
	}
	for _, id := range req.DeletedTripIDs {
		if contested[id] {
			continue
		}
		if err := a.settleTrip(ctx, id, resp.SyncVersion); err != nil {
			return err
		}
	}
	if req.UserSettings != nil && !settingsContested {
		if _, err := a.db.ExecContext(ctx,
			`UPDATE settings SET dirty=0, sync_version=? WHERE id=1`,
			resp.SyncVersion); err != nil {
			return err
		}
		if err := a.deleteState(ctx, contestedSettingsKey); err != nil {
			return err
		}
	}
	return nil
}

// settleTrip marks one committed trip as clean and drops any stale contested
// marker left from an earlier push.
func (a *App) settleTrip(ctx context.Context, tripID string, version int64) error {
	if _, err := a.db.ExecContext(ctx,
		`UPDATE trips SET dirty=0, sync_version=? WHERE trip_id=?`,
		version, tripID); err != nil {
		return err
	}
	return a.deleteState(ctx, contestedTripPrefix+tripID)
}
