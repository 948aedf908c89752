package tripsync

import "context"

// PullRequest asks for everything that changed after the device's watermark.
// A zero LastSyncVersion means "from the beginning". An empty EntityTypes list
// means all entities.
type PullRequest struct {
	LastSyncVersion int64    `json:"lastSyncVersion,omitempty"`
	EntityTypes     []string `json:"entityTypes,omitempty"`
}

// PullResponse is one bounded page of the change feed. SyncVersion is the new
// watermark: chaining it into the next request is safe and terminates.
type PullResponse struct {
	SyncVersion  int64     `json:"syncVersion"`
	Trips        []Trip    `json:"trips"`
	UserSettings *Settings `json:"userSettings"`
	HasMore      bool      `json:"hasMore"`
}

// wantsEntity reports whether the filter admits the named entity.
func (r PullRequest) wantsEntity(name string) bool {
	if len(r.EntityTypes) == 0 {
		return true
	}
	for _, e := range r.EntityTypes {
		if e == name {
			return true
		}
	}
	return false
}

func validateEntityTypes(types []string) error {
	for _, e := range types {
		if e != EntityTrips && e != EntitySettings {
			return ErrBadEntityType
		}
	}
	return nil
}

// Pull returns a bounded, ordered slice of changes after the request's
// watermark. Trips are paged one row beyond the page size to detect
// truncation; pages only ever end on a version boundary, stretching past the
// page size when a single push stamped more rows than fit, because the
// watermark advances in whole versions and rows left behind it would never be
// delivered. Settings are withheld while trip pages overflow so a client never
// observes settings ahead of trips it has not drained yet. The response
// watermark never regresses below the request's watermark, so an empty page is
// safe to chain.
func (e *Engine) Pull(ctx context.Context, userID string, req PullRequest) (PullResponse, error) {
	if userID == "" {
		return PullResponse{}, ErrUserRequired
	}
	if err := validateEntityTypes(req.EntityTypes); err != nil {
		return PullResponse{}, err
	}

	resp := PullResponse{
		SyncVersion: req.LastSyncVersion,
		Trips:       []Trip{},
	}

	if req.wantsEntity(EntityTrips) {
		trips, hasMore, err := e.tripPage(ctx, userID, req.LastSyncVersion)
		if err != nil {
			return PullResponse{}, err
		}
		resp.Trips = trips
		resp.HasMore = hasMore
		for i := range trips {
			if trips[i].SyncVersion > resp.SyncVersion {
				resp.SyncVersion = trips[i].SyncVersion
			}
		}
	}

	// Settings ride along only once the trip feed is drained; otherwise a
	// client could see a settings version ahead of trips it has not pulled.
	if req.wantsEntity(EntitySettings) && !resp.HasMore {
		settings, err := e.store.SettingsByUser(ctx, userID)
		if err != nil {
			return PullResponse{}, err
		}
		if settings != nil && settings.SyncVersion > req.LastSyncVersion {
			resp.UserSettings = settings
			if settings.SyncVersion > resp.SyncVersion {
				resp.SyncVersion = settings.SyncVersion
			}
		}
	}

	return resp, nil
}

// tripPage fetches one page of the trip feed. When the page boundary would
// fall inside a version group the page is completed with the rest of the
// group, so the returned watermark never strands undelivered rows behind it.
func (e *Engine) tripPage(ctx context.Context, userID string, after int64) ([]Trip, bool, error) {
	pageSize := e.limits.PullPageSize
	trips, err := e.store.TripsSince(ctx, userID, after, pageSize+1)
	if err != nil {
		return nil, false, err
	}
	if len(trips) <= pageSize {
		return trips, false, nil
	}

	boundary := trips[pageSize-1].SyncVersion
	if trips[pageSize].SyncVersion != boundary {
		return trips[:pageSize], true, nil
	}

	// The overflow row shares the last kept version. Swap the partial group
	// for the whole one and re-check whether later versions remain.
	cut := pageSize - 1
	for cut > 0 && trips[cut-1].SyncVersion == boundary {
		cut--
	}
	group, err := e.store.TripsAtVersion(ctx, userID, boundary)
	if err != nil {
		return nil, false, err
	}
	page := append(trips[:cut:cut], group...)

	rest, err := e.store.TripsSince(ctx, userID, boundary, 1)
	if err != nil {
		return nil, false, err
	}
	return page, len(rest) > 0, nil
}
