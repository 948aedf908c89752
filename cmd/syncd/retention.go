// ABOUTME: Background pruning of old trip tombstones.
// ABOUTME: Prevents unbounded growth of the trips collection after deletions.

package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"
)

// defaultTombstoneRetention keeps deletion markers long enough for every
// device to pull past them. A device offline longer than this resyncs from
// scratch and may resurrect nothing, since its local rows are also gone or
// will be re-pushed as fresh edits.
const defaultTombstoneRetention = 90 * 24 * time.Hour

// tombstoneRetentionFromEnv reads SYNCD_TOMBSTONE_RETENTION_DAYS, falling
// back to the default window.
func tombstoneRetentionFromEnv() time.Duration {
	if v, err := strconv.Atoi(os.Getenv("SYNCD_TOMBSTONE_RETENTION_DAYS")); err == nil && v > 0 {
		return time.Duration(v) * 24 * time.Hour
	}
	return defaultTombstoneRetention
}

// pruneTombstones deletes trip records that were soft-deleted before the
// cutoff, returning the purge count.
func (s *Server) pruneTombstones(ctx context.Context, retention time.Duration) int {
	cutoff := time.Now().Add(-retention).Unix()

	records, err := s.app.FindRecordsByFilter("trips",
		"deleted_at != 0 && deleted_at < {:cutoff}", "", 500, 0,
		map[string]any{"cutoff": cutoff})
	if err != nil {
		log.Printf("tombstone prune query error: %v", err)
		return 0
	}

	purged := 0
	for _, record := range records {
		if ctx.Err() != nil {
			return purged
		}
		if err := s.app.Delete(record); err != nil {
			log.Printf("tombstone prune delete %s error: %v", record.GetString("trip_id"), err)
			continue
		}
		purged++
	}
	return purged
}

// startRetentionRoutine prunes expired tombstones hourly in the background.
func (s *Server) startRetentionRoutine(ctx context.Context, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.pruneTombstones(ctx, retention); n > 0 {
					log.Printf("retention: purged %d trip tombstones", n)
				}
			}
		}
	}()
}
