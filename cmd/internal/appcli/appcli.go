// ABOUTME: Shared device-side runtime for the trips CLI.
// ABOUTME: Keeps a local SQLite mirror and pushes/pulls through the sync client.

package appcli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/fabianlopezdev/presence-sync/tripsync"
)

const (
	stateDeviceID  = "device_id"
	stateWatermark = "last_sync_version"

	// Contested entities are parked under these keys (value: the conflict
	// report) until the user resolves them; plain syncs skip them so a stale
	// edit cannot slip past the server once the watermark has moved on.
	contestedTripPrefix   = "conflict:trips:"
	contestedSettingsKey  = "conflict:user_settings"
	contestedStatePattern = "conflict:%"
)

// Options wires the CLI runtime bits.
type Options struct {
	DBPath    string
	DeviceID  string
	ServerURL string
	AuthToken string
}

// App glues the trips CLI to the local mirror and the sync client.
type App struct {
	opts   Options
	db     *sql.DB
	client *tripsync.Client
	retry  tripsync.RetryConfig
}

// NewApp opens the local mirror and builds a sync client from opts.
func NewApp(opts Options) (*App, error) {
	normalized, err := normalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", normalized.DBPath)
	if err != nil {
		return nil, err
	}
	if err := migrateLocalDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	app := &App{opts: normalized, db: db}
	if err := app.ensureDeviceID(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	syncCfg := tripsync.SyncConfig{
		BaseURL:   normalized.ServerURL,
		DeviceID:  app.opts.DeviceID,
		AuthToken: normalized.AuthToken,
	}
	app.client = tripsync.NewClient(syncCfg)
	app.retry = syncCfg.GetRetryConfig()
	return app, nil
}

// Close releases the local database.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// DeviceID returns the stable identifier minted for this install.
func (a *App) DeviceID() string {
	return a.opts.DeviceID
}

// AddTrip records a new trip locally and marks it for upload.
func (a *App) AddTrip(ctx context.Context, departure, ret, location string, simulated bool) (string, error) {
	if departure == "" || ret == "" {
		return "", errors.New("departure and return dates required")
	}
	tripID := ulid.Make().String()
	now := time.Now().UTC().Unix()
	_, err := a.db.ExecContext(ctx, `
INSERT INTO trips(trip_id, departure_date, return_date, location, is_simulated, sync_version, dirty, created_at, updated_at)
VALUES(?,?,?,?,?,0,1,?,?)
`, tripID, departure, ret, location, boolToInt(simulated), now, now)
	if err != nil {
		return "", err
	}
	return tripID, nil
}

// UpdateTrip replaces an existing trip's fields and marks it for upload.
func (a *App) UpdateTrip(ctx context.Context, tripID, departure, ret, location string, simulated bool) error {
	if tripID == "" {
		return errors.New("trip id required")
	}
	res, err := a.db.ExecContext(ctx, `
UPDATE trips SET departure_date=?, return_date=?, location=?, is_simulated=?, dirty=1, updated_at=?
WHERE trip_id=? AND deleted_at IS NULL
`, departure, ret, location, boolToInt(simulated), time.Now().UTC().Unix(), tripID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trip %s not found", tripID)
	}
	return nil
}

// DeleteTrip tombstones a trip locally; the deletion uploads on next sync.
func (a *App) DeleteTrip(ctx context.Context, tripID string) error {
	if tripID == "" {
		return errors.New("trip id required")
	}
	now := time.Now().UTC().Unix()
	res, err := a.db.ExecContext(ctx, `
UPDATE trips SET deleted_at=?, dirty=1, updated_at=?
WHERE trip_id=? AND deleted_at IS NULL
`, now, now, tripID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trip %s not found", tripID)
	}
	return nil
}

// ListTrips returns the local mirror, newest departure first. Tombstones are
// excluded unless includeDeleted is set.
func (a *App) ListTrips(ctx context.Context, includeDeleted bool) ([]tripsync.Trip, error) {
	query := `
SELECT trip_id, departure_date, return_date, location, is_simulated, sync_version, deleted_at, created_at, updated_at
FROM trips`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY departure_date DESC, trip_id`

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []tripsync.Trip
	for rows.Next() {
		t, err := scanLocalTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateSettings replaces the local settings and marks them for upload.
func (a *App) UpdateSettings(ctx context.Context, s tripsync.Settings) error {
	s.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
INSERT INTO settings(id, payload, sync_version, dirty, updated_at)
VALUES(1,?,?,1,?)
ON CONFLICT(id) DO UPDATE SET
  payload=excluded.payload,
  dirty=1,
  updated_at=excluded.updated_at
`, string(payload), s.SyncVersion, s.UpdatedAt.Unix())
	return err
}

// Settings returns the local settings, or nil when none are stored yet.
func (a *App) Settings(ctx context.Context) (*tripsync.Settings, error) {
	s, _, err := a.settingsRow(ctx)
	return s, err
}

func (a *App) settingsRow(ctx context.Context) (*tripsync.Settings, bool, error) {
	var payload string
	var dirty int
	err := a.db.QueryRowContext(ctx, `SELECT payload, dirty FROM settings WHERE id=1`).Scan(&payload, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var s tripsync.Settings
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, false, err
	}
	return &s, dirty != 0, nil
}

// Watermark returns the highest sync version this device has fully applied.
func (a *App) Watermark(ctx context.Context) (int64, error) {
	raw, err := a.getState(ctx, stateWatermark)
	if err != nil || raw == "" {
		return 0, err
	}
	var v int64
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (a *App) setWatermark(ctx context.Context, v int64) error {
	return a.setState(ctx, stateWatermark, fmt.Sprintf("%d", v))
}

// sync state k/v

func (a *App) getState(ctx context.Context, key string) (string, error) {
	var value string
	err := a.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (a *App) setState(ctx context.Context, key, value string) error {
	_, err := a.db.ExecContext(ctx, `
INSERT INTO sync_state(key, value) VALUES(?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value
`, key, value)
	return err
}

func (a *App) deleteState(ctx context.Context, key string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM sync_state WHERE key=?`, key)
	return err
}

func (a *App) ensureDeviceID(ctx context.Context) error {
	if a.opts.DeviceID != "" {
		return a.setState(ctx, stateDeviceID, a.opts.DeviceID)
	}
	stored, err := a.getState(ctx, stateDeviceID)
	if err != nil {
		return err
	}
	if stored != "" {
		a.opts.DeviceID = stored
		return nil
	}
	a.opts.DeviceID = uuid.NewString()
	return a.setState(ctx, stateDeviceID, a.opts.DeviceID)
}

func scanLocalTrip(rows *sql.Rows) (tripsync.Trip, error) {
	var t tripsync.Trip
	var simulated int
	var deletedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := rows.Scan(&t.ID, &t.DepartureDate, &t.ReturnDate, &t.Location, &simulated,
		&t.SyncVersion, &deletedAt, &createdAt, &updatedAt); err != nil {
		return tripsync.Trip{}, err
	}
	t.IsSimulated = simulated != 0
	if deletedAt.Valid {
		ts := time.Unix(deletedAt.Int64, 0).UTC()
		t.DeletedAt = &ts
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return t, nil
}

func normalizeOptions(opts Options) (Options, error) {
	if opts.DBPath == "" {
		opts.DBPath = filepath.Join(os.TempDir(), "trips.db")
	}
	if err := ensureDir(opts.DBPath); err != nil {
		return opts, err
	}
	return opts, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}

func migrateLocalDB(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS trips (
  trip_id TEXT PRIMARY KEY,
  departure_date TEXT NOT NULL,
  return_date TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  is_simulated INTEGER NOT NULL DEFAULT 0,
  sync_version INTEGER NOT NULL DEFAULT 0,
  deleted_at INTEGER,
  dirty INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  payload TEXT NOT NULL,
  sync_version INTEGER NOT NULL DEFAULT 0,
  dirty INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
