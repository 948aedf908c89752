package tripsync

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists trips and settings in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ TxStore = (*SQLiteStore)(nil)

// OpenStore opens/creates a SQLite database and runs migrations.
func OpenStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS trips (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  departure_date TEXT NOT NULL,
  return_date TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  is_simulated INTEGER NOT NULL DEFAULT 0,
  sync_version INTEGER NOT NULL,
  deleted_at INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_trips_user_version ON trips(user_id, sync_version);

CREATE TABLE IF NOT EXISTS user_settings (
  user_id TEXT PRIMARY KEY,
  notify_milestones INTEGER NOT NULL DEFAULT 0,
  notify_warnings INTEGER NOT NULL DEFAULT 0,
  notify_reminders INTEGER NOT NULL DEFAULT 0,
  biometric_auth_enabled INTEGER NOT NULL DEFAULT 0,
  theme TEXT NOT NULL DEFAULT '',
  language TEXT NOT NULL DEFAULT '',
  sync_enabled INTEGER NOT NULL DEFAULT 0,
  sync_device_id TEXT NOT NULL DEFAULT '',
  sync_subscription_tier TEXT NOT NULL DEFAULT '',
  sync_version INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
`)
	return err
}

// querier covers the methods shared by *sql.DB and *sql.Tx so the same reads
// and writes compose inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) TripByID(ctx context.Context, userID, tripID string) (*Trip, error) {
	return tripByID(ctx, s.db, userID, tripID)
}

func (s *SQLiteStore) TripsSince(ctx context.Context, userID string, afterVersion int64, limit int) ([]Trip, error) {
	return tripsSince(ctx, s.db, userID, afterVersion, limit)
}

func (s *SQLiteStore) TripsAtVersion(ctx context.Context, userID string, version int64) ([]Trip, error) {
	return tripsAtVersion(ctx, s.db, userID, version)
}

func (s *SQLiteStore) UpsertTrip(ctx context.Context, t *Trip) error {
	return upsertTrip(ctx, s.db, t)
}

func (s *SQLiteStore) SoftDeleteTrip(ctx context.Context, userID, tripID string, version int64, deletedAt time.Time) error {
	return softDeleteTrip(ctx, s.db, userID, tripID, version, deletedAt)
}

func (s *SQLiteStore) SettingsByUser(ctx context.Context, userID string) (*Settings, error) {
	return settingsByUser(ctx, s.db, userID)
}

func (s *SQLiteStore) UpsertSettings(ctx context.Context, st *Settings) error {
	return upsertSettings(ctx, s.db, st)
}

// RunInTransaction runs fn against a transaction-scoped Store. It commits on
// nil and rolls back on any error.
func (s *SQLiteStore) RunInTransaction(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&txSQLiteStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// txSQLiteStore is the transaction-scoped view handed to RunInTransaction callbacks.
type txSQLiteStore struct {
	tx *sql.Tx
}

var _ Store = (*txSQLiteStore)(nil)

func (s *txSQLiteStore) TripByID(ctx context.Context, userID, tripID string) (*Trip, error) {
	return tripByID(ctx, s.tx, userID, tripID)
}

func (s *txSQLiteStore) TripsSince(ctx context.Context, userID string, afterVersion int64, limit int) ([]Trip, error) {
	return tripsSince(ctx, s.tx, userID, afterVersion, limit)
}

func (s *txSQLiteStore) TripsAtVersion(ctx context.Context, userID string, version int64) ([]Trip, error) {
	return tripsAtVersion(ctx, s.tx, userID, version)
}

func (s *txSQLiteStore) UpsertTrip(ctx context.Context, t *Trip) error {
	return upsertTrip(ctx, s.tx, t)
}

func (s *txSQLiteStore) SoftDeleteTrip(ctx context.Context, userID, tripID string, version int64, deletedAt time.Time) error {
	return softDeleteTrip(ctx, s.tx, userID, tripID, version, deletedAt)
}

func (s *txSQLiteStore) SettingsByUser(ctx context.Context, userID string) (*Settings, error) {
	return settingsByUser(ctx, s.tx, userID)
}

func (s *txSQLiteStore) UpsertSettings(ctx context.Context, st *Settings) error {
	return upsertSettings(ctx, s.tx, st)
}

const tripColumns = `id, user_id, departure_date, return_date, location, is_simulated,
sync_version, deleted_at, created_at, updated_at`

func tripByID(ctx context.Context, q querier, userID, tripID string) (*Trip, error) {
	row := q.QueryRowContext(ctx, `
SELECT `+tripColumns+` FROM trips WHERE user_id = ? AND id = ?`, userID, tripID)
	t, err := scanTrip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func tripsSince(ctx context.Context, q querier, userID string, afterVersion int64, limit int) ([]Trip, error) {
	rows, err := q.QueryContext(ctx, `
SELECT `+tripColumns+` FROM trips
WHERE user_id = ? AND sync_version > ?
ORDER BY sync_version ASC, id ASC
LIMIT ?`, userID, afterVersion, limit)
	if err != nil {
		return nil, err
	}
	return collectTrips(rows)
}

func tripsAtVersion(ctx context.Context, q querier, userID string, version int64) ([]Trip, error) {
	rows, err := q.QueryContext(ctx, `
SELECT `+tripColumns+` FROM trips
WHERE user_id = ? AND sync_version = ?
ORDER BY id ASC`, userID, version)
	if err != nil {
		return nil, err
	}
	return collectTrips(rows)
}

func collectTrips(rows *sql.Rows) ([]Trip, error) {
	defer func() {
		_ = rows.Close()
	}()

	var trips []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// rowScanner lets scanTrip work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(r rowScanner) (*Trip, error) {
	var t Trip
	var simulated int
	var deletedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := r.Scan(&t.ID, &t.UserID, &t.DepartureDate, &t.ReturnDate, &t.Location,
		&simulated, &t.SyncVersion, &deletedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.IsSimulated = simulated != 0
	if deletedAt.Valid {
		at := time.Unix(deletedAt.Int64, 0).UTC()
		t.DeletedAt = &at
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

func upsertTrip(ctx context.Context, q querier, t *Trip) error {
	now := time.Now().UTC()
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}
	var deletedAt sql.NullInt64
	if t.DeletedAt != nil {
		deletedAt = sql.NullInt64{Int64: t.DeletedAt.Unix(), Valid: true}
	}
	_, err := q.ExecContext(ctx, `
INSERT INTO trips(id, user_id, departure_date, return_date, location, is_simulated,
  sync_version, deleted_at, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(user_id, id) DO UPDATE SET
  departure_date=excluded.departure_date,
  return_date=excluded.return_date,
  location=excluded.location,
  is_simulated=excluded.is_simulated,
  sync_version=excluded.sync_version,
  deleted_at=excluded.deleted_at,
  updated_at=excluded.updated_at`,
		t.ID, t.UserID, t.DepartureDate, t.ReturnDate, t.Location, boolToInt(t.IsSimulated),
		t.SyncVersion, deletedAt, created.Unix(), now.Unix(),
	)
	return err
}

func softDeleteTrip(ctx context.Context, q querier, userID, tripID string, version int64, deletedAt time.Time) error {
	_, err := q.ExecContext(ctx, `
UPDATE trips SET deleted_at = ?, sync_version = ?, updated_at = ?
WHERE user_id = ? AND id = ?`,
		deletedAt.Unix(), version, time.Now().UTC().Unix(), userID, tripID,
	)
	return err
}

func settingsByUser(ctx context.Context, q querier, userID string) (*Settings, error) {
	var st Settings
	var milestones, warnings, reminders, biometric, syncEnabled int
	var updatedAt int64
	err := q.QueryRowContext(ctx, `
SELECT user_id, notify_milestones, notify_warnings, notify_reminders,
  biometric_auth_enabled, theme, language, sync_enabled, sync_device_id,
  sync_subscription_tier, sync_version, updated_at
FROM user_settings WHERE user_id = ?`, userID).Scan(
		&st.UserID, &milestones, &warnings, &reminders, &biometric,
		&st.Theme, &st.Language, &syncEnabled, &st.SyncDeviceID,
		&st.SyncSubscriptionTier, &st.SyncVersion, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.NotifyMilestones = milestones != 0
	st.NotifyWarnings = warnings != 0
	st.NotifyReminders = reminders != 0
	st.BiometricAuthEnabled = biometric != 0
	st.SyncEnabled = syncEnabled != 0
	st.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &st, nil
}

func upsertSettings(ctx context.Context, q querier, st *Settings) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO user_settings(user_id, notify_milestones, notify_warnings, notify_reminders,
  biometric_auth_enabled, theme, language, sync_enabled, sync_device_id,
  sync_subscription_tier, sync_version, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET
  notify_milestones=excluded.notify_milestones,
  notify_warnings=excluded.notify_warnings,
  notify_reminders=excluded.notify_reminders,
  biometric_auth_enabled=excluded.biometric_auth_enabled,
  theme=excluded.theme,
  language=excluded.language,
  sync_enabled=excluded.sync_enabled,
  sync_device_id=excluded.sync_device_id,
  sync_subscription_tier=excluded.sync_subscription_tier,
  sync_version=excluded.sync_version,
  updated_at=excluded.updated_at`,
		st.UserID, boolToInt(st.NotifyMilestones), boolToInt(st.NotifyWarnings),
		boolToInt(st.NotifyReminders), boolToInt(st.BiometricAuthEnabled),
		st.Theme, st.Language, boolToInt(st.SyncEnabled), st.SyncDeviceID,
		st.SyncSubscriptionTier, st.SyncVersion, time.Now().UTC().Unix(),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
