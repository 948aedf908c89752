package tripsync

import "time"

// Entity names accepted by the pull entity filter.
const (
	EntityTrips    = "trips"
	EntitySettings = "user_settings"
)

// Trip is one international trip recorded by a device.
// DeletedAt is a tombstone: deleted trips are never physically removed so the
// deletion can propagate to other devices through pull.
type Trip struct {
	ID            string     `json:"id" db:"id"`
	UserID        string     `json:"userId" db:"user_id"`
	DepartureDate string     `json:"departureDate" db:"departure_date"` // ISO date, e.g. 2024-02-01
	ReturnDate    string     `json:"returnDate" db:"return_date"`
	Location      string     `json:"location,omitempty" db:"location"`
	IsSimulated   bool       `json:"isSimulated" db:"is_simulated"`
	SyncVersion   int64      `json:"syncVersion" db:"sync_version"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
}

// Deleted reports whether the trip is a tombstone.
func (t *Trip) Deleted() bool { return t.DeletedAt != nil }

// Settings is the per-user singleton settings record. It is created lazily on
// the first push that includes it.
type Settings struct {
	UserID               string    `json:"userId" db:"user_id"`
	NotifyMilestones     bool      `json:"notifyMilestones" db:"notify_milestones"`
	NotifyWarnings       bool      `json:"notifyWarnings" db:"notify_warnings"`
	NotifyReminders      bool      `json:"notifyReminders" db:"notify_reminders"`
	BiometricAuthEnabled bool      `json:"biometricAuthEnabled" db:"biometric_auth_enabled"`
	Theme                string    `json:"theme" db:"theme"`
	Language             string    `json:"language" db:"language"`
	SyncEnabled          bool      `json:"syncEnabled" db:"sync_enabled"`
	SyncDeviceID         string    `json:"syncDeviceId,omitempty" db:"sync_device_id"`
	SyncSubscriptionTier string    `json:"syncSubscriptionTier,omitempty" db:"sync_subscription_tier"`
	SyncVersion          int64     `json:"syncVersion" db:"sync_version"`
	UpdatedAt            time.Time `json:"updatedAt" db:"updated_at"`
}
