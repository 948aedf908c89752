// ABOUTME: PocketBase collections migration for syncd.
// ABOUTME: Creates the trips and user_settings collections used by the sync store.

package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		// trips collection: one row per trip per user, tombstones included.
		trips := core.NewBaseCollection("trips")
		trips.Fields.Add(
			&core.TextField{
				Name:     "trip_id",
				Required: true,
			},
			&core.TextField{
				Name:     "user_id",
				Required: true,
			},
			&core.TextField{
				Name:     "departure_date",
				Required: true,
			},
			&core.TextField{
				Name:     "return_date",
				Required: true,
			},
			&core.TextField{
				Name: "location",
			},
			&core.BoolField{
				Name: "is_simulated",
			},
			&core.NumberField{
				Name:     "sync_version",
				Required: true,
			},
			&core.NumberField{
				Name: "deleted_at", // unix seconds, 0 = live
			},
			&core.NumberField{
				Name:     "created_at",
				Required: true,
			},
			&core.NumberField{
				Name:     "updated_at",
				Required: true,
			},
		)
		trips.AddIndex("idx_trips_user_trip", true, "user_id, trip_id", "")
		trips.AddIndex("idx_trips_user_version", false, "user_id, sync_version", "")
		if err := app.Save(trips); err != nil {
			return err
		}

		// user_settings collection: singleton per user.
		settings := core.NewBaseCollection("user_settings")
		settings.Fields.Add(
			&core.TextField{
				Name:     "user_id",
				Required: true,
			},
			&core.BoolField{
				Name: "notify_milestones",
			},
			&core.BoolField{
				Name: "notify_warnings",
			},
			&core.BoolField{
				Name: "notify_reminders",
			},
			&core.BoolField{
				Name: "biometric_auth_enabled",
			},
			&core.TextField{
				Name: "theme",
			},
			&core.TextField{
				Name: "language",
			},
			&core.BoolField{
				Name: "sync_enabled",
			},
			&core.TextField{
				Name: "sync_device_id",
			},
			&core.TextField{
				Name: "sync_subscription_tier",
			},
			&core.NumberField{
				Name:     "sync_version",
				Required: true,
			},
			&core.NumberField{
				Name:     "updated_at",
				Required: true,
			},
		)
		settings.AddIndex("idx_user_settings_user", true, "user_id", "")
		if err := app.Save(settings); err != nil {
			return err
		}

		return nil
	}, func(app core.App) error {
		// Down migration - remove collections
		for _, name := range []string{"user_settings", "trips"} {
			col, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				continue
			}
			if err := app.Delete(col); err != nil {
				return err
			}
		}
		return nil
	})
}
