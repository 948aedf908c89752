package appcli

import (
	"flag"
	"os"
)

// RuntimeConfig captures CLI flag inputs shared across subcommands.
type RuntimeConfig struct {
	DBPath    string
	DeviceID  string
	ServerURL string
	AuthToken string
}

// FromEnv seeds defaults from the environment so flags stay optional.
func FromEnv() RuntimeConfig {
	return RuntimeConfig{
		DBPath:    os.Getenv("TRIPS_DB"),
		DeviceID:  os.Getenv("TRIPS_DEVICE_ID"),
		ServerURL: os.Getenv("TRIPS_SERVER"),
		AuthToken: os.Getenv("TRIPS_TOKEN"),
	}
}

// BindFlags attaches shared flags to the provided FlagSet.
func (rc *RuntimeConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&rc.DBPath, "db", rc.DBPath, "path to the local trips SQLite db")
	fs.StringVar(&rc.DeviceID, "device", rc.DeviceID, "stable device identifier")
	fs.StringVar(&rc.ServerURL, "server", rc.ServerURL, "sync server base URL")
	fs.StringVar(&rc.AuthToken, "token", rc.AuthToken, "bearer token")
}

// Options converts the runtime config into app Options.
func (rc RuntimeConfig) Options() Options {
	return Options{
		DBPath:    rc.DBPath,
		DeviceID:  rc.DeviceID,
		ServerURL: rc.ServerURL,
		AuthToken: rc.AuthToken,
	}
}
