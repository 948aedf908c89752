package tripsync

import "time"

// SyncConfig controls outbound sync client behavior.
type SyncConfig struct {
	BaseURL   string
	DeviceID  string
	AuthToken string
	Timeout   time.Duration
	Retry     RetryConfig // retry settings (zero uses defaults)
}

// GetRetryConfig returns Retry config or defaults if not set.
func (c SyncConfig) GetRetryConfig() RetryConfig {
	if c.Retry.MaxAttempts == 0 {
		return DefaultRetryConfig()
	}
	return c.Retry
}
