package types

// ConflictResolution selects how the engine resolves update conflicts.
type ConflictResolution string

const (
	ResolveManual ConflictResolution = "manual"
	ResolveLocal  ConflictResolution = "local"
	ResolveRemote ConflictResolution = "remote"
)

// SyncConfig is the persisted synchronization settings record, stored as
// JSON under the metadata key "sync_config".
type SyncConfig struct {
	AutoSync                bool               `json:"auto_sync"`
	AutoSyncIntervalMinutes int                `json:"auto_sync_interval_minutes"`
	MaxRetries              int                `json:"max_retries"`
	RetryDelayMs            int                `json:"retry_delay_ms"`
	MaxRetryDelayMs         int                `json:"max_retry_delay_ms"`
	ConflictResolution      ConflictResolution `json:"conflict_resolution"`
	SyncOnStartup           bool               `json:"sync_on_startup"`
	SyncOnImport            bool               `json:"sync_on_import"`
}

// DefaultSyncConfig returns the settings used before any are persisted.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		AutoSync:                false,
		AutoSyncIntervalMinutes: 30,
		MaxRetries:              3,
		RetryDelayMs:            1000,
		MaxRetryDelayMs:         30000,
		ConflictResolution:      ResolveManual,
		SyncOnStartup:           false,
		SyncOnImport:            false,
	}
}
