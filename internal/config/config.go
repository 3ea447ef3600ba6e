// Package config persists synchronization settings in the store's
// metadata table and schedules periodic sync runs.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

const metadataKey = "sync_config"

// Manager reads and writes the persisted SyncConfig. Every load returns a
// point-in-time snapshot; callers never share a mutable config value.
type Manager struct {
	store storage.Storage
}

func NewManager(store storage.Storage) *Manager {
	return &Manager{store: store}
}

// Load returns the stored config, or the defaults when nothing has been
// persisted yet.
func (m *Manager) Load(ctx context.Context) (types.SyncConfig, error) {
	cfg := types.DefaultSyncConfig()
	raw, err := m.store.GetMetadata(ctx, metadataKey)
	if errors.Is(err, storage.ErrNotFound) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return types.DefaultSyncConfig(), syncerr.Wrap(syncerr.Store, err, "decode stored sync config")
	}
	return cfg, nil
}

// Save validates and persists the full config.
func (m *Manager) Save(ctx context.Context, cfg types.SyncConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "encode sync config")
	}
	return m.store.SetMetadata(ctx, metadataKey, string(raw))
}

// Update applies fn to the current config and persists the result inside
// one transaction, so concurrent updates never interleave field writes.
func (m *Manager) Update(ctx context.Context, fn func(*types.SyncConfig) error) (types.SyncConfig, error) {
	var out types.SyncConfig
	err := m.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		cfg := types.DefaultSyncConfig()
		raw, err := tx.GetMetadata(ctx, metadataKey)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err == nil {
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				return syncerr.Wrap(syncerr.Store, err, "decode stored sync config")
			}
		}
		if err := fn(&cfg); err != nil {
			return err
		}
		if err := Validate(cfg); err != nil {
			return err
		}
		enc, err := json.Marshal(cfg)
		if err != nil {
			return syncerr.Wrap(syncerr.Store, err, "encode sync config")
		}
		out = cfg
		return tx.SetMetadata(ctx, metadataKey, string(enc))
	})
	return out, err
}

// SetField updates a single named setting from its string form, as the
// CLI's `config set` receives it.
func (m *Manager) SetField(ctx context.Context, key, value string) (types.SyncConfig, error) {
	return m.Update(ctx, func(cfg *types.SyncConfig) error {
		return applyField(cfg, key, value)
	})
}

func applyField(cfg *types.SyncConfig, key, value string) error {
	switch key {
	case "auto_sync":
		return setBool(&cfg.AutoSync, key, value)
	case "auto_sync_interval_minutes":
		return setInt(&cfg.AutoSyncIntervalMinutes, key, value)
	case "max_retries":
		return setInt(&cfg.MaxRetries, key, value)
	case "retry_delay_ms":
		return setInt(&cfg.RetryDelayMs, key, value)
	case "max_retry_delay_ms":
		return setInt(&cfg.MaxRetryDelayMs, key, value)
	case "conflict_resolution":
		cfg.ConflictResolution = types.ConflictResolution(value)
		return nil
	case "sync_on_startup":
		return setBool(&cfg.SyncOnStartup, key, value)
	case "sync_on_import":
		return setBool(&cfg.SyncOnImport, key, value)
	default:
		return syncerr.New(syncerr.Validation, "unknown config key %q", key)
	}
}

func setBool(dst *bool, key, value string) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return syncerr.New(syncerr.Validation, "%s: %q is not a boolean", key, value)
	}
	*dst = v
	return nil
}

func setInt(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return syncerr.New(syncerr.Validation, "%s: %q is not an integer", key, value)
	}
	*dst = v
	return nil
}

// Validate rejects configs that would stall or thrash the engine.
func Validate(cfg types.SyncConfig) error {
	if cfg.AutoSyncIntervalMinutes < 1 {
		return syncerr.New(syncerr.Validation, "auto_sync_interval_minutes must be at least 1, got %d", cfg.AutoSyncIntervalMinutes)
	}
	if cfg.MaxRetries < 0 {
		return syncerr.New(syncerr.Validation, "max_retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelayMs < 0 {
		return syncerr.New(syncerr.Validation, "retry_delay_ms must not be negative, got %d", cfg.RetryDelayMs)
	}
	if cfg.MaxRetryDelayMs < cfg.RetryDelayMs {
		return syncerr.New(syncerr.Validation, "max_retry_delay_ms (%d) must not be below retry_delay_ms (%d)",
			cfg.MaxRetryDelayMs, cfg.RetryDelayMs)
	}
	switch cfg.ConflictResolution {
	case types.ResolveManual, types.ResolveLocal, types.ResolveRemote:
	default:
		return syncerr.New(syncerr.Validation, "conflict_resolution must be manual, local or remote, got %q", cfg.ConflictResolution)
	}
	return nil
}

// Fields lists the settable keys with their current values, in a stable
// order for display.
func Fields(cfg types.SyncConfig) [][2]string {
	return [][2]string{
		{"auto_sync", strconv.FormatBool(cfg.AutoSync)},
		{"auto_sync_interval_minutes", strconv.Itoa(cfg.AutoSyncIntervalMinutes)},
		{"max_retries", strconv.Itoa(cfg.MaxRetries)},
		{"retry_delay_ms", strconv.Itoa(cfg.RetryDelayMs)},
		{"max_retry_delay_ms", strconv.Itoa(cfg.MaxRetryDelayMs)},
		{"conflict_resolution", string(cfg.ConflictResolution)},
		{"sync_on_startup", strconv.FormatBool(cfg.SyncOnStartup)},
		{"sync_on_import", strconv.FormatBool(cfg.SyncOnImport)},
	}
}

// Field returns one key's display value.
func Field(cfg types.SyncConfig, key string) (string, error) {
	for _, kv := range Fields(cfg) {
		if kv[0] == key {
			return kv[1], nil
		}
	}
	return "", syncerr.New(syncerr.Validation, "unknown config key %q", key)
}
