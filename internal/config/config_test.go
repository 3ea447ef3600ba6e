package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/perrindel/cardsync/internal/storage/sqlite"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

func setupTestDB(t *testing.T) (*sqlite.Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "cardsync-config-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	store, err := sqlite.New(context.Background(), filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}
	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

func TestLoadDefaultsWhenUnset(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	m := NewManager(store)
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != types.DefaultSyncConfig() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	m := NewManager(store)
	cfg := types.DefaultSyncConfig()
	cfg.AutoSync = true
	cfg.AutoSyncIntervalMinutes = 5
	cfg.ConflictResolution = types.ResolveRemote
	if err := m.Save(ctx, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != cfg {
		t.Errorf("round trip: got %+v, want %+v", got, cfg)
	}
}

func TestSetField(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	m := NewManager(store)
	cfg, err := m.SetField(ctx, "max_retries", "7")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("max_retries = %d", cfg.MaxRetries)
	}

	// Other fields keep their previous values across single-key updates.
	cfg, err = m.SetField(ctx, "auto_sync", "true")
	if err != nil {
		t.Fatalf("set second: %v", err)
	}
	if cfg.MaxRetries != 7 || !cfg.AutoSync {
		t.Errorf("after second set: %+v", cfg)
	}
}

func TestSetFieldValidation(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	m := NewManager(store)

	cases := []struct{ key, value string }{
		{"max_retries", "not-a-number"},
		{"auto_sync", "maybe"},
		{"conflict_resolution", "coin-flip"},
		{"auto_sync_interval_minutes", "0"},
		{"no_such_key", "1"},
	}
	for _, tc := range cases {
		if _, err := m.SetField(ctx, tc.key, tc.value); !syncerr.IsKind(err, syncerr.Validation) {
			t.Errorf("SetField(%s, %s) = %v, want validation error", tc.key, tc.value, err)
		}
	}

	// Rejected updates leave the stored config untouched.
	cfg, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != types.DefaultSyncConfig() {
		t.Errorf("config mutated by rejected updates: %+v", cfg)
	}
}

func TestValidateDelayOrdering(t *testing.T) {
	cfg := types.DefaultSyncConfig()
	cfg.RetryDelayMs = 5000
	cfg.MaxRetryDelayMs = 1000
	if err := Validate(cfg); !syncerr.IsKind(err, syncerr.Validation) {
		t.Errorf("inverted delays accepted: %v", err)
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	var runs atomic.Int32
	block := make(chan struct{})
	var wg sync.WaitGroup
	s := NewScheduler(func(ctx context.Context) error {
		runs.Add(1)
		<-block
		return nil
	}, nil)

	ctx := context.Background()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tick(ctx)
	}()

	// Give the first run a moment to start, then tick twice more while it
	// is still blocked: both must be skipped.
	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.tick(ctx)
	s.tick(ctx)

	if got := runs.Load(); got != 1 {
		t.Errorf("runs while blocked = %d, want 1", got)
	}
	close(block)
	wg.Wait()

	// After the run finishes, the next tick fires again.
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.tick(ctx)
		if runs.Load() >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Error("tick after completion did not run")
	}
}

func TestSchedulerApplyAndStop(t *testing.T) {
	s := NewScheduler(func(ctx context.Context) error { return nil }, nil)

	cfg := types.DefaultSyncConfig()
	cfg.AutoSync = true
	cfg.AutoSyncIntervalMinutes = 30
	s.Apply(cfg)
	if s.cancel == nil {
		t.Fatal("scheduler not started")
	}
	first := s.done

	// Same interval: no restart.
	s.Apply(cfg)
	if s.done != first {
		t.Error("scheduler restarted without an interval change")
	}

	// Interval change restarts the loop.
	cfg.AutoSyncIntervalMinutes = 5
	s.Apply(cfg)
	if s.done == first {
		t.Error("scheduler not restarted on interval change")
	}

	// Disabling stops it.
	cfg.AutoSync = false
	s.Apply(cfg)
	if s.cancel != nil {
		t.Error("scheduler still running after disable")
	}

	s.Stop() // idempotent
}
