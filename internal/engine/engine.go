// Package engine drains approved sync-queue items against the remote
// contacts API. It owns retries with exponential backoff, the per-item
// timeout, conflict detection, and the progress callback; it never owns
// any UI logic.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/perrindel/cardsync/internal/hash"
	"github.com/perrindel/cardsync/internal/queue"
	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// API is the remote surface the engine needs. remote.Client satisfies it;
// tests supply fakes.
type API interface {
	GetContact(ctx context.Context, contactID string) (*types.Contact, error)
	CreateContact(ctx context.Context, data types.ContactData, meta types.ContactMetadata) (*types.Contact, error)
	UpdateContact(ctx context.Context, contactID, etag string, data types.ContactData) (*types.Contact, error)
}

// ErrSyncInProgress is returned when a drain is requested while another
// is already running. The engine runs exactly one draining task.
var ErrSyncInProgress = errors.New("sync already in progress")

// ItemResult is the outcome of one queue item.
type ItemResult struct {
	ItemID    int64
	ContactID string
	Operation types.Operation
	Success   bool
	Skipped   bool
	TimedOut  bool
	Error     string
}

// Progress is surfaced to the callback at step boundaries: claim, fetch,
// compare, submit, finalize.
type Progress struct {
	Current     int
	Total       int
	CurrentItem *types.QueueItem
	StepText    string
	LastResult  *ItemResult
}

// ProgressFunc receives progress updates. A nil callback is permitted.
type ProgressFunc func(Progress)

// Summary aggregates a completed drain.
type Summary struct {
	Total    int
	Success  int
	Failure  int
	Skipped  int
	Results  []ItemResult
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// ConflictKind classifies a detected conflict.
type ConflictKind string

const (
	ConflictHashMismatch ConflictKind = "hash_mismatch"
	ConflictNotFound     ConflictKind = "not_found"
	ConflictAPIError     ConflictKind = "api_error"
)

// Conflict is one finding of the non-destructive conflict survey.
type Conflict struct {
	ItemID     int64
	ContactID  string
	Kind       ConflictKind
	LocalHash  string
	RemoteHash string
	Detail     string
}

// Options tune the engine. Zero values fall back to the defaults of
// types.DefaultSyncConfig plus a 30-second per-item timeout.
type Options struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ItemTimeout time.Duration
	Logger      *slog.Logger
}

// Engine is the single draining task owner.
type Engine struct {
	store storage.Storage
	queue *queue.Queue
	api   API
	log   *slog.Logger

	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	itemTimeout time.Duration

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error

	drainMu sync.Mutex
}

// New builds an engine over the store, queue service, and remote API.
func New(store storage.Storage, q *queue.Queue, api API, opts Options) *Engine {
	defaults := types.DefaultSyncConfig()
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Duration(defaults.RetryDelayMs) * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = time.Duration(defaults.MaxRetryDelayMs) * time.Millisecond
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       store,
		queue:       q,
		api:         api,
		log:         logger,
		maxRetries:  opts.MaxRetries,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		itemTimeout: opts.ItemTimeout,
		sleep:       sleepCtx,
	}
}

// SetSleepFunc replaces the backoff wait, for tests.
func (e *Engine) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoffDelay computes min(maxDelay, baseDelay * 2^attempt).
func (e *Engine) backoffDelay(attempt int) time.Duration {
	d := e.baseDelay << uint(attempt)
	if d > e.maxDelay || d <= 0 {
		return e.maxDelay
	}
	return d
}

// SyncApproved drains every approved item sequentially. A second caller
// while a drain is running receives ErrSyncInProgress; item-level
// failures never surface as errors here, only in the summary.
func (e *Engine) SyncApproved(ctx context.Context, progress ProgressFunc) (*Summary, error) {
	if !e.drainMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.drainMu.Unlock()

	items, err := e.queue.Approved(ctx)
	if err != nil {
		return nil, err
	}
	return e.drain(ctx, items, progress), nil
}

// SyncItem syncs a single queue item. The per-item wall-clock guard bounds
// its remote work; on expiry the in-flight remote call is cancelled, the
// item is marked failed, and the caller receives a timeout error.
func (e *Engine) SyncItem(ctx context.Context, id int64) (*ItemResult, error) {
	if !e.drainMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.drainMu.Unlock()

	item, err := e.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.SyncStatus != types.StatusApproved {
		return nil, syncerr.New(syncerr.Validation, "queue item %d is %s, not approved", id, item.SyncStatus)
	}

	res := e.processItem(ctx, item, 1, 1, nil)
	if res.TimedOut {
		return &res, syncerr.New(syncerr.Timeout, "sync of item %d exceeded %s", id, e.itemTimeout)
	}
	return &res, nil
}

// ResumeFailed re-approves every failed item and drains normally.
func (e *Engine) ResumeFailed(ctx context.Context, progress ProgressFunc) (*Summary, error) {
	if _, err := e.store.RetryFailed(ctx); err != nil {
		return nil, err
	}
	return e.SyncApproved(ctx, progress)
}

func (e *Engine) drain(ctx context.Context, items []*types.QueueItem, progress ProgressFunc) *Summary {
	summary := &Summary{Total: len(items), Start: time.Now()}
	for i, item := range items {
		res := e.processItem(ctx, item, i+1, len(items), progress)
		summary.Results = append(summary.Results, res)
		switch {
		case res.Skipped:
			summary.Skipped++
		case res.Success:
			summary.Success++
		default:
			summary.Failure++
		}
	}
	summary.End = time.Now()
	summary.Duration = summary.End.Sub(summary.Start)
	return summary
}

// processItem runs the full claim → fetch → compare → submit → finalize
// sequence for one item, walking the real queue state machine on every
// retry: each failed attempt transitions syncing → failed (bumping
// retry_count), and a retryable attempt is re-approved after backoff.
//
// The per-item wall-clock budget covers all remote attempts for the item;
// queue bookkeeping runs under the caller's context so a timed-out item
// still lands in the failed state.
func (e *Engine) processItem(ctx context.Context, item *types.QueueItem, current, total int, progress ProgressFunc) ItemResult {
	result := ItemResult{
		ItemID:    item.ID,
		ContactID: item.ContactID,
		Operation: item.Operation,
	}
	report := func(step string, last *ItemResult) {
		if progress != nil {
			progress(Progress{
				Current:     current,
				Total:       total,
				CurrentItem: item,
				StepText:    step,
				LastResult:  last,
			})
		}
	}

	itemCtx, cancel := context.WithTimeout(ctx, e.itemTimeout)
	defer cancel()

	attempt := 0
	for {
		report("claim", nil)
		claimed, err := e.queue.Claim(ctx, item.ID)
		if err != nil {
			result.Error = err.Error()
			report("finalize", &result)
			return result
		}
		if !claimed {
			result.Skipped = true
			report("finalize", &result)
			return result
		}

		dispatchErr := e.dispatch(itemCtx, item, report)
		if dispatchErr == nil {
			report("finalize", nil)
			if err := e.queue.Complete(ctx, item.ID); err != nil {
				result.Error = err.Error()
				report("finalize", &result)
				return result
			}
			result.Success = true
			e.recordSessionOutcome(ctx, item, true)
			report("finalize", &result)
			return result
		}
		if itemCtx.Err() != nil && ctx.Err() == nil {
			result.TimedOut = true
			dispatchErr = syncerr.Wrap(syncerr.Timeout, dispatchErr,
				"item %d exceeded its %s sync budget", item.ID, e.itemTimeout)
		}

		// Each failed attempt is a real syncing → failed transition.
		if err := e.queue.Fail(ctx, item.ID, dispatchErr.Error()); err != nil {
			e.log.Error("mark item failed", "item_id", item.ID, "error", err)
		}

		if !syncerr.Retryable(dispatchErr) || result.TimedOut || attempt >= e.maxRetries || ctx.Err() != nil {
			result.Error = dispatchErr.Error()
			e.recordSessionOutcome(ctx, item, false)
			report("finalize", &result)
			return result
		}

		delay := e.backoffDelay(attempt)
		e.log.Warn("retrying queue item",
			"item_id", item.ID, "attempt", attempt+1, "delay", delay, "error", dispatchErr)
		if err := e.sleep(ctx, delay); err != nil {
			result.Error = dispatchErr.Error()
			e.recordSessionOutcome(ctx, item, false)
			report("finalize", &result)
			return result
		}
		if err := e.queue.Retry(ctx, item.ID); err != nil {
			result.Error = err.Error()
			report("finalize", &result)
			return result
		}
		attempt++
	}
}

// recordSessionOutcome bumps the owning import session's synced or failed
// counter. Items queued outside an import carry no session; counter writes
// never fail the item itself.
func (e *Engine) recordSessionOutcome(ctx context.Context, item *types.QueueItem, success bool) {
	if item.ImportSessionID == "" {
		return
	}
	if err := e.store.RecordSessionSyncOutcome(ctx, item.ImportSessionID, success); err != nil {
		e.log.Warn("record session sync outcome",
			"session_id", item.ImportSessionID, "item_id", item.ID, "error", err)
	}
}

// dispatch performs one remote attempt for the item's operation.
func (e *Engine) dispatch(ctx context.Context, item *types.QueueItem, report func(step string, last *ItemResult)) error {
	switch item.Operation {
	case types.OpCreate:
		return e.dispatchCreate(ctx, item, report)
	case types.OpUpdate:
		return e.dispatchUpdate(ctx, item, report)
	case types.OpDelete:
		// The remote API has no delete endpoint.
		return syncerr.New(syncerr.Unsupported, "remote API does not support contact deletion")
	default:
		return syncerr.New(syncerr.Validation, "unknown operation %q", item.Operation)
	}
}

// dispatchCreate submits a new contact. Creates cannot conflict, so no
// hash check runs.
func (e *Engine) dispatchCreate(ctx context.Context, item *types.QueueItem, report func(step string, last *ItemResult)) error {
	report("submit", nil)
	created, err := e.api.CreateContact(ctx, *item.DataAfter, types.ContactMetadata{})
	if err != nil {
		return err
	}
	if _, err := e.store.SaveContact(ctx, created, types.SourceAPI, item.ImportSessionID, true); err != nil {
		return err
	}
	// The remote assigns the canonical id; a provisional local row under
	// the queued id is superseded by it.
	if created.ContactID != item.ContactID {
		if exists, err := e.store.ContactExists(ctx, item.ContactID); err == nil && exists {
			if err := e.store.DeleteContact(ctx, item.ContactID); err != nil {
				e.log.Warn("drop provisional contact row",
					"contact_id", item.ContactID, "error", err)
			}
		}
	}
	return nil
}

// dispatchUpdate fetches the current remote contact, compares hashes, and
// submits under the fresh remote etag. A mismatch is logged and resolved
// by merge-by-remote-etag: the submission is built from the freshly
// fetched remote record with contact_data replaced by data_after.
func (e *Engine) dispatchUpdate(ctx context.Context, item *types.QueueItem, report func(step string, last *ItemResult)) error {
	report("fetch", nil)
	current, err := e.api.GetContact(ctx, item.ContactID)
	if err != nil {
		return err
	}

	report("compare", nil)
	remoteHash, err := hash.Contact(current.ContactData)
	if err != nil {
		return err
	}
	if item.DataBefore != nil {
		expectedHash, err := hash.Contact(*item.DataBefore)
		if err != nil {
			return err
		}
		if expectedHash != remoteHash {
			e.log.Warn("remote contact changed since queueing; merging by remote etag",
				"contact_id", item.ContactID,
				"expected_hash", expectedHash,
				"remote_hash", remoteHash)
		}
	}

	report("submit", nil)
	updated, err := e.api.UpdateContact(ctx, current.ContactID, current.ContactMetadata.Etag, *item.DataAfter)
	if err != nil {
		return err
	}
	if _, err := e.store.SaveContact(ctx, updated, types.SourceAPI, item.ImportSessionID, true); err != nil {
		return err
	}
	return nil
}

// DetectConflicts surveys every approved item without mutating any row.
func (e *Engine) DetectConflicts(ctx context.Context) ([]Conflict, error) {
	items, err := e.queue.Approved(ctx)
	if err != nil {
		return nil, err
	}
	var conflicts []Conflict
	for _, item := range items {
		if item.Operation != types.OpUpdate {
			continue
		}
		current, err := e.api.GetContact(ctx, item.ContactID)
		if err != nil {
			kind := ConflictAPIError
			if syncerr.IsKind(err, syncerr.NotFound) {
				kind = ConflictNotFound
			}
			conflicts = append(conflicts, Conflict{
				ItemID:    item.ID,
				ContactID: item.ContactID,
				Kind:      kind,
				Detail:    err.Error(),
			})
			continue
		}
		remoteHash, err := hash.Contact(current.ContactData)
		if err != nil {
			return nil, err
		}
		localHash := ""
		if item.DataBefore != nil {
			localHash, err = hash.Contact(*item.DataBefore)
			if err != nil {
				return nil, err
			}
		}
		if localHash != "" && localHash != remoteHash {
			conflicts = append(conflicts, Conflict{
				ItemID:     item.ID,
				ContactID:  item.ContactID,
				Kind:       ConflictHashMismatch,
				LocalHash:  localHash,
				RemoteHash: remoteHash,
			})
		}
	}
	return conflicts, nil
}
