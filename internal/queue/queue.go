// Package queue implements the review state machine over the sync_queue
// table. Items are inserted pending, move to approved exactly once on
// review, are claimed for syncing by compare-and-set, and end synced or
// failed. Failed items may be re-approved by an explicit retry.
package queue

import (
	"context"

	"github.com/perrindel/cardsync/internal/hash"
	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/types"
)

// Queue mediates all review and claim operations.
type Queue struct {
	store storage.Storage
}

// New returns a queue service over the given store.
func New(store storage.Storage) *Queue {
	return &Queue{store: store}
}

// Add inserts a pending item, computing data_hash_after from data_after
// when present.
func (q *Queue) Add(ctx context.Context, item *types.QueueItem) (int64, error) {
	if item.DataAfter != nil && item.DataHashAfter == "" {
		h, err := hash.Contact(*item.DataAfter)
		if err != nil {
			return 0, err
		}
		item.DataHashAfter = h
	}
	return q.store.EnqueueItem(ctx, item)
}

// AddMany inserts a batch atomically; partial failure rolls back every row.
func (q *Queue) AddMany(ctx context.Context, items []*types.QueueItem) ([]int64, error) {
	for _, item := range items {
		if item.DataAfter != nil && item.DataHashAfter == "" {
			h, err := hash.Contact(*item.DataAfter)
			if err != nil {
				return nil, err
			}
			item.DataHashAfter = h
		}
	}
	return q.store.EnqueueItems(ctx, items)
}

// Approve moves a pending item to approved (reviewed=true, approved=true).
func (q *Queue) Approve(ctx context.Context, id int64) error {
	return q.store.SetReview(ctx, id, true)
}

// Reject marks a pending item reviewed and not approved; it stays pending.
func (q *Queue) Reject(ctx context.Context, id int64) error {
	return q.store.SetReview(ctx, id, false)
}

// ApproveMany reviews a batch in a single transaction.
func (q *Queue) ApproveMany(ctx context.Context, ids []int64) error {
	return q.store.SetReviews(ctx, ids, true)
}

// RejectMany reviews a batch in a single transaction.
func (q *Queue) RejectMany(ctx context.Context, ids []int64) error {
	return q.store.SetReviews(ctx, ids, false)
}

// Claim performs the approved → syncing compare-and-set. It returns true
// when this caller won the row; racing claimants on the same id see
// exactly one success.
func (q *Queue) Claim(ctx context.Context, id int64) (bool, error) {
	return q.store.MarkSyncing(ctx, id)
}

// Complete finalizes a syncing item as synced.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	return q.store.MarkQueueSynced(ctx, id)
}

// Fail finalizes a syncing item as failed with the last error string and
// increments its retry count.
func (q *Queue) Fail(ctx context.Context, id int64, errMsg string) error {
	return q.store.MarkQueueFailed(ctx, id, errMsg)
}

// Retry moves one failed item back to approved, clearing its error
// message but preserving its retry count.
func (q *Queue) Retry(ctx context.Context, id int64) error {
	return q.store.RetryItem(ctx, id)
}

// RetryFailed moves every failed item back to approved atomically,
// clearing error messages. Retry counts are preserved.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	return q.store.RetryFailed(ctx)
}

// Pending returns unreviewed and rejected items, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]*types.QueueItem, error) {
	return q.store.PendingItems(ctx)
}

// Approved returns approved items by created_at ascending.
func (q *Queue) Approved(ctx context.Context) ([]*types.QueueItem, error) {
	return q.store.ApprovedItems(ctx)
}

// Failed returns failed items, oldest first.
func (q *Queue) Failed(ctx context.Context) ([]*types.QueueItem, error) {
	return q.store.FailedItems(ctx)
}

// ByFilter runs a validated filter query.
func (q *Queue) ByFilter(ctx context.Context, filter types.QueueFilter) ([]*types.QueueItem, error) {
	return q.store.QueueByFilter(ctx, filter)
}

// Stats returns per-status counts.
func (q *Queue) Stats(ctx context.Context) (*types.QueueStats, error) {
	return q.store.QueueStats(ctx)
}

// Get fetches one item by id.
func (q *Queue) Get(ctx context.Context, id int64) (*types.QueueItem, error) {
	return q.store.GetQueueItem(ctx, id)
}
