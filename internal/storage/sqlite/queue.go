package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

const queueColumns = `id, contact_id, operation, data_before, data_after,
	data_hash_after, reviewed, approved, sync_status, error_message,
	created_at, reviewed_at, synced_at, retry_count, import_session_id`

func scanQueueItem(scan func(dest ...interface{}) error) (*types.QueueItem, error) {
	var (
		item       types.QueueItem
		before     sql.NullString
		after      sql.NullString
		hashAfter  sql.NullString
		reviewed   int
		approved   sql.NullInt64
		errMsg     sql.NullString
		reviewedAt sql.NullTime
		syncedAt   sql.NullTime
		sessionID  sql.NullString
	)
	err := scan(&item.ID, &item.ContactID, &item.Operation, &before, &after,
		&hashAfter, &reviewed, &approved, &item.SyncStatus, &errMsg,
		&item.CreatedAt, &reviewedAt, &syncedAt, &item.RetryCount, &sessionID)
	if err != nil {
		return nil, err
	}
	if before.Valid {
		var d types.ContactData
		if err := json.Unmarshal([]byte(before.String), &d); err != nil {
			return nil, syncerr.Wrap(syncerr.Store, err, "decode data_before for item %d", item.ID)
		}
		item.DataBefore = &d
	}
	if after.Valid {
		var d types.ContactData
		if err := json.Unmarshal([]byte(after.String), &d); err != nil {
			return nil, syncerr.Wrap(syncerr.Store, err, "decode data_after for item %d", item.ID)
		}
		item.DataAfter = &d
	}
	item.DataHashAfter = hashAfter.String
	item.Reviewed = reviewed != 0
	if approved.Valid {
		v := approved.Int64 != 0
		item.Approved = &v
	}
	item.ErrorMessage = errMsg.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		item.ReviewedAt = &t
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		item.SyncedAt = &t
	}
	item.ImportSessionID = sessionID.String
	return &item, nil
}

// enqueueItem validates the operation shape (creates carry no data_before,
// deletes no data_after) and inserts the item as pending.
func enqueueItem(ctx context.Context, q execer, item *types.QueueItem) (int64, error) {
	if item.ContactID == "" {
		return 0, syncerr.New(syncerr.Validation, "queue item requires a contact id")
	}
	if !types.ValidOperations[item.Operation] {
		return 0, syncerr.New(syncerr.Validation, "invalid queue operation %q", item.Operation)
	}
	switch item.Operation {
	case types.OpCreate:
		if item.DataBefore != nil {
			return 0, syncerr.New(syncerr.Validation, "create operation must not carry data_before")
		}
		if item.DataAfter == nil {
			return 0, syncerr.New(syncerr.Validation, "create operation requires data_after")
		}
	case types.OpUpdate:
		if item.DataAfter == nil {
			return 0, syncerr.New(syncerr.Validation, "update operation requires data_after")
		}
	case types.OpDelete:
		if item.DataAfter != nil {
			return 0, syncerr.New(syncerr.Validation, "delete operation must not carry data_after")
		}
	}

	var before, after, hashAfter, sess interface{}
	if item.DataBefore != nil {
		raw, err := json.Marshal(item.DataBefore)
		if err != nil {
			return 0, syncerr.Wrap(syncerr.Store, err, "encode data_before")
		}
		before = string(raw)
	}
	if item.DataAfter != nil {
		raw, err := json.Marshal(item.DataAfter)
		if err != nil {
			return 0, syncerr.Wrap(syncerr.Store, err, "encode data_after")
		}
		after = string(raw)
	}
	if item.DataHashAfter != "" {
		hashAfter = item.DataHashAfter
	}
	if item.ImportSessionID != "" {
		sess = item.ImportSessionID
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO sync_queue (contact_id, operation, data_before, data_after,
			data_hash_after, sync_status, created_at, import_session_id)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
	`, item.ContactID, string(item.Operation), before, after, hashAfter,
		time.Now().UTC(), sess)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.Store, err, "enqueue %s for %s", item.Operation, item.ContactID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, syncerr.Wrap(syncerr.Store, err, "enqueue %s for %s", item.Operation, item.ContactID)
	}
	item.ID = id
	item.SyncStatus = types.StatusPending
	return id, nil
}

// setReview records the reviewer's verdict on a pending item. Approval
// moves the item to approved; rejection keeps it pending with
// reviewed=true, approved=false.
func setReview(ctx context.Context, q execer, id int64, approved bool) error {
	status := string(types.StatusPending)
	if approved {
		status = string(types.StatusApproved)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE sync_queue
		SET reviewed = 1, approved = ?, sync_status = ?, reviewed_at = ?
		WHERE id = ? AND sync_status IN ('pending', 'approved')
	`, boolInt(approved), status, time.Now().UTC(), id)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "review queue item %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "reviewable queue item %d", id)
	}
	return nil
}

func markQueueSynced(ctx context.Context, q execer, id int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE sync_queue
		SET sync_status = 'synced', synced_at = ?, error_message = NULL
		WHERE id = ? AND sync_status = 'syncing'
	`, time.Now().UTC(), id)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "mark queue item %d synced", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "syncing queue item %d", id)
	}
	return nil
}

// markQueueFailed transitions a syncing item to failed and increments its
// retry count. Retry counts never decrease.
func markQueueFailed(ctx context.Context, q execer, id int64, errMsg string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE sync_queue
		SET sync_status = 'failed', error_message = ?, retry_count = retry_count + 1
		WHERE id = ? AND sync_status = 'syncing'
	`, errMsg, id)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "mark queue item %d failed", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "syncing queue item %d", id)
	}
	return nil
}

// Store methods.

func (s *Store) EnqueueItem(ctx context.Context, item *types.QueueItem) (int64, error) {
	return enqueueItem(ctx, s.db, item)
}

// EnqueueItems inserts a batch inside one transaction; any failure rolls
// back every row.
func (s *Store) EnqueueItems(ctx context.Context, items []*types.QueueItem) ([]int64, error) {
	ids := make([]int64, 0, len(items))
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for _, item := range items {
			id, err := tx.EnqueueItem(ctx, item)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) GetQueueItem(ctx context.Context, id int64) (*types.QueueItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	item, err := scanQueueItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "queue item %d", id)
	}
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "get queue item %d", id)
	}
	return item, nil
}

func (s *Store) SetReview(ctx context.Context, id int64, approved bool) error {
	return setReview(ctx, s.db, id, approved)
}

// SetReviews reviews a batch inside one transaction; partial failure rolls
// back the whole batch.
func (s *Store) SetReviews(ctx context.Context, ids []int64, approved bool) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for _, id := range ids {
			if err := tx.SetReview(ctx, id, approved); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkSyncing claims an approved item via compare-and-set. Exactly one of
// any number of racing claimants sees true; the rest see false.
func (s *Store) MarkSyncing(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET sync_status = 'syncing'
		WHERE id = ? AND sync_status = 'approved'
	`, id)
	if err != nil {
		return false, syncerr.Wrap(syncerr.Store, err, "claim queue item %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, syncerr.Wrap(syncerr.Store, err, "claim queue item %d", id)
	}
	return n == 1, nil
}

func (s *Store) MarkQueueSynced(ctx context.Context, id int64) error {
	return markQueueSynced(ctx, s.db, id)
}

func (s *Store) MarkQueueFailed(ctx context.Context, id int64, errMsg string) error {
	return markQueueFailed(ctx, s.db, id, errMsg)
}

// RetryItem moves one failed item back to approved, clearing its error
// message. Retry counts are preserved.
func (s *Store) RetryItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET sync_status = 'approved', error_message = NULL
		WHERE id = ? AND sync_status = 'failed'
	`, id)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "retry queue item %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "failed queue item %d", id)
	}
	return nil
}

// RetryFailed atomically moves every failed item back to approved,
// clearing error messages. Returns the number of items transitioned.
func (s *Store) RetryFailed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET sync_status = 'approved', error_message = NULL
		WHERE sync_status = 'failed'
	`)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.Store, err, "retry failed queue items")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, syncerr.Wrap(syncerr.Store, err, "retry failed queue items")
	}
	return int(n), nil
}

func (s *Store) queueByStatus(ctx context.Context, status types.SyncStatus) ([]*types.QueueItem, error) {
	return s.queryQueue(ctx,
		`SELECT `+queueColumns+` FROM sync_queue WHERE sync_status = ?
		 ORDER BY created_at, id`, string(status))
}

// PendingItems returns unreviewed and rejected items, oldest first.
func (s *Store) PendingItems(ctx context.Context) ([]*types.QueueItem, error) {
	return s.queueByStatus(ctx, types.StatusPending)
}

// ApprovedItems returns approved items ordered by created_at ascending.
// The ordering is a convention for drain fairness, not a guarantee.
func (s *Store) ApprovedItems(ctx context.Context) ([]*types.QueueItem, error) {
	return s.queueByStatus(ctx, types.StatusApproved)
}

func (s *Store) FailedItems(ctx context.Context) ([]*types.QueueItem, error) {
	return s.queueByStatus(ctx, types.StatusFailed)
}

func (s *Store) QueueByFilter(ctx context.Context, filter types.QueueFilter) ([]*types.QueueItem, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, syncerr.New(syncerr.Validation, "limit and offset must be non-negative")
	}
	var (
		conds []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			if !types.ValidStatuses[st] {
				return nil, syncerr.New(syncerr.Validation, "invalid sync status %q", st)
			}
			placeholders = append(placeholders, "?")
			args = append(args, string(st))
		}
		conds = append(conds, "sync_status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Reviewed != nil {
		conds = append(conds, "reviewed = ?")
		args = append(args, boolInt(*filter.Reviewed))
	}
	if filter.Approved != nil {
		conds = append(conds, "approved = ?")
		args = append(args, boolInt(*filter.Approved))
	}
	if filter.Operation != "" {
		if !types.ValidOperations[filter.Operation] {
			return nil, syncerr.New(syncerr.Validation, "invalid queue operation %q", filter.Operation)
		}
		conds = append(conds, "operation = ?")
		args = append(args, string(filter.Operation))
	}
	if filter.ImportSessionID != "" {
		conds = append(conds, "import_session_id = ?")
		args = append(args, filter.ImportSessionID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit == 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)
	return s.queryQueue(ctx,
		`SELECT `+queueColumns+` FROM sync_queue`+where+
			` ORDER BY created_at, id LIMIT ? OFFSET ?`, args...)
}

func (s *Store) QueueStats(ctx context.Context) (*types.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM sync_queue GROUP BY sync_status`)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "queue stats")
	}
	defer rows.Close()

	stats := &types.QueueStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, syncerr.Wrap(syncerr.Store, err, "scan queue stats")
		}
		switch types.SyncStatus(status) {
		case types.StatusPending:
			stats.Pending = n
		case types.StatusApproved:
			stats.Approved = n
		case types.StatusSyncing:
			stats.Syncing = n
		case types.StatusSynced:
			stats.Synced = n
		case types.StatusFailed:
			stats.Failed = n
		}
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "iterate queue stats")
	}
	return stats, nil
}

// DeleteSyncedBefore is the cleanup sweep: synced rows are immutable until
// this removes those older than cutoff.
func (s *Store) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE sync_status = 'synced' AND synced_at < ?`, cutoff)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.Store, err, "cleanup synced queue items")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, syncerr.Wrap(syncerr.Store, err, "cleanup synced queue items")
	}
	return int(n), nil
}

func (s *Store) queryQueue(ctx context.Context, query string, args ...interface{}) ([]*types.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "query queue")
	}
	defer rows.Close()

	var out []*types.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.Store, err, "scan queue item")
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "iterate queue")
	}
	return out, nil
}
