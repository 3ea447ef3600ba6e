package sqlite

import (
	"context"
	"database/sql"

	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/types"
)

// storeTx adapts an open *sql.Tx to the storage.Transaction subset. All
// methods reuse the package-level helpers, so transactional and direct
// paths share one implementation.
type storeTx struct {
	tx *sql.Tx
}

var _ storage.Transaction = (*storeTx)(nil)

func (t *storeTx) SaveContact(ctx context.Context, c *types.Contact, source types.Source, sessionID string, synced bool) (string, error) {
	return saveContact(ctx, t.tx, c, source, sessionID, synced)
}

func (t *storeTx) UpdateContact(ctx context.Context, c *types.Contact, synced bool) (string, error) {
	return updateContact(ctx, t.tx, c, synced)
}

func (t *storeTx) GetContact(ctx context.Context, contactID string) (*types.StoredContact, error) {
	return getContact(ctx, t.tx, contactID)
}

func (t *storeTx) MarkContactSynced(ctx context.Context, contactID string) error {
	return markContactSynced(ctx, t.tx, contactID)
}

func (t *storeTx) DeleteContact(ctx context.Context, contactID string) error {
	return deleteContact(ctx, t.tx, contactID)
}

func (t *storeTx) EnqueueItem(ctx context.Context, item *types.QueueItem) (int64, error) {
	return enqueueItem(ctx, t.tx, item)
}

func (t *storeTx) SetReview(ctx context.Context, id int64, approved bool) error {
	return setReview(ctx, t.tx, id, approved)
}

func (t *storeTx) MarkQueueSynced(ctx context.Context, id int64) error {
	return markQueueSynced(ctx, t.tx, id)
}

func (t *storeTx) MarkQueueFailed(ctx context.Context, id int64, errMsg string) error {
	return markQueueFailed(ctx, t.tx, id, errMsg)
}

func (t *storeTx) InsertRowHash(ctx context.Context, rh *types.CsvRowHash) error {
	return insertRowHash(ctx, t.tx, rh)
}

func (t *storeTx) RowHashExists(ctx context.Context, rowHash string) (bool, error) {
	return rowHashExists(ctx, t.tx, rowHash)
}

func (t *storeTx) UpdateImportSession(ctx context.Context, s *types.ImportSession) error {
	return updateImportSession(ctx, t.tx, s)
}

func (t *storeTx) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, t.tx, key, value)
}

func (t *storeTx) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, t.tx, key)
}
