// Package storage defines the interface for the local contact store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/perrindel/cardsync/internal/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Transaction exposes the subset of Storage methods that execute within a
// single database transaction. If the callback passed to RunInTransaction
// returns an error or panics, every operation in the batch is rolled back;
// on a nil return the transaction commits.
//
// SQLite transactions open with BEGIN IMMEDIATE so the write lock is
// acquired up front and concurrent writers serialize cleanly.
type Transaction interface {
	// Contacts
	SaveContact(ctx context.Context, c *types.Contact, source types.Source, sessionID string, synced bool) (string, error)
	UpdateContact(ctx context.Context, c *types.Contact, synced bool) (string, error)
	GetContact(ctx context.Context, contactID string) (*types.StoredContact, error)
	MarkContactSynced(ctx context.Context, contactID string) error
	DeleteContact(ctx context.Context, contactID string) error

	// Queue
	EnqueueItem(ctx context.Context, item *types.QueueItem) (int64, error)
	SetReview(ctx context.Context, id int64, approved bool) error
	MarkQueueSynced(ctx context.Context, id int64) error
	MarkQueueFailed(ctx context.Context, id int64, errMsg string) error

	// CSV row hashes
	InsertRowHash(ctx context.Context, rh *types.CsvRowHash) error
	RowHashExists(ctx context.Context, rowHash string) (bool, error)

	// Import sessions
	UpdateImportSession(ctx context.Context, s *types.ImportSession) error

	// Metadata
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)
}

// Storage is the single access path to the embedded store. All methods are
// synchronous: they return a value or a typed store error, never a silent
// fallback.
type Storage interface {
	// Contacts
	SaveContact(ctx context.Context, c *types.Contact, source types.Source, sessionID string, synced bool) (string, error)
	UpdateContact(ctx context.Context, c *types.Contact, synced bool) (string, error)
	GetContact(ctx context.Context, contactID string) (*types.StoredContact, error)
	GetContactByHash(ctx context.Context, dataHash string) (*types.StoredContact, error)
	ListContacts(ctx context.Context, limit, offset int) ([]*types.StoredContact, error)
	SearchContacts(ctx context.Context, filter types.ContactFilter) ([]*types.StoredContact, error)
	CountContacts(ctx context.Context, filter types.ContactFilter) (int, error)
	ContactExists(ctx context.Context, contactID string) (bool, error)
	MarkContactSynced(ctx context.Context, contactID string) error
	DeleteContact(ctx context.Context, contactID string) error
	ClearAllContacts(ctx context.Context) error

	// Queue
	EnqueueItem(ctx context.Context, item *types.QueueItem) (int64, error)
	EnqueueItems(ctx context.Context, items []*types.QueueItem) ([]int64, error)
	GetQueueItem(ctx context.Context, id int64) (*types.QueueItem, error)
	SetReview(ctx context.Context, id int64, approved bool) error
	SetReviews(ctx context.Context, ids []int64, approved bool) error
	MarkSyncing(ctx context.Context, id int64) (bool, error)
	MarkQueueSynced(ctx context.Context, id int64) error
	MarkQueueFailed(ctx context.Context, id int64, errMsg string) error
	RetryItem(ctx context.Context, id int64) error
	RetryFailed(ctx context.Context) (int, error)
	PendingItems(ctx context.Context) ([]*types.QueueItem, error)
	ApprovedItems(ctx context.Context) ([]*types.QueueItem, error)
	FailedItems(ctx context.Context) ([]*types.QueueItem, error)
	QueueByFilter(ctx context.Context, filter types.QueueFilter) ([]*types.QueueItem, error)
	QueueStats(ctx context.Context) (*types.QueueStats, error)
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Import sessions
	CreateImportSession(ctx context.Context, s *types.ImportSession) error
	GetImportSession(ctx context.Context, sessionID string) (*types.ImportSession, error)
	UpdateImportSession(ctx context.Context, s *types.ImportSession) error
	ListImportSessions(ctx context.Context, limit int) ([]*types.ImportSession, error)
	FindSessionByCSVHash(ctx context.Context, csvHash string) (*types.ImportSession, error)
	RecordSessionSyncOutcome(ctx context.Context, sessionID string, success bool) error

	// CSV row hashes
	InsertRowHash(ctx context.Context, rh *types.CsvRowHash) error
	RowHashExists(ctx context.Context, rowHash string) (bool, error)

	// Metadata
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Activity ledger
	RecordAPICall(ctx context.Context, endpoint string, success bool) error
	RecordContactView(ctx context.Context, contactID string) error
	RecordToolExecution(ctx context.Context, name, sessionID string, generated, modified int) error
	ActivityTotals(ctx context.Context) (*types.ActivityTotals, error)
	SessionActivity(ctx context.Context, sessionID string) (*types.ActivityTotals, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
	Path() string

	// UnderlyingDB returns the raw connection for schema inspection in
	// tests. Direct access bypasses the storage layer; use with caution.
	UnderlyingDB() *sql.DB
}
