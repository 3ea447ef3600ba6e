// Package editor applies manual field edits to stored contacts. An edit
// batch saves the contact as an unsynced manual revision and stages a
// pending update in the sync queue, so nothing reaches the remote without
// review.
package editor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/perrindel/cardsync/internal/fieldpath"
	"github.com/perrindel/cardsync/internal/hash"
	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// Edit is one parsed path/value assignment.
type Edit struct {
	Path  fieldpath.Path
	Value string
}

// ParseEdits parses "path=value" arguments into edits. The value may
// contain '='; only the first one splits.
func ParseEdits(args []string) ([]Edit, error) {
	if len(args) == 0 {
		return nil, syncerr.New(syncerr.Validation, "no edits given")
	}
	edits := make([]Edit, 0, len(args))
	for _, arg := range args {
		eq := strings.IndexByte(arg, '=')
		if eq <= 0 {
			return nil, syncerr.New(syncerr.Validation, "edit %q is not in path=value form", arg)
		}
		p, err := fieldpath.Parse(arg[:eq])
		if err != nil {
			return nil, err
		}
		edits = append(edits, Edit{Path: p, Value: arg[eq+1:]})
	}
	return edits, nil
}

// Editor stages manual contact edits.
type Editor struct {
	store storage.Storage
	log   *slog.Logger
}

// New builds an editor over the store.
func New(store storage.Storage, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{store: store, log: logger}
}

// Result reports one applied edit batch.
type Result struct {
	Contact     *types.StoredContact
	QueueItemID int64
}

// Apply loads the contact, applies every edit in order, and in a single
// transaction saves the result as an unsynced manual revision and enqueues
// a pending update carrying the before and after payloads. Edits that
// change nothing are rejected rather than queued.
func (e *Editor) Apply(ctx context.Context, contactID string, edits []Edit) (*Result, error) {
	if len(edits) == 0 {
		return nil, syncerr.New(syncerr.Validation, "no edits given")
	}
	existing, err := e.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}

	before := existing.ContactData
	after := before
	for _, ed := range edits {
		after, err = fieldpath.Set(after, ed.Path, ed.Value)
		if err != nil {
			return nil, err
		}
	}

	hashAfter, err := hash.Contact(after)
	if err != nil {
		return nil, err
	}
	if hashAfter == existing.DataHash {
		return nil, syncerr.New(syncerr.Validation, "edits leave contact %s unchanged", contactID)
	}

	var itemID int64
	err = e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		contact := &types.Contact{ContactID: contactID, ContactData: after}
		if _, err := tx.SaveContact(ctx, contact, types.SourceManual, "", false); err != nil {
			return err
		}
		itemID, err = tx.EnqueueItem(ctx, &types.QueueItem{
			ContactID:     contactID,
			Operation:     types.OpUpdate,
			DataBefore:    &before,
			DataAfter:     &after,
			DataHashAfter: hashAfter,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("manual edit staged",
		"contact_id", contactID, "queue_item_id", itemID, "edits", len(edits))

	updated, err := e.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	return &Result{Contact: updated, QueueItemID: itemID}, nil
}
