package sqlite

import (
	"context"
	"time"

	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// insertRowHash records that a CSV row was processed. The row_hash primary
// key enforces the at-most-once invariant across sessions; a duplicate
// insert is reported as a validation error so importers can treat it as a
// logic bug rather than a store failure.
func insertRowHash(ctx context.Context, q execer, rh *types.CsvRowHash) error {
	if len(rh.RowHash) != 64 {
		return syncerr.New(syncerr.Validation, "row hash must be 64 hex characters, got %d", len(rh.RowHash))
	}
	if rh.ImportSessionID == "" {
		return syncerr.New(syncerr.Validation, "row hash requires an import session id")
	}
	var contactID, decision interface{}
	if rh.ContactID != "" {
		contactID = rh.ContactID
	}
	if rh.Decision != "" {
		decision = string(rh.Decision)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO csv_row_hashes (row_hash, import_session_id, contact_id, decision, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rh.RowHash, rh.ImportSessionID, contactID, decision, time.Now().UTC())
	if err != nil {
		if isUniqueConstraintError(err) {
			return syncerr.Wrap(syncerr.Validation, err, "row hash %s already recorded", rh.RowHash)
		}
		return syncerr.Wrap(syncerr.Store, err, "insert row hash")
	}
	return nil
}

func rowHashExists(ctx context.Context, q execer, rowHash string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM csv_row_hashes WHERE row_hash = ?`, rowHash).Scan(&n)
	if err != nil {
		return false, syncerr.Wrap(syncerr.Store, err, "check row hash")
	}
	return n > 0, nil
}

func (s *Store) InsertRowHash(ctx context.Context, rh *types.CsvRowHash) error {
	return insertRowHash(ctx, s.db, rh)
}

func (s *Store) RowHashExists(ctx context.Context, rowHash string) (bool, error) {
	return rowHashExists(ctx, s.db, rowHash)
}
