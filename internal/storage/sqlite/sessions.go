package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

const sessionColumns = `session_id, csv_filename, csv_hash, started_at,
	completed_at, total_rows, parsed_contacts, matched_contacts, new_contacts,
	queued_operations, synced_operations, failed_operations, status, error_message`

func scanSession(scan func(dest ...interface{}) error) (*types.ImportSession, error) {
	var (
		s           types.ImportSession
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	err := scan(&s.SessionID, &s.CSVFilename, &s.CSVHash, &s.StartedAt,
		&completedAt, &s.TotalRows, &s.ParsedContacts, &s.MatchedContacts,
		&s.NewContacts, &s.QueuedOperations, &s.SyncedOperations,
		&s.FailedOperations, &s.Status, &errMsg)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	s.ErrorMessage = errMsg.String
	return &s, nil
}

func (s *Store) CreateImportSession(ctx context.Context, sess *types.ImportSession) error {
	if sess.SessionID == "" {
		return syncerr.New(syncerr.Validation, "import session requires an id")
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	if sess.Status == "" {
		sess.Status = types.SessionInProgress
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_history (session_id, csv_filename, csv_hash,
			started_at, total_rows, parsed_contacts, matched_contacts,
			new_contacts, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.SessionID, sess.CSVFilename, sess.CSVHash, sess.StartedAt,
		sess.TotalRows, sess.ParsedContacts, sess.MatchedContacts,
		sess.NewContacts, string(sess.Status))
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "create import session %s", sess.SessionID)
	}
	return nil
}

func (s *Store) GetImportSession(ctx context.Context, sessionID string) (*types.ImportSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM import_history WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "import session %s", sessionID)
	}
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "get import session %s", sessionID)
	}
	return sess, nil
}

func updateImportSession(ctx context.Context, q execer, sess *types.ImportSession) error {
	var completedAt interface{}
	if sess.CompletedAt != nil {
		completedAt = *sess.CompletedAt
	}
	var errMsg interface{}
	if sess.ErrorMessage != "" {
		errMsg = sess.ErrorMessage
	}
	res, err := q.ExecContext(ctx, `
		UPDATE import_history
		SET completed_at = ?, total_rows = ?, parsed_contacts = ?,
			matched_contacts = ?, new_contacts = ?, queued_operations = ?,
			synced_operations = ?, failed_operations = ?, status = ?,
			error_message = ?
		WHERE session_id = ?
	`, completedAt, sess.TotalRows, sess.ParsedContacts, sess.MatchedContacts,
		sess.NewContacts, sess.QueuedOperations, sess.SyncedOperations,
		sess.FailedOperations, string(sess.Status), errMsg, sess.SessionID)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "update import session %s", sess.SessionID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "import session %s", sess.SessionID)
	}
	return nil
}

func (s *Store) UpdateImportSession(ctx context.Context, sess *types.ImportSession) error {
	return updateImportSession(ctx, s.db, sess)
}

func (s *Store) ListImportSessions(ctx context.Context, limit int) ([]*types.ImportSession, error) {
	if limit < 0 {
		return nil, syncerr.New(syncerr.Validation, "limit must be non-negative")
	}
	if limit == 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM import_history
		 ORDER BY started_at DESC, session_id LIMIT ?`, limit)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "list import sessions")
	}
	defer rows.Close()

	var out []*types.ImportSession
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.Store, err, "scan import session")
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "iterate import sessions")
	}
	return out, nil
}

// RecordSessionSyncOutcome bumps the session's synced or failed operation
// counter after the engine finishes one of its queue items.
func (s *Store) RecordSessionSyncOutcome(ctx context.Context, sessionID string, success bool) error {
	column := "failed_operations"
	if success {
		column = "synced_operations"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_history SET `+column+` = `+column+` + 1 WHERE session_id = ?`,
		sessionID)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "record sync outcome for session %s", sessionID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "import session %s", sessionID)
	}
	return nil
}

// FindSessionByCSVHash returns the most recent session that ingested a
// file with the given hash, or ErrNotFound.
func (s *Store) FindSessionByCSVHash(ctx context.Context, csvHash string) (*types.ImportSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM import_history
		 WHERE csv_hash = ? ORDER BY started_at DESC LIMIT 1`, csvHash)
	sess, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "import session for csv hash %s", csvHash)
	}
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "find session by csv hash")
	}
	return sess, nil
}
