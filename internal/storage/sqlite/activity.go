package sqlite

import (
	"context"
	"time"

	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// The activity ledger is append-only and advisory. Callers log failures
// and continue; nothing on the sync critical path blocks on these tables.

func (s *Store) RecordAPICall(ctx context.Context, endpoint string, success bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_call_log (endpoint, success, created_at) VALUES (?, ?, ?)`,
		endpoint, boolInt(success), time.Now().UTC())
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "record api call")
	}
	return nil
}

func (s *Store) RecordContactView(ctx context.Context, contactID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_view_log (contact_id, created_at) VALUES (?, ?)`,
		contactID, time.Now().UTC())
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "record contact view")
	}
	return nil
}

func (s *Store) RecordToolExecution(ctx context.Context, name, sessionID string, generated, modified int) error {
	var sess interface{}
	if sessionID != "" {
		sess = sessionID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_execution_log (name, session_id, generated_count, modified_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, sess, generated, modified, time.Now().UTC())
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "record tool execution")
	}
	return nil
}

// ActivityTotals aggregates the ledger over the lifetime of the store.
func (s *Store) ActivityTotals(ctx context.Context) (*types.ActivityTotals, error) {
	return s.activityTotals(ctx, "")
}

// SessionActivity aggregates tool executions for one session; API calls
// and views are not session-scoped and report lifetime counts of zero.
func (s *Store) SessionActivity(ctx context.Context, sessionID string) (*types.ActivityTotals, error) {
	if sessionID == "" {
		return nil, syncerr.New(syncerr.Validation, "session id is required")
	}
	return s.activityTotals(ctx, sessionID)
}

func (s *Store) activityTotals(ctx context.Context, sessionID string) (*types.ActivityTotals, error) {
	totals := &types.ActivityTotals{}

	if sessionID == "" {
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
			FROM api_call_log
		`).Scan(&totals.APICalls, &totals.APIFailures)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.Store, err, "aggregate api calls")
		}
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM contact_view_log`).Scan(&totals.ContactViews)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.Store, err, "aggregate contact views")
		}
	}

	query := `
		SELECT COUNT(*), COALESCE(SUM(generated_count), 0), COALESCE(SUM(modified_count), 0)
		FROM tool_execution_log`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&totals.ToolExecutions, &totals.GeneratedContacts, &totals.ModifiedContacts)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "aggregate tool executions")
	}
	return totals, nil
}
