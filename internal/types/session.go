package types

import "time"

// SessionStatus is the lifecycle state of a CSV import session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
)

// ImportSession is the history row for one CSV ingestion run.
type ImportSession struct {
	SessionID        string
	CSVFilename      string
	CSVHash          string
	StartedAt        time.Time
	CompletedAt      *time.Time
	TotalRows        int
	ParsedContacts   int
	MatchedContacts  int
	NewContacts      int
	QueuedOperations int
	SyncedOperations int
	FailedOperations int
	Status           SessionStatus
	ErrorMessage     string
}

// RowDecision is the reviewer's verdict for a matched CSV row.
type RowDecision string

const (
	DecisionMerge RowDecision = "merge"
	DecisionSkip  RowDecision = "skip"
	DecisionNew   RowDecision = "new"
)

// CsvRowHash records that a CSV row was seen, keyed by its content hash.
// A row hash is inserted at most once across all sessions.
type CsvRowHash struct {
	RowHash         string
	ImportSessionID string
	ContactID       string
	Decision        RowDecision
	CreatedAt       time.Time
}
