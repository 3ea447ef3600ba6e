// Package importer runs the two-phase CSV import pipeline: analyze a file
// against the store, then apply reviewed decisions atomically through the
// sync queue.
package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/perrindel/cardsync/internal/hash"
	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// Importer drives CSV ingestion.
type Importer struct {
	store   storage.Storage
	matcher Matcher
	log     *slog.Logger
}

// New builds an importer. A nil matcher falls back to the exact-email
// default.
func New(store storage.Storage, matcher Matcher, logger *slog.Logger) *Importer {
	if matcher == nil {
		matcher = NewExactEmailMatcher(store)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, matcher: matcher, log: logger}
}

// Analysis is the phase-1 result. No contacts or queue rows have been
// written yet; only the session row exists.
type Analysis struct {
	SessionID         string
	Matched           []MatchProposal
	New               []ParsedContact
	SkippedDuplicates int
	TotalRows         int
	// DuplicateFile is an advisory flag: a prior session ingested a file
	// with the same byte hash.
	DuplicateFile bool
}

// Analyze hashes and parses the CSV file, classifies rows against the
// store, and drops rows already seen in any session. Parse or
// classification failures close the session as failed.
func (im *Importer) Analyze(ctx context.Context, csvPath string, mapping Mapping) (*Analysis, error) {
	raw, err := os.ReadFile(csvPath)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.IO, err, "read csv file %s", csvPath)
	}
	sum := sha256.Sum256(raw)
	csvHash := hex.EncodeToString(sum[:])

	duplicateFile := false
	if prior, err := im.store.FindSessionByCSVHash(ctx, csvHash); err == nil {
		duplicateFile = true
		im.log.Warn("csv file was imported before",
			"file", csvPath, "prior_session", prior.SessionID, "started_at", prior.StartedAt)
	}

	session := &types.ImportSession{
		SessionID:   uuid.NewString(),
		CSVFilename: filepath.Base(csvPath),
		CSVHash:     csvHash,
		Status:      types.SessionInProgress,
	}
	if err := im.store.CreateImportSession(ctx, session); err != nil {
		return nil, err
	}

	parsed, totalRows, err := parseCSV(bytes.NewReader(raw), mapping)
	if err != nil {
		im.failSession(ctx, session, err)
		return nil, err
	}
	analysis, err := im.classify(ctx, session, parsed, totalRows)
	if err != nil {
		im.failSession(ctx, session, err)
		return nil, err
	}
	analysis.DuplicateFile = duplicateFile
	return analysis, nil
}

// classify fills row hashes, drops rows already seen in any session, runs
// the matcher, and persists session stats.
func (im *Importer) classify(ctx context.Context, session *types.ImportSession, parsed []ParsedContact, totalRows int) (*Analysis, error) {
	kept := parsed[:0]
	skipped := 0
	for i := range parsed {
		parsed[i].RowHash = hash.Row(parsed[i].DedupRow)
		exists, err := im.store.RowHashExists(ctx, parsed[i].RowHash)
		if err != nil {
			return nil, err
		}
		if exists {
			skipped++
			continue
		}
		kept = append(kept, parsed[i])
	}

	matched, fresh, err := im.matcher.Match(ctx, kept)
	if err != nil {
		return nil, err
	}

	session.TotalRows = totalRows
	session.ParsedContacts = len(kept)
	session.MatchedContacts = len(matched)
	session.NewContacts = len(fresh)
	if err := im.store.UpdateImportSession(ctx, session); err != nil {
		return nil, err
	}

	return &Analysis{
		SessionID:         session.SessionID,
		Matched:           matched,
		New:               fresh,
		SkippedDuplicates: skipped,
		TotalRows:         totalRows,
	}, nil
}

// MergeDecision is the reviewer's verdict on one matched row.
type MergeDecision struct {
	Match  MatchProposal
	Action types.RowDecision
}

// Decisions is the phase-2 input set.
type Decisions struct {
	Merges []MergeDecision
	News   []ParsedContact
}

// ApplyResult summarizes phase 2.
type ApplyResult struct {
	SessionID        string
	QueuedOperations int
	SavedContacts    int
	SkippedRows      int
}

// ApplyDecisions executes phase 2 inside one store transaction: row
// hashes are recorded with their decisions, contacts upserted, and queue
// items enqueued. Any failure rolls the whole batch back and marks the
// session failed.
func (im *Importer) ApplyDecisions(ctx context.Context, sessionID string, decisions Decisions) (*ApplyResult, error) {
	session, err := im.store.GetImportSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != types.SessionInProgress {
		return nil, syncerr.New(syncerr.Validation, "session %s is %s, not in progress", sessionID, session.Status)
	}

	result := &ApplyResult{SessionID: sessionID}
	err = im.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for _, md := range decisions.Merges {
			if err := im.applyMerge(ctx, tx, sessionID, md, result); err != nil {
				return err
			}
		}
		for _, pc := range decisions.News {
			if err := im.applyNew(ctx, tx, sessionID, pc, result); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		session.QueuedOperations = result.QueuedOperations
		session.Status = types.SessionCompleted
		session.CompletedAt = &now
		return tx.UpdateImportSession(ctx, session)
	})
	if err != nil {
		im.failSession(ctx, session, err)
		return nil, err
	}
	return result, nil
}

func (im *Importer) applyMerge(ctx context.Context, tx storage.Transaction, sessionID string, md MergeDecision, result *ApplyResult) error {
	switch md.Action {
	case types.DecisionMerge, types.DecisionSkip, types.DecisionNew:
	default:
		return syncerr.New(syncerr.Validation, "invalid merge decision %q", md.Action)
	}

	contactID := ""
	switch md.Action {
	case types.DecisionMerge:
		contactID = md.Match.Merged.ContactID
	case types.DecisionNew:
		contactID = md.Match.CSV.Contact.ContactID
	}
	if err := tx.InsertRowHash(ctx, &types.CsvRowHash{
		RowHash:         md.Match.CSV.RowHash,
		ImportSessionID: sessionID,
		ContactID:       contactID,
		Decision:        md.Action,
	}); err != nil {
		return err
	}

	switch md.Action {
	case types.DecisionSkip:
		result.SkippedRows++
		return nil

	case types.DecisionMerge:
		merged := md.Match.Merged
		if _, err := tx.SaveContact(ctx, &merged, types.SourceCSVImport, sessionID, false); err != nil {
			return err
		}
		result.SavedContacts++
		before := md.Match.Existing.ContactData
		after := merged.ContactData
		hashAfter, err := hash.Contact(after)
		if err != nil {
			return err
		}
		if _, err := tx.EnqueueItem(ctx, &types.QueueItem{
			ContactID:       merged.ContactID,
			Operation:       types.OpUpdate,
			DataBefore:      &before,
			DataAfter:       &after,
			DataHashAfter:   hashAfter,
			ImportSessionID: sessionID,
		}); err != nil {
			return err
		}
		result.QueuedOperations++
		return nil

	default: // DecisionNew
		return im.enqueueCreate(ctx, tx, sessionID, md.Match.CSV, result)
	}
}

func (im *Importer) applyNew(ctx context.Context, tx storage.Transaction, sessionID string, pc ParsedContact, result *ApplyResult) error {
	if err := tx.InsertRowHash(ctx, &types.CsvRowHash{
		RowHash:         pc.RowHash,
		ImportSessionID: sessionID,
		ContactID:       pc.Contact.ContactID,
		Decision:        types.DecisionNew,
	}); err != nil {
		return err
	}
	return im.enqueueCreate(ctx, tx, sessionID, pc, result)
}

func (im *Importer) enqueueCreate(ctx context.Context, tx storage.Transaction, sessionID string, pc ParsedContact, result *ApplyResult) error {
	contact := pc.Contact
	if _, err := tx.SaveContact(ctx, &contact, types.SourceCSVImport, sessionID, false); err != nil {
		return err
	}
	result.SavedContacts++

	after := contact.ContactData
	hashAfter, err := hash.Contact(after)
	if err != nil {
		return err
	}
	if _, err := tx.EnqueueItem(ctx, &types.QueueItem{
		ContactID:       contact.ContactID,
		Operation:       types.OpCreate,
		DataAfter:       &after,
		DataHashAfter:   hashAfter,
		ImportSessionID: sessionID,
	}); err != nil {
		return err
	}
	result.QueuedOperations++
	return nil
}

// Cancel transitions an in-progress session to cancelled. Phase-2 writes
// are transactional, so cancellation never leaves partial rows.
func (im *Importer) Cancel(ctx context.Context, sessionID string) error {
	session, err := im.store.GetImportSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != types.SessionInProgress {
		return syncerr.New(syncerr.Validation, "session %s is %s, not in progress", sessionID, session.Status)
	}
	now := time.Now().UTC()
	session.Status = types.SessionCancelled
	session.CompletedAt = &now
	return im.store.UpdateImportSession(ctx, session)
}

// failSession closes the session as failed with the error string. The
// close itself is best effort; the original error still propagates.
func (im *Importer) failSession(ctx context.Context, session *types.ImportSession, cause error) {
	now := time.Now().UTC()
	session.Status = types.SessionFailed
	session.ErrorMessage = cause.Error()
	session.CompletedAt = &now
	if err := im.store.UpdateImportSession(ctx, session); err != nil {
		im.log.Error("mark session failed", "session_id", session.SessionID, "error", err)
	}
}
