// Package activity is the append-only usage ledger: API calls, contact
// views, and tool executions, recorded for later inspection.
package activity

import (
	"context"
	"log/slog"

	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/types"
)

// Ledger records usage events. Recording is best effort: a ledger write
// failure is logged and swallowed so it can never fail the operation it
// annotates.
type Ledger struct {
	store storage.Storage
	log   *slog.Logger
}

func NewLedger(store storage.Storage, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, log: logger}
}

func (l *Ledger) APICall(ctx context.Context, endpoint string, success bool) {
	if err := l.store.RecordAPICall(ctx, endpoint, success); err != nil {
		l.log.Warn("record api call", "endpoint", endpoint, "error", err)
	}
}

func (l *Ledger) ContactView(ctx context.Context, contactID string) {
	if err := l.store.RecordContactView(ctx, contactID); err != nil {
		l.log.Warn("record contact view", "contact_id", contactID, "error", err)
	}
}

func (l *Ledger) ToolExecution(ctx context.Context, name, sessionID string, generated, modified int) {
	if err := l.store.RecordToolExecution(ctx, name, sessionID, generated, modified); err != nil {
		l.log.Warn("record tool execution", "tool", name, "error", err)
	}
}

// Totals returns all-time counters.
func (l *Ledger) Totals(ctx context.Context) (*types.ActivityTotals, error) {
	return l.store.ActivityTotals(ctx)
}

// SessionTotals returns counters scoped to one import session.
func (l *Ledger) SessionTotals(ctx context.Context, sessionID string) (*types.ActivityTotals, error) {
	return l.store.SessionActivity(ctx, sessionID)
}
