package types

import "time"

// Operation is the kind of change a queue item carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ValidOperations is the closed set accepted by queue filters.
var ValidOperations = map[Operation]bool{
	OpCreate: true,
	OpUpdate: true,
	OpDelete: true,
}

// SyncStatus is the state of a queue item in its lifecycle.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusApproved SyncStatus = "approved"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusFailed   SyncStatus = "failed"
)

// ValidStatuses is the closed set accepted by queue filters.
var ValidStatuses = map[SyncStatus]bool{
	StatusPending:  true,
	StatusApproved: true,
	StatusSyncing:  true,
	StatusSynced:   true,
	StatusFailed:   true,
}

// QueueItem is a pending change awaiting review and synchronization.
//
// Create items carry no DataBefore; delete items carry no DataAfter.
// Approved is tri-state: nil until reviewed, then the reviewer's verdict.
type QueueItem struct {
	ID              int64
	ContactID       string
	Operation       Operation
	DataBefore      *ContactData
	DataAfter       *ContactData
	DataHashAfter   string
	Reviewed        bool
	Approved        *bool
	SyncStatus      SyncStatus
	ErrorMessage    string
	CreatedAt       time.Time
	ReviewedAt      *time.Time
	SyncedAt        *time.Time
	RetryCount      int
	ImportSessionID string
}

// QueueFilter narrows queue queries. Enum-valued fields are validated
// against their closed sets before SQL composition.
type QueueFilter struct {
	Statuses        []SyncStatus
	Reviewed        *bool
	Approved        *bool
	Operation       Operation
	ImportSessionID string
	Limit           int
	Offset          int
}

// QueueStats is the per-status item count breakdown.
type QueueStats struct {
	Pending  int
	Approved int
	Syncing  int
	Synced   int
	Failed   int
	Total    int
}
