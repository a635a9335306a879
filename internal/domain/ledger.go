package domain

import "time"

// LedgerEntry is one append-only audit record. Entries are never updated
// or deleted; a later state change for the same command produces a new
// entry referencing the same CommandID.
type LedgerEntry struct {
	ID            int64
	CommandID     string
	Actor         string
	Action        string
	ResourceType  string
	ResourceID    string
	Environment   string
	Parameters    map[string]interface{}
	Verdict       string
	Reason        string
	PolicyIDs     []string
	Justification string // set on OVERRIDDEN entries
	DurationMs    *int64 // set on execution outcome entries
	CreatedAt     time.Time
}

// LedgerFilter selects ledger entries. Nil fields mean "no filter".
// Results are ordered by id ascending unless Descending is set.
type LedgerFilter struct {
	Actor        *string
	ResourceID   *string
	ResourceType *string
	Verdict      *string
	CommandID    *string
	From         *time.Time
	To           *time.Time
	Descending   bool
	Page         PageRequest
}
