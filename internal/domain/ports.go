package domain

import (
	"context"
	"time"
)

// LedgerRepository is the append-only audit store. No update or delete is
// exposed; retention/compaction is a separately-audited external process.
type LedgerRepository interface {
	// Append durably records an entry and returns its monotonic id.
	// Failure must propagate to the caller, never be swallowed.
	Append(ctx context.Context, e *LedgerEntry) (int64, error)
	List(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int64, error)
}

// CommandRepository stores submitted commands and their lifecycle state.
// Command fields are immutable after insert; only State may change.
type CommandRepository interface {
	Insert(ctx context.Context, c *Command) error
	GetByID(ctx context.Context, id string) (*Command, error)
	UpdateState(ctx context.Context, id string, state string) error
}

// CooldownRepository persists per-(resource, action) cooldown state.
type CooldownRepository interface {
	Get(ctx context.Context, resourceID, action string) (*CooldownState, error)
	// RecordApplied upserts the last-applied timestamp and magnitude.
	RecordApplied(ctx context.Context, s *CooldownState) error
}

// ApprovalRepository persists quorum state per pending command.
// AddApprover must be safe under concurrent callers: an insert-if-absent,
// not a read-modify-write.
type ApprovalRepository interface {
	Create(ctx context.Context, a *ApprovalState) error
	Get(ctx context.Context, commandID string) (*ApprovalState, error)
	// AddApprover records an approval and returns the distinct-approver
	// count after the insert. Re-approval by the same actor is idempotent.
	AddApprover(ctx context.Context, commandID, approver string, at time.Time) (int, error)
	// TransitionStatus moves the approval from one status to another and
	// reports whether this call performed the transition. False means the
	// approval was not in the from status; a concurrent caller won.
	TransitionStatus(ctx context.Context, commandID, from, to string) (bool, error)
	ListExpired(ctx context.Context, now time.Time) ([]ApprovalState, error)
}

// PrincipalRepository is the identity directory.
type PrincipalRepository interface {
	Create(ctx context.Context, p *Principal) (*Principal, error)
	GetByName(ctx context.Context, name string) (*Principal, error)
	List(ctx context.Context) ([]Principal, error)
	Delete(ctx context.Context, id int64) error
}

// ExecutionResult reports the outcome of the external action.
type ExecutionResult struct {
	Success bool
	Detail  string
}

// Executor performs the actual infrastructure action after a PERMIT.
// It may be slow, must be assumed fallible, and is only ever invoked by
// the dispatcher.
type Executor interface {
	Execute(ctx context.Context, cmd *Command) (ExecutionResult, error)
}

// RoleSource resolves an actor to their role and grant set.
type RoleSource interface {
	// RoleOf returns the role bound to the actor, or NotFoundError.
	RoleOf(ctx context.Context, actor string) (string, error)
	// HasGrant reports whether the actor's role holds the named grant
	// ("override", "*", or an action name).
	HasGrant(ctx context.Context, actor, grant string) (bool, error)
}
