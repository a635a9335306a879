package domain

import "time"

// Approval state statuses.
const (
	ApprovalPending  = "PENDING"
	ApprovalMet      = "MET"
	ApprovalExpired  = "EXPIRED"
)

// ApprovalState tracks the approver set for a command that is gated on a
// quorum policy. Approver records are append-only per actor; duplicate
// approvals from the same actor are idempotent.
type ApprovalState struct {
	CommandID     string
	RequiredCount int
	Approvers     []string
	AllowSelf     bool
	Status        string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// QuorumMet reports whether the distinct-approver count has reached the
// required quorum.
func (a *ApprovalState) QuorumMet() bool {
	return len(a.Approvers) >= a.RequiredCount
}

// HasApprover reports whether the given actor has already approved.
func (a *ApprovalState) HasApprover(actor string) bool {
	for _, ap := range a.Approvers {
		if ap == actor {
			return true
		}
	}
	return false
}

// ExpiredAt reports whether the approval window has lapsed at the given time.
func (a *ApprovalState) ExpiredAt(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}
