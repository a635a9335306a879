package domain

// Verdicts recorded on ledger entries. The first four are decision
// verdicts from the evaluator; the rest record later lifecycle
// transitions for the same command id.
const (
	VerdictPermit          = "PERMIT"
	VerdictDeny            = "DENY"
	VerdictPendingApproval = "PENDING_APPROVAL"
	VerdictOverridden      = "OVERRIDDEN"
	VerdictApproved        = "APPROVED"
	VerdictExpired         = "EXPIRED"
	VerdictExecSucceeded   = "EXECUTION_SUCCEEDED"
	VerdictExecFailed      = "EXECUTION_FAILED"
	VerdictCancelled       = "CANCELLED"
)

// Machine-readable denial reason codes.
const (
	ReasonInsufficientRole     = "insufficient_role"
	ReasonOutsideChangeWindow  = "outside_change_window"
	ReasonLimitExceeded        = "limit_exceeded"
	ReasonCooldownActive       = "cooldown_active"
	ReasonApprovalExpired      = "approval_expired"
)

// ValidVerdict reports whether s is a known ledger verdict.
func ValidVerdict(s string) bool {
	switch s {
	case VerdictPermit, VerdictDeny, VerdictPendingApproval, VerdictOverridden,
		VerdictApproved, VerdictExpired, VerdictExecSucceeded, VerdictExecFailed,
		VerdictCancelled:
		return true
	}
	return false
}
