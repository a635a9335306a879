// Package guardrail implements the policy decision function that gates
// every infrastructure command. Evaluate is pure with respect to its
// inputs: all state (policy snapshot, cooldown, approval) is passed in,
// and no I/O happens here.
package guardrail

import (
	"fmt"
	"time"

	"opsgate/internal/domain"
	"opsgate/internal/policy"
)

// Input carries the external state a single evaluation reads.
type Input struct {
	Now time.Time
	// Cooldown is the last applied state for the command's
	// (resourceID, action) key, or nil when none is recorded.
	Cooldown *domain.CooldownState
	// InFlight is true while a permitted execution for the same key has
	// not yet completed. It counts as cooldown-active so two concurrent
	// commands on one resource can never both PERMIT.
	InFlight bool
	// Approval is the quorum state for this command id, or nil when the
	// command has not been gated yet.
	Approval *domain.ApprovalState
}

// Decision is the evaluator's verdict plus everything the dispatcher
// needs to act on it.
type Decision struct {
	Verdict   string
	Reason    string
	PolicyIDs []string
	Detail    string

	// Quorum parameters, populated when Verdict is PENDING_APPROVAL or
	// when an approval-quorum rule matched.
	RequiredApprovals int
	ApprovalExpiry    time.Duration
	AllowSelfApproval bool
}

// deny builds a DENY decision for the given reason and policy.
func deny(reason, policyID, detail string) Decision {
	d := Decision{Verdict: domain.VerdictDeny, Reason: reason, Detail: detail}
	if policyID != "" {
		d.PolicyIDs = []string{policyID}
	}
	return d
}

// Evaluate applies the guardrail rule chain to a command in fixed
// precedence order: RBAC, change window, scaling limits, cooldown,
// approval quorum. The first failing rule wins. Absence of a matching
// policy for a scope means no restriction from that rule.
func Evaluate(cmd *domain.Command, callerRole string, snap *policy.Snapshot, in Input) Decision {
	// 1. RBAC. The role's permission list is the baseline grant set; a
	// scoped rbac rule additionally narrows which roles may request the
	// action. The wildcard grant satisfies both checks but never implies
	// "override".
	if !snap.RoleHasGrant(callerRole, cmd.Action) {
		return deny(domain.ReasonInsufficientRole, "",
			fmt.Sprintf("role %q has no %q grant", callerRole, cmd.Action))
	}
	for _, r := range snap.RulesFor(policy.KindRBAC, cmd.Environment, cmd.ResourceType, cmd.Action) {
		if snap.RoleHasGrant(callerRole, policy.GrantWildcard) {
			continue
		}
		allowed := false
		for _, role := range r.AllowedRoles {
			if role == callerRole {
				allowed = true
				break
			}
		}
		if !allowed {
			return deny(domain.ReasonInsufficientRole, r.ID,
				fmt.Sprintf("role %q is not in the allowed set for %s", callerRole, cmd.Action))
		}
	}

	// 2. Change window. Current time-of-day in the rule's timezone must
	// fall within the allowed hour set.
	for _, r := range snap.RulesFor(policy.KindChangeWindow, cmd.Environment, cmd.ResourceType, cmd.Action) {
		hour := in.Now.In(r.Location).Hour()
		if !r.AllowedHours[hour] {
			return deny(domain.ReasonOutsideChangeWindow, r.ID,
				fmt.Sprintf("hour %02d is outside the allowed change window", hour))
		}
	}

	// 3. Scaling limits. Only scale actions carry magnitudes to check.
	if cmd.Action == domain.ActionScale {
		for _, r := range snap.RulesFor(policy.KindScalingLimit, cmd.Environment, cmd.ResourceType, cmd.Action) {
			if d, violated := checkScalingLimit(cmd, &r); violated {
				return deny(domain.ReasonLimitExceeded, r.ID, d)
			}
		}
	}

	// 4. Cooldown. An in-flight execution on the same key counts as
	// active; otherwise the elapsed time since the last applied action
	// must exceed every matching rule's duration.
	cooldownRules := snap.RulesFor(policy.KindCooldown, cmd.Environment, cmd.ResourceType, cmd.Action)
	if len(cooldownRules) > 0 && in.InFlight {
		return deny(domain.ReasonCooldownActive, cooldownRules[0].ID,
			"an execution for this resource and action is still in flight")
	}
	for _, r := range cooldownRules {
		elapsed, ok := in.Cooldown.TimeSinceLast(in.Now)
		if ok && elapsed < r.Cooldown {
			return deny(domain.ReasonCooldownActive, r.ID,
				fmt.Sprintf("last applied %s ago, cooldown is %s", elapsed.Round(time.Second), r.Cooldown))
		}
	}

	// 5. Approval quorum. RBAC grants the right to request, not a quorum
	// bypass. Existing approval state is consulted, never reset.
	quorumRules := snap.RulesFor(policy.KindApprovalQuorum, cmd.Environment, cmd.ResourceType, cmd.Action)
	if len(quorumRules) > 0 {
		// The strictest matching rule governs.
		rule := quorumRules[0]
		for _, r := range quorumRules[1:] {
			if r.RequiredApprovals > rule.RequiredApprovals {
				rule = r
			}
		}

		pending := Decision{
			Verdict:           domain.VerdictPendingApproval,
			Reason:            "approval_required",
			PolicyIDs:         []string{rule.ID},
			RequiredApprovals: rule.RequiredApprovals,
			ApprovalExpiry:    rule.ExpiresAfter,
			AllowSelfApproval: rule.AllowSelfApproval,
		}

		switch {
		case in.Approval == nil:
			pending.Detail = fmt.Sprintf("%d approval(s) required", rule.RequiredApprovals)
			return pending
		case in.Approval.ExpiredAt(in.Now):
			return deny(domain.ReasonApprovalExpired, rule.ID, "approval window lapsed")
		case !in.Approval.QuorumMet():
			pending.Detail = fmt.Sprintf("%d of %d approvals recorded",
				len(in.Approval.Approvers), in.Approval.RequiredCount)
			return pending
		}
		// Quorum met, fall through to PERMIT.
	}

	return Decision{Verdict: domain.VerdictPermit}
}

// checkScalingLimit compares the command's requested magnitudes against a
// single scaling-limit rule. Parameters absent from the command are not
// checked — the executor contract owns defaulting.
func checkScalingLimit(cmd *domain.Command, r *policy.Rule) (string, bool) {
	if n, ok := cmd.NumParam("instances"); ok && r.MaxInstances > 0 && n > float64(r.MaxInstances) {
		return fmt.Sprintf("instance count %.0f exceeds limit %d", n, r.MaxInstances), true
	}
	if n, ok := cmd.NumParam("memory_gb"); ok && r.MaxMemoryGB > 0 && n > r.MaxMemoryGB {
		return fmt.Sprintf("memory %.0fGB exceeds limit %.0fGB", n, r.MaxMemoryGB), true
	}
	if n, ok := cmd.NumParam("cpu_cores"); ok && r.MaxCPUCores > 0 && n > r.MaxCPUCores {
		return fmt.Sprintf("cpu cores %.0f exceed limit %.0f", n, r.MaxCPUCores), true
	}
	return "", false
}
