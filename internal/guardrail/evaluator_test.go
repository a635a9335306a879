package guardrail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsgate/internal/domain"
	"opsgate/internal/policy"
)

const testPolicies = `
apiVersion: opsgate/v1
kind: GuardrailPolicySet
roles:
  - name: admin
    permissions: ["*", "override"]
  - name: operator
    permissions: [scale, restart, deploy]
  - name: viewer
    permissions: []
policies:
  - id: prod-window
    kind: change-window
    scope:
      environment: production
    params:
      allowed_hours: [2, 3, 4]
      timezone: UTC
  - id: svc-scale-limit
    kind: scaling-limit
    scope:
      environment: production
      resource_type: service
    params:
      max_instances: 10
      max_memory_gb: 64
  - id: scale-cooldown
    kind: cooldown
    params:
      actions: [scale]
      duration: 10m
  - id: destroy-quorum
    kind: approval-quorum
    scope:
      environment: production
    params:
      actions: [destroy]
      required_approvals: 2
      expires_after: 30m
`

func testSnapshot(t *testing.T) *policy.Snapshot {
	t.Helper()
	doc, err := policy.Parse([]byte(testPolicies))
	require.NoError(t, err)
	snap, err := policy.NewStore().Replace(doc)
	require.NoError(t, err)
	return snap
}

// 03:00 UTC, inside the production change window.
var insideWindow = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

func scaleCmd(instances int) *domain.Command {
	return &domain.Command{
		ID:           "cmd-1",
		Actor:        "alice",
		Action:       domain.ActionScale,
		ResourceType: "service",
		ResourceID:   "web-frontend",
		Environment:  domain.EnvProduction,
		Parameters:   map[string]interface{}{"instances": float64(instances)},
	}
}

func TestEvaluatePermit(t *testing.T) {
	snap := testSnapshot(t)
	d := Evaluate(scaleCmd(5), "operator", snap, Input{Now: insideWindow})
	assert.Equal(t, domain.VerdictPermit, d.Verdict)
	assert.Empty(t, d.Reason)
}

func TestEvaluateInsufficientRole(t *testing.T) {
	snap := testSnapshot(t)

	d := Evaluate(scaleCmd(5), "viewer", snap, Input{Now: insideWindow})
	assert.Equal(t, domain.VerdictDeny, d.Verdict)
	assert.Equal(t, domain.ReasonInsufficientRole, d.Reason)

	// Unknown role is treated the same as a role with no grants.
	d = Evaluate(scaleCmd(5), "nobody", snap, Input{Now: insideWindow})
	assert.Equal(t, domain.ReasonInsufficientRole, d.Reason)
}

func TestEvaluateChangeWindow(t *testing.T) {
	snap := testSnapshot(t)

	afternoon := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	d := Evaluate(scaleCmd(5), "operator", snap, Input{Now: afternoon})
	assert.Equal(t, domain.VerdictDeny, d.Verdict)
	assert.Equal(t, domain.ReasonOutsideChangeWindow, d.Reason)
	assert.Equal(t, []string{"prod-window"}, d.PolicyIDs)

	// The window rule is scoped to production.
	cmd := scaleCmd(5)
	cmd.Environment = domain.EnvStaging
	d = Evaluate(cmd, "operator", snap, Input{Now: afternoon})
	assert.Equal(t, domain.VerdictPermit, d.Verdict)
}

func TestEvaluateScalingLimit(t *testing.T) {
	snap := testSnapshot(t)

	d := Evaluate(scaleCmd(50), "operator", snap, Input{Now: insideWindow})
	assert.Equal(t, domain.VerdictDeny, d.Verdict)
	assert.Equal(t, domain.ReasonLimitExceeded, d.Reason)
	assert.Equal(t, []string{"svc-scale-limit"}, d.PolicyIDs)

	// RBAC never bypasses limit checks.
	d = Evaluate(scaleCmd(50), "admin", snap, Input{Now: insideWindow})
	assert.Equal(t, domain.ReasonLimitExceeded, d.Reason)

	// Memory limit is checked independently of instance count.
	cmd := scaleCmd(5)
	cmd.Parameters["memory_gb"] = float64(128)
	d = Evaluate(cmd, "operator", snap, Input{Now: insideWindow})
	assert.Equal(t, domain.ReasonLimitExceeded, d.Reason)
}

func TestEvaluateCooldown(t *testing.T) {
	snap := testSnapshot(t)

	recent := &domain.CooldownState{
		ResourceID:    "web-frontend",
		Action:        domain.ActionScale,
		LastAppliedAt: insideWindow.Add(-3 * time.Minute),
	}
	d := Evaluate(scaleCmd(5), "operator", snap, Input{Now: insideWindow, Cooldown: recent})
	assert.Equal(t, domain.VerdictDeny, d.Verdict)
	assert.Equal(t, domain.ReasonCooldownActive, d.Reason)

	stale := &domain.CooldownState{
		ResourceID:    "web-frontend",
		Action:        domain.ActionScale,
		LastAppliedAt: insideWindow.Add(-30 * time.Minute),
	}
	d = Evaluate(scaleCmd(5), "operator", snap, Input{Now: insideWindow, Cooldown: stale})
	assert.Equal(t, domain.VerdictPermit, d.Verdict)
}

func TestEvaluateInFlightCountsAsCooldown(t *testing.T) {
	snap := testSnapshot(t)
	d := Evaluate(scaleCmd(5), "operator", snap, Input{Now: insideWindow, InFlight: true})
	assert.Equal(t, domain.VerdictDeny, d.Verdict)
	assert.Equal(t, domain.ReasonCooldownActive, d.Reason)
}

func destroyCmd() *domain.Command {
	return &domain.Command{
		ID:           "cmd-2",
		Actor:        "alice",
		Action:       domain.ActionDestroy,
		ResourceType: "database",
		ResourceID:   "orders-db",
		Environment:  domain.EnvProduction,
	}
}

func TestEvaluateApprovalQuorum(t *testing.T) {
	snap := testSnapshot(t)

	// No approval state yet: the command is gated, not denied.
	d := Evaluate(destroyCmd(), "admin", snap, Input{Now: insideWindow})
	require.Equal(t, domain.VerdictPendingApproval, d.Verdict)
	assert.Equal(t, 2, d.RequiredApprovals)
	assert.Equal(t, 30*time.Minute, d.ApprovalExpiry)
	assert.Equal(t, []string{"destroy-quorum"}, d.PolicyIDs)

	// One distinct approver is not a quorum of two.
	partial := &domain.ApprovalState{
		CommandID:     "cmd-2",
		RequiredCount: 2,
		Approvers:     []string{"bob"},
		ExpiresAt:     insideWindow.Add(30 * time.Minute),
	}
	d = Evaluate(destroyCmd(), "admin", snap, Input{Now: insideWindow, Approval: partial})
	assert.Equal(t, domain.VerdictPendingApproval, d.Verdict)

	// Quorum met permits.
	met := &domain.ApprovalState{
		CommandID:     "cmd-2",
		RequiredCount: 2,
		Approvers:     []string{"bob", "carol"},
		ExpiresAt:     insideWindow.Add(30 * time.Minute),
	}
	d = Evaluate(destroyCmd(), "admin", snap, Input{Now: insideWindow, Approval: met})
	assert.Equal(t, domain.VerdictPermit, d.Verdict)

	// A lapsed window denies even with approvers on record.
	lapsed := &domain.ApprovalState{
		CommandID:     "cmd-2",
		RequiredCount: 2,
		Approvers:     []string{"bob", "carol"},
		ExpiresAt:     insideWindow.Add(-time.Minute),
	}
	d = Evaluate(destroyCmd(), "admin", snap, Input{Now: insideWindow, Approval: lapsed})
	assert.Equal(t, domain.VerdictDeny, d.Verdict)
	assert.Equal(t, domain.ReasonApprovalExpired, d.Reason)
}

func TestEvaluatePrecedence(t *testing.T) {
	snap := testSnapshot(t)

	// RBAC outranks the change window: a viewer at 14:00 sees
	// insufficient_role, not outside_change_window.
	afternoon := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	d := Evaluate(scaleCmd(50), "viewer", snap, Input{Now: afternoon})
	assert.Equal(t, domain.ReasonInsufficientRole, d.Reason)

	// Change window outranks scaling limits.
	d = Evaluate(scaleCmd(50), "operator", snap, Input{Now: afternoon})
	assert.Equal(t, domain.ReasonOutsideChangeWindow, d.Reason)

	// Scaling limits outrank cooldown.
	recent := &domain.CooldownState{LastAppliedAt: insideWindow.Add(-time.Minute)}
	d = Evaluate(scaleCmd(50), "operator", snap, Input{Now: insideWindow, Cooldown: recent})
	assert.Equal(t, domain.ReasonLimitExceeded, d.Reason)
}
