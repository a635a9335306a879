package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "opsgate/internal/db"
	"opsgate/internal/db/repository"
	"opsgate/internal/domain"
	"opsgate/internal/notify"
	"opsgate/internal/policy"
)

const testPolicies = `
apiVersion: opsgate/v1
kind: GuardrailPolicySet
roles:
  - name: admin
    permissions: ["*", "override"]
  - name: operator
    permissions: [scale, restart, deploy, destroy]
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

// stubRoles resolves roles from a fixed directory against the policy
// snapshot's grant table.
type stubRoles struct {
	store *policy.Store
	roles map[string]string
}

func (s *stubRoles) RoleOf(_ context.Context, actor string) (string, error) {
	role, ok := s.roles[actor]
	if !ok {
		return "", domain.ErrNotFound("principal %s not found", actor)
	}
	return role, nil
}

func (s *stubRoles) HasGrant(ctx context.Context, actor, grant string) (bool, error) {
	role, err := s.RoleOf(ctx, actor)
	if err != nil {
		return false, err
	}
	return s.store.Active().RoleHasGrant(role, grant), nil
}

// stubExecutor counts invocations and optionally blocks or fails.
type stubExecutor struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{} // when non-nil, Execute waits on it
	failure string        // when non-empty, Execute reports failure
	err     error
}

func (s *stubExecutor) Execute(ctx context.Context, _ *domain.Command) (domain.ExecutionResult, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.ExecutionResult{}, ctx.Err()
		}
	}
	if s.err != nil {
		return domain.ExecutionResult{}, s.err
	}
	if s.failure != "" {
		return domain.ExecutionResult{Success: false, Detail: s.failure}, nil
	}
	return domain.ExecutionResult{Success: true, Detail: "applied"}, nil
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	d        *Dispatcher
	ledger   *repository.LedgerRepo
	commands *repository.CommandRepo
	executor *stubExecutor
	store    *policy.Store
}

// 03:00 UTC, inside the production change window.
var insideWindow = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

func setupDispatcher(t *testing.T) *fixture {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)

	store := policy.NewStore()
	doc, err := policy.Parse([]byte(testPolicies))
	require.NoError(t, err)
	_, err = store.Replace(doc)
	require.NoError(t, err)

	roles := &stubRoles{store: store, roles: map[string]string{
		"root":  "admin",
		"alice": "operator",
		"bob":   "operator",
		"carol": "operator",
		"eve":   "viewer",
	}}
	executor := &stubExecutor{}
	ledger := repository.NewLedgerRepo(writeDB)
	commands := repository.NewCommandRepo(writeDB)

	d := New(store, ledger, commands,
		repository.NewCooldownRepo(writeDB),
		repository.NewApprovalRepo(writeDB),
		roles, executor,
		notify.NewBroadcaster(slog.Default()),
		slog.Default())
	d.clock = func() time.Time { return insideWindow }

	return &fixture{d: d, ledger: ledger, commands: commands, executor: executor, store: store}
}

func scaleCmd(actor string) *domain.Command {
	return &domain.Command{
		Actor:        actor,
		Action:       domain.ActionScale,
		ResourceType: "service",
		ResourceID:   "web-frontend",
		Environment:  domain.EnvProduction,
		Parameters:   map[string]interface{}{"instances": float64(5)},
	}
}

func destroyCmd(actor string) *domain.Command {
	return &domain.Command{
		Actor:        actor,
		Action:       domain.ActionDestroy,
		ResourceType: "database",
		ResourceID:   "orders-db",
		Environment:  domain.EnvProduction,
	}
}

func waitForState(t *testing.T, f *fixture, id, state string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := f.commands.GetByID(context.Background(), id)
		require.NoError(t, err)
		if c.State == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("command %s never reached state %s", id, state)
}

func verdicts(t *testing.T, f *fixture, commandID string) []string {
	t.Helper()
	entries, _, err := f.ledger.List(context.Background(),
		domain.LedgerFilter{CommandID: &commandID})
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Verdict
	}
	return out
}

func TestSubmitPermitExecutes(t *testing.T) {
	f := setupDispatcher(t)

	res, err := f.d.Submit(context.Background(), scaleCmd("alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictPermit, res.Verdict)

	waitForState(t, f, res.Command.ID, domain.StateSucceeded)
	f.d.Wait()

	assert.Equal(t, []string{domain.VerdictPermit, domain.VerdictExecSucceeded},
		verdicts(t, f, res.Command.ID))
	assert.Equal(t, 1, f.executor.callCount())

	entries, _, err := f.ledger.List(context.Background(),
		domain.LedgerFilter{CommandID: &res.Command.ID})
	require.NoError(t, err)
	require.NotNil(t, entries[1].DurationMs)
}

func TestSubmitDeniedByRole(t *testing.T) {
	f := setupDispatcher(t)

	res, err := f.d.Submit(context.Background(), scaleCmd("eve"))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictDeny, res.Verdict)
	assert.Equal(t, domain.ReasonInsufficientRole, res.Reason)
	assert.Equal(t, domain.StateDenied, res.Command.State)

	assert.Equal(t, []string{domain.VerdictDeny}, verdicts(t, f, res.Command.ID))
	assert.Zero(t, f.executor.callCount())
}

func TestSubmitUnknownActor(t *testing.T) {
	f := setupDispatcher(t)

	_, err := f.d.Submit(context.Background(), scaleCmd("mallory"))
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestCooldownBlocksResubmit(t *testing.T) {
	f := setupDispatcher(t)

	res, err := f.d.Submit(context.Background(), scaleCmd("alice"))
	require.NoError(t, err)
	require.Equal(t, domain.VerdictPermit, res.Verdict)
	waitForState(t, f, res.Command.ID, domain.StateSucceeded)
	f.d.Wait()

	// Within the 10m cooldown.
	f.d.clock = func() time.Time { return insideWindow.Add(3 * time.Minute) }
	res2, err := f.d.Submit(context.Background(), scaleCmd("bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictDeny, res2.Verdict)
	assert.Equal(t, domain.ReasonCooldownActive, res2.Reason)

	// After it lapses.
	f.d.clock = func() time.Time { return insideWindow.Add(15 * time.Minute) }
	res3, err := f.d.Submit(context.Background(), scaleCmd("bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictPermit, res3.Verdict)
	waitForState(t, f, res3.Command.ID, domain.StateSucceeded)
	f.d.Wait()
}

func TestFailedExecutionDoesNotAdvanceCooldown(t *testing.T) {
	f := setupDispatcher(t)
	f.executor.failure = "provider rejected the request"

	res, err := f.d.Submit(context.Background(), scaleCmd("alice"))
	require.NoError(t, err)
	require.Equal(t, domain.VerdictPermit, res.Verdict)
	waitForState(t, f, res.Command.ID, domain.StateFailed)
	f.d.Wait()

	assert.Equal(t, []string{domain.VerdictPermit, domain.VerdictExecFailed},
		verdicts(t, f, res.Command.ID))

	// The failed attempt left no cooldown; a retry is permitted.
	f.executor.failure = ""
	res2, err := f.d.Submit(context.Background(), scaleCmd("alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictPermit, res2.Verdict)
	waitForState(t, f, res2.Command.ID, domain.StateSucceeded)
	f.d.Wait()
}

// Two concurrent submissions for the same resource and action must never
// both permit: the in-flight execution counts as an active cooldown.
func TestConcurrentSubmitSingleWinner(t *testing.T) {
	f := setupDispatcher(t)
	f.executor.block = make(chan struct{})

	res1, err := f.d.Submit(context.Background(), scaleCmd("alice"))
	require.NoError(t, err)
	require.Equal(t, domain.VerdictPermit, res1.Verdict)

	// The first command is still executing.
	res2, err := f.d.Submit(context.Background(), scaleCmd("bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictDeny, res2.Verdict)
	assert.Equal(t, domain.ReasonCooldownActive, res2.Reason)

	close(f.executor.block)
	waitForState(t, f, res1.Command.ID, domain.StateSucceeded)
	f.d.Wait()
	assert.Equal(t, 1, f.executor.callCount())
}

func TestApprovalQuorumFlow(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	res, err := f.d.Submit(ctx, destroyCmd("alice"))
	require.NoError(t, err)
	require.Equal(t, domain.VerdictPendingApproval, res.Verdict)
	assert.Equal(t, 2, res.RequiredApprovals)
	assert.Equal(t, []string{domain.VerdictPendingApproval}, verdicts(t, f, res.Command.ID))

	// First approver: still pending.
	ares, err := f.d.Approve(ctx, res.Command.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictPendingApproval, ares.Verdict)
	assert.Equal(t, 1, ares.ApprovalsRecorded)

	// Same approver again is idempotent.
	ares, err = f.d.Approve(ctx, res.Command.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, ares.ApprovalsRecorded)

	// Second distinct approver meets the quorum and triggers execution.
	ares, err = f.d.Approve(ctx, res.Command.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictApproved, ares.Verdict)

	waitForState(t, f, res.Command.ID, domain.StateSucceeded)
	f.d.Wait()
	assert.Equal(t, []string{
		domain.VerdictPendingApproval,
		domain.VerdictApproved,
		domain.VerdictExecSucceeded,
	}, verdicts(t, f, res.Command.ID))
}

func TestSelfApprovalRejected(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	res, err := f.d.Submit(ctx, destroyCmd("alice"))
	require.NoError(t, err)
	require.Equal(t, domain.VerdictPendingApproval, res.Verdict)

	_, err = f.d.Approve(ctx, res.Command.ID, "alice")
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
}

func TestApproverNeedsGrant(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	res, err := f.d.Submit(ctx, destroyCmd("alice"))
	require.NoError(t, err)

	_, err = f.d.Approve(ctx, res.Command.ID, "eve")
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
}

func TestExpirePendingApprovals(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	res, err := f.d.Submit(ctx, destroyCmd("alice"))
	require.NoError(t, err)
	require.Equal(t, domain.VerdictPendingApproval, res.Verdict)

	// Nothing expires inside the window.
	n, err := f.d.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.d.clock = func() time.Time { return insideWindow.Add(time.Hour) }
	n, err = f.d.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := f.commands.GetByID(ctx, res.Command.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, c.State)
	assert.Equal(t, []string{domain.VerdictPendingApproval, domain.VerdictExpired},
		verdicts(t, f, res.Command.ID))

	// A late approval lands on an expired command.
	_, err = f.d.Approve(ctx, res.Command.ID, "bob")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestOverrideFlow(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	// 14:00 UTC is outside the production change window.
	f.d.clock = func() time.Time { return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC) }

	res, err := f.d.Submit(ctx, scaleCmd("alice"))
	require.NoError(t, err)
	require.Equal(t, domain.VerdictDeny, res.Verdict)
	require.Equal(t, domain.ReasonOutsideChangeWindow, res.Reason)

	// Operators cannot override.
	_, err = f.d.Override(ctx, res.Command.ID, "bob", "urgent fix")
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)

	// A justification is mandatory.
	_, err = f.d.Override(ctx, res.Command.ID, "root", "")
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)

	ores, err := f.d.Override(ctx, res.Command.ID, "root", "incident INC-7: scaling past the window")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictOverridden, ores.Verdict)
	assert.Equal(t, domain.ReasonOutsideChangeWindow, ores.Reason)

	waitForState(t, f, res.Command.ID, domain.StateSucceeded)
	f.d.Wait()
	assert.Equal(t, []string{domain.VerdictDeny, domain.VerdictOverridden, domain.VerdictExecSucceeded},
		verdicts(t, f, res.Command.ID))

	// The override entry names the overriding actor and the justification.
	entries, _, err := f.ledger.List(ctx, domain.LedgerFilter{CommandID: &res.Command.ID})
	require.NoError(t, err)
	assert.Equal(t, "root", entries[1].Actor)
	assert.NotEmpty(t, entries[1].Justification)

	// Overrides are one-shot: the command is no longer DENIED.
	_, err = f.d.Override(ctx, res.Command.ID, "root", "again")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestExecutorErrorRecordsFailure(t *testing.T) {
	f := setupDispatcher(t)
	f.executor.err = errors.New("provider unreachable")

	res, err := f.d.Submit(context.Background(), scaleCmd("alice"))
	require.NoError(t, err)
	require.Equal(t, domain.VerdictPermit, res.Verdict)

	waitForState(t, f, res.Command.ID, domain.StateFailed)
	f.d.Wait()
	assert.Equal(t, []string{domain.VerdictPermit, domain.VerdictExecFailed},
		verdicts(t, f, res.Command.ID))

	entries, _, err := f.ledger.List(context.Background(),
		domain.LedgerFilter{CommandID: &res.Command.ID})
	require.NoError(t, err)
	assert.Equal(t, "execution failed: provider unreachable", entries[1].Reason)
}

// barrierApprovals holds the approver count back until both concurrent
// approvals have inserted, so each observer sees the quorum met. This is
// a legal interleaving of the real repository: the insert and the count
// are separate statements.
type barrierApprovals struct {
	domain.ApprovalRepository
	barrier *sync.WaitGroup
}

func (b *barrierApprovals) AddApprover(ctx context.Context, commandID, approver string, at time.Time) (int, error) {
	if _, err := b.ApprovalRepository.AddApprover(ctx, commandID, approver, at); err != nil {
		return 0, err
	}
	b.barrier.Done()
	b.barrier.Wait()
	a, err := b.ApprovalRepository.Get(ctx, commandID)
	if err != nil {
		return 0, err
	}
	return len(a.Approvers), nil
}

// Two approvals landing at the same moment may both observe the met
// quorum; exactly one of them may finalize and execute.
func TestConcurrentApprovalsExecuteOnce(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)

	store := policy.NewStore()
	doc, err := policy.Parse([]byte(testPolicies))
	require.NoError(t, err)
	_, err = store.Replace(doc)
	require.NoError(t, err)

	roles := &stubRoles{store: store, roles: map[string]string{
		"alice": "operator",
		"bob":   "operator",
		"carol": "operator",
	}}
	executor := &stubExecutor{}
	ledger := repository.NewLedgerRepo(writeDB)
	commands := repository.NewCommandRepo(writeDB)

	var barrier sync.WaitGroup
	approvals := &barrierApprovals{
		ApprovalRepository: repository.NewApprovalRepo(writeDB),
		barrier:            &barrier,
	}

	d := New(store, ledger, commands,
		repository.NewCooldownRepo(writeDB),
		approvals, roles, executor,
		notify.NewBroadcaster(slog.Default()),
		slog.Default())
	d.clock = func() time.Time { return insideWindow }
	f := &fixture{d: d, ledger: ledger, commands: commands, executor: executor, store: store}

	ctx := context.Background()
	res, err := d.Submit(ctx, destroyCmd("alice"))
	require.NoError(t, err)
	require.Equal(t, domain.VerdictPendingApproval, res.Verdict)

	barrier.Add(2)
	type outcome struct {
		res *Result
		err error
	}
	outcomes := make(chan outcome, 2)
	for _, approver := range []string{"bob", "carol"} {
		go func(who string) {
			r, err := d.Approve(ctx, res.Command.ID, who)
			outcomes <- outcome{res: r, err: err}
		}(approver)
	}

	var approved, conflicts int
	for i := 0; i < 2; i++ {
		o := <-outcomes
		if o.err != nil {
			var conflict *domain.ConflictError
			require.ErrorAs(t, o.err, &conflict)
			conflicts++
			continue
		}
		require.Equal(t, domain.VerdictApproved, o.res.Verdict)
		approved++
	}
	assert.Equal(t, 1, approved)
	assert.Equal(t, 1, conflicts)

	waitForState(t, f, res.Command.ID, domain.StateSucceeded)
	d.Wait()
	assert.Equal(t, 1, executor.callCount())
	assert.Equal(t, []string{
		domain.VerdictPendingApproval,
		domain.VerdictApproved,
		domain.VerdictExecSucceeded,
	}, verdicts(t, f, res.Command.ID))
}
