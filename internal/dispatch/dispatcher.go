// Package dispatch owns the command lifecycle: evaluation, audit
// recording, approval and override flows, and asynchronous execution.
//
// The ordering contract is strict. Every verdict is appended to the
// ledger before it is reported to the caller; if the ledger write fails
// the command does not proceed, whatever the evaluator said.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"opsgate/internal/domain"
	"opsgate/internal/guardrail"
	"opsgate/internal/notify"
	"opsgate/internal/policy"
)

// Dispatcher coordinates guardrail evaluation and command execution.
type Dispatcher struct {
	policies  *policy.Store
	ledger    domain.LedgerRepository
	commands  domain.CommandRepository
	cooldowns domain.CooldownRepository
	approvals domain.ApprovalRepository
	roles     domain.RoleSource
	executor  domain.Executor
	stream    *notify.Broadcaster
	logger    *slog.Logger

	clock       func() time.Time
	execTimeout time.Duration

	// keys serializes evaluation per (resource, action) so concurrent
	// submissions for one resource see each other's in-flight state.
	keys *keyedMutex

	inflightMu sync.Mutex
	inflight   map[string]bool

	wg sync.WaitGroup
}

// Result is the caller-visible outcome of a lifecycle operation.
type Result struct {
	Command       *domain.Command
	Verdict       string
	Reason        string
	Detail        string
	PolicyIDs     []string
	LedgerEntryID int64

	// Approval progress, set when Verdict is PENDING_APPROVAL.
	ApprovalsRecorded int
	RequiredApprovals int
	ApprovalExpiresAt time.Time
}

func New(
	policies *policy.Store,
	ledger domain.LedgerRepository,
	commands domain.CommandRepository,
	cooldowns domain.CooldownRepository,
	approvals domain.ApprovalRepository,
	roles domain.RoleSource,
	executor domain.Executor,
	stream *notify.Broadcaster,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		policies:    policies,
		ledger:      ledger,
		commands:    commands,
		cooldowns:   cooldowns,
		approvals:   approvals,
		roles:       roles,
		executor:    executor,
		stream:      stream,
		logger:      logger.With("component", "dispatch"),
		clock:       func() time.Time { return time.Now().UTC() },
		execTimeout: 10 * time.Minute,
		keys:        newKeyedMutex(),
		inflight:    make(map[string]bool),
	}
}

// Submit runs a new command through the guardrail chain. The returned
// Result reports the verdict; an error return means the command could not
// be processed at all (validation, identity, or ledger failure).
func (d *Dispatcher) Submit(ctx context.Context, cmd *domain.Command) (*Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := d.clock()
	if cmd.ID == "" {
		cmd.ID = domain.NewID()
	}
	if cmd.RequestedAt.IsZero() {
		cmd.RequestedAt = now
	}
	cmd.CreatedAt = now
	cmd.State = domain.StateSubmitted

	role, err := d.roles.RoleOf(ctx, cmd.Actor)
	if err != nil {
		return nil, err
	}

	key := cmd.CooldownKey()
	d.keys.Lock(key)
	defer d.keys.Unlock(key)

	if err := d.commands.Insert(ctx, cmd); err != nil {
		return nil, err
	}

	cooldown, err := d.cooldowns.Get(ctx, cmd.ResourceID, cmd.Action)
	if err != nil {
		return nil, err
	}

	decision := guardrail.Evaluate(cmd, role, d.policies.Active(), guardrail.Input{
		Now:      now,
		Cooldown: cooldown,
		InFlight: d.isInFlight(key),
	})

	switch decision.Verdict {
	case domain.VerdictDeny:
		return d.recordDeny(ctx, cmd, decision)
	case domain.VerdictPendingApproval:
		return d.recordPending(ctx, cmd, decision, now)
	default:
		return d.recordPermitAndExecute(ctx, cmd, decision)
	}
}

func (d *Dispatcher) recordDeny(ctx context.Context, cmd *domain.Command, decision guardrail.Decision) (*Result, error) {
	entryID, err := d.append(ctx, cmd, domain.VerdictDeny, decision.Reason, decision.PolicyIDs, "", nil)
	if err != nil {
		return nil, err
	}
	if err := d.commands.UpdateState(ctx, cmd.ID, domain.StateDenied); err != nil {
		return nil, err
	}
	cmd.State = domain.StateDenied
	return &Result{
		Command:       cmd,
		Verdict:       domain.VerdictDeny,
		Reason:        decision.Reason,
		Detail:        decision.Detail,
		PolicyIDs:     decision.PolicyIDs,
		LedgerEntryID: entryID,
	}, nil
}

func (d *Dispatcher) recordPending(ctx context.Context, cmd *domain.Command, decision guardrail.Decision, now time.Time) (*Result, error) {
	approval := &domain.ApprovalState{
		CommandID:     cmd.ID,
		RequiredCount: decision.RequiredApprovals,
		AllowSelf:     decision.AllowSelfApproval,
		Status:        domain.ApprovalPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(decision.ApprovalExpiry),
	}
	if err := d.approvals.Create(ctx, approval); err != nil {
		return nil, err
	}
	entryID, err := d.append(ctx, cmd, domain.VerdictPendingApproval, decision.Reason, decision.PolicyIDs, "", nil)
	if err != nil {
		return nil, err
	}
	if err := d.commands.UpdateState(ctx, cmd.ID, domain.StatePendingApproval); err != nil {
		return nil, err
	}
	cmd.State = domain.StatePendingApproval
	return &Result{
		Command:           cmd,
		Verdict:           domain.VerdictPendingApproval,
		Reason:            decision.Reason,
		Detail:            decision.Detail,
		PolicyIDs:         decision.PolicyIDs,
		LedgerEntryID:     entryID,
		RequiredApprovals: decision.RequiredApprovals,
		ApprovalExpiresAt: approval.ExpiresAt,
	}, nil
}

func (d *Dispatcher) recordPermitAndExecute(ctx context.Context, cmd *domain.Command, decision guardrail.Decision) (*Result, error) {
	entryID, err := d.append(ctx, cmd, domain.VerdictPermit, "", decision.PolicyIDs, "", nil)
	if err != nil {
		return nil, err
	}
	d.startExecution(ctx, cmd)
	return &Result{Command: cmd, Verdict: domain.VerdictPermit, LedgerEntryID: entryID}, nil
}

// Approve records one approval for a pending command. When the quorum is
// met the command is re-evaluated against current conditions and, if
// still clear, executed.
func (d *Dispatcher) Approve(ctx context.Context, commandID, approver string) (*Result, error) {
	cmd, err := d.commands.GetByID(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.State != domain.StatePendingApproval {
		return nil, domain.ErrConflict("command %s is %s, not awaiting approval", commandID, cmd.State)
	}

	approval, err := d.approvals.Get(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return nil, domain.ErrNotFound("no approval state for command %s", commandID)
	}

	now := d.clock()
	if approval.ExpiredAt(now) {
		if err := d.expireOne(ctx, cmd, approval); err != nil {
			return nil, err
		}
		return &Result{Command: cmd, Verdict: domain.VerdictExpired, Reason: domain.ReasonApprovalExpired}, nil
	}

	if approver == cmd.Actor && !approval.AllowSelf {
		return nil, domain.ErrAccessDenied("self-approval is not permitted for command %s", commandID)
	}
	ok, err := d.roles.HasGrant(ctx, approver, cmd.Action)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrAccessDenied("approver %s lacks the %s grant", approver, cmd.Action)
	}

	count, err := d.approvals.AddApprover(ctx, commandID, approver, now)
	if err != nil {
		return nil, err
	}
	if count < approval.RequiredCount {
		return &Result{
			Command:           cmd,
			Verdict:           domain.VerdictPendingApproval,
			ApprovalsRecorded: count,
			RequiredApprovals: approval.RequiredCount,
			ApprovalExpiresAt: approval.ExpiresAt,
		}, nil
	}

	return d.quorumMet(ctx, cmd, approval, count)
}

// quorumMet finalizes an approval: the command is re-evaluated so a
// window that closed or a cooldown that started while approvals gathered
// still blocks execution.
func (d *Dispatcher) quorumMet(ctx context.Context, cmd *domain.Command, approval *domain.ApprovalState, count int) (*Result, error) {
	key := cmd.CooldownKey()
	d.keys.Lock(key)
	defer d.keys.Unlock(key)

	// Racing approvers can both observe the met quorum; the status
	// transition decides which one finalizes.
	won, err := d.approvals.TransitionStatus(ctx, cmd.ID, domain.ApprovalPending, domain.ApprovalMet)
	if err != nil {
		return nil, err
	}
	if !won {
		cur, err := d.commands.GetByID(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		return nil, domain.ErrConflict("command %s is %s, not awaiting approval", cmd.ID, cur.State)
	}

	role, err := d.roles.RoleOf(ctx, cmd.Actor)
	if err != nil {
		return nil, err
	}

	cooldown, err := d.cooldowns.Get(ctx, cmd.ResourceID, cmd.Action)
	if err != nil {
		return nil, err
	}

	// Re-read so the approver set reflects the insert that met the quorum.
	approval, err = d.approvals.Get(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return nil, domain.ErrNotFound("no approval state for command %s", cmd.ID)
	}

	decision := guardrail.Evaluate(cmd, role, d.policies.Active(), guardrail.Input{
		Now:      d.clock(),
		Cooldown: cooldown,
		InFlight: d.isInFlight(key),
		Approval: approval,
	})
	if decision.Verdict == domain.VerdictDeny {
		return d.recordDeny(ctx, cmd, decision)
	}

	entryID, err := d.append(ctx, cmd, domain.VerdictApproved, "", decision.PolicyIDs, "", nil)
	if err != nil {
		return nil, err
	}
	d.startExecution(ctx, cmd)
	return &Result{
		Command:           cmd,
		Verdict:           domain.VerdictApproved,
		LedgerEntryID:     entryID,
		ApprovalsRecorded: count,
		RequiredApprovals: approval.RequiredCount,
	}, nil
}

// Override executes a denied command anyway. It requires the explicit
// override grant, a justification, and a command still in DENIED state;
// the ledger entry references the denial it overrides.
func (d *Dispatcher) Override(ctx context.Context, commandID, actor, justification string) (*Result, error) {
	if justification == "" {
		return nil, domain.ErrValidation("override requires a justification")
	}

	cmd, err := d.commands.GetByID(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.State != domain.StateDenied {
		return nil, domain.ErrConflict("command %s is %s; only denied commands can be overridden", commandID, cmd.State)
	}

	ok, err := d.roles.HasGrant(ctx, actor, policy.GrantOverride)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrAccessDenied("actor %s lacks the override grant", actor)
	}

	denyVerdict := domain.VerdictDeny
	denies, _, err := d.ledger.List(ctx, domain.LedgerFilter{
		CommandID:  &commandID,
		Verdict:    &denyVerdict,
		Descending: true,
		Page:       domain.PageRequest{MaxResults: 1},
	})
	if err != nil {
		return nil, err
	}
	reason := ""
	var policyIDs []string
	if len(denies) > 0 {
		reason = denies[0].Reason
		policyIDs = denies[0].PolicyIDs
	}

	key := cmd.CooldownKey()
	d.keys.Lock(key)
	defer d.keys.Unlock(key)

	entry := d.entryFor(cmd, domain.VerdictOverridden, reason, policyIDs)
	entry.Actor = actor
	entry.Justification = justification
	if err := d.appendEntry(ctx, entry); err != nil {
		return nil, err
	}
	d.startExecution(ctx, cmd)
	return &Result{
		Command:       cmd,
		Verdict:       domain.VerdictOverridden,
		Reason:        reason,
		PolicyIDs:     policyIDs,
		LedgerEntryID: entry.ID,
	}, nil
}

// ExpirePending sweeps approval states whose window has lapsed. Invoked
// periodically by the scheduler and cheap when nothing expired.
func (d *Dispatcher) ExpirePending(ctx context.Context) (int, error) {
	expired, err := d.approvals.ListExpired(ctx, d.clock())
	if err != nil {
		return 0, err
	}
	for i := range expired {
		cmd, err := d.commands.GetByID(ctx, expired[i].CommandID)
		if err != nil {
			return i, err
		}
		if err := d.expireOne(ctx, cmd, &expired[i]); err != nil {
			return i, err
		}
	}
	return len(expired), nil
}

func (d *Dispatcher) expireOne(ctx context.Context, cmd *domain.Command, approval *domain.ApprovalState) error {
	won, err := d.approvals.TransitionStatus(ctx, approval.CommandID, domain.ApprovalPending, domain.ApprovalExpired)
	if err != nil {
		return err
	}
	if !won {
		// Approved between the sweep's read and now; nothing to expire.
		return nil
	}
	if _, err := d.append(ctx, cmd, domain.VerdictExpired, domain.ReasonApprovalExpired, nil, "", nil); err != nil {
		return err
	}
	if err := d.commands.UpdateState(ctx, cmd.ID, domain.StateExpired); err != nil {
		return err
	}
	cmd.State = domain.StateExpired
	d.logger.Info("approval window expired", "command_id", cmd.ID, "actor", cmd.Actor)
	return nil
}

// GetCommand returns the stored command by id.
func (d *Dispatcher) GetCommand(ctx context.Context, id string) (*domain.Command, error) {
	return d.commands.GetByID(ctx, id)
}

// SetExecutionTimeout changes the per-execution deadline. Zero or
// negative values are ignored.
func (d *Dispatcher) SetExecutionTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.execTimeout = timeout
	}
}

// Wait blocks until all in-flight executions have completed. Called on
// shutdown after the HTTP server has stopped accepting work.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// === execution ===

// startExecution marks the command in flight and runs the executor in the
// background. The caller must hold the key lock.
func (d *Dispatcher) startExecution(ctx context.Context, cmd *domain.Command) {
	key := cmd.CooldownKey()
	d.setInFlight(key, true)
	if err := d.commands.UpdateState(ctx, cmd.ID, domain.StateExecuting); err != nil {
		d.logger.Error("mark executing failed", "command_id", cmd.ID, "error", err)
	}
	cmd.State = domain.StateExecuting

	d.wg.Add(1)
	go d.execute(cmd)
}

func (d *Dispatcher) execute(cmd *domain.Command) {
	defer d.wg.Done()
	key := cmd.CooldownKey()
	defer d.setInFlight(key, false)

	// Execution outlives the submitting request; it is only bounded by
	// its own timeout.
	ctx, cancel := context.WithTimeout(context.Background(), d.execTimeout)
	defer cancel()

	start := d.clock()
	res, err := d.executor.Execute(ctx, cmd)
	durationMs := d.clock().Sub(start).Milliseconds()

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.finishExecution(cmd, domain.StateCancelled, domain.VerdictCancelled, err.Error(), durationMs)
	case err != nil:
		failure := &domain.ExecutorError{Detail: err.Error()}
		d.finishExecution(cmd, domain.StateFailed, domain.VerdictExecFailed, failure.Error(), durationMs)
	case !res.Success:
		failure := &domain.ExecutorError{Detail: res.Detail}
		d.finishExecution(cmd, domain.StateFailed, domain.VerdictExecFailed, failure.Error(), durationMs)
	default:
		d.recordApplied(cmd)
		d.finishExecution(cmd, domain.StateSucceeded, domain.VerdictExecSucceeded, res.Detail, durationMs)
	}
}

// recordApplied advances the cooldown clock. Only reached on executor
// success; denied or failed commands leave the previous state in place.
func (d *Dispatcher) recordApplied(cmd *domain.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	magnitude, _ := cmd.NumParam("instances")
	err := d.cooldowns.RecordApplied(ctx, &domain.CooldownState{
		ResourceID:    cmd.ResourceID,
		Action:        cmd.Action,
		LastAppliedAt: d.clock(),
		LastMagnitude: magnitude,
	})
	if err != nil {
		d.logger.Error("record cooldown failed", "command_id", cmd.ID, "error", err)
	}
}

func (d *Dispatcher) finishExecution(cmd *domain.Command, state, verdict, detail string, durationMs int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.commands.UpdateState(ctx, cmd.ID, state); err != nil {
		d.logger.Error("update command state failed", "command_id", cmd.ID, "state", state, "error", err)
	}
	cmd.State = state

	entry := d.entryFor(cmd, verdict, detail, nil)
	entry.DurationMs = &durationMs
	if err := d.appendEntry(ctx, entry); err != nil {
		// The execution already happened; all we can do is scream.
		d.logger.Error("ledger append failed for execution outcome",
			"command_id", cmd.ID, "verdict", verdict, "error", err)
	}
}

// === ledger plumbing ===

func (d *Dispatcher) entryFor(cmd *domain.Command, verdict, reason string, policyIDs []string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		CommandID:    cmd.ID,
		Actor:        cmd.Actor,
		Action:       cmd.Action,
		ResourceType: cmd.ResourceType,
		ResourceID:   cmd.ResourceID,
		Environment:  cmd.Environment,
		Parameters:   cmd.Parameters,
		Verdict:      verdict,
		Reason:       reason,
		PolicyIDs:    policyIDs,
		CreatedAt:    d.clock(),
	}
}

func (d *Dispatcher) append(ctx context.Context, cmd *domain.Command, verdict, reason string, policyIDs []string, justification string, durationMs *int64) (int64, error) {
	entry := d.entryFor(cmd, verdict, reason, policyIDs)
	entry.Justification = justification
	entry.DurationMs = durationMs
	if err := d.appendEntry(ctx, entry); err != nil {
		return 0, err
	}
	return entry.ID, nil
}

func (d *Dispatcher) appendEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	id, err := d.ledger.Append(ctx, entry)
	if err != nil {
		return &domain.LedgerWriteError{Err: err}
	}
	entry.ID = id
	if d.stream != nil {
		d.stream.Publish(*entry)
	}
	return nil
}

// === in-flight tracking ===

func (d *Dispatcher) isInFlight(key string) bool {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	return d.inflight[key]
}

func (d *Dispatcher) setInFlight(key string, v bool) {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	if v {
		d.inflight[key] = true
	} else {
		delete(d.inflight, key)
	}
}
