package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"opsgate/internal/domain"
	"opsgate/internal/policy"
)

// PolicyAdminService replaces and inspects the active policy set. Every
// replacement is itself recorded in the ledger so policy churn is as
// auditable as the commands it governs.
type PolicyAdminService struct {
	store  *policy.Store
	ledger domain.LedgerRepository
	logger *slog.Logger
}

func NewPolicyAdminService(store *policy.Store, ledger domain.LedgerRepository, logger *slog.Logger) *PolicyAdminService {
	return &PolicyAdminService{
		store:  store,
		ledger: ledger,
		logger: logger.With("component", "policyadmin"),
	}
}

// Replace validates and installs a new policy document. Only actors
// holding the wildcard grant under the CURRENT snapshot may replace it;
// the new document cannot grant its own installation rights.
func (s *PolicyAdminService) Replace(ctx context.Context, actor string, raw []byte) (*policy.Snapshot, error) {
	caller, ok := domain.PrincipalFromContext(ctx)
	if ok && !s.store.Active().RoleHasGrant(caller.Role, policy.GrantWildcard) {
		return nil, domain.ErrAccessDenied("replacing the policy set requires the wildcard grant")
	}

	doc, err := policy.Parse(raw)
	if err != nil {
		return nil, domain.ErrValidation("%v", err)
	}

	// The audit record gates the swap: an unledgered replacement never
	// becomes the active set.
	snap, err := s.store.ReplaceChecked(doc, func(candidate *policy.Snapshot) error {
		_, err := s.ledger.Append(ctx, &domain.LedgerEntry{
			CommandID:    "policy-replace-v" + strconv.Itoa(candidate.Version),
			Actor:        actor,
			Action:       "policy_replace",
			ResourceType: "policy_set",
			ResourceID:   candidate.Hash,
			Environment:  "all",
			Verdict:      domain.VerdictPermit,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			s.logger.Error("ledger append for policy replacement failed",
				"version", candidate.Version, "error", err)
			return &domain.LedgerWriteError{Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("policy set replaced",
		"actor", actor, "version", snap.Version, "hash", snap.Hash,
		"roles", len(snap.Roles), "rules", len(snap.Rules))
	return snap, nil
}

// Active returns the current snapshot.
func (s *PolicyAdminService) Active() *policy.Snapshot {
	return s.store.Active()
}
