package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsgate/internal/domain"
	"opsgate/internal/policy"
)

const replacementDoc = `
apiVersion: opsgate/v1
kind: GuardrailPolicySet
roles:
  - name: admin
    permissions: ["*", "override"]
  - name: operator
    permissions: [scale]
policies:
  - id: new-cooldown
    kind: cooldown
    params:
      actions: [scale]
      duration: 5m
`

func TestPolicyAdminReplace(t *testing.T) {
	store, r := setupServices(t)
	svc := NewPolicyAdminService(store, r.ledger, slog.Default())
	ctx := domain.WithPrincipal(context.Background(),
		domain.ContextPrincipal{Name: "root", Role: "admin"})

	before := store.Active().Version

	snap, err := svc.Replace(ctx, "root", []byte(replacementDoc))
	require.NoError(t, err)
	assert.Equal(t, before+1, snap.Version)
	assert.Len(t, snap.Rules, 1)

	// The replacement is itself on the ledger.
	entries, _, err := r.ledger.List(context.Background(), domain.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "policy_replace", entries[0].Action)
	assert.Equal(t, "root", entries[0].Actor)
	assert.Equal(t, snap.Hash, entries[0].ResourceID)
}

func TestPolicyAdminReplaceRequiresWildcard(t *testing.T) {
	store, r := setupServices(t)
	svc := NewPolicyAdminService(store, r.ledger, slog.Default())
	ctx := domain.WithPrincipal(context.Background(),
		domain.ContextPrincipal{Name: "alice", Role: "operator"})

	_, err := svc.Replace(ctx, "alice", []byte(replacementDoc))
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, 1, store.Active().Version)
}

func TestPolicyAdminReplaceRejectsInvalidDoc(t *testing.T) {
	store, r := setupServices(t)
	svc := NewPolicyAdminService(store, r.ledger, slog.Default())
	ctx := domain.WithPrincipal(context.Background(),
		domain.ContextPrincipal{Name: "root", Role: "admin"})

	_, err := svc.Replace(ctx, "root", []byte("apiVersion: wrong\nkind: Nope\n"))
	require.Error(t, err)
	assert.Equal(t, 1, store.Active().Version)

	var inv *policy.InvalidSetError
	_, err = svc.Replace(ctx, "root", []byte(`
apiVersion: opsgate/v1
kind: GuardrailPolicySet
policies:
  - id: bad
    kind: cooldown
    params:
      duration: never
`))
	require.ErrorAs(t, err, &inv)
}

type failingLedger struct{}

func (failingLedger) Append(context.Context, *domain.LedgerEntry) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingLedger) List(context.Context, domain.LedgerFilter) ([]domain.LedgerEntry, int64, error) {
	return nil, 0, nil
}

// An unledgered replacement must not become the active set.
func TestPolicyAdminReplaceKeepsOldSetOnLedgerFailure(t *testing.T) {
	store, _ := setupServices(t)
	svc := NewPolicyAdminService(store, failingLedger{}, slog.Default())
	ctx := domain.WithPrincipal(context.Background(),
		domain.ContextPrincipal{Name: "root", Role: "admin"})

	before := store.Active()

	_, err := svc.Replace(ctx, "root", []byte(replacementDoc))
	var lw *domain.LedgerWriteError
	require.ErrorAs(t, err, &lw)
	assert.Same(t, before, store.Active())
}
