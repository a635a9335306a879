package service

import (
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	internaldb "opsgate/internal/db"
	"opsgate/internal/db/repository"
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
  - id: prod-scale-limit
    kind: scaling-limit
    scope:
      environment: production
    params:
      max_instances: 10
      max_memory_gb: 64
      max_cpu_cores: 32
`

type repos struct {
	ledger     *repository.LedgerRepo
	principals *repository.PrincipalRepo
}

func setupServices(t *testing.T) (*policy.Store, repos) {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)

	store := policy.NewStore()
	doc, err := policy.Parse([]byte(testPolicies))
	require.NoError(t, err)
	_, err = store.Replace(doc)
	require.NoError(t, err)

	return store, repos{
		ledger:     repository.NewLedgerRepo(writeDB),
		principals: repository.NewPrincipalRepo(writeDB),
	}
}
