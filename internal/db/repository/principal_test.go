package repository

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "opsgate/internal/db"
	"opsgate/internal/domain"
)

func setupPrincipalRepo(t *testing.T) *PrincipalRepo {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	return NewPrincipalRepo(writeDB)
}

func TestPrincipalRepo_CreateAndGet(t *testing.T) {
	repo := setupPrincipalRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &domain.Principal{Name: "alice", Role: "operator"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "operator", created.Role)

	got, err := repo.GetByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = repo.GetByName(ctx, "nobody")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestPrincipalRepo_DuplicateNameConflicts(t *testing.T) {
	repo := setupPrincipalRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, &domain.Principal{Name: "alice", Role: "operator"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &domain.Principal{Name: "alice", Role: "viewer"})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestPrincipalRepo_ListAndDelete(t *testing.T) {
	repo := setupPrincipalRepo(t)
	ctx := context.Background()

	a, err := repo.Create(ctx, &domain.Principal{Name: "alice", Role: "operator"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &domain.Principal{Name: "bob", Role: "viewer"})
	require.NoError(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Delete(ctx, a.ID))

	all, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "bob", all[0].Name)

	err = repo.Delete(ctx, a.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}
