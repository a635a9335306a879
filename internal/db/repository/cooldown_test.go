package repository

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "opsgate/internal/db"
	"opsgate/internal/domain"
)

func setupCooldownRepo(t *testing.T) *CooldownRepo {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	return NewCooldownRepo(writeDB)
}

func TestCooldownRepo_GetAbsent(t *testing.T) {
	repo := setupCooldownRepo(t)

	s, err := repo.Get(context.Background(), "web-frontend", domain.ActionScale)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCooldownRepo_RecordAndGet(t *testing.T) {
	repo := setupCooldownRepo(t)
	ctx := context.Background()
	applied := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.RecordApplied(ctx, &domain.CooldownState{
		ResourceID:    "web-frontend",
		Action:        domain.ActionScale,
		LastAppliedAt: applied,
		LastMagnitude: 5,
	}))

	s, err := repo.Get(ctx, "web-frontend", domain.ActionScale)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, float64(5), s.LastMagnitude)
	assert.True(t, s.LastAppliedAt.Equal(applied))

	// Keys are per (resource, action).
	s, err = repo.Get(ctx, "web-frontend", domain.ActionRestart)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCooldownRepo_UpsertAdvances(t *testing.T) {
	repo := setupCooldownRepo(t)
	ctx := context.Background()
	first := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	second := first.Add(30 * time.Minute)

	require.NoError(t, repo.RecordApplied(ctx, &domain.CooldownState{
		ResourceID: "web-frontend", Action: domain.ActionScale,
		LastAppliedAt: first, LastMagnitude: 3,
	}))
	require.NoError(t, repo.RecordApplied(ctx, &domain.CooldownState{
		ResourceID: "web-frontend", Action: domain.ActionScale,
		LastAppliedAt: second, LastMagnitude: 7,
	}))

	s, err := repo.Get(ctx, "web-frontend", domain.ActionScale)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, s.LastAppliedAt.Equal(second))
	assert.Equal(t, float64(7), s.LastMagnitude)
}
