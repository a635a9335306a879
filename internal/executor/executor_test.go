package executor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsgate/internal/domain"
)

func TestSimulatedExecute(t *testing.T) {
	e := NewSimulated(0, slog.Default())

	res, err := e.Execute(context.Background(), &domain.Command{
		ID:          "c1",
		Action:      domain.ActionScale,
		ResourceID:  "api-server",
		Environment: domain.EnvStaging,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Detail, "api-server")
}

func TestSimulatedHonoursCancellation(t *testing.T) {
	e := NewSimulated(time.Minute, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, &domain.Command{ID: "c2", Action: domain.ActionRestart})
	assert.ErrorIs(t, err, context.Canceled)
}
