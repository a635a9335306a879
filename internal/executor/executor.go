// Package executor provides the built-in command executor. Real
// deployments are expected to substitute an implementation that talks to
// their orchestration layer; the dispatcher only sees domain.Executor.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"opsgate/internal/domain"
)

// Simulated applies commands by logging them and sleeping for a fixed
// latency. It honours context cancellation, which is what the dispatcher
// relies on for execution timeouts.
type Simulated struct {
	latency time.Duration
	logger  *slog.Logger
}

func NewSimulated(latency time.Duration, logger *slog.Logger) *Simulated {
	return &Simulated{
		latency: latency,
		logger:  logger.With("component", "executor"),
	}
}

func (e *Simulated) Execute(ctx context.Context, cmd *domain.Command) (domain.ExecutionResult, error) {
	e.logger.Info("executing command",
		"command_id", cmd.ID,
		"action", cmd.Action,
		"resource", cmd.ResourceID,
		"environment", cmd.Environment)

	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-ctx.Done():
			return domain.ExecutionResult{}, ctx.Err()
		}
	}

	return domain.ExecutionResult{
		Success: true,
		Detail:  fmt.Sprintf("%s applied to %s/%s", cmd.Action, cmd.Environment, cmd.ResourceID),
	}, nil
}
