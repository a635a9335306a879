// Package app provides application-level wiring and dependency injection
// for the opsgate server.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"opsgate/internal/api"
	"opsgate/internal/config"
	"opsgate/internal/db/repository"
	"opsgate/internal/dispatch"
	"opsgate/internal/domain"
	"opsgate/internal/executor"
	"opsgate/internal/notify"
	"opsgate/internal/policy"
	"opsgate/internal/service"
)

// Deps holds the external dependencies that main() must provide.
// These are things the app package cannot (or should not) create itself:
// database handles, config, and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger

	// Executor is optional; when nil the built-in simulated executor is
	// used.
	Executor domain.Executor
}

// App holds the fully-wired application.
type App struct {
	Handler    *api.Handler
	Dispatcher *dispatch.Dispatcher
	Policies   *policy.Store
	Principals *repository.PrincipalRepo
	Stream     *notify.Broadcaster
}

// New wires repositories, services, the policy store, and the dispatcher
// from the provided deps. It loads the policy document from disk and
// seeds the bootstrap admin principal when configured.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	// === Policy store ===
	store := policy.NewStore()
	if err := loadPolicyFile(store, cfg.PolicyFile, logger); err != nil {
		return nil, err
	}

	// === Repositories (write-pool) ===
	ledgerRepo := repository.NewLedgerRepo(deps.WriteDB)
	commandRepo := repository.NewCommandRepo(deps.WriteDB)
	cooldownRepo := repository.NewCooldownRepo(deps.WriteDB)
	approvalRepo := repository.NewApprovalRepo(deps.WriteDB)
	principalRepo := repository.NewPrincipalRepo(deps.WriteDB)

	// === Repositories (read-pool) ===
	ledgerReadRepo := repository.NewLedgerRepo(deps.ReadDB)

	// === Services ===
	identitySvc := service.NewIdentityService(principalRepo, store)
	ledgerSvc := service.NewLedgerService(ledgerReadRepo)
	policySvc := service.NewPolicyAdminService(store, ledgerRepo, logger)
	designSvc := service.NewDesignService(store)

	// === Seed bootstrap admin ===
	if err := seedBootstrapAdmin(ctx, identitySvc, principalRepo, cfg.BootstrapAdmin, logger); err != nil {
		return nil, err
	}

	// === Verdict stream ===
	stream := notify.NewBroadcaster(logger)
	go stream.LogVerdicts(ctx)

	// === Executor + dispatcher ===
	exec := deps.Executor
	if exec == nil {
		exec = executor.NewSimulated(2*time.Second, logger)
	}
	dispatcher := dispatch.New(store, ledgerRepo, commandRepo, cooldownRepo,
		approvalRepo, identitySvc, exec, stream, logger)
	dispatcher.SetExecutionTimeout(cfg.ExecutionTimeout)

	handler := api.NewHandler(dispatcher, ledgerSvc, identitySvc, policySvc, designSvc, logger)

	return &App{
		Handler:    handler,
		Dispatcher: dispatcher,
		Policies:   store,
		Principals: principalRepo,
		Stream:     stream,
	}, nil
}
