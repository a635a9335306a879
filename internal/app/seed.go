package app

import (
	"context"
	"fmt"
	"log/slog"

	"opsgate/internal/db/repository"
	"opsgate/internal/domain"
	"opsgate/internal/service"
)

// seedBootstrapAdmin creates the configured admin principal when the
// directory is empty. Idempotent: once any principal exists the seed is
// skipped, so a deleted bootstrap account does not resurrect on restart.
func seedBootstrapAdmin(ctx context.Context, identity *service.IdentityService, principals *repository.PrincipalRepo, name string, logger *slog.Logger) error {
	if name == "" {
		return nil
	}

	existing, err := principals.List(ctx)
	if err != nil {
		return fmt.Errorf("list principals: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	if _, err := identity.CreatePrincipal(ctx, &domain.Principal{Name: name, Role: "admin"}); err != nil {
		return fmt.Errorf("seed bootstrap admin %q: %w", name, err)
	}
	logger.Info("seeded bootstrap admin principal", "name", name)
	return nil
}
