// Package service implements the application services behind the HTTP
// and CLI surfaces: identity resolution, ledger queries, policy
// administration, and design validation.
package service

import (
	"context"

	"opsgate/internal/domain"
	"opsgate/internal/policy"
)

// IdentityService resolves actors to roles via the principal directory
// and answers grant questions against the active policy snapshot. It is
// the domain.RoleSource used by the dispatcher.
type IdentityService struct {
	principals domain.PrincipalRepository
	policies   *policy.Store
}

func NewIdentityService(principals domain.PrincipalRepository, policies *policy.Store) *IdentityService {
	return &IdentityService{principals: principals, policies: policies}
}

func (s *IdentityService) RoleOf(ctx context.Context, actor string) (string, error) {
	p, err := s.principals.GetByName(ctx, actor)
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

func (s *IdentityService) HasGrant(ctx context.Context, actor, grant string) (bool, error) {
	role, err := s.RoleOf(ctx, actor)
	if err != nil {
		return false, err
	}
	return s.policies.Active().RoleHasGrant(role, grant), nil
}

// CreatePrincipal registers a new actor. The role must be declared in the
// active policy set so a typo cannot silently create a grantless account.
func (s *IdentityService) CreatePrincipal(ctx context.Context, p *domain.Principal) (*domain.Principal, error) {
	if p.Name == "" {
		return nil, domain.ErrValidation("principal name is required")
	}
	if _, ok := s.policies.Active().RolePermissions(p.Role); !ok {
		return nil, domain.ErrValidation("role %q is not declared in the active policy set", p.Role)
	}
	return s.principals.Create(ctx, p)
}

func (s *IdentityService) ListPrincipals(ctx context.Context) ([]domain.Principal, error) {
	return s.principals.List(ctx)
}

func (s *IdentityService) DeletePrincipal(ctx context.Context, id int64) error {
	return s.principals.Delete(ctx, id)
}
