package roles

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	List(ctx context.Context) ([]Role, error)
	ListByTier(ctx context.Context, tier Tier) ([]Role, error)
	Get(ctx context.Context, id uuid.UUID) (Role, error)
	GetByCode(ctx context.Context, code string) (Role, error)
	Create(ctx context.Context, input CreateInput) (Role, error)
}

// Service handles role business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns all roles, highest tier first, then by code.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	roles, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(roles, func(i, j int) bool {
		if ri, rj := roles[i].Tier.Rank(), roles[j].Tier.Rank(); ri != rj {
			return ri > rj
		}
		return roles[i].Code < roles[j].Code
	})
	return roles, nil
}

// ListByTier returns the roles of one tier.
func (s *Service) ListByTier(ctx context.Context, raw string) ([]Role, error) {
	tier, err := ParseTier(raw)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByTier(ctx, tier)
}

// Get returns a role by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Role, error) {
	return s.repo.Get(ctx, id)
}

// GetByCode returns a role by code.
func (s *Service) GetByCode(ctx context.Context, code string) (Role, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Role{}, shared.Validationf("role code is required")
	}
	return s.repo.GetByCode(ctx, code)
}

// Create validates and stores a new role. Duplicate codes surface as Conflict
// from the store's uniqueness constraint.
func (s *Service) Create(ctx context.Context, input CreateInput) (Role, error) {
	input.Code = NormalizeCode(input.Code)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	input.Description = strings.TrimSpace(input.Description)
	if input.Code == "" {
		return Role{}, shared.Validationf("role code is required")
	}
	if strings.ContainsAny(input.Code, " \t") {
		return Role{}, shared.Validationf("role code must not contain whitespace")
	}
	if input.DisplayName == "" {
		return Role{}, shared.Validationf("display name is required")
	}
	if !input.Tier.Valid() {
		return Role{}, shared.Validationf("tier %q is not one of system, regional, operational", input.Tier)
	}
	return s.repo.Create(ctx, input)
}

// NormalizeCode trims and lowercases a role code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
