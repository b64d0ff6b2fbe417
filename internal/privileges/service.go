package privileges

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/shared"
)

// RepositoryPort defines data access methods for privileges.
type RepositoryPort interface {
	List(ctx context.Context) ([]Privilege, error)
	ListByCategory(ctx context.Context, category Category) ([]Privilege, error)
	Get(ctx context.Context, id uuid.UUID) (Privilege, error)
	GetByCode(ctx context.Context, code string) (Privilege, error)
	Create(ctx context.Context, input CreateInput) (Privilege, error)
}

// Service handles privilege catalog logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns the full catalog.
func (s *Service) List(ctx context.Context) ([]Privilege, error) {
	return s.repo.List(ctx)
}

// ListByCategory returns one category of the catalog.
func (s *Service) ListByCategory(ctx context.Context, raw string) ([]Privilege, error) {
	category, err := ParseCategory(raw)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByCategory(ctx, category)
}

// Grouped returns the catalog keyed by category. Every enumerated category is
// present, possibly with an empty slice.
func (s *Service) Grouped(ctx context.Context) (map[Category][]Privilege, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[Category][]Privilege, len(Categories()))
	for _, c := range Categories() {
		out[c] = []Privilege{}
	}
	for _, p := range all {
		out[p.Category] = append(out[p.Category], p)
	}
	return out, nil
}

// Get returns a privilege by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Privilege, error) {
	return s.repo.Get(ctx, id)
}

// GetByCode returns a privilege by code.
func (s *Service) GetByCode(ctx context.Context, code string) (Privilege, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Privilege{}, shared.Validationf("privilege code is required")
	}
	return s.repo.GetByCode(ctx, code)
}

// Create validates and stores a new privilege, recording the acting user.
func (s *Service) Create(ctx context.Context, input CreateInput) (Privilege, error) {
	input.Code = NormalizeCode(input.Code)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	input.Description = strings.TrimSpace(input.Description)
	if input.Code == "" {
		return Privilege{}, shared.Validationf("privilege code is required")
	}
	if strings.ContainsAny(input.Code, " \t") {
		return Privilege{}, shared.Validationf("privilege code must not contain whitespace")
	}
	if input.DisplayName == "" {
		return Privilege{}, shared.Validationf("display name is required")
	}
	if !input.Category.Valid() {
		return Privilege{}, shared.Validationf("category %q is not enumerated", input.Category)
	}
	if input.CreatedBy == nil {
		if actor := shared.ActorID(ctx); actor != uuid.Nil {
			input.CreatedBy = &actor
		}
	}
	return s.repo.Create(ctx, input)
}

// NormalizeCode trims and lowercases a privilege code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
