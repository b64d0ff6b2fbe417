package assignments

import (
	"context"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
)

// RepositoryPort defines ledger persistence.
type RepositoryPort interface {
	GetUser(ctx context.Context, id uuid.UUID) (UserInfo, error)
	Insert(ctx context.Context, in CreateInput) (Assignment, error)
	Get(ctx context.Context, id uuid.UUID) (Assignment, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Assignment, error)
	ActiveForUser(ctx context.Context, userID uuid.UUID) ([]Assignment, error)
	List(ctx context.Context) ([]Row, error)
	Search(ctx context.Context, q Query) ([]Row, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (Assignment, error)
	HasActiveRole(ctx context.Context, userID uuid.UUID, code string) (bool, error)
	DeactivateAllForUser(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// RoleReader resolves catalog roles.
type RoleReader interface {
	Get(ctx context.Context, id uuid.UUID) (roles.Role, error)
}

// Option configures a Service.
type Option func(*Service)

// WithApprovalRequired sets whether assignment owners must be approved.
func WithApprovalRequired(required bool) Option {
	return func(s *Service) { s.requireApproved = required }
}

// Service maintains the role assignment ledger.
type Service struct {
	repo            RepositoryPort
	roles           RoleReader
	requireApproved bool
}

// NewService builds Service instance. Owners must be approved unless an
// option relaxes the policy.
func NewService(repo RepositoryPort, roles RoleReader, opts ...Option) *Service {
	s := &Service{repo: repo, roles: roles, requireApproved: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create grants a role to a user. Concurrent grants of the same role are
// settled by the store: the loser gets Conflict.
func (s *Service) Create(ctx context.Context, in CreateInput) (Assignment, error) {
	if in.UserID == uuid.Nil {
		return Assignment{}, shared.Validationf("user_id is required")
	}
	if in.RoleID == uuid.Nil {
		return Assignment{}, shared.Validationf("role_id is required")
	}
	in.Location = in.Location.Normalize()

	user, err := s.repo.GetUser(ctx, in.UserID)
	if err != nil {
		return Assignment{}, err
	}
	if s.requireApproved && user.ApprovalState != shared.ApprovalApproved {
		return Assignment{}, shared.Validationf("user is %s; only approved users can receive roles", user.ApprovalState)
	}

	role, err := s.roles.Get(ctx, in.RoleID)
	if err != nil {
		return Assignment{}, err
	}
	if role.RequiresScope() && in.RegionID == nil && in.DepartmentID == nil {
		return Assignment{}, shared.Validationf("role %s requires a region_id or department_id", role.Code)
	}

	return s.repo.Insert(ctx, in)
}

// Get returns one assignment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Assignment, error) {
	return s.repo.Get(ctx, id)
}

// ListByUser returns all assignments of a user, active or not.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Assignment, error) {
	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Assignment{}
	}
	return items, nil
}

// ActiveForUser returns the active assignments of a user.
func (s *Service) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]Assignment, error) {
	return s.repo.ActiveForUser(ctx, userID)
}

// List returns the whole ledger joined with owners.
func (s *Service) List(ctx context.Context) ([]Row, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// Search finds personnel of a role in a location. When several geographic ids
// are given only the most specific one filters.
func (s *Service) Search(ctx context.Context, f Filters) ([]Row, error) {
	rows, err := s.repo.Search(ctx, f.Resolve())
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// Deactivate turns an assignment off. Repeating it succeeds.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (Assignment, error) {
	return s.repo.SetActive(ctx, id, false)
}

// Activate turns an assignment back on. Repeating it succeeds.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (Assignment, error) {
	return s.repo.SetActive(ctx, id, true)
}

// HasRole reports whether the user holds the role code through an active assignment.
func (s *Service) HasRole(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	code = roles.NormalizeCode(code)
	if code == "" {
		return false, shared.Validationf("role code is required")
	}
	return s.repo.HasActiveRole(ctx, userID, code)
}

// DeactivateAllForUser turns off every active assignment of a user.
func (s *Service) DeactivateAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.DeactivateAllForUser(ctx, userID)
}

// DeleteAllForUser removes every assignment of a user. Only user hard-delete calls this.
func (s *Service) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.DeleteAllForUser(ctx, userID)
}
