package grants

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/platform/db"
	"github.com/fieldcrew/identity/internal/privileges"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
)

// RepositoryPort defines binding persistence.
type RepositoryPort interface {
	Insert(ctx context.Context, roleID, privilegeID uuid.UUID) (bool, error)
	Delete(ctx context.Context, roleID, privilegeID uuid.UUID) (bool, error)
	DeleteAll(ctx context.Context, roleID uuid.UUID) (int, error)
	ListByRole(ctx context.Context, roleID uuid.UUID) ([]privileges.Privilege, error)
	ListByRoles(ctx context.Context, roleIDs []uuid.UUID) ([]privileges.Privilege, error)
}

// RoleReader resolves roles by id.
type RoleReader interface {
	Get(ctx context.Context, id uuid.UUID) (roles.Role, error)
}

// PrivilegeReader resolves privileges by id.
type PrivilegeReader interface {
	Get(ctx context.Context, id uuid.UUID) (privileges.Privilege, error)
}

// Service maintains the role-privilege graph.
type Service struct {
	repo       RepositoryPort
	roles      RoleReader
	privileges PrivilegeReader
	tx         db.Transactor
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RoleReader, privileges PrivilegeReader, tx db.Transactor) *Service {
	return &Service{repo: repo, roles: roles, privileges: privileges, tx: tx}
}

// Assign binds a privilege to a role. Binding an existing pair succeeds with
// AlreadyAssigned set.
func (s *Service) Assign(ctx context.Context, roleID, privilegeID uuid.UUID) (AssignResult, error) {
	if _, err := s.roles.Get(ctx, roleID); err != nil {
		return AssignResult{}, err
	}
	return s.assign(ctx, roleID, privilegeID)
}

func (s *Service) assign(ctx context.Context, roleID, privilegeID uuid.UUID) (AssignResult, error) {
	if privilegeID == uuid.Nil {
		return AssignResult{}, shared.Validationf("privilege id is required")
	}
	if _, err := s.privileges.Get(ctx, privilegeID); err != nil {
		return AssignResult{}, err
	}
	inserted, err := s.repo.Insert(ctx, roleID, privilegeID)
	if err != nil {
		return AssignResult{}, err
	}
	return AssignResult{RoleID: roleID, PrivilegeID: privilegeID, AlreadyAssigned: !inserted}, nil
}

// AssignMany binds each privilege independently. It never rolls back: items
// bound before a failure stay bound and failures are listed in the report.
func (s *Service) AssignMany(ctx context.Context, roleID uuid.UUID, privilegeIDs []uuid.UUID) (BatchReport, error) {
	if len(privilegeIDs) == 0 {
		return BatchReport{}, shared.Validationf("privilege_ids must not be empty")
	}
	if _, err := s.roles.Get(ctx, roleID); err != nil {
		return BatchReport{}, err
	}
	report := BatchReport{Assigned: []uuid.UUID{}, AlreadyAssigned: []uuid.UUID{}, Failures: []Failure{}}
	for _, id := range privilegeIDs {
		res, err := s.assign(ctx, roleID, id)
		switch {
		case err != nil:
			report.Failures = append(report.Failures, Failure{PrivilegeID: id, Error: err.Error()})
		case res.AlreadyAssigned:
			report.AlreadyAssigned = append(report.AlreadyAssigned, id)
		default:
			report.Assigned = append(report.Assigned, id)
		}
	}
	return report, nil
}

// Remove deletes a binding. Removing an absent binding is a no-op.
func (s *Service) Remove(ctx context.Context, roleID, privilegeID uuid.UUID) error {
	if _, err := s.roles.Get(ctx, roleID); err != nil {
		return err
	}
	_, err := s.repo.Delete(ctx, roleID, privilegeID)
	return err
}

// ReplaceAll swaps a role's privilege set inside one transaction. Any failure
// leaves the previous set untouched.
func (s *Service) ReplaceAll(ctx context.Context, roleID uuid.UUID, privilegeIDs []uuid.UUID) (ReplaceReport, error) {
	if _, err := s.roles.Get(ctx, roleID); err != nil {
		return ReplaceReport{}, err
	}
	wanted := dedupe(privilegeIDs)
	for i, id := range wanted {
		if id == uuid.Nil {
			return ReplaceReport{}, shared.Validationf("privilege_ids[%d] is required", i)
		}
	}

	var report ReplaceReport
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.ListByRole(ctx, roleID)
		if err != nil {
			return err
		}
		report.Previous = len(current)

		removed, err := s.repo.DeleteAll(ctx, roleID)
		if err != nil {
			return err
		}
		report.Removed = removed

		for i, id := range wanted {
			if _, err := s.privileges.Get(ctx, id); err != nil {
				return fmt.Errorf("privilege_ids[%d]: %w", i, err)
			}
			if _, err := s.repo.Insert(ctx, roleID, id); err != nil {
				return fmt.Errorf("privilege_ids[%d]: %w", i, err)
			}
			report.Assigned++
		}
		return nil
	})
	if err != nil {
		return ReplaceReport{}, err
	}
	return report, nil
}

// ListByRole returns a role with its resolved privileges.
func (s *Service) ListByRole(ctx context.Context, roleID uuid.UUID) (RolePrivileges, error) {
	role, err := s.roles.Get(ctx, roleID)
	if err != nil {
		return RolePrivileges{}, err
	}
	items, err := s.repo.ListByRole(ctx, roleID)
	if err != nil {
		return RolePrivileges{}, err
	}
	if items == nil {
		items = []privileges.Privilege{}
	}
	return RolePrivileges{Role: role, Privileges: items}, nil
}

// PrivilegesForRoles returns the distinct privileges bound to any of the roles.
func (s *Service) PrivilegesForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]privileges.Privilege, error) {
	return s.repo.ListByRoles(ctx, dedupe(roleIDs))
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
