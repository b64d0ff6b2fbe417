// Package assignmentstest provides an in-memory ledger for tests.
package assignmentstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
)

// Store implements assignments.RepositoryPort in memory, including the
// one-active-assignment-per-role uniqueness rule.
type Store struct {
	mu    sync.Mutex
	items map[uuid.UUID]assignments.Assignment
	roles map[uuid.UUID]roles.Role
	users map[uuid.UUID]assignments.UserInfo
	// LookupUser overrides the local user table when set.
	LookupUser func(ctx context.Context, id uuid.UUID) (assignments.UserInfo, error)
	// FailInsert, when set, is returned by Insert.
	FailInsert error
}

// NewStore builds a store over a fixed role catalog.
func NewStore(catalog ...roles.Role) *Store {
	s := &Store{
		items: make(map[uuid.UUID]assignments.Assignment),
		roles: make(map[uuid.UUID]roles.Role),
		users: make(map[uuid.UUID]assignments.UserInfo),
	}
	for _, r := range catalog {
		s.roles[r.ID] = r
	}
	return s
}

// PutUser registers an owner.
func (s *Store) PutUser(u assignments.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Role looks up a catalog role.
func (s *Store) Role(ctx context.Context, id uuid.UUID) (roles.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.roles[id]; ok {
		return r, nil
	}
	return roles.Role{}, shared.NotFoundf("role %s", id)
}

// Roles adapts the catalog to assignments.RoleReader.
func (s *Store) Roles() RoleReader {
	return RoleReader{s}
}

// RoleReader exposes the store's catalog through Get.
type RoleReader struct{ s *Store }

// Get returns a role by id.
func (r RoleReader) Get(ctx context.Context, id uuid.UUID) (roles.Role, error) {
	return r.s.Role(ctx, id)
}

// Snapshot implements dbtest.Snapshotter.
func (s *Store) Snapshot() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := make(map[uuid.UUID]assignments.Assignment, len(s.items))
	for k, v := range s.items {
		saved[k] = v
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.items = saved
	}
}

// Len reports the number of stored assignments.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (assignments.UserInfo, error) {
	if s.LookupUser != nil {
		return s.LookupUser(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return assignments.UserInfo{}, shared.NotFoundf("user %s", id)
}

func (s *Store) Insert(ctx context.Context, in assignments.CreateInput) (assignments.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return assignments.Assignment{}, s.FailInsert
	}
	role, ok := s.roles[in.RoleID]
	if !ok {
		return assignments.Assignment{}, shared.NotFoundf("role %s", in.RoleID)
	}
	for _, a := range s.items {
		if a.Active && a.UserID == in.UserID && a.RoleID == in.RoleID {
			return assignments.Assignment{}, shared.Conflictf("user %s already holds role %s", in.UserID, in.RoleID)
		}
	}
	now := time.Now()
	a := assignments.Assignment{
		ID:        uuid.New(),
		UserID:    in.UserID,
		RoleID:    in.RoleID,
		Location:  in.Location.Normalize(),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
		Role:      assignments.RoleInfoFrom(role),
	}
	s.items[a.ID] = a
	return a, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (assignments.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.items[id]; ok {
		return a, nil
	}
	return assignments.Assignment{}, shared.NotFoundf("role assignment %s", id)
}

func (s *Store) filter(keep func(assignments.Assignment) bool) []assignments.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []assignments.Assignment
	for _, a := range s.items {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID) ([]assignments.Assignment, error) {
	return s.filter(func(a assignments.Assignment) bool { return a.UserID == userID }), nil
}

func (s *Store) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]assignments.Assignment, error) {
	return s.filter(func(a assignments.Assignment) bool { return a.UserID == userID && a.Active }), nil
}

func (s *Store) List(ctx context.Context) ([]assignments.Row, error) {
	return s.rows(ctx, s.filter(func(assignments.Assignment) bool { return true }))
}

func (s *Store) Search(ctx context.Context, q assignments.Query) ([]assignments.Row, error) {
	matches := s.filter(func(a assignments.Assignment) bool {
		if a.Active != q.Active {
			return false
		}
		if q.RoleCode != "" && a.Role.Code != q.RoleCode {
			return false
		}
		switch q.Scope.Kind {
		case shared.ScopeMunicipality:
			return a.MunicipalityID != nil && *a.MunicipalityID == q.Scope.ID
		case shared.ScopeDepartment:
			return a.DepartmentID != nil && *a.DepartmentID == q.Scope.ID
		case shared.ScopeRegion:
			return a.RegionID != nil && *a.RegionID == q.Scope.ID
		}
		return true
	})
	rows, err := s.rows(ctx, matches)
	if err != nil || !q.OnlyApproved {
		return rows, err
	}
	var out []assignments.Row
	for _, r := range rows {
		if r.User.ApprovalState == shared.ApprovalApproved && r.User.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) rows(ctx context.Context, items []assignments.Assignment) ([]assignments.Row, error) {
	out := make([]assignments.Row, 0, len(items))
	for _, a := range items {
		u, err := s.GetUser(ctx, a.UserID)
		if err != nil {
			return nil, err
		}
		out = append(out, assignments.Row{Assignment: a, User: u})
	}
	return out, nil
}

func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) (assignments.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return assignments.Assignment{}, shared.NotFoundf("role assignment %s", id)
	}
	if active && !a.Active {
		for _, other := range s.items {
			if other.ID != id && other.Active && other.UserID == a.UserID && other.RoleID == a.RoleID {
				return assignments.Assignment{}, shared.Conflictf("user already holds an active assignment of this role")
			}
		}
	}
	a.Active = active
	a.UpdatedAt = time.Now()
	s.items[id] = a
	return a, nil
}

func (s *Store) HasActiveRole(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	return len(s.filter(func(a assignments.Assignment) bool {
		return a.UserID == userID && a.Active && a.Role.Code == code
	})) > 0, nil
}

func (s *Store) DeactivateAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.items {
		if a.UserID == userID && a.Active {
			a.Active = false
			a.UpdatedAt = time.Now()
			s.items[id] = a
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.items {
		if a.UserID == userID {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

var _ assignments.RepositoryPort = (*Store)(nil)
