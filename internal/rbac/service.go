package rbac

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/privileges"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
)

// Resolver answers authorization questions. It keeps no state of its own;
// every answer reads the current ledger and graph.
type Resolver struct {
	assignments AssignmentReader
	graph       GraphReader
	catalog     RoleCatalog
}

// NewResolver constructs a Resolver.
func NewResolver(assignments AssignmentReader, graph GraphReader, catalog RoleCatalog) *Resolver {
	return &Resolver{assignments: assignments, graph: graph, catalog: catalog}
}

// HasRole reports whether the user holds the role through an active assignment.
func (r *Resolver) HasRole(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	code = roles.NormalizeCode(code)
	active, err := r.assignments.ActiveForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range active {
		if a.Role.Code == code {
			return true, nil
		}
	}
	return false, nil
}

// HasRoleAtOrAbove reports whether any active role ranks at least min.
func (r *Resolver) HasRoleAtOrAbove(ctx context.Context, userID uuid.UUID, min roles.Tier) (bool, error) {
	if !min.Valid() {
		return false, shared.Validationf("unknown tier %q", min)
	}
	active, err := r.assignments.ActiveForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range active {
		if a.Role.Tier.AtLeast(min) {
			return true, nil
		}
	}
	return false, nil
}

// SatisfiesRole reports whether the user holds the role or any active role of
// a strictly higher tier.
func (r *Resolver) SatisfiesRole(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	required, err := r.catalog.GetByCode(ctx, code)
	if err != nil {
		return false, err
	}
	active, err := r.assignments.ActiveForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range active {
		if a.Role.Code == required.Code || a.Role.Tier.Rank() > required.Tier.Rank() {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePrivileges returns the privileges reachable through the user's
// active assignments, unique by code and sorted by code.
func (r *Resolver) EffectivePrivileges(ctx context.Context, userID uuid.UUID) ([]privileges.Privilege, error) {
	active, err := r.assignments.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.privilegesOf(ctx, active)
}

// HasPrivilege reports whether the privilege is reachable through any active assignment.
func (r *Resolver) HasPrivilege(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	granted, err := r.EffectivePrivileges(ctx, userID)
	if err != nil {
		return false, err
	}
	return containsCode(granted, code), nil
}

// HasPrivilegeAt is HasPrivilege restricted to assignments whose scope covers loc.
func (r *Resolver) HasPrivilegeAt(ctx context.Context, userID uuid.UUID, code string, loc shared.Location) (bool, error) {
	active, err := r.assignments.ActiveForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	covering := active[:0:0]
	for _, a := range active {
		if a.Scope().Covers(loc) {
			covering = append(covering, a)
		}
	}
	granted, err := r.privilegesOf(ctx, covering)
	if err != nil {
		return false, err
	}
	return containsCode(granted, code), nil
}

// Describe assembles the caller's roles and privilege codes.
func (r *Resolver) Describe(ctx context.Context, p shared.Principal) (Identity, error) {
	active, err := r.assignments.ActiveForUser(ctx, p.UserID)
	if err != nil {
		return Identity{}, err
	}
	granted, err := r.privilegesOf(ctx, active)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{UserID: p.UserID, Email: p.Email, Roles: []assignments.RoleInfo{}, Privileges: make([]string, 0, len(granted))}
	seen := make(map[string]struct{}, len(active))
	for _, a := range active {
		if _, ok := seen[a.Role.Code]; ok {
			continue
		}
		seen[a.Role.Code] = struct{}{}
		id.Roles = append(id.Roles, a.Role)
	}
	for _, g := range granted {
		id.Privileges = append(id.Privileges, g.Code)
	}
	return id, nil
}

func (r *Resolver) privilegesOf(ctx context.Context, active []assignments.Assignment) ([]privileges.Privilege, error) {
	if len(active) == 0 {
		return []privileges.Privilege{}, nil
	}
	roleIDs := make([]uuid.UUID, 0, len(active))
	for _, a := range active {
		roleIDs = append(roleIDs, a.RoleID)
	}
	items, err := r.graph.PrivilegesForRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]privileges.Privilege, len(items))
	for _, p := range items {
		byCode[p.Code] = p
	}
	out := make([]privileges.Privilege, 0, len(byCode))
	for _, p := range byCode {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func containsCode(granted []privileges.Privilege, code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, p := range granted {
		if p.Code == code {
			return true
		}
	}
	return false
}
