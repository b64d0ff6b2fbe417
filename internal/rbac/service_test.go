package rbac_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/assignments/assignmentstest"
	"github.com/fieldcrew/identity/internal/privileges"
	"github.com/fieldcrew/identity/internal/rbac"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
)

var (
	roleSuperAdmin = roles.Role{ID: uuid.New(), Code: shared.RoleSuperAdmin, Tier: roles.TierSystem}
	roleRegional   = roles.Role{ID: uuid.New(), Code: shared.RoleRegionalAdmin, Tier: roles.TierRegional}
	roleLead       = roles.Role{ID: uuid.New(), Code: shared.RoleBrigadeLead, Tier: roles.TierOperational}
	roleBotanist   = roles.Role{ID: uuid.New(), Code: shared.RoleBotanist, Tier: roles.TierOperational}

	privUsersView    = privileges.Privilege{ID: uuid.New(), Code: shared.PermUsersView, Category: privileges.CategoryUsers}
	privUsersApprove = privileges.Privilege{ID: uuid.New(), Code: shared.PermUsersApprove, Category: privileges.CategoryUsers}
	privBrigadesView = privileges.Privilege{ID: uuid.New(), Code: "brigades.view", Category: privileges.CategoryBrigades}
)

// graphStub is a fixed role-privilege graph.
type graphStub map[uuid.UUID][]privileges.Privilege

func (g graphStub) PrivilegesForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]privileges.Privilege, error) {
	var out []privileges.Privilege
	for _, id := range roleIDs {
		out = append(out, g[id]...)
	}
	return out, nil
}

// catalogStub resolves codes against a fixed set.
type catalogStub []roles.Role

func (c catalogStub) GetByCode(ctx context.Context, code string) (roles.Role, error) {
	for _, r := range c {
		if r.Code == code {
			return r, nil
		}
	}
	return roles.Role{}, shared.NotFoundf("role %s", code)
}

type env struct {
	resolver *rbac.Resolver
	store    *assignmentstest.Store
	ledger   *assignments.Service
}

func newEnv() env {
	store := assignmentstest.NewStore(roleSuperAdmin, roleRegional, roleLead, roleBotanist)
	graph := graphStub{
		roleSuperAdmin.ID: {privUsersView, privUsersApprove, privBrigadesView},
		roleRegional.ID:   {privUsersView, privUsersApprove},
		roleLead.ID:       {privBrigadesView, privUsersView},
		roleBotanist.ID:   {privBrigadesView},
	}
	catalog := catalogStub{roleSuperAdmin, roleRegional, roleLead, roleBotanist}
	return env{
		resolver: rbac.NewResolver(store, graph, catalog),
		store:    store,
		ledger:   assignments.NewService(store, store.Roles()),
	}
}

func (e env) user() uuid.UUID {
	id := uuid.New()
	e.store.PutUser(assignments.UserInfo{ID: id, Email: id.String() + "@x.com", ApprovalState: shared.ApprovalApproved, Active: true})
	return id
}

func (e env) grant(t *testing.T, userID uuid.UUID, role roles.Role, loc shared.Location) assignments.Assignment {
	t.Helper()
	a, err := e.ledger.Create(context.Background(), assignments.CreateInput{UserID: userID, RoleID: role.ID, Location: loc})
	require.NoError(t, err)
	return a
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestEffectivePrivilegesDedupedAndSorted(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	userID := e.user()
	e.grant(t, userID, roleLead, shared.Location{})
	e.grant(t, userID, roleBotanist, shared.Location{})

	got, err := e.resolver.EffectivePrivileges(ctx, userID)
	require.NoError(t, err)
	codes := make([]string, 0, len(got))
	for _, p := range got {
		codes = append(codes, p.Code)
	}
	assert.Equal(t, []string{"brigades.view", shared.PermUsersView}, codes)
}

func TestEffectivePrivilegesExcludeInactive(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	userID := e.user()
	a := e.grant(t, userID, roleRegional, shared.Location{RegionID: ptr(uuid.New())})

	ok, err := e.resolver.HasPrivilege(ctx, userID, shared.PermUsersApprove)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.ledger.Deactivate(ctx, a.ID)
	require.NoError(t, err)

	ok, err = e.resolver.HasPrivilege(ctx, userID, shared.PermUsersApprove)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := e.resolver.EffectivePrivileges(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestHasRoleAtOrAbove(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	userID := e.user()
	e.grant(t, userID, roleRegional, shared.Location{RegionID: ptr(uuid.New())})

	ok, err := e.resolver.HasRoleAtOrAbove(ctx, userID, roles.TierOperational)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.resolver.HasRoleAtOrAbove(ctx, userID, roles.TierRegional)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.resolver.HasRoleAtOrAbove(ctx, userID, roles.TierSystem)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.resolver.HasRoleAtOrAbove(ctx, userID, roles.Tier("galactic"))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSatisfiesRoleEscalatesByTier(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	admin := e.user()
	e.grant(t, admin, roleSuperAdmin, shared.Location{})
	lead := e.user()
	e.grant(t, lead, roleLead, shared.Location{})

	ok, err := e.resolver.SatisfiesRole(ctx, admin, shared.RoleRegionalAdmin)
	require.NoError(t, err)
	assert.True(t, ok, "system tier outranks regional")

	ok, err = e.resolver.SatisfiesRole(ctx, lead, shared.RoleBotanist)
	require.NoError(t, err)
	assert.False(t, ok, "same tier does not escalate")

	ok, err = e.resolver.SatisfiesRole(ctx, lead, shared.RoleBrigadeLead)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.resolver.SatisfiesRole(ctx, lead, "nope")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestHasPrivilegeAtRespectsScope(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	userID := e.user()
	region, otherRegion, muni := uuid.New(), uuid.New(), uuid.New()
	e.grant(t, userID, roleRegional, shared.Location{RegionID: ptr(region)})
	e.grant(t, userID, roleBotanist, shared.Location{MunicipalityID: ptr(muni)})

	ok, err := e.resolver.HasPrivilegeAt(ctx, userID, shared.PermUsersApprove, shared.Location{RegionID: ptr(region), MunicipalityID: ptr(uuid.New())})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.resolver.HasPrivilegeAt(ctx, userID, shared.PermUsersApprove, shared.Location{RegionID: ptr(otherRegion)})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.resolver.HasPrivilegeAt(ctx, userID, "brigades.view", shared.Location{MunicipalityID: ptr(muni)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.resolver.HasPrivilegeAt(ctx, userID, "brigades.view", shared.Location{RegionID: ptr(otherRegion)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNationalAssignmentCoversEverywhere(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	userID := e.user()
	e.grant(t, userID, roleSuperAdmin, shared.Location{})

	ok, err := e.resolver.HasPrivilegeAt(ctx, userID, shared.PermUsersView, shared.Location{DepartmentID: ptr(uuid.New())})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDescribe(t *testing.T) {
	e := newEnv()
	userID := e.user()
	e.grant(t, userID, roleLead, shared.Location{})

	id, err := e.resolver.Describe(context.Background(), shared.Principal{UserID: userID, Email: "lead@x.com"})
	require.NoError(t, err)
	require.Len(t, id.Roles, 1)
	assert.Equal(t, shared.RoleBrigadeLead, id.Roles[0].Code)
	assert.Equal(t, []string{"brigades.view", shared.PermUsersView}, id.Privileges)
}
