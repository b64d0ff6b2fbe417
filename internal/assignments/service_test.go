package assignments_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/assignments/assignmentstest"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
)

var (
	roleBotanist = roles.Role{ID: uuid.New(), Code: "botanico", DisplayName: "Botánico", Tier: roles.TierOperational}
	roleRegional = roles.Role{ID: uuid.New(), Code: "admin_regional", DisplayName: "Admin regional", Tier: roles.TierRegional}
)

func newLedger(opts ...assignments.Option) (*assignments.Service, *assignmentstest.Store) {
	store := assignmentstest.NewStore(roleBotanist, roleRegional)
	return assignments.NewService(store, store.Roles(), opts...), store
}

func approvedUser(store *assignmentstest.Store) uuid.UUID {
	id := uuid.New()
	store.PutUser(assignments.UserInfo{ID: id, FullName: "Ana", Email: id.String() + "@x.com", ApprovalState: shared.ApprovalApproved, Active: true})
	return id
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestHasRoleTogglesWithDeactivate(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger()
	userID := approvedUser(store)

	a, err := svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: roleBotanist.ID})
	require.NoError(t, err)
	assert.True(t, a.Active)
	assert.Equal(t, "botanico", a.Role.Code)
	assert.True(t, a.Scope().IsNational())

	has, err := svc.HasRole(ctx, userID, "botanico")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = svc.Deactivate(ctx, a.ID)
	require.NoError(t, err)
	has, err = svc.HasRole(ctx, userID, "botanico")
	require.NoError(t, err)
	assert.False(t, has)

	again, err := svc.Deactivate(ctx, a.ID)
	require.NoError(t, err, "deactivate is idempotent")
	assert.False(t, again.Active)

	_, err = svc.Activate(ctx, a.ID)
	require.NoError(t, err)
	has, err = svc.HasRole(ctx, userID, "BOTANICO")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDuplicateActiveAssignmentConflicts(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger()
	userID := approvedUser(store)

	first, err := svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: roleBotanist.ID})
	require.NoError(t, err)

	_, err = svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: roleBotanist.ID})
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.Deactivate(ctx, first.ID)
	require.NoError(t, err)
	second, err := svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: roleBotanist.ID})
	require.NoError(t, err, "an inactive assignment does not block a new grant")

	_, err = svc.Activate(ctx, first.ID)
	assert.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Activate(ctx, second.ID)
	assert.NoError(t, err)
}

func TestConcurrentCreateExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger()
	userID := approvedUser(store)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: roleBotanist.ID})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, store.Len())
}

func TestCreateRequiresApprovedOwner(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger()
	pending := uuid.New()
	store.PutUser(assignments.UserInfo{ID: pending, ApprovalState: shared.ApprovalPending})

	_, err := svc.Create(ctx, assignments.CreateInput{UserID: pending, RoleID: roleBotanist.ID})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "pending")

	relaxed := assignments.NewService(store, store.Roles(), assignments.WithApprovalRequired(false))
	_, err = relaxed.Create(ctx, assignments.CreateInput{UserID: pending, RoleID: roleBotanist.ID})
	assert.NoError(t, err)
}

func TestCreateValidatesReferences(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger()
	userID := approvedUser(store)

	_, err := svc.Create(ctx, assignments.CreateInput{UserID: uuid.New(), RoleID: roleBotanist.ID})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: uuid.New()})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(ctx, assignments.CreateInput{RoleID: roleBotanist.ID})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRegionalRoleRequiresRegionOrDepartment(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger()
	userID := approvedUser(store)

	_, err := svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: roleRegional.ID,
		Location: shared.Location{MunicipalityID: ptr(uuid.New())}})
	assert.ErrorIs(t, err, shared.ErrValidation)

	a, err := svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: roleRegional.ID,
		Location: shared.Location{DepartmentID: ptr(uuid.New())}})
	require.NoError(t, err)
	assert.Equal(t, shared.ScopeDepartment, a.Scope().Kind)
}

func TestSearchAppliesMunicipalityPrecedence(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger()
	muni, dept := uuid.New(), uuid.New()

	inMuni := approvedUser(store)
	inDept := approvedUser(store)
	_, err := svc.Create(ctx, assignments.CreateInput{UserID: inMuni, RoleID: roleBotanist.ID,
		Location: shared.Location{MunicipalityID: &muni, DepartmentID: &dept}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, assignments.CreateInput{UserID: inDept, RoleID: roleBotanist.ID,
		Location: shared.Location{DepartmentID: &dept}})
	require.NoError(t, err)

	rows, err := svc.Search(ctx, assignments.Filters{
		RoleCode: "botanico",
		Location: shared.Location{MunicipalityID: &muni, DepartmentID: &dept},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, inMuni, rows[0].UserID)

	rows, err = svc.Search(ctx, assignments.Filters{RoleCode: "botanico", Location: shared.Location{DepartmentID: &dept}})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSearchDefaultsAndApprovalFilter(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(assignments.WithApprovalRequired(false))
	approved := approvedUser(store)
	inactive := uuid.New()
	store.PutUser(assignments.UserInfo{ID: inactive, ApprovalState: shared.ApprovalApproved, Active: false})

	a, err := svc.Create(ctx, assignments.CreateInput{UserID: approved, RoleID: roleBotanist.ID})
	require.NoError(t, err)
	_, err = svc.Create(ctx, assignments.CreateInput{UserID: inactive, RoleID: roleBotanist.ID})
	require.NoError(t, err)

	rows, err := svc.Search(ctx, assignments.Filters{RoleCode: "botanico"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = svc.Search(ctx, assignments.Filters{RoleCode: "botanico", OnlyApproved: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, approved, rows[0].User.ID)

	_, err = svc.Deactivate(ctx, a.ID)
	require.NoError(t, err)
	inactiveOnly := false
	rows, err = svc.Search(ctx, assignments.Filters{RoleCode: "botanico", Active: &inactiveOnly})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a.ID, rows[0].ID)
}

func TestFiltersResolve(t *testing.T) {
	region, dept := uuid.New(), uuid.New()
	q := assignments.Filters{RoleCode: " Botanico ", Location: shared.Location{RegionID: &region, DepartmentID: &dept}}.Resolve()
	assert.True(t, q.Active)
	assert.Equal(t, "botanico", q.RoleCode)
	assert.Equal(t, shared.Scope{Kind: shared.ScopeDepartment, ID: dept}, q.Scope)
}

func TestUserWideOperations(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger()
	userID := approvedUser(store)
	_, err := svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: roleBotanist.ID})
	require.NoError(t, err)
	_, err = svc.Create(ctx, assignments.CreateInput{UserID: userID, RoleID: roleRegional.ID, Location: shared.Location{RegionID: ptr(uuid.New())}})
	require.NoError(t, err)

	n, err := svc.DeactivateAllForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := svc.ActiveForUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.ListByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err = svc.DeleteAllForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, store.Len())
}
