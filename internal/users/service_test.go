package users_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/assignments/assignmentstest"
	"github.com/fieldcrew/identity/internal/identity"
	"github.com/fieldcrew/identity/internal/platform/db/dbtest"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
	"github.com/fieldcrew/identity/internal/users"
)

var (
	roleSuperAdmin = roles.Role{ID: uuid.New(), Code: shared.RoleSuperAdmin, DisplayName: "Super admin", Tier: roles.TierSystem}
	roleBrigadista = roles.Role{ID: uuid.New(), Code: shared.RoleFieldWorker, DisplayName: "Brigadista", Tier: roles.TierOperational}
	roleBotanist   = roles.Role{ID: uuid.New(), Code: shared.RoleBotanist, DisplayName: "Botánico", Tier: roles.TierOperational}
)

type fixture struct {
	svc         *users.Service
	repo        *memRepo
	ledger      *assignmentstest.Store
	assignments *assignments.Service
	tx          *dbtest.Transactor
	credentials *fakeCredentials
	personnel   *fakePersonnel
	queue       *fakeQueue
	observer    *countingObserver
	audit       *auditSpy
}

func newFixture(t *testing.T, opts users.Options) *fixture {
	t.Helper()
	return newFixtureWith(t, opts)
}

func newFixtureWith(t *testing.T, opts users.Options, ledgerOpts ...assignments.Option) *fixture {
	t.Helper()
	repo := newMemRepo()
	store := assignmentstest.NewStore(roleSuperAdmin, roleBrigadista, roleBotanist)
	store.LookupUser = repo.lookup
	ledger := assignments.NewService(store, store.Roles(), ledgerOpts...)
	tx := dbtest.NewTransactor(repo, store)

	f := &fixture{
		repo:        repo,
		ledger:      store,
		assignments: ledger,
		tx:          tx,
		credentials: &fakeCredentials{},
		personnel:   &fakePersonnel{},
		queue:       &fakeQueue{},
		observer:    &countingObserver{},
		audit:       &auditSpy{},
	}
	f.svc = users.NewService(repo, ledger, tx, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.SetCredentialProvider(f.credentials)
	f.svc.SetPersonnelDirectory(f.personnel)
	f.svc.SetCleanupQueue(f.queue)
	f.svc.SetCleanupObserver(f.observer)
	f.svc.SetAuditRecorder(f.audit)
	return f
}

func registration(email string) users.CreateInput {
	return users.CreateInput{Email: email, NationalID: "CC-" + email, FullName: "Ana  Pérez"}
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestCreateRegistersPendingUser(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()

	u, err := f.svc.Create(ctx, registration(" Ana@Example.COM "))
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, "Ana Pérez", u.FullName)
	assert.Equal(t, shared.ApprovalPending, u.ApprovalState)
	assert.False(t, u.Active)

	_, err = f.svc.Create(ctx, registration("ana@example.com"))
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.Create(ctx, users.CreateInput{Email: "not-an-email", NationalID: "1", FullName: "X"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(ctx, users.CreateInput{Email: "b@example.com", FullName: "X"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	pending, err := f.svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCreateHonoursActiveOnCreate(t *testing.T) {
	f := newFixture(t, users.Options{ActiveOnCreate: true})
	u, err := f.svc.Create(context.Background(), registration("c@example.com"))
	require.NoError(t, err)
	assert.True(t, u.Active)
}

func TestApproveCreatesAssignments(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u, err := f.svc.Create(ctx, registration("field@example.com"))
	require.NoError(t, err)

	region := uuid.New()
	res, err := f.svc.Approve(ctx, u.ID, []users.RoleGrant{
		{RoleID: roleBrigadista.ID, Location: shared.Location{RegionID: ptr(region)}},
		{RoleID: roleBotanist.ID, Location: shared.Location{RegionID: ptr(region)}},
	})
	require.NoError(t, err)
	assert.Equal(t, shared.ApprovalApproved, res.User.ApprovalState)
	assert.True(t, res.User.Active)
	assert.NotNil(t, res.User.ApprovedAt)
	require.Len(t, res.Assignments, 2)
	assert.Equal(t, shared.RoleFieldWorker, res.Assignments[0].Role.Code)
	assert.Equal(t, 2, f.ledger.Len())
	assert.Contains(t, f.audit.actions, "user.approved")

	_, err = f.svc.Approve(ctx, u.ID, []users.RoleGrant{{RoleID: roleBotanist.ID, Location: shared.Location{RegionID: ptr(region)}}})
	assert.ErrorIs(t, err, shared.ErrValidation, "approved users cannot be approved again")
}

func TestApproveRejectsInvalidGrants(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u, err := f.svc.Create(ctx, registration("g@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, u.ID, nil)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Approve(ctx, u.ID, []users.RoleGrant{{RoleID: roleBotanist.ID}})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "roles[0]")

	_, err = f.svc.Approve(ctx, u.ID, []users.RoleGrant{{Location: shared.Location{RegionID: ptr(uuid.New())}}})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Approve(ctx, uuid.New(), []users.RoleGrant{{RoleID: roleBotanist.ID, Location: shared.Location{RegionID: ptr(uuid.New())}}})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	got, err := f.svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.ApprovalPending, got.ApprovalState)
	assert.Zero(t, f.ledger.Len())
	assert.Zero(t, f.tx.Commits+f.tx.Rollbacks, "validation runs before any transaction")
}

func TestApproveRollsBackOnFailingEntry(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u, err := f.svc.Create(ctx, registration("h@example.com"))
	require.NoError(t, err)

	region := uuid.New()
	_, err = f.svc.Approve(ctx, u.ID, []users.RoleGrant{
		{RoleID: roleBrigadista.ID, Location: shared.Location{RegionID: ptr(region)}},
		{RoleID: uuid.New(), Location: shared.Location{RegionID: ptr(region)}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Contains(t, err.Error(), "roles[1]")

	got, err := f.svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.ApprovalPending, got.ApprovalState)
	assert.False(t, got.Active)
	assert.Zero(t, f.ledger.Len(), "first assignment is rolled back")
	assert.Equal(t, 1, f.tx.Rollbacks)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u, err := f.svc.Create(ctx, registration("r@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, u.ID, "  short  ")
	assert.ErrorIs(t, err, shared.ErrValidation)

	rejected, err := f.svc.Reject(ctx, u.ID, "  missing field credentials  ")
	require.NoError(t, err)
	assert.Equal(t, shared.ApprovalRejected, rejected.ApprovalState)
	assert.False(t, rejected.Active)
	assert.Equal(t, "missing field credentials", rejected.RejectionReason)

	_, err = f.svc.Reject(ctx, u.ID, "missing field credentials")
	assert.ErrorIs(t, err, shared.ErrValidation, "already decided")

	_, err = f.svc.Approve(ctx, u.ID, []users.RoleGrant{{RoleID: roleBotanist.ID, Location: shared.Location{RegionID: ptr(uuid.New())}}})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRejectDeactivatesExistingAssignments(t *testing.T) {
	f := newFixtureWith(t, users.Options{}, assignments.WithApprovalRequired(false))
	ctx := context.Background()
	u, err := f.svc.Create(ctx, registration("early@example.com"))
	require.NoError(t, err)
	_, err = f.assignments.Create(ctx, assignments.CreateInput{UserID: u.ID, RoleID: roleBotanist.ID, Location: shared.Location{RegionID: ptr(uuid.New())}})
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, u.ID, "incomplete field credentials")
	require.NoError(t, err)

	active, err := f.ledger.ActiveForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Contains(t, f.audit.actions, "user.rejected")
}

func TestApproveCapsGrantsAtApproverTier(t *testing.T) {
	f := newFixture(t, users.Options{})
	lead := approved(t, f, "lead@example.com", "ext-lead", roleBrigadista)
	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: lead.ID})
	region := shared.Location{RegionID: ptr(uuid.New())}

	target, err := f.svc.Create(ctx, registration("target@example.com"))
	require.NoError(t, err)
	before := f.ledger.Len()

	_, err = f.svc.Approve(ctx, target.ID, []users.RoleGrant{
		{RoleID: roleBotanist.ID, Location: region},
		{RoleID: roleSuperAdmin.ID, Location: region},
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.Equal(t, before, f.ledger.Len())
	still, err := f.svc.Get(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.ApprovalPending, still.ApprovalState)

	res, err := f.svc.Approve(ctx, target.ID, []users.RoleGrant{{RoleID: roleBotanist.ID, Location: region}})
	require.NoError(t, err)
	assert.Len(t, res.Assignments, 1)
}

func TestApproveWithoutRolesIsForbiddenToGrantAnything(t *testing.T) {
	f := newFixture(t, users.Options{})
	outsider, err := f.svc.Create(context.Background(), registration("outsider@example.com"))
	require.NoError(t, err)
	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: outsider.ID})
	target, err := f.svc.Create(ctx, registration("t2@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, target.ID, []users.RoleGrant{{RoleID: roleBotanist.ID, Location: shared.Location{RegionID: ptr(uuid.New())}}})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDeactivateCascadesToAssignments(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u, err := f.svc.Create(ctx, registration("d@example.com"))
	require.NoError(t, err)
	region := uuid.New()
	_, err = f.svc.Approve(ctx, u.ID, []users.RoleGrant{
		{RoleID: roleBrigadista.ID, Location: shared.Location{RegionID: ptr(region)}},
		{RoleID: roleBotanist.ID, Location: shared.Location{RegionID: ptr(region)}},
	})
	require.NoError(t, err)

	_, err = f.svc.Deactivate(ctx, u.ID, "short")
	assert.ErrorIs(t, err, shared.ErrValidation)

	res, err := f.svc.Deactivate(ctx, u.ID, "left the field program")
	require.NoError(t, err)
	assert.False(t, res.User.Active)
	assert.NotNil(t, res.User.DeactivatedAt)
	assert.Equal(t, 2, res.AssignmentsDeactivated)

	active, err := f.ledger.ActiveForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	back, err := f.svc.Reactivate(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, back.Active)
	active, err = f.ledger.ActiveForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, active, "assignments stay inactive after reactivation")
}

func TestReactivateRequiresApproved(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u, err := f.svc.Create(ctx, registration("p@example.com"))
	require.NoError(t, err)
	_, err = f.svc.Reactivate(ctx, u.ID)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestInvite(t *testing.T) {
	f := newFixture(t, users.Options{InviteRedirectURL: "https://app.example.com/welcome"})
	ctx := context.Background()
	f.credentials.nextInvited = "ext-1"

	res, err := f.svc.Invite(ctx, users.InviteInput{Email: "Lead@Example.com", RoleCode: "jefe_brigada"})
	require.NoError(t, err)
	assert.False(t, res.AlreadyInvited)
	assert.Equal(t, shared.ApprovalInvited, res.User.ApprovalState)
	assert.Equal(t, "ext-1", res.User.ExternalID)
	assert.Equal(t, "lead@example.com", res.User.Email)

	_, err = f.svc.Invite(ctx, users.InviteInput{Email: "lead@example.com"})
	assert.ErrorIs(t, err, shared.ErrConflict)

	f.credentials.inviteErr = identity.ErrAlreadyInvited
	res, err = f.svc.Invite(ctx, users.InviteInput{Email: "again@example.com"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyInvited)

	f.credentials.inviteErr = shared.Unavailablef("auth down")
	_, err = f.svc.Invite(ctx, users.InviteInput{Email: "down@example.com"})
	assert.ErrorIs(t, err, shared.ErrUnavailable)
	_, err = f.svc.GetByEmail(ctx, "down@example.com")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestInvitedUserCanBeApproved(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	f.credentials.nextInvited = "ext-2"
	res, err := f.svc.Invite(ctx, users.InviteInput{Email: "inv@example.com"})
	require.NoError(t, err)

	out, err := f.svc.Approve(ctx, res.User.ID, []users.RoleGrant{{RoleID: roleBotanist.ID, Location: shared.Location{MunicipalityID: ptr(uuid.New())}}})
	require.NoError(t, err)
	assert.Equal(t, shared.ApprovalApproved, out.User.ApprovalState)
}

func approved(t *testing.T, f *fixture, email, externalID string, role roles.Role) users.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.repo.Insert(ctx, users.NewUser{
		CreateInput:   registration(email),
		ExternalID:    externalID,
		ApprovalState: shared.ApprovalPending,
	})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, u.ID, []users.RoleGrant{{RoleID: role.ID, Location: shared.Location{RegionID: ptr(uuid.New())}}})
	require.NoError(t, err)
	return u
}

func TestHardDeleteReportsCleanupSteps(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u := approved(t, f, "gone@example.com", "ext-gone", roleBotanist)

	report, err := f.svc.HardDelete(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, report.UserID)
	assert.Equal(t, 1, report.AssignmentsRemoved)
	assert.False(t, report.Failed())
	require.Len(t, report.Steps, 2)
	assert.Equal(t, users.StepCredential, report.Steps[0].Name)
	assert.Equal(t, users.CleanupSucceeded, report.Steps[0].Status)
	assert.Equal(t, users.CleanupSucceeded, report.Steps[1].Status)
	assert.Equal(t, []string{"ext-gone"}, f.credentials.deleted)

	_, err = f.svc.Get(ctx, u.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Zero(t, f.ledger.Len())
	assert.Equal(t, 1, f.observer.counts["credential/succeeded"])
}

func TestHardDeleteQueuesFailedCleanup(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u := approved(t, f, "flaky@example.com", "ext-flaky", roleBotanist)
	f.credentials.deleteErr = shared.Unavailablef("auth down")
	f.personnel.err = errors.New("personnel down")

	report, err := f.svc.HardDelete(ctx, u.ID)
	require.NoError(t, err, "cleanup failures do not fail the delete")
	assert.True(t, report.Failed())
	for _, step := range report.Steps {
		assert.Equal(t, users.CleanupFailed, step.Status, step.Name)
		assert.True(t, step.Retrying, step.Name)
		assert.NotEmpty(t, step.Error)
	}
	assert.Equal(t, []string{"ext-flaky"}, f.queue.credentials)
	assert.Equal(t, []uuid.UUID{u.ID}, f.queue.personnel)
	assert.Equal(t, 1, f.observer.counts["personnel/failed"])
}

func TestHardDeleteTreatsMissingCredentialAsDone(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u := approved(t, f, "nocred@example.com", "ext-missing", roleBotanist)
	f.credentials.deleteErr = identity.ErrCredentialNotFound

	report, err := f.svc.HardDelete(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, users.CleanupSucceeded, report.Steps[0].Status)
	assert.Empty(t, f.queue.credentials)
}

func TestHardDeleteSkipsCredentialWithoutExternalID(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u := approved(t, f, "local@example.com", "", roleBotanist)

	report, err := f.svc.HardDelete(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, users.CleanupSkipped, report.Steps[0].Status)
	assert.Empty(t, f.credentials.deleted)
}

func TestHardDeleteProtectsSuperAdmin(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u := approved(t, f, "root@example.com", "ext-root", roleSuperAdmin)

	rollbacks := f.tx.Rollbacks
	_, err := f.svc.HardDelete(ctx, u.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.Equal(t, rollbacks+1, f.tx.Rollbacks)
	_, err = f.svc.Get(ctx, u.ID)
	assert.NoError(t, err)
	assert.Zero(t, f.personnel.calls)
}

// txLedger records whether role checks ran inside a transaction.
type txLedger struct {
	users.AssignmentLedger
	checkedInTx []bool
}

func (l *txLedger) HasRole(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	l.checkedInTx = append(l.checkedInTx, dbtest.InTx(ctx))
	return l.AssignmentLedger.HasRole(ctx, userID, code)
}

func TestHardDeleteChecksProtectionInsideTransaction(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u := approved(t, f, "late@example.com", "ext-late", roleBotanist)

	ledger := &txLedger{AssignmentLedger: f.assignments}
	svc := users.NewService(f.repo, ledger, f.tx, users.Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := svc.HardDelete(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, ledger.checkedInTx)
}

func TestUpdateChecksEmailUniqueness(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	a, err := f.svc.Create(ctx, registration("a@example.com"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, registration("b@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, a.ID, users.UpdateInput{})
	assert.ErrorIs(t, err, shared.ErrValidation)

	taken := "B@example.com"
	_, err = f.svc.Update(ctx, a.ID, users.UpdateInput{Email: &taken})
	assert.ErrorIs(t, err, shared.ErrConflict)

	fresh := "a2@example.com"
	got, err := f.svc.Update(ctx, a.ID, users.UpdateInput{Email: &fresh})
	require.NoError(t, err)
	assert.Equal(t, "a2@example.com", got.Email)
}

func TestConfirmEmailAndChangePassword(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u := approved(t, f, "pw@example.com", "ext-pw", roleBotanist)

	got, err := f.svc.ConfirmEmail(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailConfirmed)
	assert.Equal(t, []string{"ext-pw"}, f.credentials.confirmed)

	err = f.svc.ChangePassword(ctx, u.ID, "short")
	assert.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, "long enough"))
	assert.Equal(t, "long enough", f.credentials.passwords["ext-pw"])
}

func TestPrivilegesRequiresResolver(t *testing.T) {
	f := newFixture(t, users.Options{})
	ctx := context.Background()
	u, err := f.svc.Create(ctx, registration("priv@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Privileges(ctx, u.ID)
	assert.ErrorIs(t, err, shared.ErrUnavailable)
}
