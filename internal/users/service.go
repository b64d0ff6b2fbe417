package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/identity"
	"github.com/fieldcrew/identity/internal/platform/db"
	"github.com/fieldcrew/identity/internal/privileges"
	"github.com/fieldcrew/identity/internal/shared"
)

// MinPasswordLength is the shortest password forwarded to the Auth service.
const MinPasswordLength = 8

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Insert(ctx context.Context, u NewUser) (User, error)
	Get(ctx context.Context, id uuid.UUID) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByExternalID(ctx context.Context, externalID string) (User, error)
	List(ctx context.Context) ([]User, error)
	ListByState(ctx context.Context, state shared.ApprovalState) ([]User, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateInput) (User, error)
	MarkApproved(ctx context.Context, id uuid.UUID) (User, error)
	MarkRejected(ctx context.Context, id uuid.UUID, reason string) (User, error)
	MarkDeactivated(ctx context.Context, id uuid.UUID, reason string) (User, error)
	MarkReactivated(ctx context.Context, id uuid.UUID) (User, error)
	MarkEmailConfirmed(ctx context.Context, id uuid.UUID) (User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AssignmentLedger is the part of the role assignment ledger the lifecycle drives.
type AssignmentLedger interface {
	Create(ctx context.Context, in assignments.CreateInput) (assignments.Assignment, error)
	HasRole(ctx context.Context, userID uuid.UUID, code string) (bool, error)
	ActiveForUser(ctx context.Context, userID uuid.UUID) ([]assignments.Assignment, error)
	DeactivateAllForUser(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// CredentialProvider is the external Auth service.
type CredentialProvider interface {
	InviteByEmail(ctx context.Context, email string, metadata map[string]any, redirectURL string) (identity.Invitation, error)
	DeleteCredential(ctx context.Context, externalID string) error
	SetPassword(ctx context.Context, externalID, password string) error
	MarkEmailConfirmed(ctx context.Context, externalID string) error
}

// PersonnelDirectory is the sibling field-personnel service.
type PersonnelDirectory interface {
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

// CleanupQueue schedules retries of failed cleanup steps.
type CleanupQueue interface {
	EnqueueCredentialCleanup(ctx context.Context, userID uuid.UUID, externalID string) error
	EnqueuePersonnelCleanup(ctx context.Context, userID uuid.UUID) error
}

// PrivilegeResolver derives effective privileges.
type PrivilegeResolver interface {
	EffectivePrivileges(ctx context.Context, userID uuid.UUID) ([]privileges.Privilege, error)
}

// AuditRecorder persists lifecycle decisions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CleanupObserver counts cleanup outcomes.
type CleanupObserver interface {
	ObserveCleanup(step, outcome string)
}

// Options tune lifecycle policy.
type Options struct {
	// ActiveOnCreate sets the active flag of self-registered users.
	ActiveOnCreate bool
	// InviteRedirectURL is where invited users land after accepting.
	InviteRedirectURL string
}

// Service implements the user directory and approval lifecycle.
type Service struct {
	repo      RepositoryPort
	ledger    AssignmentLedger
	tx        db.Transactor
	opts      Options
	logger    *slog.Logger
	validator *validator.Validate

	credentials CredentialProvider
	personnel   PersonnelDirectory
	queue       CleanupQueue
	resolver    PrivilegeResolver
	audit       AuditRecorder
	observer    CleanupObserver
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, ledger AssignmentLedger, tx db.Transactor, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, tx: tx, opts: opts, logger: logger, validator: validator.New()}
}

// SetCredentialProvider wires the Auth service.
func (s *Service) SetCredentialProvider(p CredentialProvider) { s.credentials = p }

// SetPersonnelDirectory wires the sibling personnel service.
func (s *Service) SetPersonnelDirectory(p PersonnelDirectory) { s.personnel = p }

// SetCleanupQueue wires retry scheduling for failed cleanup steps.
func (s *Service) SetCleanupQueue(q CleanupQueue) { s.queue = q }

// SetResolver wires the privilege resolver.
func (s *Service) SetResolver(r PrivilegeResolver) { s.resolver = r }

// SetAuditRecorder wires the decision audit log.
func (s *Service) SetAuditRecorder(a AuditRecorder) { s.audit = a }

// SetCleanupObserver wires cleanup metrics.
func (s *Service) SetCleanupObserver(o CleanupObserver) { s.observer = o }

// Create registers a user in the pending state.
func (s *Service) Create(ctx context.Context, in CreateInput) (User, error) {
	in.Email = normalizeEmail(in.Email)
	in.NationalID = normalizeText(in.NationalID)
	in.FullName = normalizeText(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.ResidenceMunicipality = normalizeText(in.ResidenceMunicipality)
	if err := s.checkEmail(in.Email); err != nil {
		return User{}, err
	}
	if in.NationalID == "" {
		return User{}, shared.Validationf("national_id is required")
	}
	if in.FullName == "" {
		return User{}, shared.Validationf("full_name is required")
	}
	return s.repo.Insert(ctx, NewUser{
		CreateInput:   in,
		ApprovalState: shared.ApprovalPending,
		Active:        s.opts.ActiveOnCreate,
	})
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (User, error) {
	return s.repo.Get(ctx, id)
}

// GetByEmail looks a user up by email. It backs the login lookup.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, shared.Validationf("email is required")
	}
	return s.repo.GetByEmail(ctx, email)
}

// GetByExternalID looks a user up by Auth service id.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (User, error) {
	if strings.TrimSpace(externalID) == "" {
		return User{}, shared.Validationf("external id is required")
	}
	return s.repo.GetByExternalID(ctx, externalID)
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return emptyIfNil(s.repo.List(ctx))
}

// ListPending returns users awaiting review.
func (s *Service) ListPending(ctx context.Context) ([]User, error) {
	return emptyIfNil(s.repo.ListByState(ctx, shared.ApprovalPending))
}

// Update applies a profile patch. A changed email must remain unique.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (User, error) {
	if in.Empty() {
		return User{}, shared.Validationf("nothing to update")
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if err := s.checkEmail(email); err != nil {
			return User{}, err
		}
		in.Email = &email
	}
	if in.FullName != nil {
		name := normalizeText(*in.FullName)
		if name == "" {
			return User{}, shared.Validationf("full_name must not be empty")
		}
		in.FullName = &name
	}
	if in.NationalID != nil {
		nid := normalizeText(*in.NationalID)
		in.NationalID = &nid
	}
	return s.repo.Update(ctx, id, in)
}

// Invite creates an invited user after asking the Auth service to send the
// invitation. An invitation the Auth service already holds is not an error.
func (s *Service) Invite(ctx context.Context, in InviteInput) (InviteResult, error) {
	email := normalizeEmail(in.Email)
	if err := s.checkEmail(email); err != nil {
		return InviteResult{}, err
	}
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return InviteResult{}, shared.Conflictf("email already registered")
	} else if !errors.Is(err, shared.ErrNotFound) {
		return InviteResult{}, err
	}
	if s.credentials == nil {
		return InviteResult{}, shared.Unavailablef("credential provider not configured")
	}

	fullName := normalizeText(in.FullName)
	if fullName == "" {
		fullName = email
	}
	meta := map[string]any{"full_name": fullName}
	if in.RoleCode != "" {
		meta["role_code"] = strings.ToLower(strings.TrimSpace(in.RoleCode))
	}

	var result InviteResult
	inv, err := s.credentials.InviteByEmail(ctx, email, meta, s.opts.InviteRedirectURL)
	switch {
	case errors.Is(err, identity.ErrAlreadyInvited):
		result.AlreadyInvited = true
		s.logger.Info("invitation already pending at auth service", slog.String("email", email))
	case err != nil:
		return InviteResult{}, err
	}

	user, err := s.repo.Insert(ctx, NewUser{
		CreateInput:   CreateInput{Email: email, FullName: fullName},
		ExternalID:    inv.ExternalID,
		ApprovalState: shared.ApprovalInvited,
	})
	if err != nil {
		return InviteResult{}, err
	}
	result.User = user
	s.record(ctx, "user.invited", user.ID, map[string]any{"already_invited": result.AlreadyInvited})
	return result, nil
}

// Approve approves a pending or invited user and creates one role assignment
// per grant, all in one transaction. On failure nothing is kept and the error
// names the failing grant.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, grants []RoleGrant) (ApproveResult, error) {
	if len(grants) == 0 {
		return ApproveResult{}, shared.Validationf("roles must contain at least one entry")
	}
	for i, g := range grants {
		if g.RoleID == uuid.Nil {
			return ApproveResult{}, shared.Validationf("roles[%d]: role_id is required", i)
		}
		if g.Location.IsEmpty() {
			return ApproveResult{}, shared.Validationf("roles[%d]: one of region_id, department_id, municipality_id is required", i)
		}
	}

	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return ApproveResult{}, err
	}
	if !user.ApprovalState.AwaitingDecision() {
		return ApproveResult{}, shared.Validationf("user is %s; only pending or invited users can be approved", user.ApprovalState)
	}
	ceiling, capped, err := s.grantCeiling(ctx)
	if err != nil {
		return ApproveResult{}, err
	}

	var result ApproveResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		approved, err := s.repo.MarkApproved(ctx, id)
		if err != nil {
			return err
		}
		created := make([]assignments.Assignment, 0, len(grants))
		for i, g := range grants {
			a, err := s.ledger.Create(ctx, assignments.CreateInput{UserID: id, RoleID: g.RoleID, Location: g.Location})
			if err != nil {
				return fmt.Errorf("roles[%d]: %w", i, err)
			}
			if capped && a.Role.Tier.Rank() > ceiling {
				return shared.Forbiddenf("roles[%d]: %s ranks above the roles of the approver", i, a.Role.Code)
			}
			created = append(created, a)
		}
		if err := s.recordTx(ctx, "user.approved", id, map[string]any{"roles": len(created)}); err != nil {
			return err
		}
		result = ApproveResult{User: approved, Assignments: created}
		return nil
	})
	if err != nil {
		return ApproveResult{}, err
	}
	return result, nil
}

// Reject refuses a pending or invited registration.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (User, error) {
	reason, err := shared.ValidateReason("reason", reason)
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !user.ApprovalState.AwaitingDecision() {
		return User{}, shared.Validationf("user is %s; only pending or invited users can be rejected", user.ApprovalState)
	}
	var rejected User
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if rejected, err = s.repo.MarkRejected(ctx, id, reason); err != nil {
			return err
		}
		n, err := s.ledger.DeactivateAllForUser(ctx, id)
		if err != nil {
			return err
		}
		return s.recordTx(ctx, "user.rejected", id, map[string]any{"reason": reason, "assignments": n})
	})
	return rejected, err
}

// Deactivate soft-deletes a user and turns off all of its assignments in the
// same transaction.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID, reason string) (DeactivateResult, error) {
	reason, err := shared.ValidateReason("reason", reason)
	if err != nil {
		return DeactivateResult{}, err
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return DeactivateResult{}, err
	}
	var result DeactivateResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.repo.MarkDeactivated(ctx, id, reason)
		if err != nil {
			return err
		}
		n, err := s.ledger.DeactivateAllForUser(ctx, id)
		if err != nil {
			return err
		}
		result = DeactivateResult{User: user, AssignmentsDeactivated: n}
		return s.recordTx(ctx, "user.deactivated", id, map[string]any{"reason": reason, "assignments": n})
	})
	if err != nil {
		return DeactivateResult{}, err
	}
	return result, nil
}

// Reactivate restores an approved user. Assignments stay inactive until
// re-enabled individually.
func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) (User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if user.ApprovalState != shared.ApprovalApproved {
		return User{}, shared.Validationf("user is %s; only approved users can be reactivated", user.ApprovalState)
	}
	user, err = s.repo.MarkReactivated(ctx, id)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, "user.reactivated", id, nil)
	return user, nil
}

// HardDelete irreversibly removes a user and its assignments, then runs the
// external cleanup steps concurrently. Holders of the top administrative
// role cannot be deleted. Cleanup failures do not fail the delete; they are
// reported per step and queued for retry.
func (s *Service) HardDelete(ctx context.Context, id uuid.UUID) (DeleteReport, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return DeleteReport{}, err
	}
	report := DeleteReport{UserID: id}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		protected, err := s.ledger.HasRole(ctx, id, shared.RoleSuperAdmin)
		if err != nil {
			return err
		}
		if protected {
			return shared.Forbiddenf("users holding %s cannot be deleted", shared.RoleSuperAdmin)
		}
		n, err := s.ledger.DeleteAllForUser(ctx, id)
		if err != nil {
			return err
		}
		report.AssignmentsRemoved = n
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		return s.recordTx(ctx, "user.deleted", id, map[string]any{"email": user.Email, "assignments": n})
	})
	if err != nil {
		return DeleteReport{}, err
	}

	report.Steps = s.cleanup(ctx, user)
	return report, nil
}

// grantCeiling returns the highest tier rank among the caller's active roles.
// Calls without a principal come from operator tooling and are not capped.
func (s *Service) grantCeiling(ctx context.Context) (int, bool, error) {
	actor := shared.ActorID(ctx)
	if actor == uuid.Nil {
		return 0, false, nil
	}
	active, err := s.ledger.ActiveForUser(ctx, actor)
	if err != nil {
		return 0, false, err
	}
	ceiling := 0
	for _, a := range active {
		ceiling = max(ceiling, a.Role.Tier.Rank())
	}
	return ceiling, true, nil
}

func (s *Service) cleanup(ctx context.Context, user User) []CleanupStep {
	steps := []CleanupStep{{Name: StepCredential}, {Name: StepPersonnel}}
	var g errgroup.Group

	g.Go(func() error {
		step := &steps[0]
		switch {
		case s.credentials == nil || user.ExternalID == "":
			step.Status = CleanupSkipped
		default:
			err := s.credentials.DeleteCredential(ctx, user.ExternalID)
			if err != nil && !errors.Is(err, identity.ErrCredentialNotFound) {
				s.fail(ctx, step, user, err, func(ctx context.Context) error {
					return s.queue.EnqueueCredentialCleanup(ctx, user.ID, user.ExternalID)
				})
				return nil
			}
			step.Status = CleanupSucceeded
		}
		return nil
	})

	g.Go(func() error {
		step := &steps[1]
		if s.personnel == nil {
			step.Status = CleanupSkipped
			return nil
		}
		if err := s.personnel.DeleteByUser(ctx, user.ID); err != nil {
			s.fail(ctx, step, user, err, func(ctx context.Context) error {
				return s.queue.EnqueuePersonnelCleanup(ctx, user.ID)
			})
			return nil
		}
		step.Status = CleanupSucceeded
		return nil
	})

	_ = g.Wait()
	for _, step := range steps {
		if s.observer != nil {
			s.observer.ObserveCleanup(step.Name, string(step.Status))
		}
	}
	return steps
}

func (s *Service) fail(ctx context.Context, step *CleanupStep, user User, cause error, enqueue func(context.Context) error) {
	step.Status = CleanupFailed
	step.Error = cause.Error()
	s.logger.Warn("user cleanup step failed",
		slog.String("step", step.Name),
		slog.String("user_id", user.ID.String()),
		slog.Any("error", cause))
	if s.queue == nil {
		return
	}
	if err := enqueue(ctx); err != nil {
		s.logger.Error("enqueue cleanup retry", slog.String("step", step.Name), slog.Any("error", err))
		return
	}
	step.Retrying = true
}

// ConfirmEmail marks the email confirmed at the Auth service and locally.
func (s *Service) ConfirmEmail(ctx context.Context, id uuid.UUID) (User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if user.ExternalID != "" {
		if s.credentials == nil {
			return User{}, shared.Unavailablef("credential provider not configured")
		}
		if err := s.credentials.MarkEmailConfirmed(ctx, user.ExternalID); err != nil {
			return User{}, err
		}
	}
	return s.repo.MarkEmailConfirmed(ctx, id)
}

// ChangePassword forwards a new password to the Auth service.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return shared.Validationf("password must be at least %d characters", MinPasswordLength)
	}
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if user.ExternalID == "" {
		return shared.Validationf("user has no credential at the auth service")
	}
	if s.credentials == nil {
		return shared.Unavailablef("credential provider not configured")
	}
	return s.credentials.SetPassword(ctx, user.ExternalID, password)
}

// Privileges returns the effective privilege set of a user.
func (s *Service) Privileges(ctx context.Context, id uuid.UUID) ([]privileges.Privilege, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.resolver == nil {
		return nil, shared.Unavailablef("privilege resolver not configured")
	}
	items, err := s.resolver.EffectivePrivileges(ctx, id)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []privileges.Privilege{}
	}
	return items, nil
}

func (s *Service) checkEmail(email string) error {
	if email == "" {
		return shared.Validationf("email is required")
	}
	if err := s.validator.Var(email, "email"); err != nil {
		return shared.Validationf("email %q is not valid", email)
	}
	return nil
}

// recordTx writes an audit entry inside the caller's transaction.
func (s *Service) recordTx(ctx context.Context, action string, id uuid.UUID, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorID(ctx),
		Action:   action,
		Entity:   "user",
		EntityID: id.String(),
		Meta:     meta,
	})
}

// record writes an audit entry outside a transaction; failures are only logged.
func (s *Service) record(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if err := s.recordTx(ctx, action, id, meta); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

func emptyIfNil(items []User, err error) ([]User, error) {
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []User{}
	}
	return items, nil
}
