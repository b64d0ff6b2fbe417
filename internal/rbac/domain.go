// Package rbac derives effective privileges from the assignment ledger and the
// role-privilege graph and enforces them on HTTP routes.
package rbac

import (
	"context"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/privileges"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/users"
)

// AssignmentReader lists the active assignments of a user.
type AssignmentReader interface {
	ActiveForUser(ctx context.Context, userID uuid.UUID) ([]assignments.Assignment, error)
}

// GraphReader resolves the union of privileges bound to a set of roles.
type GraphReader interface {
	PrivilegesForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]privileges.Privilege, error)
}

// RoleCatalog resolves roles by code.
type RoleCatalog interface {
	GetByCode(ctx context.Context, code string) (roles.Role, error)
}

// UserLookup finds the local record behind verified credentials.
type UserLookup interface {
	GetByExternalID(ctx context.Context, externalID string) (users.User, error)
	GetByEmail(ctx context.Context, email string) (users.User, error)
}

// DecisionObserver counts guard decisions.
type DecisionObserver interface {
	ObserveAuthz(guard, outcome string)
}

// Guard decision outcomes.
const (
	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
	OutcomeError = "error"
)

// Guard names used in metrics.
const (
	GuardAuthenticate = "authenticate"
	GuardRole         = "role"
	GuardTier         = "tier"
	GuardAnyPrivilege = "any_privilege"
	GuardAllPrivilege = "all_privileges"
	GuardSelf         = "self"
)

// Identity is the caller as seen by handlers: who they are and what they may do.
type Identity struct {
	UserID     uuid.UUID              `json:"user_id"`
	Email      string                 `json:"email"`
	Roles      []assignments.RoleInfo `json:"roles"`
	Privileges []string               `json:"privileges"`
}
