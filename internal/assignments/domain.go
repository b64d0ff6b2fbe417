// Package assignments is the ledger of per-user, geographically scoped role grants.
package assignments

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
)

// RoleInfo is the role metadata joined onto an assignment.
type RoleInfo struct {
	ID          uuid.UUID  `json:"id"`
	Code        string     `json:"code"`
	DisplayName string     `json:"display_name"`
	Tier        roles.Tier `json:"tier"`
	Description string     `json:"description,omitempty"`
}

// RoleInfoFrom projects a catalog role.
func RoleInfoFrom(r roles.Role) RoleInfo {
	return RoleInfo{ID: r.ID, Code: r.Code, DisplayName: r.DisplayName, Tier: r.Tier, Description: r.Description}
}

// Assignment is one ledger entry joined with its role.
type Assignment struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	RoleID uuid.UUID `json:"role_id"`
	shared.Location
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Role      RoleInfo  `json:"role"`
}

// Scope is the effective geographic scope of the assignment.
func (a Assignment) Scope() shared.Scope {
	return a.Location.Scope()
}

// UserInfo is the owner metadata used for policy checks and search rows.
type UserInfo struct {
	ID                    uuid.UUID            `json:"id"`
	FullName              string               `json:"full_name"`
	Email                 string               `json:"email"`
	Phone                 string               `json:"phone,omitempty"`
	ResidenceMunicipality string               `json:"residence_municipality,omitempty"`
	ApprovalState         shared.ApprovalState `json:"approval_state"`
	Active                bool                 `json:"active"`
}

// Row is an assignment joined with its owner, as returned by searches.
type Row struct {
	Assignment
	User UserInfo `json:"user"`
}

// CreateInput carries a new grant.
type CreateInput struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	RoleID uuid.UUID `json:"role_id" validate:"required"`
	shared.Location
}

// Filters narrow a personnel search. Active defaults to true when nil. Only
// the most specific geographic id in Location is applied.
type Filters struct {
	RoleCode     string
	Active       *bool
	OnlyApproved bool
	Location     shared.Location
}

// Query is the resolved form of Filters handed to the store.
type Query struct {
	RoleCode     string
	Active       bool
	OnlyApproved bool
	Scope        shared.Scope
}

// Resolve applies defaults and geographic precedence.
func (f Filters) Resolve() Query {
	active := true
	if f.Active != nil {
		active = *f.Active
	}
	return Query{
		RoleCode:     roles.NormalizeCode(f.RoleCode),
		Active:       active,
		OnlyApproved: f.OnlyApproved,
		Scope:        f.Location.Scope(),
	}
}
