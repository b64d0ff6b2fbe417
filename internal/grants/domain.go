// Package grants maintains the many-to-many bindings between roles and privileges.
package grants

import (
	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/privileges"
	"github.com/fieldcrew/identity/internal/roles"
)

// AssignResult reports the outcome of a single bind. A duplicate bind is a
// success with AlreadyAssigned set.
type AssignResult struct {
	RoleID          uuid.UUID `json:"role_id"`
	PrivilegeID     uuid.UUID `json:"privilege_id"`
	AlreadyAssigned bool      `json:"already_assigned"`
}

// Failure records one item of a batch that could not be bound.
type Failure struct {
	PrivilegeID uuid.UUID `json:"privilege_id"`
	Error       string    `json:"error"`
}

// BatchReport summarizes a best-effort batch bind. Items bound before a
// failure stay bound.
type BatchReport struct {
	Assigned        []uuid.UUID `json:"assigned"`
	AlreadyAssigned []uuid.UUID `json:"already_assigned"`
	Failures        []Failure   `json:"failures"`
}

// ReplaceReport summarizes a transactional replacement.
type ReplaceReport struct {
	Previous int `json:"previous"`
	Removed  int `json:"removed"`
	Assigned int `json:"assigned"`
}

// RolePrivileges is a role together with its bound privileges.
type RolePrivileges struct {
	Role       roles.Role             `json:"role"`
	Privileges []privileges.Privilege `json:"privileges"`
}
