package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/shared"
)

// Credential is an academic or professional qualification.
type Credential struct {
	Title       string `json:"title"`
	Institution string `json:"institution,omitempty"`
	Year        int    `json:"year,omitempty"`
}

// WorkEntry is one item of a user's work history.
type WorkEntry struct {
	Organization string `json:"organization"`
	Position     string `json:"position,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	Description  string `json:"description,omitempty"`
}

// AvailabilitySlot is a declared availability window.
type AvailabilitySlot struct {
	Day  string `json:"day"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// User is a directory record with its approval lifecycle.
type User struct {
	ID                    uuid.UUID            `json:"id"`
	ExternalID            string               `json:"external_id,omitempty"`
	Email                 string               `json:"email"`
	NationalID            string               `json:"national_id,omitempty"`
	FullName              string               `json:"full_name"`
	Phone                 string               `json:"phone,omitempty"`
	ResidenceMunicipality string               `json:"residence_municipality,omitempty"`
	Credentials           []Credential         `json:"credentials"`
	WorkHistory           []WorkEntry          `json:"work_history"`
	Availability          []AvailabilitySlot   `json:"availability"`
	ExtraQualifications   string               `json:"extra_qualifications,omitempty"`
	ApprovalState         shared.ApprovalState `json:"approval_state"`
	Active                bool                 `json:"active"`
	EmailConfirmed        bool                 `json:"email_confirmed"`
	ApprovedAt            *time.Time           `json:"approved_at,omitempty"`
	RejectionReason       string               `json:"rejection_reason,omitempty"`
	DeactivatedAt         *time.Time           `json:"deactivated_at,omitempty"`
	DeactivationReason    string               `json:"deactivation_reason,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

// CreateInput carries a self-registration.
type CreateInput struct {
	Email                 string             `json:"email" validate:"required,email"`
	NationalID            string             `json:"national_id" validate:"required,max=32"`
	FullName              string             `json:"full_name" validate:"required,max=200"`
	Phone                 string             `json:"phone" validate:"max=32"`
	ResidenceMunicipality string             `json:"residence_municipality" validate:"max=128"`
	Credentials           []Credential       `json:"credentials"`
	WorkHistory           []WorkEntry        `json:"work_history"`
	Availability          []AvailabilitySlot `json:"availability"`
	ExtraQualifications   string             `json:"extra_qualifications"`
}

// NewUser is the row written by Insert.
type NewUser struct {
	CreateInput
	ExternalID    string
	ApprovalState shared.ApprovalState
	Active        bool
}

// UpdateInput is a partial profile update; nil fields are left unchanged.
type UpdateInput struct {
	Email                 *string             `json:"email" validate:"omitempty,email"`
	NationalID            *string             `json:"national_id" validate:"omitempty,max=32"`
	FullName              *string             `json:"full_name" validate:"omitempty,max=200"`
	Phone                 *string             `json:"phone" validate:"omitempty,max=32"`
	ResidenceMunicipality *string             `json:"residence_municipality" validate:"omitempty,max=128"`
	Credentials           *[]Credential       `json:"credentials"`
	WorkHistory           *[]WorkEntry        `json:"work_history"`
	Availability          *[]AvailabilitySlot `json:"availability"`
	ExtraQualifications   *string             `json:"extra_qualifications"`
}

// Empty reports whether the patch changes nothing.
func (u UpdateInput) Empty() bool {
	return u.Email == nil && u.NationalID == nil && u.FullName == nil && u.Phone == nil &&
		u.ResidenceMunicipality == nil && u.Credentials == nil && u.WorkHistory == nil &&
		u.Availability == nil && u.ExtraQualifications == nil
}

// RoleGrant is one role requested at approval time.
type RoleGrant struct {
	RoleID uuid.UUID `json:"role_id"`
	shared.Location
}

// ApproveResult is the approved user and the assignments created with it.
type ApproveResult struct {
	User        User                     `json:"user"`
	Assignments []assignments.Assignment `json:"assignments"`
}

// InviteInput requests an invitation through the Auth service.
type InviteInput struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"max=200"`
	RoleCode string `json:"role_code" validate:"max=64"`
}

// InviteResult reports the invited user. AlreadyInvited is set when the Auth
// service already knew the email; the local record is still created.
type InviteResult struct {
	User           User `json:"user"`
	AlreadyInvited bool `json:"already_invited"`
}

// DeactivateResult reports a soft delete.
type DeactivateResult struct {
	User                   User `json:"user"`
	AssignmentsDeactivated int  `json:"assignments_deactivated"`
}

// CleanupStatus is the outcome of one best-effort cleanup step.
type CleanupStatus string

const (
	CleanupSucceeded CleanupStatus = "succeeded"
	CleanupFailed    CleanupStatus = "failed"
	CleanupSkipped   CleanupStatus = "skipped"
)

// Cleanup step names.
const (
	StepCredential = "credential"
	StepPersonnel  = "personnel"
)

// CleanupStep records one external cleanup after a hard delete.
type CleanupStep struct {
	Name     string        `json:"name"`
	Status   CleanupStatus `json:"status"`
	Error    string        `json:"error,omitempty"`
	Retrying bool          `json:"retrying,omitempty"`
}

// DeleteReport enumerates what a hard delete did.
type DeleteReport struct {
	UserID             uuid.UUID     `json:"user_id"`
	AssignmentsRemoved int           `json:"assignments_removed"`
	Steps              []CleanupStep `json:"steps"`
}

// Failed reports whether any cleanup step failed.
func (r DeleteReport) Failed() bool {
	for _, s := range r.Steps {
		if s.Status == CleanupFailed {
			return true
		}
	}
	return false
}
