package shared

import "strings"

// ApprovalState enumerates the registration lifecycle of a user.
type ApprovalState string

const (
	// ApprovalPending marks a self-registered user awaiting review.
	ApprovalPending ApprovalState = "pending"
	// ApprovalInvited marks a user created through an external invitation.
	ApprovalInvited ApprovalState = "invited"
	// ApprovalApproved marks a user allowed to receive role assignments.
	ApprovalApproved ApprovalState = "approved"
	// ApprovalRejected marks a refused registration.
	ApprovalRejected ApprovalState = "rejected"
)

// MinReasonLength is the minimum length of rejection and deactivation reasons.
const MinReasonLength = 10

// Valid reports whether the state is one of the enumerated values.
func (s ApprovalState) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalInvited, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// AwaitingDecision reports whether approve/reject may be applied.
func (s ApprovalState) AwaitingDecision() bool {
	return s == ApprovalPending || s == ApprovalInvited
}

// ValidateReason enforces the minimum reason length on trimmed input.
func ValidateReason(field, reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < MinReasonLength {
		return "", Validationf("%s must be at least %d characters", field, MinReasonLength)
	}
	return reason, nil
}
