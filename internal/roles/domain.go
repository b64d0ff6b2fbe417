package roles

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/shared"
)

// Tier ranks roles for escalation: a holder of a higher tier satisfies
// checks written for lower tiers.
type Tier string

const (
	TierSystem      Tier = "system"
	TierRegional    Tier = "regional"
	TierOperational Tier = "operational"
)

var tierRanks = map[Tier]int{
	TierSystem:      3,
	TierRegional:    2,
	TierOperational: 1,
}

// Valid reports whether t is an enumerated tier.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// Rank returns the escalation rank of t; unknown tiers rank 0.
func (t Tier) Rank() int {
	return tierRanks[t]
}

// AtLeast reports whether t ranks equal to or above min.
func (t Tier) AtLeast(min Tier) bool {
	return t.Valid() && t.Rank() >= min.Rank()
}

// ParseTier validates a tier string.
func ParseTier(raw string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", shared.Validationf("tier %q is not one of system, regional, operational", raw)
	}
	return t, nil
}

// Role is a named permission bundle.
type Role struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	DisplayName string    `json:"display_name"`
	Tier        Tier      `json:"tier"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RequiresScope reports whether assignments of this role must carry a region or department.
func (r Role) RequiresScope() bool {
	return r.Tier == TierRegional
}

// CreateInput carries the fields for a new role.
type CreateInput struct {
	Code        string `json:"code" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=128"`
	Tier        Tier   `json:"tier" validate:"required"`
	Description string `json:"description" validate:"max=512"`
}
