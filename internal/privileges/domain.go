package privileges

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/shared"
)

// Category groups privileges by functional area.
type Category string

const (
	CategoryClusters     Category = "clusters"
	CategoryBrigades     Category = "brigades"
	CategoryFieldWorkers Category = "field_workers"
	CategoryUsers        Category = "users"
	CategorySystem       Category = "system"
)

// Categories lists the enumerated categories in display order.
func Categories() []Category {
	return []Category{CategoryClusters, CategoryBrigades, CategoryFieldWorkers, CategoryUsers, CategorySystem}
}

// Valid reports whether c is an enumerated category.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory validates a category string.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", shared.Validationf("category %q is not enumerated", raw)
	}
	return c, nil
}

// Privilege is an atomic permission code.
type Privilege struct {
	ID          uuid.UUID  `json:"id"`
	Code        string     `json:"code"`
	DisplayName string     `json:"display_name"`
	Category    Category   `json:"category"`
	Description string     `json:"description,omitempty"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateInput carries the fields for a new privilege.
type CreateInput struct {
	Code        string     `json:"code" validate:"required,max=96"`
	DisplayName string     `json:"display_name" validate:"required,max=128"`
	Category    Category   `json:"category" validate:"required"`
	Description string     `json:"description" validate:"max=512"`
	CreatedBy   *uuid.UUID `json:"-"`
}
