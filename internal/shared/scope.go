package shared

import "github.com/google/uuid"

// ScopeKind enumerates the geographic levels a role assignment can target.
type ScopeKind string

const (
	// ScopeNational applies everywhere.
	ScopeNational ScopeKind = "national"
	// ScopeRegion targets a region.
	ScopeRegion ScopeKind = "region"
	// ScopeDepartment targets a department.
	ScopeDepartment ScopeKind = "department"
	// ScopeMunicipality targets a municipality.
	ScopeMunicipality ScopeKind = "municipality"
)

// Scope is the effective geographic scope of an assignment or a filter.
// ID is uuid.Nil for ScopeNational.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   uuid.UUID `json:"id,omitempty"`
}

// National returns the unrestricted scope.
func National() Scope {
	return Scope{Kind: ScopeNational}
}

// IsNational reports whether the scope is unrestricted.
func (s Scope) IsNational() bool {
	return s.Kind == ScopeNational || s.Kind == ""
}

// Covers reports whether a location falls inside the scope.
func (s Scope) Covers(loc Location) bool {
	switch s.Kind {
	case ScopeRegion:
		return loc.RegionID != nil && *loc.RegionID == s.ID
	case ScopeDepartment:
		return loc.DepartmentID != nil && *loc.DepartmentID == s.ID
	case ScopeMunicipality:
		return loc.MunicipalityID != nil && *loc.MunicipalityID == s.ID
	default:
		return true
	}
}

// Location carries the geographic columns as stored. Any subset may be set.
type Location struct {
	RegionID       *uuid.UUID `json:"region_id,omitempty"`
	DepartmentID   *uuid.UUID `json:"department_id,omitempty"`
	MunicipalityID *uuid.UUID `json:"municipality_id,omitempty"`
}

// Scope resolves the most specific level present:
// municipality, then department, then region, else national.
func (l Location) Scope() Scope {
	switch {
	case l.MunicipalityID != nil && *l.MunicipalityID != uuid.Nil:
		return Scope{Kind: ScopeMunicipality, ID: *l.MunicipalityID}
	case l.DepartmentID != nil && *l.DepartmentID != uuid.Nil:
		return Scope{Kind: ScopeDepartment, ID: *l.DepartmentID}
	case l.RegionID != nil && *l.RegionID != uuid.Nil:
		return Scope{Kind: ScopeRegion, ID: *l.RegionID}
	default:
		return National()
	}
}

// IsEmpty reports whether no geographic column is set.
func (l Location) IsEmpty() bool {
	return l.Scope().IsNational()
}

// Normalize drops nil UUID pointers so they are stored as NULL.
func (l Location) Normalize() Location {
	clean := func(id *uuid.UUID) *uuid.UUID {
		if id == nil || *id == uuid.Nil {
			return nil
		}
		v := *id
		return &v
	}
	return Location{
		RegionID:       clean(l.RegionID),
		DepartmentID:   clean(l.DepartmentID),
		MunicipalityID: clean(l.MunicipalityID),
	}
}
