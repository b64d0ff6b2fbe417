package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldcrew/identity/internal/platform/httpx"
	"github.com/fieldcrew/identity/internal/shared"
)

// PermissionsHandler answers questions about the authenticated caller.
type PermissionsHandler struct {
	resolver *Resolver
	errors   httpx.ErrorResponder
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(resolver *Resolver, errors httpx.ErrorResponder) *PermissionsHandler {
	return &PermissionsHandler{resolver: resolver, errors: errors}
}

// MountRoutes registers caller routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.whoami)
	r.Get("/puede/{code}", h.can)
}

func (h *PermissionsHandler) whoami(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		h.errors.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	id, err := h.resolver.Describe(r.Context(), p)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, id)
}

// can reports whether the caller holds a privilege, optionally at a location
// given by region_id, departamento_id or municipio_id.
func (h *PermissionsHandler) can(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		h.errors.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	var (
		loc shared.Location
		err error
	)
	if loc.RegionID, err = httpx.QueryUUID(r, "region_id"); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if loc.DepartmentID, err = httpx.QueryUUID(r, "departamento_id"); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if loc.MunicipalityID, err = httpx.QueryUUID(r, "municipio_id"); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	code := chi.URLParam(r, "code")
	var allowed bool
	if loc.IsEmpty() {
		allowed, err = h.resolver.HasPrivilege(r.Context(), p.UserID, code)
	} else {
		allowed, err = h.resolver.HasPrivilegeAt(r.Context(), p.UserID, code, loc)
	}
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"privilege": code, "allowed": allowed})
}
