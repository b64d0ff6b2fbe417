package assignments

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldcrew/identity/internal/platform/httpx"
	"github.com/fieldcrew/identity/internal/shared"
)

// Handler exposes the role assignment ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guards    shared.Guards
	errors    httpx.ErrorResponder
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guards shared.Guards, errors httpx.ErrorResponder) *Handler {
	return &Handler{logger: logger, service: service, guards: guards, errors: errors, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.search)
	r.Get("/usuario/{userID}", h.listByUser)
	r.Get("/verificar/{userID}/{roleCode}", h.hasRole)
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireAnyPrivilege(shared.PermAssignmentsView))
		r.Get("/all", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireRole(shared.RoleSuperAdmin))
		r.Post("/", h.create)
		r.Patch("/{id}/desactivar", h.deactivate)
		r.Patch("/{id}/activar", h.activate)
	})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	rows, err := h.service.Search(r.Context(), filters)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	f := Filters{RoleCode: q.Get("rol_codigo")}
	if f.RoleCode == "" {
		return Filters{}, shared.Validationf("rol_codigo is required")
	}
	active, err := httpx.QueryBool(r, "activo", true)
	if err != nil {
		return Filters{}, err
	}
	f.Active = &active
	if f.OnlyApproved, err = httpx.QueryBool(r, "solo_aprobados", true); err != nil {
		return Filters{}, err
	}
	if f.Location.RegionID, err = httpx.QueryUUID(r, "region_id"); err != nil {
		return Filters{}, err
	}
	if f.Location.DepartmentID, err = httpx.QueryUUID(r, "departamento_id"); err != nil {
		return Filters{}, err
	}
	if f.Location.MunicipalityID, err = httpx.QueryUUID(r, "municipio_id"); err != nil {
		return Filters{}, err
	}
	return f, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.List(r.Context())
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) listByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLParamUUID(r, "userID")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	items, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) hasRole(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLParamUUID(r, "userID")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	code := chi.URLParam(r, "roleCode")
	ok, err := h.service.HasRole(r.Context(), userID, code)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "role_code": code, "has_role": ok})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		h.errors.RespondError(w, r, httpx.ValidationError(err))
		return
	}
	a, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	h.logger.Info("role assigned",
		slog.String("user_id", a.UserID.String()),
		slog.String("role", a.Role.Code),
		slog.String("scope", string(a.Scope().Kind)))
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	var a Assignment
	if active {
		a, err = h.service.Activate(r.Context(), id)
	} else {
		a, err = h.service.Deactivate(r.Context(), id)
	}
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}
