package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldcrew/identity/internal/platform/httpx"
	"github.com/fieldcrew/identity/internal/shared"
)

// Handler manages role catalog endpoints.
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

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Get("/all", h.listRoles)
	r.Get("/nivel/{tier}", h.listByTier)
	r.Get("/codigo/{code}", h.getByCode)
	r.Get("/{id}", h.getRole)
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireRole(shared.RoleSuperAdmin))
		r.Post("/", h.createRole)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.List(r.Context())
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) listByTier(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListByTier(r.Context(), chi.URLParam(r, "tier"))
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getByCode(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	role, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if err := h.validator.Struct(input); err != nil {
		h.errors.RespondError(w, r, httpx.ValidationError(err))
		return
	}
	role, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	h.logger.Info("role created", slog.String("code", role.Code), slog.String("tier", string(role.Tier)))
	httpx.JSON(w, http.StatusCreated, role)
}
