package privileges

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldcrew/identity/internal/platform/httpx"
	"github.com/fieldcrew/identity/internal/shared"
)

// Handler exposes the privilege catalog.
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

// MountRoutes registers privilege routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/all", h.list)
	r.Get("/agrupados", h.grouped)
	r.Get("/categoria/{category}", h.listByCategory)
	r.Get("/codigo/{code}", h.getByCode)
	r.Get("/{id}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireRole(shared.RoleSuperAdmin))
		r.Post("/", h.create)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) grouped(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.Grouped(r.Context())
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, groups)
}

func (h *Handler) listByCategory(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListByCategory(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) getByCode(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if err := h.validator.Struct(input); err != nil {
		h.errors.RespondError(w, r, httpx.ValidationError(err))
		return
	}
	p, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	h.logger.Info("privilege created", slog.String("code", p.Code), slog.String("category", string(p.Category)))
	httpx.JSON(w, http.StatusCreated, p)
}
