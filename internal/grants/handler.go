package grants

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/platform/httpx"
	"github.com/fieldcrew/identity/internal/shared"
)

// Handler exposes role-privilege binding endpoints.
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

// MountRoutes registers binding routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rol/{roleID}", h.listByRole)
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireRole(shared.RoleSuperAdmin))
		r.Post("/asignar", h.assign)
		r.Post("/asignar-multiples", h.assignMany)
		r.Delete("/{roleID}/{privilegeID}", h.remove)
		r.Put("/rol/{roleID}/reemplazar", h.replaceAll)
	})
}

type assignRequest struct {
	RoleID      uuid.UUID `json:"role_id" validate:"required"`
	PrivilegeID uuid.UUID `json:"privilege_id" validate:"required"`
}

type assignManyRequest struct {
	RoleID       uuid.UUID   `json:"role_id" validate:"required"`
	PrivilegeIDs []uuid.UUID `json:"privilege_ids" validate:"required,min=1"`
}

type replaceRequest struct {
	PrivilegeIDs []uuid.UUID `json:"privilege_ids" validate:"required"`
}

func (h *Handler) listByRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.URLParamUUID(r, "roleID")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	out, err := h.service.ListByRole(r.Context(), roleID)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.errors.RespondError(w, r, httpx.ValidationError(err))
		return
	}
	res, err := h.service.Assign(r.Context(), req.RoleID, req.PrivilegeID)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyAssigned {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) assignMany(w http.ResponseWriter, r *http.Request) {
	var req assignManyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.errors.RespondError(w, r, httpx.ValidationError(err))
		return
	}
	report, err := h.service.AssignMany(r.Context(), req.RoleID, req.PrivilegeIDs)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if len(report.Failures) > 0 {
		h.logger.Warn("batch privilege assignment partially failed",
			slog.String("role_id", req.RoleID.String()), slog.Int("failures", len(report.Failures)))
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.URLParamUUID(r, "roleID")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	privilegeID, err := httpx.URLParamUUID(r, "privilegeID")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if err := h.service.Remove(r.Context(), roleID, privilegeID); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replaceAll(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.URLParamUUID(r, "roleID")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	var req replaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.errors.RespondError(w, r, httpx.ValidationError(err))
		return
	}
	report, err := h.service.ReplaceAll(r.Context(), roleID, req.PrivilegeIDs)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	h.logger.Info("role privileges replaced", slog.String("role_id", roleID.String()),
		slog.Int("removed", report.Removed), slog.Int("assigned", report.Assigned))
	httpx.JSON(w, http.StatusOK, report)
}
