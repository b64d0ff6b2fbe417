package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldcrew/identity/internal/platform/httpx"
	"github.com/fieldcrew/identity/internal/shared"
)

// Handler manages user directory endpoints.
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

// MountPublicRoutes registers routes reachable without a bearer token.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/", h.register)
	r.Get("/email/{email}", h.getByEmail)
}

// MountRoutes registers authenticated user routes. Callers may always act on
// their own record; other records need a users privilege.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireSelfOrPrivilege("id", shared.PermUsersView))
		r.Get("/{id}", h.getUser)
		r.Get("/{id}/privilegios", h.privileges)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireSelfOrPrivilege("id", shared.PermUsersEdit))
		r.Put("/{id}", h.update)
		r.Put("/{id}/password", h.changePassword)
		r.Post("/confirmar-email/{id}", h.confirmEmail)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireAnyPrivilege(shared.PermUsersView))
		r.Get("/", h.listUsers)
		r.Get("/pendientes", h.listPending)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireAnyPrivilege(shared.PermUsersApprove))
		r.Post("/{id}/aprobar", h.approve)
		r.Post("/{id}/rechazar", h.reject)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireAnyPrivilege(shared.PermUsersEdit, shared.PermUsersDelete))
		r.Patch("/{id}/desactivar", h.deactivate)
		r.Patch("/{id}/reactivar", h.reactivate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guards.RequireRole(shared.RoleSuperAdmin))
		r.Post("/invite", h.invite)
		r.Delete("/{id}", h.hardDelete)
	})
}

type loginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type approveRequest struct {
	Roles []RoleGrant `json:"roles"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.service.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "user not found")
			return
		}
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if !h.decode(w, r, &input) {
		return
	}
	user, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	h.logger.Info("user registered", slog.String("user_id", user.ID.String()))
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) confirmEmail(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	user, err := h.service.ConfirmEmail(r.Context(), id)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) getByEmail(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetByEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListPending(r.Context())
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) privileges(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	items, err := h.service.Privileges(r.Context(), id)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	var input UpdateInput
	if !h.decode(w, r, &input) {
		return
	}
	user, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	var req passwordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.ChangePassword(r.Context(), id, req.Password); err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	var input InviteInput
	if !h.decode(w, r, &input) {
		return
	}
	result, err := h.service.Invite(r.Context(), input)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	h.logger.Info("user invited",
		slog.String("user_id", result.User.ID.String()),
		slog.Bool("already_invited", result.AlreadyInvited))
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	var req approveRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Approve(r.Context(), id, req.Roles)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	h.logger.Info("user approved",
		slog.String("user_id", id.String()),
		slog.Int("assignments", len(result.Assignments)))
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.service.Reject(r.Context(), id, req.Reason)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Deactivate(r.Context(), id, req.Reason)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	user, err := h.service.Reactivate(r.Context(), id)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) hardDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	report, err := h.service.HardDelete(r.Context(), id)
	if err != nil {
		h.errors.RespondError(w, r, err)
		return
	}
	if report.Failed() {
		h.logger.Warn("user deleted with pending cleanup", slog.String("user_id", id.String()))
	}
	httpx.JSON(w, http.StatusOK, report)
}

// decode reads and validates a request body, answering the request on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.errors.RespondError(w, r, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.errors.RespondError(w, r, httpx.ValidationError(err))
		return false
	}
	return true
}
