package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/grants"
	"github.com/fieldcrew/identity/internal/observability"
	"github.com/fieldcrew/identity/internal/privileges"
	"github.com/fieldcrew/identity/internal/rbac"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/users"
	"github.com/fieldcrew/identity/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Authenticate       func(http.Handler) http.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PrivilegesHandler  *privileges.Handler
	GrantsHandler      *grants.Handler
	AssignmentsHandler *assignments.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Readiness          []ReadinessChecker
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/health", healthHandler)
	r.Get("/ready", readinessHandler(params.Logger, params.Readiness))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/usuarios", func(r chi.Router) {
		if params.UsersHandler != nil {
			r.Group(params.UsersHandler.MountPublicRoutes)
		}
		r.Group(func(r chi.Router) {
			if params.Authenticate != nil {
				r.Use(params.Authenticate)
			}
			if params.RolesHandler != nil {
				r.Route("/roles", params.RolesHandler.MountRoutes)
			}
			if params.PrivilegesHandler != nil {
				r.Route("/privilegios", params.PrivilegesHandler.MountRoutes)
			}
			if params.GrantsHandler != nil {
				r.Route("/roles-privilegios", params.GrantsHandler.MountRoutes)
			}
			if params.AssignmentsHandler != nil {
				r.Route("/cuentas-rol", params.AssignmentsHandler.MountRoutes)
			}
			if params.PermissionsHandler != nil {
				r.Route("/me", params.PermissionsHandler.MountRoutes)
			}
			if params.UsersHandler != nil {
				params.UsersHandler.MountRoutes(r)
			}
		})
	})

	return r
}
