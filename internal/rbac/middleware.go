package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/identity"
	"github.com/fieldcrew/identity/internal/platform/httpx"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
	"github.com/fieldcrew/identity/internal/users"
)

// Middleware wires authentication and authorization guards for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Verifier identity.TokenVerifier
	Users    UserLookup
	Logger   *slog.Logger
	Metrics  DecisionObserver
}

// Authenticate resolves the bearer token to an active local user and stores
// the principal in the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			m.deny(w, GuardAuthenticate, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := m.Verifier.VerifyToken(r.Context(), token)
		if err != nil {
			// The Auth service answers 404 for tokens of deleted credentials.
			if errors.Is(err, shared.ErrUnauthorized) || errors.Is(err, shared.ErrNotFound) {
				m.deny(w, GuardAuthenticate, http.StatusUnauthorized, "invalid token")
				return
			}
			m.fail(w, r, GuardAuthenticate, err)
			return
		}
		user, err := m.lookup(r.Context(), claims)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				m.deny(w, GuardAuthenticate, http.StatusUnauthorized, "user not registered")
				return
			}
			m.fail(w, r, GuardAuthenticate, err)
			return
		}
		if !user.Active {
			m.deny(w, GuardAuthenticate, http.StatusUnauthorized, "user is inactive")
			return
		}
		m.observe(GuardAuthenticate, OutcomeAllow)
		ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{
			UserID:     user.ID,
			ExternalID: claims.ExternalID,
			Email:      user.Email,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) lookup(ctx context.Context, claims identity.Claims) (users.User, error) {
	if claims.ExternalID != "" {
		user, err := m.Users.GetByExternalID(ctx, claims.ExternalID)
		if err == nil || !errors.Is(err, shared.ErrNotFound) {
			return user, err
		}
	}
	if claims.Email == "" {
		return users.User{}, shared.NotFoundf("user")
	}
	return m.Users.GetByEmail(ctx, claims.Email)
}

// RequireRole passes callers holding the role or any role of a higher tier.
func (m Middleware) RequireRole(code string) func(http.Handler) http.Handler {
	code = roles.NormalizeCode(code)
	return m.guard(GuardRole, func(ctx context.Context, userID uuid.UUID) (bool, error) {
		return m.Resolver.SatisfiesRole(ctx, userID, code)
	})
}

// RequireTier passes callers holding any role ranked at least min.
func (m Middleware) RequireTier(min roles.Tier) func(http.Handler) http.Handler {
	return m.guard(GuardTier, func(ctx context.Context, userID uuid.UUID) (bool, error) {
		return m.Resolver.HasRoleAtOrAbove(ctx, userID, min)
	})
}

// RequireAnyPrivilege ensures the caller has at least one of the privileges.
func (m Middleware) RequireAnyPrivilege(codes ...string) func(http.Handler) http.Handler {
	required := normalizeCodes(codes)
	return m.guard(GuardAnyPrivilege, func(ctx context.Context, userID uuid.UUID) (bool, error) {
		if len(required) == 0 {
			return true, nil
		}
		granted, err := m.Resolver.EffectivePrivileges(ctx, userID)
		if err != nil {
			return false, err
		}
		for _, code := range required {
			if containsCode(granted, code) {
				return true, nil
			}
		}
		return false, nil
	})
}

// RequireSelfOrPrivilege passes callers acting on their own user id, read
// from the URL parameter param, and otherwise behaves like RequireAnyPrivilege.
func (m Middleware) RequireSelfOrPrivilege(param string, codes ...string) func(http.Handler) http.Handler {
	privileged := m.RequireAnyPrivilege(codes...)
	return func(next http.Handler) http.Handler {
		fallback := privileged(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if ok {
				if id, err := uuid.Parse(chi.URLParam(r, param)); err == nil && id == p.UserID {
					m.observe(GuardSelf, OutcomeAllow)
					next.ServeHTTP(w, r)
					return
				}
			}
			fallback.ServeHTTP(w, r)
		})
	}
}

// RequireAllPrivileges ensures the caller has every listed privilege.
func (m Middleware) RequireAllPrivileges(codes ...string) func(http.Handler) http.Handler {
	required := normalizeCodes(codes)
	return m.guard(GuardAllPrivilege, func(ctx context.Context, userID uuid.UUID) (bool, error) {
		granted, err := m.Resolver.EffectivePrivileges(ctx, userID)
		if err != nil {
			return false, err
		}
		for _, code := range required {
			if !containsCode(granted, code) {
				return false, nil
			}
		}
		return true, nil
	})
}

func (m Middleware) guard(name string, allowed func(ctx context.Context, userID uuid.UUID) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				m.deny(w, name, http.StatusUnauthorized, "authentication required")
				return
			}
			ok, err := allowed(r.Context(), p.UserID)
			if err != nil {
				m.fail(w, r, name, err)
				return
			}
			if !ok {
				m.deny(w, name, http.StatusForbidden, "insufficient privileges")
				return
			}
			m.observe(name, OutcomeAllow)
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, guard string, status int, detail string) {
	m.observe(guard, OutcomeDeny)
	httpx.Problem(w, status, http.StatusText(status), detail)
}

// fail answers resolver failures: 503 when a collaborator is unavailable, else 500.
func (m Middleware) fail(w http.ResponseWriter, r *http.Request, guard string, err error) {
	m.observe(guard, OutcomeError)
	if m.Logger != nil {
		m.Logger.Error("rbac guard", slog.String("guard", guard), slog.Any("error", err))
	}
	if errors.Is(err, shared.ErrUnavailable) {
		httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "authorization temporarily unavailable")
		return
	}
	httpx.Problem(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), "authorization failed")
}

func (m Middleware) observe(guard, outcome string) {
	if m.Metrics != nil {
		m.Metrics.ObserveAuthz(guard, outcome)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func normalizeCodes(codes []string) []string {
	unique := make(map[string]struct{}, len(codes))
	normalized := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		if _, ok := unique[c]; ok {
			continue
		}
		unique[c] = struct{}{}
		normalized = append(normalized, c)
	}
	return normalized
}

var _ shared.Guards = Middleware{}
