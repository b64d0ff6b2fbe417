// Package identity talks to the external Auth service that owns credentials.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fieldcrew/identity/internal/shared"
)

var (
	// ErrAlreadyInvited is returned when the Auth service already holds an invitation or account for the email.
	ErrAlreadyInvited = fmt.Errorf("%w: email already invited", shared.ErrConflict)
	// ErrCredentialNotFound is returned when the Auth service has no credential for the id.
	ErrCredentialNotFound = fmt.Errorf("%w: credential not found", shared.ErrNotFound)
)

// Claims describes a verified bearer token.
type Claims struct {
	ExternalID string         `json:"external_id"`
	Email      string         `json:"email"`
	Claims     map[string]any `json:"claims,omitempty"`
}

// Invitation is the Auth service answer to an invite.
type Invitation struct {
	ExternalID string `json:"external_id"`
}

// Config holds Auth service connection settings.
type Config struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
	RetryCount int
}

// Client is a resty client for the Auth service admin and user endpoints.
type Client struct {
	http       *resty.Client
	serviceKey string
}

// NewClient builds a Client. Only idempotent reads are retried.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("apikey", cfg.ServiceKey)
	return &Client{http: httpClient, serviceKey: cfg.ServiceKey}
}

type authUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (c *Client) admin(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetAuthToken(c.serviceKey)
}

// InviteByEmail asks the Auth service to invite email. A prior invitation or
// registration yields ErrAlreadyInvited.
func (c *Client) InviteByEmail(ctx context.Context, email string, metadata map[string]any, redirectURL string) (Invitation, error) {
	var out authUser
	resp, err := c.admin(ctx).
		SetBody(map[string]any{"email": email, "data": metadata, "redirect_to": redirectURL}).
		SetResult(&out).
		Post("/admin/invite")
	if err := classify("invite", resp, err); err != nil {
		if isStatus(resp, http.StatusConflict, http.StatusUnprocessableEntity) {
			return Invitation{}, ErrAlreadyInvited
		}
		return Invitation{}, err
	}
	return Invitation{ExternalID: out.ID}, nil
}

// VerifyToken resolves a bearer token to the identity it was issued for.
func (c *Client) VerifyToken(ctx context.Context, token string) (Claims, error) {
	var out authUser
	resp, err := c.http.R().SetContext(ctx).SetAuthToken(token).SetResult(&out).Get("/user")
	if isStatus(resp, http.StatusUnauthorized, http.StatusForbidden) {
		return Claims{}, fmt.Errorf("%w: token rejected", shared.ErrUnauthorized)
	}
	if err := classify("verify token", resp, err); err != nil {
		return Claims{}, err
	}
	if out.ID == "" {
		return Claims{}, fmt.Errorf("%w: token carries no subject", shared.ErrUnauthorized)
	}
	return Claims{ExternalID: out.ID, Email: strings.ToLower(out.Email), Claims: out.UserMetadata}, nil
}

// DeleteCredential removes the credential of an external user.
func (c *Client) DeleteCredential(ctx context.Context, externalID string) error {
	resp, err := c.admin(ctx).SetPathParam("id", externalID).Delete("/admin/users/{id}")
	return classify("delete credential", resp, err)
}

// SetPassword replaces the password of an external user.
func (c *Client) SetPassword(ctx context.Context, externalID, password string) error {
	resp, err := c.admin(ctx).
		SetPathParam("id", externalID).
		SetBody(map[string]any{"password": password}).
		Put("/admin/users/{id}")
	return classify("set password", resp, err)
}

// MarkEmailConfirmed flags the email of an external user as confirmed.
func (c *Client) MarkEmailConfirmed(ctx context.Context, externalID string) error {
	resp, err := c.admin(ctx).
		SetPathParam("id", externalID).
		SetBody(map[string]any{"email_confirm": true}).
		Put("/admin/users/{id}")
	return classify("confirm email", resp, err)
}

// classify maps transport failures and status codes onto the error taxonomy.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: auth service %s: %v", shared.ErrUnavailable, op, err)
	}
	switch status := resp.StatusCode(); {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusNotFound:
		return ErrCredentialNotFound
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: auth service %s returned %d", shared.ErrUnavailable, op, status)
	default:
		return fmt.Errorf("auth service %s returned %d: %s", op, status, strings.TrimSpace(resp.String()))
	}
}

func isStatus(resp *resty.Response, codes ...int) bool {
	if resp == nil {
		return false
	}
	for _, code := range codes {
		if resp.StatusCode() == code {
			return true
		}
	}
	return false
}
