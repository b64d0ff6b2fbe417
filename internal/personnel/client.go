// Package personnel is the client for the sibling field-personnel service.
package personnel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/shared"
)

// Client removes personnel records owned by a user.
type Client struct {
	http *resty.Client
}

// NewClient builds a Client for baseURL.
func NewClient(baseURL, serviceKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if serviceKey != "" {
		httpClient.SetAuthToken(serviceKey)
	}
	return &Client{http: httpClient}
}

// DeleteByUser removes the personnel record of userID. A missing record counts as deleted.
func (c *Client) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("userID", userID.String()).
		Delete("/api/personal/usuario/{userID}")
	if err != nil {
		return fmt.Errorf("%w: personnel service: %v", shared.ErrUnavailable, err)
	}
	switch status := resp.StatusCode(); {
	case status < http.StatusBadRequest, status == http.StatusNotFound:
		return nil
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: personnel service returned %d", shared.ErrUnavailable, status)
	default:
		return fmt.Errorf("personnel service returned %d", status)
	}
}
