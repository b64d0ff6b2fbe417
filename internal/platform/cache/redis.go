// Package cache wires the Redis client used for token verification caching.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// ReadinessChecker pings Redis for the readiness endpoint.
type ReadinessChecker struct {
	client redis.UniversalClient
}

// NewReadinessChecker constructs a ReadinessChecker.
func NewReadinessChecker(client redis.UniversalClient) *ReadinessChecker {
	return &ReadinessChecker{client: client}
}

// Name identifies the dependency.
func (c *ReadinessChecker) Name() string { return "redis" }

// Check pings Redis with a short timeout.
func (c *ReadinessChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}
