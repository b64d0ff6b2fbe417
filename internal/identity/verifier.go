package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/fieldcrew/identity/internal/shared"
)

// TokenVerifier resolves bearer tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (Claims, error)
}

const tokenKeyPrefix = "identity:token:"

// CachedVerifier caches successful verifications in Redis keyed by the token
// hash and coalesces concurrent lookups of the same token.
type CachedVerifier struct {
	next   TokenVerifier
	redis  redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedVerifier wraps next. A nil redis client disables caching but keeps coalescing.
func NewCachedVerifier(next TokenVerifier, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedVerifier {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedVerifier{next: next, redis: client, ttl: ttl, logger: logger}
}

// VerifyToken returns cached claims or asks the Auth service. Failures are never cached.
func (v *CachedVerifier) VerifyToken(ctx context.Context, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, shared.ErrUnauthorized
	}
	key := tokenKey(token)

	if claims, ok := v.lookup(ctx, key); ok {
		return claims, nil
	}

	res, err, _ := v.group.Do(key, func() (any, error) {
		claims, err := v.next.VerifyToken(ctx, token)
		if err != nil {
			return Claims{}, err
		}
		v.store(ctx, key, claims)
		return claims, nil
	})
	if err != nil {
		return Claims{}, err
	}
	return res.(Claims), nil
}

func (v *CachedVerifier) lookup(ctx context.Context, key string) (Claims, bool) {
	if v.redis == nil {
		return Claims{}, false
	}
	raw, err := v.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			v.logger.Warn("token cache read failed", slog.Any("error", err))
		}
		return Claims{}, false
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, false
	}
	return claims, true
}

func (v *CachedVerifier) store(ctx context.Context, key string, claims Claims) {
	if v.redis == nil {
		return
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return
	}
	if err := v.redis.Set(ctx, key, raw, v.ttl).Err(); err != nil {
		v.logger.Warn("token cache write failed", slog.Any("error", err))
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return tokenKeyPrefix + hex.EncodeToString(sum[:])
}
