package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/bucketing"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/util"
)

// Scope names one of the limiter's counter namespaces. Keys never collide
// across scopes even when the underlying value (an IP, say) is the same.
type Scope string

const (
	ScopeInitiatePerIP         Scope = "initiate_ip"
	ScopeInitiatePerIdentifier Scope = "initiate_identifier"
	ScopeVerifyPerSession      Scope = "verify_session"
	ScopeVerifyPerIP           Scope = "verify_ip"
)

// CounterStore is the atomic increment primitive behind the limiter.
type CounterStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Decision reports the outcome of a single limit check.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

type limit struct {
	max    int64
	window time.Duration
}

// Limiter enforces fixed-window limits. Every check is a single atomic
// increment on the backing store; there is no separate read, so concurrent
// callers cannot both sneak under the limit.
type Limiter struct {
	store   CounterStore
	buckets *bucketing.Manager
	limits  map[Scope]limit
}

func NewLimiter(cfg *config.Config, store CounterStore, buckets *bucketing.Manager) *Limiter {
	return &Limiter{
		store:   store,
		buckets: buckets,
		limits: map[Scope]limit{
			ScopeInitiatePerIP:         {max: int64(cfg.RateLimit.InitiatePerIPHour), window: time.Hour},
			ScopeInitiatePerIdentifier: {max: int64(cfg.RateLimit.InitiatePerIdentifierHour), window: time.Hour},
			ScopeVerifyPerSession:      {max: int64(cfg.RateLimit.VerifyPerSessionMinute), window: time.Minute},
			ScopeVerifyPerIP:           {max: int64(cfg.RateLimit.VerifyPerIPMinute), window: time.Minute},
		},
	}
}

// Allow increments the counter for (scope, key) in the current window and
// reports whether the call is within the limit. The increment happens even
// when the caller is over the limit, so hammering a blocked key never earns
// it a fresh allowance.
func (l *Limiter) Allow(ctx context.Context, scope Scope, key string) (*Decision, error) {
	lim, ok := l.limits[scope]
	if !ok {
		return nil, fmt.Errorf("%w: unknown rate limit scope %q", apperrors.ErrConfiguration, scope)
	}

	windowStart := l.buckets.WindowStart(time.Now(), lim.window)
	shard := l.buckets.CounterShard(key)
	counterKey := fmt.Sprintf("%s:%d:%s:%d", scope, shard, key, windowStart.Unix())

	count, err := l.store.IncrementWindow(ctx, counterKey, lim.window)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	resetAt := windowStart.Add(lim.window)
	decision := &Decision{
		Allowed:   count <= lim.max,
		Remaining: lim.max - count,
		ResetAt:   resetAt,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	if !decision.Allowed {
		util.Warn("Rate limit exceeded",
			zap.String("scope", string(scope)),
			zap.Int64("count", count),
			zap.Int64("max", lim.max))
	}

	return decision, nil
}

// Exceeded wraps a denied decision into the error the HTTP layer maps to 429.
func Exceeded(scope Scope, d *Decision) error {
	return &apperrors.RateLimitedError{
		Scope:      string(scope),
		RetryAfter: time.Until(d.ResetAt),
		ResetAt:    d.ResetAt,
	}
}
