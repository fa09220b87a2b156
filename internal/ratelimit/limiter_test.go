package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/bucketing"
	"wallet-auth-service/internal/config"
)

func newTestLimiter(initiateIP, initiateIdent, verifySession, verifyIP int) *Limiter {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			InitiatePerIPHour:         initiateIP,
			InitiatePerIdentifierHour: initiateIdent,
			VerifyPerSessionMinute:    verifySession,
			VerifyPerIPMinute:         verifyIP,
		},
		Bucketing: config.BucketingConfig{EventBuckets: 64, CounterShards: 16},
	}
	return NewLimiter(cfg, NewMemoryCounterStore(), bucketing.NewManager(cfg))
}

func TestAllowUnderLimit(t *testing.T) {
	limiter := newTestLimiter(5, 5, 5, 5)

	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(context.Background(), ScopeInitiatePerIP, "198.51.100.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(4-i), d.Remaining)
	}
}

func TestDeniesOverLimit(t *testing.T) {
	limiter := newTestLimiter(3, 3, 3, 3)

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(context.Background(), ScopeVerifyPerSession, "session-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := limiter.Allow(context.Background(), ScopeVerifyPerSession, "session-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
	assert.True(t, d.ResetAt.After(time.Now()))
}

func TestScopesAreIndependent(t *testing.T) {
	limiter := newTestLimiter(1, 1, 1, 1)

	d, err := limiter.Allow(context.Background(), ScopeInitiatePerIP, "key")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Same key under a different scope has its own budget.
	d, err = limiter.Allow(context.Background(), ScopeVerifyPerIP, "key")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = limiter.Allow(context.Background(), ScopeInitiatePerIP, "key")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	limiter := newTestLimiter(1, 1, 1, 1)

	d, err := limiter.Allow(context.Background(), ScopeInitiatePerIdentifier, "alice-hash")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = limiter.Allow(context.Background(), ScopeInitiatePerIdentifier, "bob-hash")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestUnknownScope(t *testing.T) {
	limiter := newTestLimiter(1, 1, 1, 1)

	_, err := limiter.Allow(context.Background(), Scope("bogus"), "key")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestConcurrentIncrementsLoseNoUpdates(t *testing.T) {
	limiter := newTestLimiter(1, 1, 100, 1)

	const calls = 150
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(context.Background(), ScopeVerifyPerSession, "hot-session")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
}

func TestExceededCarriesRetryAfter(t *testing.T) {
	resetAt := time.Now().Add(30 * time.Second)
	err := Exceeded(ScopeVerifyPerIP, &Decision{Allowed: false, ResetAt: resetAt})

	rle, ok := apperrors.IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, string(ScopeVerifyPerIP), rle.Scope)
	assert.Equal(t, resetAt, rle.ResetAt)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestMemoryStoreCountsPerKey(t *testing.T) {
	store := NewMemoryCounterStore()

	n, err := store.IncrementWindow(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.IncrementWindow(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.IncrementWindow(context.Background(), "other", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
