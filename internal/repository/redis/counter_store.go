package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/util"
)

const counterPrefix = "rate_limit:"

// CounterStore backs the fixed-window rate limiter. Each window is a single
// Redis key (the window start is baked into the key by the limiter), so
// INCR gives an atomic, lost-update-free count across all nodes.
type CounterStore struct {
	client *client.RedisClient
}

func NewCounterStore(client *client.RedisClient) *CounterStore {
	return &CounterStore{client: client}
}

// IncrementWindow atomically increments the counter for a window key and
// returns the new count. The TTL outlives the window slightly so slow
// readers never observe a vanished counter mid-window.
func (s *CounterStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := s.client.IncrWithExpire(ctx, counterPrefix+key, window+time.Minute)
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			zap.String("key", key),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	return count, nil
}
