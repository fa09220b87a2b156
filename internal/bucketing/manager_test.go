package bucketing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wallet-auth-service/internal/config"
)

func newTestManager() *Manager {
	return NewManager(&config.Config{
		Bucketing: config.BucketingConfig{EventBuckets: 64, CounterShards: 16},
	})
}

func TestBucketsAreDeterministic(t *testing.T) {
	m := newTestManager()

	assert.Equal(t, m.EventBucket("subject-a"), m.EventBucket("subject-a"))
	assert.Equal(t, m.CounterShard("key-a"), m.CounterShard("key-a"))
}

func TestBucketsStayInRange(t *testing.T) {
	m := newTestManager()

	keys := []string{"", "a", "user@example.com", "203.0.113.7", "some-long-session-id-value"}
	for _, k := range keys {
		b := m.EventBucket(k)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 64)

		s := m.CounterShard(k)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 16)
	}
}

func TestWindowStartAligned(t *testing.T) {
	m := newTestManager()

	now := time.Date(2026, 8, 28, 14, 37, 42, 0, time.UTC)

	hourStart := m.WindowStart(now, time.Hour)
	assert.Equal(t, time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC), hourStart)

	minuteStart := m.WindowStart(now, time.Minute)
	assert.Equal(t, time.Date(2026, 8, 28, 14, 37, 0, 0, time.UTC), minuteStart)

	// Same window for any instant inside it.
	later := now.Add(10 * time.Second)
	assert.Equal(t, minuteStart, m.WindowStart(later, time.Minute))
}

func TestHasherPoolIsConcurrencySafe(t *testing.T) {
	m := newTestManager()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.EventBucket("subject")
				_ = m.CounterShard("key")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, m.EventBucket("subject"), m.EventBucket("subject"))
}
