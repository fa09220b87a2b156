package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"wallet-auth-service/internal/config"
)

// Manager assigns partition buckets. Audit events are spread across
// event buckets for ClickHouse partitioning; rate-limit counters are sharded
// so hot identifiers do not pile onto a single Redis key prefix.
type Manager struct {
	eventBuckets  int
	counterShards int
	hasherPool    sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		eventBuckets:  cfg.Bucketing.EventBuckets,
		counterShards: cfg.Bucketing.CounterShards,
	}

	// Pool of hashers to avoid per-call allocation
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// EventBucket returns the partition bucket for an audit subject.
func (m *Manager) EventBucket(subjectHash string) int {
	return int(m.hash(subjectHash) % uint64(m.eventBuckets))
}

// CounterShard returns the shard for a rate-limit key.
func (m *Manager) CounterShard(key string) int {
	return int(m.hash(key) % uint64(m.counterShards))
}

// WindowStart returns the fixed-window start for the given width, aligned to
// the epoch so all nodes agree on window boundaries.
func (m *Manager) WindowStart(now time.Time, window time.Duration) time.Time {
	secs := int64(window.Seconds())
	return time.Unix(now.Unix()/secs*secs, 0).UTC()
}

func (m *Manager) hash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
