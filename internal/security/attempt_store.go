package security

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Attempt is the ephemeral failure record for one (identity, origin) pair.
// It is never persisted on the credential itself.
type Attempt struct {
	Count        int
	FirstAttempt time.Time
	LastAttempt  time.Time
	LockedUntil  *time.Time
}

// AttemptStore is the keyed counter behind the failed-attempt tracker.
// The in-memory adapter is correct for a single instance; horizontally
// scaled deployments must use the Redis adapter so that concurrent failures
// on different instances share one atomically-incremented counter.
type AttemptStore interface {
	// Increment records one failure and returns the updated record. A record
	// whose lock has already expired is reset before being reused.
	Increment(ctx context.Context, key string, retention time.Duration) (Attempt, error)
	// Get returns the current record, or nil when none exists.
	Get(ctx context.Context, key string) (*Attempt, error)
	// Lock marks the key locked until the given time.
	Lock(ctx context.Context, key string, until time.Time) error
	// Clear removes the record entirely.
	Clear(ctx context.Context, key string) error
}

// InMemoryAttemptStore keeps attempt records in a mutex-guarded map.
type InMemoryAttemptStore struct {
	mu      sync.Mutex
	records map[string]*Attempt

	now func() time.Time
}

func NewInMemoryAttemptStore() *InMemoryAttemptStore {
	return &InMemoryAttemptStore{
		records: make(map[string]*Attempt),
		now:     time.Now,
	}
}

func (s *InMemoryAttemptStore) Increment(_ context.Context, key string, _ time.Duration) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, exists := s.records[key]
	if !exists || (rec.LockedUntil != nil && now.After(*rec.LockedUntil)) {
		rec = &Attempt{FirstAttempt: now}
		s.records[key] = rec
	}
	rec.Count++
	rec.LastAttempt = now
	return *rec, nil
}

func (s *InMemoryAttemptStore) Get(_ context.Context, key string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (s *InMemoryAttemptStore) Lock(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		rec = &Attempt{FirstAttempt: s.now()}
		s.records[key] = rec
	}
	rec.LockedUntil = &until
	return nil
}

func (s *InMemoryAttemptStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// RedisAttemptStore shares one counter across all service instances using
// Redis atomic increments. Counter and lock live under separate keys so the
// lock TTL can expire independently.
type RedisAttemptStore struct {
	client *redis.Client
	prefix string
}

func NewRedisAttemptStore(client *redis.Client) *RedisAttemptStore {
	return &RedisAttemptStore{client: client, prefix: "auth:attempts:"}
}

func (s *RedisAttemptStore) Increment(ctx context.Context, key string, retention time.Duration) (Attempt, error) {
	countKey := s.prefix + key
	lockKey := s.prefix + key + ":lock"

	// Lock expires the counter with itself (see Lock), so a key that is
	// still present is always inside its window.
	lockVal, err := s.client.Get(ctx, lockKey).Result()
	if err != nil && err != redis.Nil {
		return Attempt{}, err
	}

	n, err := s.client.Incr(ctx, countKey).Result()
	if err != nil {
		return Attempt{}, err
	}
	if n == 1 {
		s.client.Expire(ctx, countKey, retention)
	}

	now := time.Now()
	att := Attempt{Count: int(n), FirstAttempt: now, LastAttempt: now}
	if until := parseLockValue(lockVal); until != nil && now.Before(*until) {
		att.LockedUntil = until
	}
	return att, nil
}

func (s *RedisAttemptStore) Get(ctx context.Context, key string) (*Attempt, error) {
	countKey := s.prefix + key
	lockKey := s.prefix + key + ":lock"

	countVal, err := s.client.Get(ctx, countKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	count, _ := strconv.Atoi(countVal)

	att := &Attempt{Count: count}
	lockVal, err := s.client.Get(ctx, lockKey).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	att.LockedUntil = parseLockValue(lockVal)
	return att, nil
}

func (s *RedisAttemptStore) Lock(ctx context.Context, key string, until time.Time) error {
	lockKey := s.prefix + key + ":lock"
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	// The counter expires with the lock so a fresh window starts clean.
	s.client.Expire(ctx, s.prefix+key, ttl)
	return s.client.Set(ctx, lockKey, until.UTC().Format(time.RFC3339Nano), ttl).Err()
}

func (s *RedisAttemptStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key, s.prefix+key+":lock").Err()
}

func parseLockValue(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil
	}
	return &t
}
