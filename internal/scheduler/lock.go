package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock serializes scheduled work across worker processes. A held lock
// expires after its TTL, so a crashed holder frees it without operator
// intervention.
type Lock interface {
	// Acquire returns ok=false when another holder owns the name. On
	// success the caller must call release when done.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// releaseScript deletes the lock only when the token still matches, so a
// slow task cannot release a lock that has expired and been re-acquired by
// someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is the shared Lock used in multi-worker deployments.
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := "lock:" + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// MemoryLock is a process-local Lock for tests and single-node setups.
type MemoryLock struct {
	mu    sync.Mutex
	held  map[string]string
	until map[string]time.Time
	clock func() time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		held:  map[string]string{},
		until: map[string]time.Time{},
		clock: time.Now,
	}
}

func (l *MemoryLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if _, ok := l.held[name]; ok && now.Before(l.until[name]) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[name] = token
	l.until[name] = now.Add(ttl)

	release := func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[name] == token {
			delete(l.held, name)
			delete(l.until, name)
		}
		return nil
	}
	return release, true, nil
}
