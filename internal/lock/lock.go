// Package lock implements the named mutual-exclusion lock C4 uses to
// serialize orchestrations per model_name (§5): a Redis SET NX PX lease,
// with an in-memory fallback for single-process/dev mode.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is a named mutual-exclusion lock. TryAcquire returns
// (token, true, nil) on success, or (_, false, nil) if already held —
// contention is not an error, it is the expected "orchestration in
// flight" outcome the orchestrator turns into a skip decision.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, name, token string) error
}

// RedisLocker implements Locker with SET NX PX plus a token-checked
// Lua release, grounded on the teacher's use of redis/go-redis/v9 for
// coordination primitives.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (l *RedisLocker) Release(ctx context.Context, name, token string) error {
	return releaseScript.Run(ctx, l.client, []string{lockKey(name)}, token).Err()
}

func lockKey(name string) string {
	return "sentry:lock:" + name
}

// InMemoryLocker is a single-process fallback used in dev/test, backed
// by a plain mutex map rather than a distributed lease.
type InMemoryLocker struct {
	mu      sync.Mutex
	held    map[string]string
	expires map[string]time.Time
}

// NewInMemoryLocker builds an empty in-memory lock table.
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{held: map[string]string{}, expires: map[string]time.Time{}}
}

func (l *InMemoryLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.expires[name]; ok && time.Now().Before(exp) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.held[name] = token
	l.expires[name] = time.Now().Add(ttl)
	return token, true, nil
}

func (l *InMemoryLocker) Release(ctx context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] == token {
		delete(l.held, name)
		delete(l.expires, name)
	}
	return nil
}
