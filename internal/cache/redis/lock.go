package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// releaseLua deletes the lock only while it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// releaseTimeout bounds the release call, which runs on a fresh context so
// a lock taken under a cancelled request is still freed.
const releaseTimeout = 5 * time.Second

// lockStore is the pair of Redis operations a lock needs.
type lockStore interface {
	setNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

type redisLockStore struct {
	rdb    *redis.Client
	script *redis.Script
}

func (s redisLockStore) setNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, token, ttl).Result()
}

func (s redisLockStore) release(ctx context.Context, key, token string) error {
	return s.script.Run(ctx, s.rdb, []string{key}, token).Err()
}

// LockManager implements domain.LockManager. Locks live at
// {namespace}:lock:{key} with a random token as value; only the holder of
// the token can release them.
type LockManager struct {
	store     lockStore
	namespace string
	logger    *slog.Logger
}

// NewLockManager creates a LockManager on c. Failed releases are logged to
// logger; nil uses slog.Default.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return newLockManager(redisLockStore{rdb: c.Underlying(), script: redis.NewScript(releaseLua)}, c.Namespace(), logger)
}

func newLockManager(store lockStore, namespace string, logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{
		store:     store,
		namespace: namespaceOrDefault(namespace),
		logger:    logger.With(slog.String("component", "lock_manager")),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return namespacedKey(lm.namespace, "lock", key)
}

// Acquire takes the lock for key with the given TTL. The returned release
// function may be called any number of times from any goroutine; only the
// first call reaches Redis. It returns domain.ErrLockHeld when someone else
// holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.lockKey(key)

	ok, err := lm.store.setNX(ctx, lk, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := lm.store.release(releaseCtx, lk, token); err != nil {
				lm.logger.Warn("lock release failed, waiting for ttl",
					slog.String("key", lk),
					slog.Duration("ttl", ttl),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
