package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockKey is the single global advisory lock serializing pairing scans
// across all processes.
const LockKey = "global_match_lock"

// GlobalLock is a SetNX advisory lock with an owner token and a TTL. The
// TTL is a dead-owner safety: a crashed holder cannot block pairing for
// longer than the TTL. Release checks ownership so a slow holder whose
// lease expired cannot release a successor's lock.
type GlobalLock struct {
	rdb           *redis.Client
	ttl           time.Duration
	releaseScript *redis.Script
}

// releaseLua deletes the lock only if the caller still owns it.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// NewGlobalLock creates the lock handle with the given lease TTL.
func NewGlobalLock(rdb *redis.Client, ttl time.Duration) *GlobalLock {
	return &GlobalLock{
		rdb:           rdb,
		ttl:           ttl,
		releaseScript: redis.NewScript(releaseLua),
	}
}

// TryAcquire attempts to take the lock for holder without waiting.
// Returns false when another holder currently owns it.
func (l *GlobalLock) TryAcquire(ctx context.Context, holder string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, LockKey, holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("matching: acquire lock: %w", err)
	}
	return ok, nil
}

// Release gives the lock back if holder still owns it. Releasing a lock
// that expired or was taken over is a no-op.
func (l *GlobalLock) Release(ctx context.Context, holder string) error {
	if err := l.releaseScript.Run(ctx, l.rdb, []string{LockKey}, holder).Err(); err != nil {
		return fmt.Errorf("matching: release lock: %w", err)
	}
	return nil
}
