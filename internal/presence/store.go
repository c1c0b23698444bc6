// Package presence tracks per-user liveness in Redis. A user is online while
// their presence key exists; the key carries a short TTL that the session
// heartbeat refreshes, so a crashed process drops offline within one TTL.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OnlinePrefix is the Redis key prefix for presence entries.
const OnlinePrefix = "user_online:"

// Store manages presence keys.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a presence store. ttl is the presence key lifetime;
// heartbeats must arrive well within it.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(userID int64) string {
	return fmt.Sprintf("%s%d", OnlinePrefix, userID)
}

// MarkOnline sets (or refreshes) the presence entry for a user.
// Called on connect and by every heartbeat tick.
func (s *Store) MarkOnline(ctx context.Context, userID int64) error {
	if err := s.rdb.Set(ctx, key(userID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("presence: mark online %d: %w", userID, err)
	}
	return nil
}

// MarkOffline deletes the presence entry immediately.
func (s *Store) MarkOffline(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("presence: mark offline %d: %w", userID, err)
	}
	return nil
}

// IsOnline reports whether a fresh presence entry exists for the user.
func (s *Store) IsOnline(ctx context.Context, userID int64) (bool, error) {
	err := s.rdb.Get(ctx, key(userID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence: is online %d: %w", userID, err)
	}
	return true, nil
}
