package matching

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis sorted set of waiting user ids, scored by enqueue
// time in unix seconds so that scans run oldest-first.
const QueueKey = "match_queue"

// Queue is the cross-process wait queue.
type Queue struct {
	rdb *redis.Client
}

// NewQueue creates a Queue backed by Redis.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue adds a user with the given enqueue time as score. Re-enqueuing an
// already waiting user refreshes their score.
func (q *Queue) Enqueue(ctx context.Context, userID int64, at time.Time) error {
	err := q.rdb.ZAdd(ctx, QueueKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: strconv.FormatInt(userID, 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("matching: enqueue %d: %w", userID, err)
	}
	return nil
}

// Dequeue removes a user from the queue. Removing an absent member is a no-op.
func (q *Queue) Dequeue(ctx context.Context, userID int64) error {
	err := q.rdb.ZRem(ctx, QueueKey, strconv.FormatInt(userID, 10)).Err()
	if err != nil {
		return fmt.Errorf("matching: dequeue %d: %w", userID, err)
	}
	return nil
}

// Waiting returns all queued user ids in ascending score order.
func (q *Queue) Waiting(ctx context.Context) ([]int64, error) {
	members, err := q.rdb.ZRange(ctx, QueueKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: range queue: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue // foreign member, not ours to interpret
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EnqueuedAt returns the time a waiting user joined the queue, or the zero
// time if they are not queued.
func (q *Queue) EnqueuedAt(ctx context.Context, userID int64) (time.Time, error) {
	score, err := q.rdb.ZScore(ctx, QueueKey, strconv.FormatInt(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("matching: enqueued at %d: %w", userID, err)
	}
	return time.Unix(int64(score), 0), nil
}

// IsQueued reports whether a user is currently waiting.
func (q *Queue) IsQueued(ctx context.Context, userID int64) (bool, error) {
	_, err := q.rdb.ZScore(ctx, QueueKey, strconv.FormatInt(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("matching: is queued %d: %w", userID, err)
	}
	return true, nil
}

// Size returns the number of waiting users.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("matching: queue size: %w", err)
	}
	return n, nil
}
