package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes for the match registry.
const (
	RecordPrefix = "match_requests:" // + <match_id> -> JSON Record
	ActivePrefix = "user_matches:"   // + <user_id>  -> match_id
)

// Registry stores match records and the per-user active-match pointers.
// Both carry the same TTL so a record never outlives its pointers by more
// than clock skew.
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRegistry creates a Registry with the given record TTL.
func NewRegistry(rdb *redis.Client, ttl time.Duration) *Registry {
	return &Registry{rdb: rdb, ttl: ttl}
}

func activeKey(userID int64) string {
	return ActivePrefix + strconv.FormatInt(userID, 10)
}

// PutRecord writes a match record under its canonical id.
func (r *Registry) PutRecord(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("matching: marshal record %s: %w", rec.ID(), err)
	}
	if err := r.rdb.Set(ctx, RecordPrefix+rec.ID(), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("matching: put record %s: %w", rec.ID(), err)
	}
	return nil
}

// GetRecord loads a match record. Returns (nil, nil) when the record does
// not exist or has expired.
func (r *Registry) GetRecord(ctx context.Context, matchID string) (*Record, error) {
	data, err := r.rdb.Get(ctx, RecordPrefix+matchID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matching: get record %s: %w", matchID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("matching: decode record %s: %w", matchID, err)
	}
	return &rec, nil
}

// DeleteRecord removes a match record.
func (r *Registry) DeleteRecord(ctx context.Context, matchID string) error {
	if err := r.rdb.Del(ctx, RecordPrefix+matchID).Err(); err != nil {
		return fmt.Errorf("matching: delete record %s: %w", matchID, err)
	}
	return nil
}

// SetActive points a user at their current match.
func (r *Registry) SetActive(ctx context.Context, userID int64, matchID string) error {
	if err := r.rdb.Set(ctx, activeKey(userID), matchID, r.ttl).Err(); err != nil {
		return fmt.Errorf("matching: set active %d: %w", userID, err)
	}
	return nil
}

// GetActive returns the user's active match id, or ("", nil) when the user
// is not committed to any match.
func (r *Registry) GetActive(ctx context.Context, userID int64) (string, error) {
	matchID, err := r.rdb.Get(ctx, activeKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("matching: get active %d: %w", userID, err)
	}
	return matchID, nil
}

// DeleteActive clears the user's active-match pointer.
func (r *Registry) DeleteActive(ctx context.Context, userID int64) error {
	if err := r.rdb.Del(ctx, activeKey(userID)).Err(); err != nil {
		return fmt.Errorf("matching: delete active %d: %w", userID, err)
	}
	return nil
}

// Cleanup removes a match record and both participants' active-match
// pointers in one pipeline. Used by every teardown path (reject, partner
// offline, disconnect, mutual accept).
func (r *Registry) Cleanup(ctx context.Context, rec *Record) error {
	a, b := rec.Participants()
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, RecordPrefix+rec.ID())
	pipe.Del(ctx, activeKey(a))
	pipe.Del(ctx, activeKey(b))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("matching: cleanup %s: %w", rec.ID(), err)
	}
	return nil
}
