package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, 60*time.Second), mr
}

func TestMarkOnlineOffline(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	online, err := s.IsOnline(ctx, 1)
	if err != nil || online {
		t.Fatalf("fresh user online = %v, %v", online, err)
	}

	if err := s.MarkOnline(ctx, 1); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	online, _ = s.IsOnline(ctx, 1)
	if !online {
		t.Error("user not online after MarkOnline")
	}

	if err := s.MarkOffline(ctx, 1); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	online, _ = s.IsOnline(ctx, 1)
	if online {
		t.Error("user online after MarkOffline")
	}
}

func TestPresenceExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	if err := s.MarkOnline(ctx, 1); err != nil {
		t.Fatalf("mark online: %v", err)
	}

	// No heartbeat for longer than the TTL: the user drops offline.
	mr.FastForward(61 * time.Second)

	online, err := s.IsOnline(ctx, 1)
	if err != nil || online {
		t.Errorf("expired user online = %v, %v", online, err)
	}
}

func TestHeartbeatRefreshExtendsTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	_ = s.MarkOnline(ctx, 1)
	mr.FastForward(50 * time.Second)
	_ = s.MarkOnline(ctx, 1) // heartbeat
	mr.FastForward(50 * time.Second)

	online, _ := s.IsOnline(ctx, 1)
	if !online {
		t.Error("user offline despite heartbeat refresh")
	}
}
