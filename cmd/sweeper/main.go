// Command sweeper is the background maintenance process for the matchmaking
// state in Redis. It periodically removes queue entries whose presence key
// has lapsed and repairs active-match pointers whose record has expired.
// The pairing scan and the respond path already handle both conditions
// inline; the sweeper keeps the keyspace tidy during quiet periods when no
// scan comes along to do it.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tori/voicematch/internal/config"
	"github.com/tori/voicematch/internal/matching"
	"github.com/tori/voicematch/internal/presence"
)

const sweepTimeout = 30 * time.Second

type sweeper struct {
	rdb      *redis.Client
	pres     *presence.Store
	queue    *matching.Queue
	registry *matching.Registry
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.Load()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	s := &sweeper{
		rdb:      rdb,
		pres:     presence.NewStore(rdb, cfg.OnlineTTL),
		queue:    matching.NewQueue(rdb),
		registry: matching.NewRegistry(rdb, cfg.MatchTTL),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.StaleHeartbeatThreshold)
	defer ticker.Stop()

	log.Printf("[sweeper] running every %s", cfg.StaleHeartbeatThreshold)

	for {
		select {
		case <-stop:
			log.Printf("[sweeper] shutting down")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			s.sweep(ctx)
			cancel()
		}
	}
}

func (s *sweeper) sweep(ctx context.Context) {
	s.sweepQueue(ctx)
	s.sweepPointers(ctx)
}

// sweepQueue removes queue entries for users whose presence key has expired.
func (s *sweeper) sweepQueue(ctx context.Context) {
	waiting, err := s.queue.Waiting(ctx)
	if err != nil {
		log.Printf("[sweeper] read queue: %v", err)
		return
	}

	removed := 0
	for _, userID := range waiting {
		online, err := s.pres.IsOnline(ctx, userID)
		if err != nil {
			log.Printf("[sweeper] presence check %d: %v", userID, err)
			continue
		}
		if online {
			continue
		}
		if err := s.queue.Dequeue(ctx, userID); err != nil {
			log.Printf("[sweeper] dequeue %d: %v", userID, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Printf("[sweeper] removed %d stale queue entries", removed)
	}
}

// sweepPointers walks the active-match pointers and deletes those whose
// record is gone (expired or cleaned up by a crashed process mid-teardown).
func (s *sweeper) sweepPointers(ctx context.Context) {
	var cursor uint64
	repaired := 0

	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, matching.ActivePrefix+"*", 100).Result()
		if err != nil {
			log.Printf("[sweeper] scan pointers: %v", err)
			return
		}

		for _, key := range keys {
			userID, err := strconv.ParseInt(strings.TrimPrefix(key, matching.ActivePrefix), 10, 64)
			if err != nil {
				continue
			}

			matchID, err := s.registry.GetActive(ctx, userID)
			if err != nil || matchID == "" {
				continue
			}

			rec, err := s.registry.GetRecord(ctx, matchID)
			if err != nil {
				log.Printf("[sweeper] record lookup %s: %v", matchID, err)
				continue
			}
			if rec != nil {
				continue
			}

			if err := s.registry.DeleteActive(ctx, userID); err != nil {
				log.Printf("[sweeper] drop pointer %d: %v", userID, err)
				continue
			}
			repaired++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if repaired > 0 {
		log.Printf("[sweeper] repaired %d dangling match pointers", repaired)
	}
}
