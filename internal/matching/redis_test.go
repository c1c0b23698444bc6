package matching

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestQueueOrdering(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newTestRedis(t))

	base := time.Unix(1000, 0)
	if err := q.Enqueue(ctx, 3, base.Add(2*time.Second)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, 1, base); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, 2, base.Add(time.Second)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waiting, err := q.Waiting(ctx)
	if err != nil {
		t.Fatalf("waiting: %v", err)
	}
	if len(waiting) != 3 || waiting[0] != 1 || waiting[1] != 2 || waiting[2] != 3 {
		t.Errorf("waiting = %v, want [1 2 3]", waiting)
	}

	// Re-enqueue moves the user to the back, not to a second slot.
	if err := q.Enqueue(ctx, 1, base.Add(5*time.Second)); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	waiting, _ = q.Waiting(ctx)
	if len(waiting) != 3 || waiting[2] != 1 {
		t.Errorf("after re-enqueue waiting = %v", waiting)
	}
}

func TestQueueDequeue(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newTestRedis(t))

	if err := q.Enqueue(ctx, 1, time.Unix(1000, 0)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	queued, err := q.IsQueued(ctx, 1)
	if err != nil || !queued {
		t.Fatalf("IsQueued = %v, %v", queued, err)
	}

	if err := q.Dequeue(ctx, 1); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	queued, _ = q.IsQueued(ctx, 1)
	if queued {
		t.Error("still queued after dequeue")
	}

	// Dequeue of an absent member is a no-op.
	if err := q.Dequeue(ctx, 42); err != nil {
		t.Errorf("dequeue absent: %v", err)
	}

	n, err := q.Size(ctx)
	if err != nil || n != 0 {
		t.Errorf("size = %d, %v", n, err)
	}
}

func TestRegistryRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newTestRedis(t), 5*time.Minute)

	rec := NewRecord(1, 2, time.Unix(1000, 0))
	rec.SetResponse(1, ResponseAccept, time.Unix(1001, 0))

	if err := r.PutRecord(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := r.GetRecord(ctx, rec.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.User1 != "1" || got.User2 != "2" || got.ResponseOf(1) != ResponseAccept {
		t.Errorf("round trip = %+v", got)
	}

	missing, err := r.GetRecord(ctx, "5:6")
	if err != nil || missing != nil {
		t.Errorf("missing record = %+v, %v", missing, err)
	}
}

func TestRegistryActivePointers(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newTestRedis(t), 5*time.Minute)

	id, err := r.GetActive(ctx, 1)
	if err != nil || id != "" {
		t.Fatalf("empty pointer = %q, %v", id, err)
	}

	if err := r.SetActive(ctx, 1, "1:2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	id, _ = r.GetActive(ctx, 1)
	if id != "1:2" {
		t.Errorf("pointer = %q", id)
	}

	if err := r.DeleteActive(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	id, _ = r.GetActive(ctx, 1)
	if id != "" {
		t.Errorf("pointer after delete = %q", id)
	}
}

func TestRegistryCleanup(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newTestRedis(t), 5*time.Minute)

	rec := NewRecord(1, 2, time.Unix(1000, 0))
	if err := r.PutRecord(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = r.SetActive(ctx, 1, rec.ID())
	_ = r.SetActive(ctx, 2, rec.ID())

	if err := r.Cleanup(ctx, rec); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if got, _ := r.GetRecord(ctx, rec.ID()); got != nil {
		t.Error("record survived cleanup")
	}
	if id, _ := r.GetActive(ctx, 1); id != "" {
		t.Error("pointer 1 survived cleanup")
	}
	if id, _ := r.GetActive(ctx, 2); id != "" {
		t.Error("pointer 2 survived cleanup")
	}
}

func TestGlobalLock(t *testing.T) {
	ctx := context.Background()
	l := NewGlobalLock(newTestRedis(t), 10*time.Second)

	ok, err := l.TryAcquire(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}

	ok, err = l.TryAcquire(ctx, "2")
	if err != nil || ok {
		t.Fatalf("second acquire = %v, %v (want held)", ok, err)
	}

	// A non-holder's release must not free the lock.
	if err := l.Release(ctx, "2"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	ok, _ = l.TryAcquire(ctx, "2")
	if ok {
		t.Fatal("lock freed by non-holder")
	}

	if err := l.Release(ctx, "1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = l.TryAcquire(ctx, "2")
	if !ok {
		t.Fatal("lock not acquirable after release")
	}
}

func TestGlobalLockExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewGlobalLock(rdb, 10*time.Second)
	if ok, _ := l.TryAcquire(ctx, "1"); !ok {
		t.Fatal("acquire failed")
	}

	// A crashed holder never releases; the TTL frees the lock.
	mr.FastForward(11 * time.Second)

	if ok, _ := l.TryAcquire(ctx, "2"); !ok {
		t.Fatal("lock not freed by TTL")
	}
}
