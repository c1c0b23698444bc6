package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tori/voicematch/internal/matching"
	"github.com/tori/voicematch/internal/messaging"
	"github.com/tori/voicematch/internal/presence"
	"github.com/tori/voicematch/internal/protocol"
	"github.com/tori/voicematch/internal/ws"
)

// In-memory collaborators for supervisor tests. The transport and bus fakes
// deliver synchronously so every assertion runs against settled state.

type fakeTransport struct {
	conns        *ws.ConnectionManager
	onDisconnect func(c *ws.Connection)

	mu      sync.Mutex
	frames  map[string][][]byte
	removed []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		conns:  ws.NewConnectionManager(),
		frames: make(map[string][][]byte),
	}
}

func (f *fakeTransport) SendMessage(connID string, data []byte) error {
	f.mu.Lock()
	f.frames[connID] = append(f.frames[connID], data)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendToUser(userID int64, data []byte) bool {
	c := f.conns.MatchConn(userID)
	if c == nil {
		return false
	}
	_ = f.SendMessage(c.ID, data)
	return true
}

// RemoveConnection mirrors the server: drop from the manager, then run the
// disconnect hook.
func (f *fakeTransport) RemoveConnection(c *ws.Connection) {
	if !f.conns.Remove(c.ID) {
		return
	}
	f.mu.Lock()
	f.removed = append(f.removed, c.ID)
	f.mu.Unlock()
	if f.onDisconnect != nil {
		f.onDisconnect(c)
	}
}

func (f *fakeTransport) Connections() *ws.ConnectionManager { return f.conns }

func (f *fakeTransport) framesFor(connID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames[connID]...)
}

func (f *fakeTransport) wasRemoved(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.removed {
		if id == connID {
			return true
		}
	}
	return false
}

type busSub struct {
	subject string
	handler func(data []byte)
}

type busMsg struct {
	subject string
	data    []byte
}

type fakeBus struct {
	mu        sync.Mutex
	subs      map[string]busSub
	published []busMsg
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]busSub)}
}

func (b *fakeBus) SubscribeUser(userID int64, key string, handler func(data []byte)) error {
	b.mu.Lock()
	b.subs["user:"+key] = busSub{messaging.UserSubject(userID), handler}
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) UnsubscribeUser(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs["user:"+key]; !ok {
		return fmt.Errorf("no subscription for %s", key)
	}
	delete(b.subs, "user:"+key)
	return nil
}

func (b *fakeBus) PublishUser(userID int64, data []byte) error {
	return b.publish(messaging.UserSubject(userID), data)
}

func (b *fakeBus) PublishRoom(room string, data []byte) error {
	return b.publish(messaging.RoomSubject(room), data)
}

func (b *fakeBus) publish(subject string, data []byte) error {
	b.mu.Lock()
	b.published = append(b.published, busMsg{subject, data})
	var handlers []func([]byte)
	for _, sub := range b.subs {
		if sub.subject == subject {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (b *fakeBus) hasSub(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs["user:"+key]
	return ok
}

// eventsFor decodes every event published to a subject.
func (b *fakeBus) eventsFor(t *testing.T, subject string) []messaging.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var events []messaging.Event
	for _, msg := range b.published {
		if msg.subject != subject {
			continue
		}
		event, err := messaging.DecodeEvent(msg.data)
		if err != nil {
			t.Fatalf("decode published event: %v", err)
		}
		events = append(events, event)
	}
	return events
}

type fakePairer struct {
	mu       sync.Mutex
	outcomes []matching.Outcome
	partner  *matching.Person
	calls    int
}

func (p *fakePairer) FindAndMatch(_ context.Context, _ int64) (matching.Outcome, *matching.Person, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	outcome := matching.OutcomeNoMatch
	if len(p.outcomes) > 0 {
		outcome = p.outcomes[0]
		p.outcomes = p.outcomes[1:]
	}
	if outcome == matching.OutcomeMatchCreated {
		return outcome, p.partner, nil
	}
	return outcome, nil, nil
}

func (p *fakePairer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeRoomStore struct {
	mu       sync.Mutex
	partners map[int64][]int64
}

func (f *fakeRoomStore) DeleteByParticipant(_ context.Context, userID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.partners[userID]
	delete(f.partners, userID)
	return out, nil
}

type personMap map[int64]*matching.Person

func (m personMap) Person(_ context.Context, userID int64) (*matching.Person, error) {
	return m[userID], nil
}

type nopRooms struct{}

func (nopRooms) Create(context.Context, int64, int64) error { return nil }

type supervisorFixture struct {
	transport *fakeTransport
	bus       *fakeBus
	pres      *presence.Store
	queue     *matching.Queue
	registry  *matching.Registry
	pairer    *fakePairer
	persons   personMap
	roomStore *fakeRoomStore
	sup       *Supervisor
}

func newSupervisorFixture(t *testing.T) *supervisorFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := &supervisorFixture{
		transport: newFakeTransport(),
		bus:       newFakeBus(),
		pres:      presence.NewStore(rdb, time.Minute),
		queue:     matching.NewQueue(rdb),
		registry:  matching.NewRegistry(rdb, 5*time.Minute),
		pairer:    &fakePairer{},
		persons:   personMap{},
		roomStore: &fakeRoomStore{partners: make(map[int64][]int64)},
	}
	responder := matching.NewResponder(f.queue, f.registry, f.pres, f.persons, nopRooms{})
	f.sup = NewSupervisor(f.transport, f.bus, f.pres, f.queue, f.registry,
		f.pairer, responder, f.persons, f.roomStore, Config{RetryBackoff: time.Millisecond})
	f.transport.onDisconnect = f.sup.OnDisconnect
	return f
}

func (f *supervisorFixture) newConn(id string, userID int64, fd int) *ws.Connection {
	_, server := net.Pipe()
	return &ws.Connection{
		ID:        id,
		UserID:    userID,
		Kind:      ws.KindMatch,
		Conn:      server,
		Fd:        fd,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}
}

// connect runs the handshake and registers the connection in the same order
// the server does: the handler first, the manager after.
func (f *supervisorFixture) connect(t *testing.T, id string, userID int64, fd int) *ws.Connection {
	t.Helper()
	c := f.newConn(id, userID, fd)
	if err := f.sup.OnConnect(c); err != nil {
		t.Fatalf("OnConnect %s: %v", id, err)
	}
	f.transport.conns.Add(c)
	return c
}

func decodeFrame(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return m
}

// findFrame returns the first frame of the given type sent to a connection.
func findFrame(t *testing.T, frames [][]byte, msgType string) map[string]interface{} {
	t.Helper()
	for _, data := range frames {
		m := decodeFrame(t, data)
		if m["type"] == msgType {
			return m
		}
	}
	return nil
}

func TestConnectEvictsPreviousLocalSession(t *testing.T) {
	ctx := context.Background()
	f := newSupervisorFixture(t)
	f.persons[7] = &matching.Person{ID: 7, Username: "mara"}

	f.connect(t, "old", 7, 1)

	// Second login by the same user. The previous session is on this
	// process, so it must be told and torn down before the handshake ends.
	c := f.newConn("new", 7, 2)
	if err := f.sup.OnConnect(c); err != nil {
		t.Fatalf("OnConnect new: %v", err)
	}
	f.transport.conns.Add(c)

	frame := findFrame(t, f.transport.framesFor("old"), protocol.TypeForceDisconnect)
	if frame == nil || frame["reason"] != messaging.ReasonNewLogin {
		t.Errorf("old session frame = %v", frame)
	}
	if !f.transport.wasRemoved("old") {
		t.Error("old connection not removed")
	}
	if f.transport.conns.MatchConn(7).ID != "new" {
		t.Error("user index does not point at the new connection")
	}

	// The old session's teardown ran inside the handshake; the new session's
	// subscription and presence must have survived it.
	if f.bus.hasSub("old") {
		t.Error("old subscription still registered")
	}
	if !f.bus.hasSub("new") {
		t.Error("new subscription missing")
	}
	online, err := f.pres.IsOnline(ctx, 7)
	if err != nil || !online {
		t.Errorf("online = %v, %v", online, err)
	}
}

func TestLateTeardownKeepsNewSubscription(t *testing.T) {
	f := newSupervisorFixture(t)
	f.persons[7] = &matching.Person{ID: 7, Username: "mara"}

	// An old session whose socket died without the disconnect hook having
	// run yet. Its manager entry is gone but its subscription lingers.
	old := f.connect(t, "old", 7, 1)
	f.transport.conns.Remove("old")

	// The new login finds no local connection, sees the user online and
	// takes the bus eviction path.
	c := f.newConn("new", 7, 2)
	if err := f.sup.OnConnect(c); err != nil {
		t.Fatalf("OnConnect new: %v", err)
	}
	f.transport.conns.Add(c)

	// The old session's teardown arrives after the handover. It may only
	// drop its own subscription.
	f.sup.OnDisconnect(old)

	if f.bus.hasSub("old") {
		t.Error("old subscription still registered")
	}
	if !f.bus.hasSub("new") {
		t.Error("late teardown took the new session's subscription")
	}

	// Fan-out to the user still reaches the new connection.
	event := messaging.Event{Type: messaging.EventMatchCancelled, From: "rival"}
	data, _ := event.Encode()
	_ = f.bus.PublishUser(7, data)

	frame := findFrame(t, f.transport.framesFor("new"), protocol.TypeMatchCancelled)
	if frame == nil || frame["from"] != "rival" {
		t.Errorf("new session frame = %v", frame)
	}
}

func TestConnectRejectsActiveMatch(t *testing.T) {
	ctx := context.Background()
	f := newSupervisorFixture(t)
	f.persons[1] = &matching.Person{ID: 1, Username: "alice"}
	_ = f.registry.SetActive(ctx, 1, "1:2")

	c := f.newConn("c1", 1, 1)
	if err := f.sup.OnConnect(c); err == nil {
		t.Fatal("handshake accepted a user with an active match")
	}
	if f.bus.hasSub("c1") {
		t.Error("subscription registered despite rejected handshake")
	}
}

func TestDisconnectCancelsPendingMatch(t *testing.T) {
	ctx := context.Background()
	f := newSupervisorFixture(t)
	f.persons[1] = &matching.Person{ID: 1, Username: "alice"}
	f.persons[2] = &matching.Person{ID: 2, Username: "bruno"}

	c := f.connect(t, "c1", 1, 1)
	_ = f.pres.MarkOnline(ctx, 2)

	// A half-answered match: the partner accepted, the disconnecting user
	// has not responded yet.
	now := time.Now()
	rec := matching.NewRecord(1, 2, now)
	rec.SetResponse(2, "accept", now)
	_ = f.registry.PutRecord(ctx, rec)
	_ = f.registry.SetActive(ctx, 1, rec.ID())
	_ = f.registry.SetActive(ctx, 2, rec.ID())

	f.sup.OnDisconnect(c)

	if got, _ := f.registry.GetRecord(ctx, rec.ID()); got != nil {
		t.Error("record survived the disconnect")
	}
	if id, _ := f.registry.GetActive(ctx, 1); id != "" {
		t.Errorf("pointer 1 = %q", id)
	}
	if id, _ := f.registry.GetActive(ctx, 2); id != "" {
		t.Errorf("pointer 2 = %q", id)
	}
	if queued, _ := f.queue.IsQueued(ctx, 2); !queued {
		t.Error("online partner not re-queued")
	}

	events := f.bus.eventsFor(t, messaging.UserSubject(2))
	var cancelled *messaging.Event
	for i := range events {
		if events[i].Type == messaging.EventMatchCancelled {
			cancelled = &events[i]
			break
		}
	}
	if cancelled == nil || cancelled.From != "alice" {
		t.Errorf("partner events = %+v", events)
	}
}

func TestDisconnectDropsDanglingPointer(t *testing.T) {
	ctx := context.Background()
	f := newSupervisorFixture(t)
	f.persons[1] = &matching.Person{ID: 1, Username: "alice"}

	c := f.connect(t, "c1", 1, 1)
	// Pointer without a record: the record expired first.
	_ = f.registry.SetActive(ctx, 1, "1:2")

	f.sup.OnDisconnect(c)

	if id, _ := f.registry.GetActive(ctx, 1); id != "" {
		t.Errorf("pointer = %q", id)
	}
	if events := f.bus.eventsFor(t, messaging.UserSubject(2)); len(events) != 0 {
		t.Errorf("phantom partner notified: %+v", events)
	}
}

func TestDisconnectTearsDownRoom(t *testing.T) {
	ctx := context.Background()
	f := newSupervisorFixture(t)
	f.persons[1] = &matching.Person{ID: 1, Username: "alice"}

	c := f.connect(t, "c1", 1, 1)
	_ = f.pres.MarkOnline(ctx, 2)
	f.roomStore.partners[1] = []int64{2}

	f.sup.OnDisconnect(c)

	if queued, _ := f.queue.IsQueued(ctx, 2); !queued {
		t.Error("room partner not re-queued")
	}

	userEvents := f.bus.eventsFor(t, messaging.UserSubject(2))
	found := false
	for _, e := range userEvents {
		if e.Type == messaging.EventMatchCancelled && e.From == "alice" {
			found = true
		}
	}
	if !found {
		t.Errorf("partner events = %+v", userEvents)
	}

	roomEvents := f.bus.eventsFor(t, messaging.RoomSubject(matching.RoomName(1, 2)))
	if len(roomEvents) != 1 || roomEvents[0].Type != messaging.EventForceDisconnect ||
		roomEvents[0].Reason != messaging.ReasonMatchDisconnected {
		t.Errorf("room events = %+v", roomEvents)
	}
}

func TestJoinQueueAnnouncesMatch(t *testing.T) {
	f := newSupervisorFixture(t)
	f.persons[1] = &matching.Person{ID: 1, Username: "alice", Age: 25, Gender: matching.GenderFemale}
	f.persons[2] = &matching.Person{ID: 2, Username: "bruno", Age: 30, Gender: matching.GenderMale}

	c := f.connect(t, "c1", 1, 1)
	f.pairer.outcomes = []matching.Outcome{matching.OutcomeMatchCreated}
	f.pairer.partner = f.persons[2]

	f.sup.OnMessage(c, []byte(`{"action":"join_queue"}`))

	frame := findFrame(t, f.transport.framesFor("c1"), protocol.TypeMatchFound)
	if frame == nil || frame["partner"] != "bruno" {
		t.Errorf("initiator frame = %v", frame)
	}

	events := f.bus.eventsFor(t, messaging.UserSubject(2))
	if len(events) != 1 || events[0].Type != messaging.EventNotifyMatch || events[0].PartnerName != "alice" {
		t.Errorf("partner events = %+v", events)
	}
}

func TestJoinQueueReportsGemShortage(t *testing.T) {
	f := newSupervisorFixture(t)
	f.persons[1] = &matching.Person{ID: 1, Username: "alice"}

	c := f.connect(t, "c1", 1, 1)
	f.pairer.outcomes = []matching.Outcome{matching.OutcomeNotEnoughGems}

	f.sup.OnMessage(c, []byte(`{"action":"join_queue"}`))

	frame := findFrame(t, f.transport.framesFor("c1"), protocol.TypeGemError)
	if frame == nil || frame["reason"] != protocol.ReasonNotEnoughGems {
		t.Errorf("frame = %v", frame)
	}
}

func TestJoinQueueRetriesWhileStillWaiting(t *testing.T) {
	f := newSupervisorFixture(t)
	f.persons[1] = &matching.Person{ID: 1, Username: "alice"}

	c := f.connect(t, "c1", 1, 1)
	f.pairer.outcomes = []matching.Outcome{matching.OutcomeMatchingInProgress, matching.OutcomeNoMatch}

	f.sup.OnMessage(c, []byte(`{"action":"join_queue"}`))

	if n := f.pairer.callCount(); n != 2 {
		t.Errorf("scan calls = %d, want 2", n)
	}
}

func TestJoinQueueSkipsRetryWhenGone(t *testing.T) {
	ctx := context.Background()
	f := newSupervisorFixture(t)
	f.persons[1] = &matching.Person{ID: 1, Username: "alice"}

	c := f.connect(t, "c1", 1, 1)
	// The user drops before the backoff elapses; a retried scan on their
	// behalf would be stale.
	_ = f.pres.MarkOffline(ctx, 1)
	f.pairer.outcomes = []matching.Outcome{matching.OutcomeMatchingInProgress, matching.OutcomeNoMatch}

	f.sup.OnMessage(c, []byte(`{"action":"join_queue"}`))

	if n := f.pairer.callCount(); n != 1 {
		t.Errorf("scan calls = %d, want 1", n)
	}
}

func TestStillWaiting(t *testing.T) {
	ctx := context.Background()
	f := newSupervisorFixture(t)

	if f.sup.stillWaiting(ctx, 1) {
		t.Error("offline user reported waiting")
	}

	_ = f.pres.MarkOnline(ctx, 1)
	if f.sup.stillWaiting(ctx, 1) {
		t.Error("unqueued user reported waiting")
	}

	_ = f.queue.Enqueue(ctx, 1, time.Now())
	if !f.sup.stillWaiting(ctx, 1) {
		t.Error("online queued user not reported waiting")
	}
}

func TestRespondRelaysAcceptToPartner(t *testing.T) {
	ctx := context.Background()
	f := newSupervisorFixture(t)
	f.persons[1] = &matching.Person{ID: 1, Username: "alice"}
	f.persons[2] = &matching.Person{ID: 2, Username: "bruno"}

	c := f.connect(t, "c1", 1, 1)
	_ = f.pres.MarkOnline(ctx, 2)

	rec := matching.NewRecord(1, 2, time.Now())
	_ = f.registry.PutRecord(ctx, rec)
	_ = f.registry.SetActive(ctx, 1, rec.ID())
	_ = f.registry.SetActive(ctx, 2, rec.ID())

	f.sup.OnMessage(c, []byte(`{"action":"respond","partner":"bruno","response":"accept"}`))

	// First accept: the caller gets the literal echo, the partner gets the
	// relayed result.
	frame := findFrame(t, f.transport.framesFor("c1"), protocol.TypeMatchResponse)
	if frame == nil || frame["result"] != "accept" {
		t.Errorf("echo frame = %v", frame)
	}

	events := f.bus.eventsFor(t, messaging.UserSubject(2))
	if len(events) != 1 || events[0].Type != messaging.EventMatchResult ||
		events[0].Result != "accept" || events[0].From != "alice" {
		t.Errorf("partner events = %+v", events)
	}
}
