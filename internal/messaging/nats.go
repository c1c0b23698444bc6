// Package messaging provides the NATS fan-out bus between server processes.
// Every connected user owns a user.<id> subject; every signaling room owns a
// voicechat.<room> subject. Delivery is at-most-once and best-effort: the
// Redis state store, not the bus, is the source of truth.
package messaging

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject prefixes.
const (
	SubjectUserPrefix = "user."      // + <user_id>
	SubjectRoomPrefix = "voicechat." // + <room_name>
)

// Bus wraps the NATS connection with per-user and per-room pub/sub helpers.
type Bus struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "voicematch",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewBus connects to NATS with the given config.
func NewBus(config Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Bus{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// UserSubject returns the per-user fan-out subject.
func UserSubject(userID int64) string {
	return SubjectUserPrefix + strconv.FormatInt(userID, 10)
}

// RoomSubject returns the per-room signaling subject.
func RoomSubject(room string) string {
	return SubjectRoomPrefix + room
}

// PublishUser sends data to a user's fan-out subject, wherever that user's
// session is hosted.
func (b *Bus) PublishUser(userID int64, data []byte) error {
	return b.conn.Publish(UserSubject(userID), data)
}

// SubscribeUser registers a handler for a user's fan-out subject. key scopes
// the subscription to its owning session (use the connection id): during a
// login handover the old and new session may briefly coexist, and the old
// session's teardown must only ever drop its own subscription.
func (b *Bus) SubscribeUser(userID int64, key string, handler func(data []byte)) error {
	return b.subscribe(UserSubject(userID), "user:"+key, handler)
}

// UnsubscribeUser drops the user subscription registered under key.
func (b *Bus) UnsubscribeUser(key string) error {
	return b.unsubscribe("user:" + key)
}

// PublishRoom sends data to a signaling room's subject.
func (b *Bus) PublishRoom(room string, data []byte) error {
	return b.conn.Publish(RoomSubject(room), data)
}

// SubscribeRoom registers a handler for a room subject. key disambiguates
// multiple local participants of the same room (use the connection id).
func (b *Bus) SubscribeRoom(room, key string, handler func(data []byte)) error {
	return b.subscribe(RoomSubject(room), "room:"+key, handler)
}

// UnsubscribeRoom drops the room subscription registered under key.
func (b *Bus) UnsubscribeRoom(key string) error {
	return b.unsubscribe("room:" + key)
}

func (b *Bus) subscribe(subject, key string, handler func(data []byte)) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	if prev, ok := b.subs[key]; ok {
		_ = prev.Unsubscribe()
	}
	b.subs[key] = sub
	b.mu.Unlock()
	return nil
}

func (b *Bus) unsubscribe(key string) error {
	b.mu.Lock()
	sub, ok := b.subs[key]
	delete(b.subs, key)
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}

// Close drains all active subscriptions and the connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)

	if err := b.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] bus closed")
}
