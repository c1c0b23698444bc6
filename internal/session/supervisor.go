// Package session supervises the lifecycle of matchmaking connections: the
// connect handshake (duplicate-login eviction, presence, bus subscription),
// the join/leave/respond actions, delivery of bus events to the local socket,
// and the disconnect cleanup that keeps Redis free of state for users who
// are gone.
package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tori/voicematch/internal/matching"
	"github.com/tori/voicematch/internal/messaging"
	"github.com/tori/voicematch/internal/metrics"
	"github.com/tori/voicematch/internal/presence"
	"github.com/tori/voicematch/internal/protocol"
	"github.com/tori/voicematch/internal/ws"
)

// opTimeout bounds every Redis/Postgres operation a supervisor callback runs.
const opTimeout = 5 * time.Second

// evictionWait gives a forcibly disconnected previous session time to finish
// its teardown before the new session claims presence and the bus subject.
const evictionWait = 100 * time.Millisecond

// Config holds supervisor tuning parameters.
type Config struct {
	// RetryBackoff is the pause before retrying a pairing scan that lost
	// the global lock race.
	RetryBackoff time.Duration
}

// Transport is the connection-facing surface the supervisor drives.
// *ws.Server implements it.
type Transport interface {
	SendMessage(connID string, data []byte) error
	SendToUser(userID int64, data []byte) bool
	RemoveConnection(c *ws.Connection)
	Connections() *ws.ConnectionManager
}

// Bus is the fan-out surface the supervisor publishes and subscribes on.
// *messaging.Bus implements it.
type Bus interface {
	SubscribeUser(userID int64, key string, handler func(data []byte)) error
	UnsubscribeUser(key string) error
	PublishUser(userID int64, data []byte) error
	PublishRoom(room string, data []byte) error
}

// Pairer runs one pairing scan. *matching.Engine implements it.
type Pairer interface {
	FindAndMatch(ctx context.Context, initiator int64) (matching.Outcome, *matching.Person, error)
}

// Rooms is the durable room surface used during disconnect teardown.
// *room.Store implements it.
type Rooms interface {
	DeleteByParticipant(ctx context.Context, userID int64) ([]int64, error)
}

// Supervisor implements ws.Handler for the matchmaking endpoint.
type Supervisor struct {
	server     Transport
	dispatcher *ws.ActionDispatcher
	bus        Bus
	presence   *presence.Store
	queue      *matching.Queue
	registry   *matching.Registry
	engine     Pairer
	responder  *matching.Responder
	persons    matching.PersonSource
	rooms      Rooms
	config     Config
}

// NewSupervisor wires a Supervisor and registers its action handlers.
func NewSupervisor(server Transport, bus Bus, pres *presence.Store,
	queue *matching.Queue, registry *matching.Registry, engine Pairer,
	responder *matching.Responder, persons matching.PersonSource, rooms Rooms,
	config Config) *Supervisor {

	s := &Supervisor{
		server:     server,
		dispatcher: ws.NewActionDispatcher(),
		bus:        bus,
		presence:   pres,
		queue:      queue,
		registry:   registry,
		engine:     engine,
		responder:  responder,
		persons:    persons,
		rooms:      rooms,
		config:     config,
	}

	s.dispatcher.Register(protocol.ActionJoinQueue, s.handleJoinQueue)
	s.dispatcher.Register(protocol.ActionLeaveQueue, s.handleLeaveQueue)
	s.dispatcher.Register(protocol.ActionRespond, s.handleRespond)
	return s
}

// OnConnect runs the connect handshake: evict any previous session of the
// same user, subscribe to the user's bus subject, and mark the user online.
func (s *Supervisor) OnConnect(c *ws.Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	person, err := s.persons.Person(ctx, c.UserID)
	if err != nil {
		return fmt.Errorf("session: load user %d: %w", c.UserID, err)
	}
	if person == nil {
		return fmt.Errorf("session: unknown user %d", c.UserID)
	}
	c.Username = person.Username

	// A previous session of the same user gets a force_disconnect before
	// this session takes over the subject and presence key. A session on
	// this process is torn down synchronously; one hosted elsewhere is told
	// over the bus and given a moment to finish its cleanup.
	if prev := s.server.Connections().MatchConn(c.UserID); prev != nil && prev.ID != c.ID {
		if data, err := protocol.Encode(protocol.TypeForceDisconnect,
			protocol.ForceDisconnect{Reason: messaging.ReasonNewLogin}); err == nil {
			s.server.SendToUser(c.UserID, data)
		}
		s.server.RemoveConnection(prev)
	} else {
		online, err := s.presence.IsOnline(ctx, c.UserID)
		if err != nil {
			return fmt.Errorf("session: presence check %d: %w", c.UserID, err)
		}
		if online {
			s.publishUser(c.UserID, messaging.Event{
				Type:   messaging.EventForceDisconnect,
				Reason: messaging.ReasonNewLogin,
			})
			time.Sleep(evictionWait)
		}
	}

	// A user still committed to a match must finish or abandon it through
	// the session that owns it; a second session would race the state
	// machine.
	active, err := s.registry.GetActive(ctx, c.UserID)
	if err != nil {
		return fmt.Errorf("session: active lookup %d: %w", c.UserID, err)
	}
	if active != "" {
		return fmt.Errorf("session: user %d has an active match %s", c.UserID, active)
	}

	// The subscription is keyed by connection id so a late teardown of the
	// evicted session cannot take this session's subscription with it.
	userID := c.UserID
	connID := c.ID
	if err := s.bus.SubscribeUser(userID, connID, func(data []byte) {
		s.handleBusEvent(userID, connID, data)
	}); err != nil {
		return fmt.Errorf("session: subscribe user %d: %w", userID, err)
	}

	if err := s.presence.MarkOnline(ctx, c.UserID); err != nil {
		_ = s.bus.UnsubscribeUser(connID)
		return fmt.Errorf("session: mark online %d: %w", c.UserID, err)
	}

	log.Printf("[session] user=%d (%s) connected conn=%s", c.UserID, c.Username, c.ID)
	return nil
}

// OnMessage routes an inbound frame to the action handlers.
func (s *Supervisor) OnMessage(c *ws.Connection, data []byte) {
	s.dispatcher.Dispatch(c, data)
}

// handleJoinQueue enqueues the user and runs a pairing scan. A scan that
// loses the global lock race is retried once after a short backoff; if the
// lock is still held the user simply stays queued and a later joiner's scan
// will pick them up.
func (s *Supervisor) handleJoinQueue(c *ws.Connection, _ protocol.ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.queue.Enqueue(ctx, c.UserID, time.Now()); err != nil {
		log.Printf("[session] enqueue user=%d: %v", c.UserID, err)
		return
	}
	s.publishQueueSize(ctx)

	outcome, partner, err := s.engine.FindAndMatch(ctx, c.UserID)
	if outcome == matching.OutcomeMatchingInProgress {
		time.Sleep(s.config.RetryBackoff)
		// The user may have dropped or left during the backoff; a scan on
		// their behalf would be stale then.
		if s.stillWaiting(ctx, c.UserID) {
			outcome, partner, err = s.engine.FindAndMatch(ctx, c.UserID)
		}
	}
	if err != nil {
		log.Printf("[session] pairing scan user=%d: %v", c.UserID, err)
	}
	metrics.PairingOutcomes.WithLabelValues(outcome.String()).Inc()

	switch outcome {
	case matching.OutcomeMatchCreated:
		s.announceMatch(ctx, c, partner)
		s.publishQueueSize(ctx)
	case matching.OutcomeNotEnoughGems:
		s.send(c, protocol.TypeGemError, protocol.GemError{Reason: protocol.ReasonNotEnoughGems})
	default:
		// No frame: the user stays queued (or was never eligible) and the
		// client keeps showing its searching state.
	}
}

// stillWaiting reports whether the user is online and queued, i.e. whether a
// retried pairing scan on their behalf still makes sense.
func (s *Supervisor) stillWaiting(ctx context.Context, userID int64) bool {
	online, err := s.presence.IsOnline(ctx, userID)
	if err != nil || !online {
		return false
	}
	queued, err := s.queue.IsQueued(ctx, userID)
	return err == nil && queued
}

// announceMatch delivers match_found to both sides: directly to the local
// initiator, via the bus to the partner wherever they are hosted.
func (s *Supervisor) announceMatch(ctx context.Context, c *ws.Connection, partner *matching.Person) {
	s.send(c, protocol.TypeMatchFound, protocol.MatchFound{
		Partner:       partner.Username,
		PartnerImage:  partner.ImageURL,
		PartnerAge:    partner.Age,
		PartnerGender: partner.Gender,
	})

	me, err := s.persons.Person(ctx, c.UserID)
	if err != nil || me == nil {
		log.Printf("[session] load initiator %d for notify: %v", c.UserID, err)
		return
	}
	s.publishUser(partner.ID, messaging.Event{
		Type:          messaging.EventNotifyMatch,
		PartnerName:   me.Username,
		PartnerImage:  me.ImageURL,
		PartnerAge:    me.Age,
		PartnerGender: me.Gender,
	})
}

// handleLeaveQueue removes the user from the wait queue. Leaving while not
// queued is a no-op.
func (s *Supervisor) handleLeaveQueue(c *ws.Connection, _ protocol.ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.queue.Dequeue(ctx, c.UserID); err != nil {
		log.Printf("[session] dequeue user=%d: %v", c.UserID, err)
		return
	}
	s.publishQueueSize(ctx)
}

// handleRespond feeds the accept/reject state machine and fans the result
// out to both participants.
func (s *Supervisor) handleRespond(c *ws.Connection, frame protocol.ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := s.responder.Respond(ctx, c.UserID, frame.Partner, frame.Response)
	if err != nil {
		log.Printf("[session] respond user=%d: %v", c.UserID, err)
	}
	metrics.ResponseOutcomes.WithLabelValues(res.Outcome.String()).Inc()

	switch res.Outcome {
	case matching.RespondSuccess:
		// Echo carries the literal response; match_success follows with the
		// room, locally and via fan-out to the partner.
		s.send(c, protocol.TypeMatchResponse, protocol.MatchResponse{Result: frame.Response})
		s.send(c, protocol.TypeMatchSuccess, protocol.MatchSuccess{Room: res.Room})
		s.publishUser(res.Partner.ID, messaging.Event{
			Type: messaging.EventMatchSuccess,
			Room: res.Room,
		})

	case matching.RespondWaiting, matching.RespondRejected:
		s.send(c, protocol.TypeMatchResponse, protocol.MatchResponse{Result: frame.Response})
		s.publishUser(res.Partner.ID, messaging.Event{
			Type:   messaging.EventMatchResult,
			Result: frame.Response,
			From:   c.Username,
		})

	case matching.RespondPartnerOffline:
		s.send(c, protocol.TypeMatchCancelled, protocol.MatchCancelled{From: res.Partner.Username})

	default:
		// match_expired, partner_not_found, room_creation_failed, error:
		// only the caller hears about it.
		s.send(c, protocol.TypeMatchResponse, protocol.MatchResponse{Result: res.Outcome.String()})
	}
}

// handleBusEvent translates a bus event into a client frame on the user's
// local match connection.
func (s *Supervisor) handleBusEvent(userID int64, connID string, data []byte) {
	event, err := messaging.DecodeEvent(data)
	if err != nil {
		log.Printf("[session] decode event for user=%d: %v", userID, err)
		return
	}

	c := s.server.Connections().Get(connID)
	if c == nil {
		return
	}

	switch event.Type {
	case messaging.EventNotifyMatch:
		s.send(c, protocol.TypeMatchFound, protocol.MatchFound{
			Partner:       event.PartnerName,
			PartnerImage:  event.PartnerImage,
			PartnerAge:    event.PartnerAge,
			PartnerGender: event.PartnerGender,
		})

	case messaging.EventMatchResult:
		s.send(c, protocol.TypeMatchResponse, protocol.MatchResponse{
			Result: event.Result,
			From:   event.From,
		})

	case messaging.EventMatchSuccess:
		s.send(c, protocol.TypeMatchSuccess, protocol.MatchSuccess{Room: event.Room})

	case messaging.EventMatchCancelled:
		s.send(c, protocol.TypeMatchCancelled, protocol.MatchCancelled{From: event.From})

	case messaging.EventForceDisconnect:
		s.send(c, protocol.TypeForceDisconnect, protocol.ForceDisconnect{Reason: event.Reason})
		s.server.RemoveConnection(c)

	default:
		log.Printf("[session] unknown event type=%q for user=%d", event.Type, userID)
	}
}

// OnDisconnect tears down every piece of state tied to the session: the bus
// subscription, the presence key, the queue entry, any pending match (with
// partner notification and re-queue) and any durable room the user was in.
func (s *Supervisor) OnDisconnect(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.bus.UnsubscribeUser(c.ID); err != nil {
		log.Printf("[session] unsubscribe user=%d conn=%s: %v", c.UserID, c.ID, err)
	}
	if err := s.presence.MarkOffline(ctx, c.UserID); err != nil {
		log.Printf("[session] mark offline user=%d: %v", c.UserID, err)
	}
	if err := s.queue.Dequeue(ctx, c.UserID); err != nil {
		log.Printf("[session] dequeue user=%d: %v", c.UserID, err)
	}
	s.publishQueueSize(ctx)

	s.cancelPendingMatch(ctx, c)
	s.teardownRooms(ctx, c)

	log.Printf("[session] user=%d (%s) disconnected conn=%s", c.UserID, c.Username, c.ID)
}

// cancelPendingMatch drops the user's pending match, tells the partner and
// puts them back in the queue if they are still online.
func (s *Supervisor) cancelPendingMatch(ctx context.Context, c *ws.Connection) {
	matchID, err := s.registry.GetActive(ctx, c.UserID)
	if err != nil {
		log.Printf("[session] active lookup user=%d: %v", c.UserID, err)
		return
	}
	if matchID == "" {
		return
	}

	rec, err := s.registry.GetRecord(ctx, matchID)
	if err != nil {
		log.Printf("[session] record lookup %s: %v", matchID, err)
		return
	}
	if rec == nil {
		if err := s.registry.DeleteActive(ctx, c.UserID); err != nil {
			log.Printf("[session] drop dangling pointer user=%d: %v", c.UserID, err)
		}
		return
	}

	partnerID := rec.Other(c.UserID)
	if err := s.registry.Cleanup(ctx, rec); err != nil {
		log.Printf("[session] cleanup %s: %v", matchID, err)
		return
	}

	if partnerID != 0 {
		if online, err := s.presence.IsOnline(ctx, partnerID); err == nil && online {
			if err := s.queue.Enqueue(ctx, partnerID, time.Now()); err != nil {
				log.Printf("[session] re-enqueue partner=%d: %v", partnerID, err)
			}
		}
		s.publishUser(partnerID, messaging.Event{
			Type: messaging.EventMatchCancelled,
			From: c.Username,
		})
	}
}

// teardownRooms deletes any durable rooms the user belongs to, puts each
// surviving partner back in the queue and tells both their match session
// (match_cancelled) and the room's signaling side (force_disconnect) that
// the call is over.
func (s *Supervisor) teardownRooms(ctx context.Context, c *ws.Connection) {
	partners, err := s.rooms.DeleteByParticipant(ctx, c.UserID)
	if err != nil {
		log.Printf("[session] room teardown user=%d: %v", c.UserID, err)
		return
	}

	for _, partnerID := range partners {
		if online, err := s.presence.IsOnline(ctx, partnerID); err == nil && online {
			if err := s.queue.Enqueue(ctx, partnerID, time.Now()); err != nil {
				log.Printf("[session] re-enqueue room partner=%d: %v", partnerID, err)
			}
		}
		s.publishUser(partnerID, messaging.Event{
			Type: messaging.EventMatchCancelled,
			From: c.Username,
		})

		name := matching.RoomName(c.UserID, partnerID)
		event := messaging.Event{
			Type:   messaging.EventForceDisconnect,
			Reason: messaging.ReasonMatchDisconnected,
			From:   c.Username,
		}
		data, _ := event.Encode()
		if err := s.bus.PublishRoom(name, data); err != nil {
			log.Printf("[session] publish room teardown %s: %v", name, err)
		}
	}
}

// send encodes and writes an outbound frame, logging failures. Delivery here
// is best effort: a failed write surfaces as a read error and the normal
// disconnect path takes over.
func (s *Supervisor) send(c *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		log.Printf("[session] encode %s for user=%d: %v", msgType, c.UserID, err)
		return
	}
	if err := s.server.SendMessage(c.ID, data); err != nil {
		log.Printf("[session] send %s to user=%d: %v", msgType, c.UserID, err)
	}
}

// publishUser encodes and publishes an event to a user's bus subject.
func (s *Supervisor) publishUser(userID int64, event messaging.Event) {
	data, err := event.Encode()
	if err != nil {
		log.Printf("[session] encode event %s: %v", event.Type, err)
		return
	}
	if err := s.bus.PublishUser(userID, data); err != nil {
		log.Printf("[session] publish %s to user=%d: %v", event.Type, userID, err)
	}
}

// publishQueueSize refreshes the queue size gauge.
func (s *Supervisor) publishQueueSize(ctx context.Context) {
	n, err := s.queue.Size(ctx)
	if err != nil {
		return
	}
	metrics.QueueSize.Set(float64(n))
}
