// Package signaling coordinates the WebRTC handshake for a matched pair.
// The server never inspects SDP or ICE payloads; it validates room
// membership, assigns the offer/answer roles, and relays opaque frames
// between the two peers through the bus so the pair may be hosted on
// different processes.
package signaling

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tori/voicematch/internal/matching"
	"github.com/tori/voicematch/internal/messaging"
	"github.com/tori/voicematch/internal/metrics"
	"github.com/tori/voicematch/internal/protocol"
	"github.com/tori/voicematch/internal/room"
	"github.com/tori/voicematch/internal/ws"
)

const opTimeout = 5 * time.Second

// Coordinator implements ws.Handler for the signaling endpoint.
type Coordinator struct {
	server  *ws.Server
	bus     *messaging.Bus
	rooms   *room.Store
	persons matching.PersonSource
}

// NewCoordinator wires a signaling coordinator.
func NewCoordinator(server *ws.Server, bus *messaging.Bus, rooms *room.Store, persons matching.PersonSource) *Coordinator {
	return &Coordinator{server: server, bus: bus, rooms: rooms, persons: persons}
}

// parseRoom splits a canonical room name "{min}_{max}" into its two user
// ids. Malformed names are rejected.
func parseRoom(name string) (int64, int64, error) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("signaling: malformed room %q", name)
	}
	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("signaling: malformed room %q: %w", name, err)
	}
	b, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("signaling: malformed room %q: %w", name, err)
	}
	return a, b, nil
}

// roleOf returns the caller's handshake role. The numerically smaller user
// id creates the offer; the larger answers.
func roleOf(userID, a, b int64) string {
	lower := a
	if b < a {
		lower = b
	}
	if userID == lower {
		return protocol.RoleOffer
	}
	return protocol.RoleAnswer
}

// OnConnect validates that the caller belongs to the room and that the
// durable room row still exists, subscribes to the room's bus subject, and
// assigns the caller their handshake role.
func (c *Coordinator) OnConnect(conn *ws.Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	a, b, err := parseRoom(conn.Room)
	if err != nil {
		return err
	}
	if conn.UserID != a && conn.UserID != b {
		return fmt.Errorf("signaling: user %d is not a member of room %s", conn.UserID, conn.Room)
	}

	// The room row disappears when either side disconnects its match socket;
	// a join after that is a stale client and gets turned away.
	rooms, err := c.rooms.ByParticipant(ctx, conn.UserID)
	if err != nil {
		return fmt.Errorf("signaling: room lookup for %d: %w", conn.UserID, err)
	}
	other := a
	if conn.UserID == a {
		other = b
	}
	found := false
	for _, r := range rooms {
		if r.Partner(conn.UserID) == other {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("signaling: no active room %s for user %d", conn.Room, conn.UserID)
	}

	if person, err := c.persons.Person(ctx, conn.UserID); err == nil && person != nil {
		conn.Username = person.Username
	}

	connID := conn.ID
	if err := c.bus.SubscribeRoom(conn.Room, connID, func(data []byte) {
		c.handleBusEvent(connID, data)
	}); err != nil {
		return fmt.Errorf("signaling: subscribe room %s: %w", conn.Room, err)
	}

	// Tell the caller their role right away, and publish the partner's role
	// to the room so a peer who joined first re-learns theirs. The frame is
	// written straight to the socket: the connection is not registered with
	// the server until the connect handshake returns.
	role := roleOf(conn.UserID, a, b)
	otherRole := protocol.RoleAnswer
	if role == protocol.RoleAnswer {
		otherRole = protocol.RoleOffer
	}
	if data, err := protocol.Encode(protocol.TypeRoleAssignment, protocol.RoleAssignment{Role: role}); err == nil {
		if err := conn.WriteMessage(data); err != nil {
			log.Printf("[signaling] send role to user=%d: %v", conn.UserID, err)
		}
	}
	c.publishRoom(conn.Room, messaging.Event{
		Type:     messaging.EventRoleAssignment,
		Room:     conn.Room,
		Role:     otherRole,
		SenderID: conn.ID,
	})

	log.Printf("[signaling] user=%d joined room=%s role=%s conn=%s", conn.UserID, conn.Room, role, conn.ID)
	return nil
}

// OnMessage relays an opaque signaling frame to the room. The sender's own
// subscription suppresses the echo.
func (c *Coordinator) OnMessage(conn *ws.Connection, data []byte) {
	payload := make([]byte, len(data))
	copy(payload, data)

	c.publishRoom(conn.Room, messaging.Event{
		Type:     messaging.EventSignal,
		Room:     conn.Room,
		SenderID: conn.ID,
		Payload:  payload,
	})
	metrics.SignalingRelays.Inc()
}

// handleBusEvent delivers a room event to the local subscriber, suppressing
// events this connection published itself.
func (c *Coordinator) handleBusEvent(connID string, data []byte) {
	event, err := messaging.DecodeEvent(data)
	if err != nil {
		log.Printf("[signaling] decode event for conn=%s: %v", connID, err)
		return
	}
	if event.SenderID == connID {
		return
	}

	conn := c.server.Connections().Get(connID)
	if conn == nil {
		return
	}

	switch event.Type {
	case messaging.EventSignal:
		// Opaque passthrough: the peer's frame reaches this client verbatim.
		if err := c.server.SendMessage(conn.ID, event.Payload); err != nil {
			log.Printf("[signaling] relay to user=%d: %v", conn.UserID, err)
		}

	case messaging.EventRoleAssignment:
		role := event.Role
		if role == "" {
			a, b, err := parseRoom(conn.Room)
			if err != nil {
				return
			}
			role = roleOf(conn.UserID, a, b)
		}
		c.send(conn, protocol.TypeRoleAssignment, protocol.RoleAssignment{Role: role})

	case messaging.EventMatchCancelled:
		c.send(conn, protocol.TypeMatchCancelled, protocol.MatchCancelled{From: event.From})

	case messaging.EventForceDisconnect:
		c.send(conn, protocol.TypeForceDisconnect, protocol.ForceDisconnect{Reason: event.Reason})
		c.server.RemoveConnection(conn)

	default:
		log.Printf("[signaling] unknown event type=%q room=%s", event.Type, conn.Room)
	}
}

// OnDisconnect drops the room subscription, deletes the durable room row and
// tells the peer the call is over.
func (c *Coordinator) OnDisconnect(conn *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.bus.UnsubscribeRoom(conn.ID); err != nil {
		log.Printf("[signaling] unsubscribe conn=%s: %v", conn.ID, err)
	}

	if _, err := c.rooms.DeleteByParticipant(ctx, conn.UserID); err != nil {
		log.Printf("[signaling] delete room for user=%d: %v", conn.UserID, err)
	}

	c.publishRoom(conn.Room, messaging.Event{
		Type:     messaging.EventMatchCancelled,
		From:     conn.Username,
		SenderID: conn.ID,
	})

	log.Printf("[signaling] user=%d left room=%s conn=%s", conn.UserID, conn.Room, conn.ID)
}

func (c *Coordinator) send(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		log.Printf("[signaling] encode %s for user=%d: %v", msgType, conn.UserID, err)
		return
	}
	if err := c.server.SendMessage(conn.ID, data); err != nil {
		log.Printf("[signaling] send %s to user=%d: %v", msgType, conn.UserID, err)
	}
}

func (c *Coordinator) publishRoom(roomName string, event messaging.Event) {
	data, err := event.Encode()
	if err != nil {
		log.Printf("[signaling] encode event %s: %v", event.Type, err)
		return
	}
	if err := c.bus.PublishRoom(roomName, data); err != nil {
		log.Printf("[signaling] publish %s to room=%s: %v", event.Type, roomName, err)
	}
}
