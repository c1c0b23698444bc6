package matching

import (
	"context"
	"log"
	"time"
)

// RespondOutcome is the result of one accept/reject call.
type RespondOutcome int

const (
	// RespondError denotes an infrastructure failure.
	RespondError RespondOutcome = iota
	// RespondSuccess means both sides accepted and the room now exists.
	RespondSuccess
	// RespondWaiting means the caller accepted and the partner has not
	// answered yet.
	RespondWaiting
	// RespondRejected means the match was torn down by a reject.
	RespondRejected
	// RespondPartnerOffline means the partner's presence expired; the
	// match was torn down.
	RespondPartnerOffline
	// RespondMatchExpired means the caller has no live match record.
	RespondMatchExpired
	// RespondPartnerNotFound means the named partner does not belong to
	// the caller's current match.
	RespondPartnerNotFound
	// RespondRoomFailed means both sides accepted but the durable room
	// row could not be created.
	RespondRoomFailed
)

// String returns the wire-facing name of the outcome.
func (o RespondOutcome) String() string {
	switch o {
	case RespondSuccess:
		return "success"
	case RespondWaiting:
		return "waiting_for_partner"
	case RespondRejected:
		return "rejected"
	case RespondPartnerOffline:
		return "partner_offline"
	case RespondMatchExpired:
		return "match_expired"
	case RespondPartnerNotFound:
		return "partner_not_found"
	case RespondRoomFailed:
		return "room_creation_failed"
	default:
		return "error"
	}
}

// RespondResult carries the outcome of a Respond call plus the partner (when
// one could be resolved) and, on success, the canonical room name.
type RespondResult struct {
	Outcome RespondOutcome
	Partner *Person
	Room    string
}

// Responder drives the two-sided accept/reject state machine over match
// records. It owns every cleanup path except session disconnect, which the
// session supervisor handles with the same registry primitives.
type Responder struct {
	queue    *Queue
	registry *Registry
	liveness Liveness
	persons  PersonSource
	rooms    Rooms
	now      func() time.Time
}

// NewResponder wires the state machine from its collaborators.
func NewResponder(queue *Queue, registry *Registry, liveness Liveness, persons PersonSource, rooms Rooms) *Responder {
	return &Responder{
		queue:    queue,
		registry: registry,
		liveness: liveness,
		persons:  persons,
		rooms:    rooms,
		now:      time.Now,
	}
}

// Respond records the caller's accept or reject for their current match.
// partnerName must be the username announced in match_found; a mismatch
// against the record yields RespondPartnerNotFound.
func (m *Responder) Respond(ctx context.Context, userID int64, partnerName, response string) (RespondResult, error) {
	matchID, err := m.registry.GetActive(ctx, userID)
	if err != nil {
		return RespondResult{Outcome: RespondError}, err
	}
	if matchID == "" {
		return RespondResult{Outcome: RespondMatchExpired}, nil
	}

	rec, err := m.registry.GetRecord(ctx, matchID)
	if err != nil {
		return RespondResult{Outcome: RespondError}, err
	}
	if rec == nil {
		// Record expired but the pointer survived; drop the pointer so the
		// user can queue again.
		if err := m.registry.DeleteActive(ctx, userID); err != nil {
			log.Printf("[respond] drop dangling pointer %d: %v", userID, err)
		}
		return RespondResult{Outcome: RespondMatchExpired}, nil
	}

	otherID := rec.Other(userID)
	if otherID == 0 {
		return RespondResult{Outcome: RespondMatchExpired}, nil
	}

	partner, err := m.persons.Person(ctx, otherID)
	if err != nil {
		return RespondResult{Outcome: RespondError}, err
	}
	if partner == nil || (partnerName != "" && partner.Username != partnerName) {
		return RespondResult{Outcome: RespondPartnerNotFound}, nil
	}

	online, err := m.liveness.IsOnline(ctx, otherID)
	if err != nil {
		return RespondResult{Outcome: RespondError}, err
	}
	if !online {
		if err := m.registry.Cleanup(ctx, rec); err != nil {
			return RespondResult{Outcome: RespondError}, err
		}
		return RespondResult{Outcome: RespondPartnerOffline, Partner: partner}, nil
	}

	rec.SetResponse(userID, response, m.now())

	if response == ResponseAccept {
		return m.accept(ctx, userID, otherID, rec, partner)
	}
	return m.reject(ctx, userID, otherID, rec, partner)
}

func (m *Responder) accept(ctx context.Context, userID, otherID int64, rec *Record, partner *Person) (RespondResult, error) {
	if rec.ResponseOf(otherID) != ResponseAccept {
		if err := m.registry.PutRecord(ctx, rec); err != nil {
			return RespondResult{Outcome: RespondError}, err
		}
		return RespondResult{Outcome: RespondWaiting, Partner: partner}, nil
	}

	// Mutual accept: the durable room must exist before the record goes
	// away, otherwise a crash here would leave an accepted pair with
	// nothing to signal through.
	if err := m.rooms.Create(ctx, userID, otherID); err != nil {
		log.Printf("[respond] room create for %s: %v", rec.ID(), err)
		return RespondResult{Outcome: RespondRoomFailed, Partner: partner}, nil
	}

	if err := m.registry.Cleanup(ctx, rec); err != nil {
		return RespondResult{Outcome: RespondError}, err
	}

	return RespondResult{
		Outcome: RespondSuccess,
		Partner: partner,
		Room:    RoomName(userID, otherID),
	}, nil
}

func (m *Responder) reject(ctx context.Context, userID, otherID int64, rec *Record, partner *Person) (RespondResult, error) {
	if err := m.registry.Cleanup(ctx, rec); err != nil {
		return RespondResult{Outcome: RespondError}, err
	}

	// Both online sides go back to waiting; score resets to now so rejected
	// users queue behind everyone already waiting.
	m.requeueIfOnline(ctx, userID)
	m.requeueIfOnline(ctx, otherID)

	return RespondResult{Outcome: RespondRejected, Partner: partner}, nil
}

func (m *Responder) requeueIfOnline(ctx context.Context, userID int64) {
	online, err := m.liveness.IsOnline(ctx, userID)
	if err != nil || !online {
		return
	}
	if err := m.queue.Enqueue(ctx, userID, m.now()); err != nil {
		log.Printf("[respond] re-enqueue %d: %v", userID, err)
	}
}
