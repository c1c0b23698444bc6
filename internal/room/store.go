// Package room persists the durable rooms that mutually accepted pairs
// signal through. A room row exists only between mutual accept and the
// first participant's disconnect.
package room

import (
	"context"
	"database/sql"
	"fmt"
)

// Room is one accepted pair. User1 < User2 numerically.
type Room struct {
	ID    int64
	User1 int64
	User2 int64
}

// Store manages matched_rooms rows.
type Store struct {
	db *sql.DB
}

// NewStore creates a room store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts the room for a pair, in canonical id order. It is
// idempotent: if a room for the pair already exists (in either order) it is
// reused.
func (s *Store) Create(ctx context.Context, a, b int64) error {
	if a > b {
		a, b = b, a
	}

	const query = `
		INSERT INTO matched_rooms (user1_id, user2_id)
		VALUES ($1, $2)
		ON CONFLICT (user1_id, user2_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, a, b); err != nil {
		return fmt.Errorf("room: create %d/%d: %w", a, b, err)
	}
	return nil
}

// ByParticipant returns every room naming the user. At most one room per
// user exists in normal operation, but disconnect cleanup sweeps all of
// them to be safe.
func (s *Store) ByParticipant(ctx context.Context, userID int64) ([]Room, error) {
	const query = `
		SELECT id, user1_id, user2_id
		FROM matched_rooms
		WHERE user1_id = $1 OR user2_id = $1`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("room: by participant %d: %w", userID, err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.User1, &r.User2); err != nil {
			return nil, fmt.Errorf("room: scan: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// DeleteByParticipant removes every room naming the user and returns the
// partners of the deleted rooms so the caller can notify and re-enqueue
// them.
func (s *Store) DeleteByParticipant(ctx context.Context, userID int64) ([]int64, error) {
	rooms, err := s.ByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, nil
	}

	const query = `DELETE FROM matched_rooms WHERE user1_id = $1 OR user2_id = $1`
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return nil, fmt.Errorf("room: delete by participant %d: %w", userID, err)
	}

	partners := make([]int64, 0, len(rooms))
	for _, r := range rooms {
		if r.User1 == userID {
			partners = append(partners, r.User2)
		} else {
			partners = append(partners, r.User1)
		}
	}
	return partners, nil
}

// Partner returns the other participant of r.
func (r Room) Partner(userID int64) int64 {
	if r.User1 == userID {
		return r.User2
	}
	return r.User1
}
