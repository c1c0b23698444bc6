// Package matching implements the cross-process matchmaking core: the wait
// queue, the match registry, the global pairing lock, the pairing engine and
// the two-sided accept/reject state machine. All shared state lives in Redis
// so that sessions hosted on different processes observe the same queue and
// the same match records.
package matching

import (
	"context"
	"strconv"
	"time"
)

// Gender and preference values as stored in match_settings / users.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
	GenderAny    = "any"
)

// Response values a participant may give to a proposed match.
const (
	ResponseAccept = "accept"
	ResponseReject = "reject"
)

// Setting is a user's saved match preferences. Absence of a Setting makes
// the user ineligible for pairing. RadiusKm is stored but not evaluated.
type Setting struct {
	PreferredGender string
	AgeMin          int
	AgeMax          int
	RadiusKm        int
}

// Person carries the demographic and display attributes of a user, read
// from the external users table.
type Person struct {
	ID       int64
	Username string
	Age      int
	Gender   string
	ImageURL string
}

// SettingSource loads a user's match preferences. A (nil, nil) return means
// the user has no saved preferences.
type SettingSource interface {
	Setting(ctx context.Context, userID int64) (*Setting, error)
}

// PersonSource loads a user's demographic attributes.
type PersonSource interface {
	Person(ctx context.Context, userID int64) (*Person, error)
}

// Liveness answers whether a user currently has a fresh presence entry.
type Liveness interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// Wallet debits gems from a user's wallet inside a serializable
// transaction. Implementations return wallet.ErrInsufficientGems when the
// balance does not cover the amount.
type Wallet interface {
	Debit(ctx context.Context, userID int64, amount int, note string) error
}

// Rooms creates the durable room row for a mutually accepted pair.
// Create must be idempotent for the same (unordered) pair.
type Rooms interface {
	Create(ctx context.Context, a, b int64) error
}

// canonicalPair orders two user ids the way match records store them:
// by their decimal string representations. The ordering only has to be
// deterministic so that both sides derive the same record id.
func canonicalPair(a, b int64) (string, string) {
	sa, sb := strconv.FormatInt(a, 10), strconv.FormatInt(b, 10)
	if sa > sb {
		sa, sb = sb, sa
	}
	return sa, sb
}

// MatchID returns the canonical record id "{min}:{max}" for a pair.
// Both participants derive the same id regardless of who initiated.
func MatchID(a, b int64) string {
	u1, u2 := canonicalPair(a, b)
	return u1 + ":" + u2
}

// RoomName returns the canonical signaling room name "{min}_{max}".
func RoomName(a, b int64) string {
	u1, u2 := canonicalPair(a, b)
	return u1 + "_" + u2
}

// Record is a match between two users awaiting their responses. User1 and
// User2 are decimal user ids with User1 < User2 in string order. An empty
// response slot means the participant has not answered yet.
type Record struct {
	User1         string `json:"user1"`
	User2         string `json:"user2"`
	User1Response string `json:"user1_response,omitempty"`
	User2Response string `json:"user2_response,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// NewRecord builds a fresh record for a pair with both responses unset.
func NewRecord(a, b int64, now time.Time) *Record {
	u1, u2 := canonicalPair(a, b)
	ts := now.Unix()
	return &Record{User1: u1, User2: u2, CreatedAt: ts, UpdatedAt: ts}
}

// ID returns the record's canonical match id.
func (r *Record) ID() string {
	return r.User1 + ":" + r.User2
}

// Participants returns both user ids as integers.
func (r *Record) Participants() (int64, int64) {
	a, _ := strconv.ParseInt(r.User1, 10, 64)
	b, _ := strconv.ParseInt(r.User2, 10, 64)
	return a, b
}

// Other returns the partner of the given participant, or 0 if the user is
// not part of this record.
func (r *Record) Other(userID int64) int64 {
	a, b := r.Participants()
	switch userID {
	case a:
		return b
	case b:
		return a
	}
	return 0
}

// ResponseOf returns the stored response slot for a participant.
func (r *Record) ResponseOf(userID int64) string {
	if strconv.FormatInt(userID, 10) == r.User1 {
		return r.User1Response
	}
	return r.User2Response
}

// SetResponse records a participant's response and touches UpdatedAt.
func (r *Record) SetResponse(userID int64, response string, now time.Time) {
	if strconv.FormatInt(userID, 10) == r.User1 {
		r.User1Response = response
	} else {
		r.User2Response = response
	}
	r.UpdatedAt = now.Unix()
}
