package messaging

import "encoding/json"

// Bus event types. The Type field drives dispatch in the receiving session.
const (
	EventNotifyMatch     = "notify_match"
	EventMatchCancelled  = "match_cancelled"
	EventMatchResult     = "match_result"
	EventMatchSuccess    = "match_success_notification"
	EventForceDisconnect = "force_disconnect"
	EventSignal          = "signal"
	EventRoleAssignment  = "role_assignment_message"
)

// Event is the envelope of every bus message. Only the fields relevant to a
// given Type are populated.
type Event struct {
	Type string `json:"type"`

	// notify_match: the initiator's display attributes for the partner's
	// match_found frame.
	PartnerName   string `json:"partner,omitempty"`
	PartnerImage  string `json:"partner_image_url,omitempty"`
	PartnerAge    int    `json:"partner_age,omitempty"`
	PartnerGender string `json:"partner_gender,omitempty"`

	// match_result: the literal response string relayed to the partner.
	Result string `json:"result,omitempty"`

	// match_success_notification / signaling role assignment.
	Room string `json:"room,omitempty"`
	Role string `json:"role,omitempty"`

	// match_cancelled / match_result: who this event is about.
	From string `json:"from,omitempty"`

	// force_disconnect.
	Reason string `json:"reason,omitempty"`

	// Producer identity, used by room subscribers to suppress their own
	// publications.
	SenderID string `json:"sender_id,omitempty"`

	// signal: the opaque relayed frame.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals the event for publishing. Marshal of this struct cannot
// fail; the error return keeps call sites honest anyway.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a bus message back into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Force-disconnect reasons.
const (
	ReasonNewLogin          = "new_login"
	ReasonMatchDisconnected = "match_disconnected"
)
