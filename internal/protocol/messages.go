// Package protocol defines the JSON frames exchanged with clients over the
// matchmaking and signaling sockets. Inbound matchmaking frames carry an
// "action" discriminator; outbound frames carry a "type" discriminator.
// Signaling frames are opaque and pass through this package untouched.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> server actions on the matchmaking socket.
const (
	ActionJoinQueue  = "join_queue"
	ActionLeaveQueue = "leave_queue"
	ActionRespond    = "respond"
)

// Server -> client frame types.
const (
	TypeMatchFound      = "match_found"
	TypeMatchResponse   = "match_response"
	TypeMatchSuccess    = "match_success"
	TypeMatchCancelled  = "match_cancelled"
	TypeGemError        = "gem_error"
	TypeForceDisconnect = "force_disconnect"
	TypeRoleAssignment  = "role_assignment"
)

// gem_error reasons.
const (
	ReasonNotEnoughGems = "not_enough_gems"
	ReasonNoWallet      = "no_wallet"
)

// Signaling roles.
const (
	RoleOffer  = "offer"
	RoleAnswer = "answer"
)

// ClientFrame is the envelope of an inbound matchmaking frame. Respond
// fields are only set for the respond action.
type ClientFrame struct {
	Action   string `json:"action"`
	Partner  string `json:"partner,omitempty"`  // respond: partner username
	Response string `json:"response,omitempty"` // respond: accept | reject
}

// ParseClientFrame decodes an inbound matchmaking frame. Frames without an
// action, or respond frames missing a field, are rejected.
func ParseClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("protocol: parse frame: %w", err)
	}
	if f.Action == "" {
		return f, fmt.Errorf("protocol: missing action")
	}
	if f.Action == ActionRespond && (f.Partner == "" || f.Response == "") {
		return f, fmt.Errorf("protocol: respond frame missing partner or response")
	}
	return f, nil
}

// MatchFound announces a proposed match and the partner's display
// attributes.
type MatchFound struct {
	Type          string `json:"type"`
	Partner       string `json:"partner"`
	PartnerImage  string `json:"partner_image_url"`
	PartnerAge    int    `json:"partner_age"`
	PartnerGender string `json:"partner_gender"`
}

// MatchResponse echoes a response back to its author, or relays the
// partner's response (From names the responder in that case).
type MatchResponse struct {
	Type   string `json:"type"`
	Result string `json:"result"`
	From   string `json:"from,omitempty"`
}

// MatchSuccess tells a participant that both sides accepted; Room is the
// signaling room to connect to.
type MatchSuccess struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// MatchCancelled tells a participant their match is gone; From names the
// partner that caused it.
type MatchCancelled struct {
	Type string `json:"type"`
	From string `json:"from"`
}

// GemError reports a failed currency debit.
type GemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ForceDisconnect tells the client the server is closing this connection.
type ForceDisconnect struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// RoleAssignment tells a signaling participant whether they create the
// offer or the answer.
type RoleAssignment struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

// Encode marshals an outbound frame, stamping the type discriminator.
// The payload must be one of the frame structs above with its Type field
// left empty; msgType is written into it via the map round-trip so every
// frame carries exactly one authoritative type.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: payload is not an object: %w", err)
	}
	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal frame: %w", err)
	}
	return out, nil
}
