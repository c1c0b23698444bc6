package ws

import (
	"log"

	"github.com/tori/voicematch/internal/protocol"
)

// ActionHandler is the callback signature for handling a parsed client frame.
type ActionHandler func(conn *Connection, frame protocol.ClientFrame)

// ActionDispatcher routes incoming matchmaking frames to registered handlers
// based on the frame's action discriminator. Malformed frames and unknown
// actions are logged and dropped; the client protocol has no error frame, so
// nothing is sent back.
type ActionDispatcher struct {
	handlers map[string]ActionHandler
}

// NewActionDispatcher creates an empty ActionDispatcher.
func NewActionDispatcher() *ActionDispatcher {
	return &ActionDispatcher{
		handlers: make(map[string]ActionHandler),
	}
}

// Register associates an ActionHandler with an action. If a handler was
// already registered for the given action, it is silently replaced.
func (d *ActionDispatcher) Register(action string, handler ActionHandler) {
	d.handlers[action] = handler
}

// Dispatch parses the raw bytes into a client frame and routes it to the
// registered handler for its action.
func (d *ActionDispatcher) Dispatch(conn *Connection, data []byte) {
	frame, err := protocol.ParseClientFrame(data)
	if err != nil {
		log.Printf("[ws] dispatch parse error user=%d conn=%s: %v", conn.UserID, conn.ID, err)
		return
	}

	handler, ok := d.handlers[frame.Action]
	if !ok {
		log.Printf("[ws] unsupported action=%q user=%d conn=%s", frame.Action, conn.UserID, conn.ID)
		return
	}

	handler(conn, frame)
}
