package ws

import (
	"context"
	"log"
	"time"
)

// PresenceRefresher re-arms a user's online key TTL. presence.Store
// implements it.
type PresenceRefresher interface {
	MarkOnline(ctx context.Context, userID int64) error
}

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping and refresh presence
	Timeout  time.Duration // max time to wait for activity after ping
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 5 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections, refreshes the presence TTL of
// match connections, and closes connections that have gone stale (no
// successful reads within Interval + Timeout). It returns immediately; the
// goroutine exits when the server's done channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig, presence PresenceRefresher) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config, presence)
			}
		}
	}()
}

// checkConnections iterates over all active connections. Connections that have
// not had a successful read within Interval + Timeout are considered dead and
// are removed. All other connections receive a WebSocket-level ping frame
// (opcode 0x9) which the browser answers automatically with a pong, and match
// connections get their presence key re-armed. A failed presence refresh
// closes the session: a user whose online key lapses would be silently
// skipped by the pairing scan anyway, so force the client to reconnect.
func checkConnections(server *Server, config HeartbeatConfig, presence PresenceRefresher) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		if now.Sub(c.LastPing) > deadline {
			log.Printf("[ws] heartbeat timeout user=%d conn=%s last_activity=%s ago",
				c.UserID, c.ID, now.Sub(c.LastPing).Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		// Send a WebSocket protocol-level ping frame. The write mutex on the
		// connection serializes this with any concurrent application writes.
		if err := c.WritePing(); err != nil {
			log.Printf("[ws] heartbeat ping failed user=%d conn=%s: %v", c.UserID, c.ID, err)
			server.RemoveConnection(c)
			continue
		}

		if c.Kind == KindMatch && presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := presence.MarkOnline(ctx, c.UserID)
			cancel()
			if err != nil {
				log.Printf("[ws] presence refresh failed user=%d: %v", c.UserID, err)
				server.RemoveConnection(c)
			}
		}
	}
}
