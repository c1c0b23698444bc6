// Package ws handles WebSocket connection management for the matchmaking and
// signaling endpoints: upgrading HTTP connections, authenticating them,
// maintaining active connections, and dispatching incoming frames to the
// registered session handlers.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/tori/voicematch/internal/metrics"
)

// Authenticator resolves an upgrade request to a user id. auth.Verifier
// implements it over JWT query tokens.
type Authenticator interface {
	FromRequest(r *http.Request) (int64, error)
}

// Handler receives connection lifecycle events for one endpoint kind. All
// callbacks run on worker goroutines; handlers must be goroutine-safe.
// An error from OnConnect closes the connection without calling OnDisconnect.
type Handler interface {
	OnConnect(c *Connection) error
	OnMessage(c *Connection, data []byte)
	OnDisconnect(c *Connection)
}

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// authenticates and upgrades HTTP connections on the matchmaking and
// signaling endpoints, registers them with an epoll instance for I/O
// readiness notifications, and dispatches ready connections to a bounded
// worker pool for frame reading.
type Server struct {
	config    ServerConfig
	epoll     *Epoll
	conns     *ConnectionManager
	auth      Authenticator
	match     Handler // matchmaking endpoint
	signaling Handler // signaling endpoint

	workerPool chan struct{} // semaphore limiting concurrent read workers
	httpServer *http.Server
	bufPool    sync.Pool // pool of reusable read buffers
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server with the given configuration and authenticator.
// Endpoint handlers are registered with RegisterMatch and RegisterSignaling
// before Start.
func NewServer(config ServerConfig, auth Authenticator) *Server {
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		auth:       auth,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		done:       make(chan struct{}),
		bufPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}
}

// RegisterMatch sets the handler for matchmaking connections.
func (s *Server) RegisterMatch(h Handler) { s.match = h }

// RegisterSignaling sets the handler for signaling connections.
func (s *Server) RegisterSignaling(h Handler) { s.signaling = h }

// Start initializes the epoll instance, configures the HTTP server, and begins
// accepting WebSocket connections. It starts the epoll event loop in a
// background goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/match", s.handleMatchUpgrade)
	mux.HandleFunc("/ws/match/", s.handleMatchUpgrade)
	mux.HandleFunc("/ws/voicechat/", s.handleSignalingUpgrade)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	// Start the epoll event loop in the background.
	go s.startEventLoop()

	log.Printf("[ws] server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

func (s *Server) handleMatchUpgrade(w http.ResponseWriter, r *http.Request) {
	s.handleUpgrade(w, r, KindMatch, "")
}

func (s *Server) handleSignalingUpgrade(w http.ResponseWriter, r *http.Request) {
	room := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/voicechat/"), "/")
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	s.handleUpgrade(w, r, KindSignaling, room)
}

// handleUpgrade authenticates the request and upgrades it to a WebSocket
// connection using the gobwas/ws zero-copy upgrader. On success it creates a
// Connection, registers it with the connection manager and epoll, and hands
// it to the endpoint handler.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, kind, room string) {
	// Enforce maximum connection limit.
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	// Authenticate before the upgrade so rejections are plain HTTP errors.
	userID, err := s.auth.FromRequest(r)
	if err != nil {
		log.Printf("[ws] auth failed on %s: %v", r.URL.Path, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	fd := socketFD(conn)
	c := &Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Room:      room,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}

	// The handler runs before the connection is registered: a connect
	// handshake that evicts the user's previous session must still find
	// that session in the manager, not this one.
	if h := s.handlerFor(kind); h != nil {
		if err := h.OnConnect(c); err != nil {
			log.Printf("[ws] connect rejected user=%d kind=%s: %v", userID, kind, err)
			conn.Close()
			return
		}
	}

	s.conns.Add(c)
	metrics.ConnectionsTotal.WithLabelValues(kind).Inc()
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("[ws] epoll add failed for conn %s: %v", c.ID, err)
		s.RemoveConnection(c)
		return
	}

	log.Printf("[ws] new connection user=%d kind=%s conn=%s fd=%d (total=%d)",
		userID, kind, c.ID, fd, s.conns.Count())
}

func (s *Server) handlerFor(kind string) Handler {
	if kind == KindSignaling {
		return s.signaling
	}
	return s.match
}

// handleHealth responds with the server's health status as JSON, including the
// current connection count and uptime. It is used by the load balancer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("[ws] epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn // capture for goroutine

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error, etc.) the connection is removed from
// epoll and the connection manager.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// Don't kill the connection — the heartbeat handles dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Clear read deadline after successful frame read.
	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.LastPing = time.Now()

	// Handle control frames without removing the connection.
	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		// Pong/ping: connection is alive, nothing else to do.
		return
	}

	// Read data frame payload.
	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if h := s.handlerFor(c.Kind); h != nil {
		h.OnMessage(c, data)
	}
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, closes the underlying network connection, and notifies the
// endpoint handler. It is exported so that the heartbeat monitor and the
// session layer can evict connections.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when multiple goroutines race to remove
	// the same connection (e.g., read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}

	metrics.ConnectionsTotal.WithLabelValues(c.Kind).Dec()

	if h := s.handlerFor(c.Kind); h != nil {
		h.OnDisconnect(c)
	}

	log.Printf("[ws] connection closed user=%d kind=%s conn=%s (total=%d)",
		c.UserID, c.Kind, c.ID, s.conns.Count())
}

// SendMessage writes a WebSocket text frame to the connection identified by
// connID. It is goroutine-safe thanks to the per-connection write mutex.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.WriteMessage(data)

	// Clear write deadline so it doesn't affect future writes (e.g., heartbeat pings).
	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// SendToUser writes a frame to the user's local match connection. Returns
// false when the user has no match connection on this process.
func (s *Server) SendToUser(userID int64, data []byte) bool {
	c := s.conns.MatchConn(userID)
	if c == nil {
		return false
	}
	if err := s.SendMessage(c.ID, data); err != nil {
		log.Printf("[ws] send to user=%d failed: %v", userID, err)
		return false
	}
	return true
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat or session layer).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, closes all active connections
// (running handler disconnect cleanup for each), and cleans up the epoll
// instance.
func (s *Server) Shutdown() error {
	log.Println("[ws] shutting down server...")

	// Signal the event loop to stop.
	close(s.done)

	// Stop accepting new HTTP connections with a deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("[ws] http shutdown error: %v", err)
	}

	// Close all active WebSocket connections with full disconnect cleanup so
	// presence keys and queue entries do not outlive the process.
	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	// Close the epoll instance.
	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Printf("[ws] server stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
