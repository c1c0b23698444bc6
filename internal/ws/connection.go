package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection kinds, set by the upgrade path that produced the connection.
const (
	KindMatch     = "match"
	KindSignaling = "signaling"
)

// Connection represents a single authenticated WebSocket connection with its
// associated metadata and a write mutex for serializing outbound frames.
type Connection struct {
	ID       string // connection ID (UUID); distinguishes reconnects of one user
	UserID   int64  // authenticated user
	Username string // set by the session layer after connect
	Kind     string // KindMatch or KindSignaling
	Room     string // signaling room name; empty for match connections

	Conn       net.Conn  // underlying TCP connection
	Fd         int       // file descriptor for epoll lookups
	CreatedAt  time.Time // when the connection was established
	LastPing   time.Time // last successful read from the client
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry that maps connection IDs, file
// descriptors and user IDs to their respective Connection objects. The
// per-user index only tracks match connections: a user holds at most one
// matchmaking session, but may hold a signaling connection at the same time.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection // connection_id -> Connection
	byFd   map[int]*Connection    // fd -> Connection
	byUser map[int64]*Connection  // user_id -> match Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byFd:   make(map[int]*Connection),
		byUser: make(map[int64]*Connection),
	}
}

// Add registers a new connection in all applicable lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	if conn.Kind == KindMatch {
		cm.byUser[conn.UserID] = conn
	}
	cm.mu.Unlock()
}

// Remove removes a connection by ID, closes the underlying network
// connection, and removes it from all lookup maps. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
		// Only drop the user index if it still points at this connection;
		// a fast reconnect may have replaced it already.
		if conn.Kind == KindMatch && cm.byUser[conn.UserID] == conn {
			delete(cm.byUser, conn.UserID)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given connection ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return cm.GetByFd(fd)
}

// MatchConn returns the user's local match connection, or nil when the user
// is hosted on another process (or not connected at all).
func (cm *ConnectionManager) MatchConn(userID int64) *Connection {
	cm.mu.RLock()
	conn := cm.byUser[userID]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
