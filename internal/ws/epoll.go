//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Epoll multiplexes reads over every registered socket through a single
// kernel epoll instance, so the server needs one event loop plus a worker
// pool rather than a reader goroutine per connection.
type Epoll struct {
	fd          int               // epoll instance fd
	connections map[int]net.Conn  // socket fd -> conn
	mu          sync.RWMutex      // guards connections
	events      []unix.EpollEvent // buffer reused across Wait calls
}

// NewEpoll opens an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:          fd,
		connections: make(map[int]net.Conn),
		events:      make([]unix.EpollEvent, 128),
	}, nil
}

// Add puts the connection's socket on the interest list for read readiness
// and hangup.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.connections[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove drops the connection's socket from the interest list and forgets
// the fd mapping.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.connections, fd)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one registered socket is readable and returns
// the matching connections. An fd that was removed between the kernel wakeup
// and the map lookup is skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		conn, ok := e.connections[int(e.events[i].Fd)]
		if ok {
			conns = append(conns, conn)
		}
	}
	e.mu.RUnlock()
	return conns, nil
}

// Close releases the epoll instance.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connections = nil
	return unix.Close(e.fd)
}

// socketFD digs the raw fd out of a net.Conn via SyscallConn. Unlike
// File(), this does not dup the descriptor, so the fd registered with
// epoll stays the one the conn actually reads on.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
