package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection. Its ID is the
// connection's ephemeral identity, assigned at upgrade time and stable for
// the connection's lifetime. The write mutex serializes outbound frames; the
// closed flag drives Open(), which is how the matcher and session store
// observe transport liveness.
type Connection struct {
	ID         string     // ephemeral connection identity (UUID)
	Conn       net.Conn   // underlying TCP connection
	Fd         int        // file descriptor for epoll lookups
	RemoteHost string     // client host, keys the durable moderation record
	CreatedAt  time.Time  // when the connection was established
	lastActive int64      // unix nanos of the last client activity, accessed atomically
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
	closed     int32      // atomic flag: 1 once Close has run
}

// Open reports whether the underlying transport is still open. A queued
// reference whose Open returns false is a ghost and must never be paired.
func (c *Connection) Open() bool {
	return atomic.LoadInt32(&c.closed) == 0
}

// Touch records client activity now. Reader goroutines call it for every
// frame while the heartbeat goroutine reads the timestamp, so it is atomic.
func (c *Connection) Touch() {
	atomic.StoreInt64(&c.lastActive, time.Now().UnixNano())
}

// LastActive returns the time of the last observed client activity.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActive))
}

// Send writes a WebSocket text frame to this connection. The write mutex
// ensures that concurrent goroutines do not interleave frame bytes. Sending
// on a closed connection returns the underlying write error.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. The write mutex ensures this does not interleave with other
// outbound frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close marks the connection closed and closes the underlying network
// connection. Safe to call more than once.
func (c *Connection) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	return c.Conn.Close()
}

// ConnectionRegistry owns the set of live connections. It maps connection
// identities and file descriptors to their Connection objects with O(1)
// lookups by both keys, and its Remove is the arbiter that makes disconnect
// cleanup run exactly once per connection.
type ConnectionRegistry struct {
	mu   sync.RWMutex
	byID map[string]*Connection // connection_id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewConnectionRegistry creates an empty ConnectionRegistry ready for use.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (r *ConnectionRegistry) Add(conn *Connection) {
	r.mu.Lock()
	r.byID[conn.ID] = conn
	r.byFd[conn.Fd] = conn
	r.mu.Unlock()
}

// Remove removes a connection by identity, closes the underlying network
// connection, and removes it from both lookup maps. It returns true if the
// connection was found and removed, false if it was already gone. Callers
// use the return value to guarantee that per-connection cleanup (queue
// removal, session teardown, partner notification) never runs twice, no
// matter which detection path observed the disconnect first.
func (r *ConnectionRegistry) Remove(id string) bool {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byFd, conn.Fd)
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given identity, or nil if not found.
func (r *ConnectionRegistry) Get(id string) *Connection {
	r.mu.RLock()
	conn := r.byID[id]
	r.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (r *ConnectionRegistry) GetByFd(fd int) *Connection {
	r.mu.RLock()
	conn := r.byFd[fd]
	r.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (r *ConnectionRegistry) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return r.GetByFd(fd)
}

// Count returns the current number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (r *ConnectionRegistry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}
