package relay

import (
	"sync"

	"cryptochat/internal/app/user"
	"cryptochat/internal/pkg/metrics"
)

// Connection is the registry entry binding a wallet address to its live socket.
type Connection struct {
	Address string
	UserID  int64
	Socket  Socket
}

// IsGuest reports whether the connection is bound to the guest sentinel.
func (c *Connection) IsGuest() bool {
	return c.UserID == user.GuestID
}

// Registry maps normalized addresses to their current connection. At most one
// connection is registered per address; the last registration wins.
type Registry struct {
	// mu protects both indexes.
	mu sync.RWMutex

	byAddress map[string]*Connection

	// byUser indexes persisted users only. Guests are never reachable by user id.
	byUser map[int64]*Connection
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddress: make(map[string]*Connection),
		byUser:    make(map[int64]*Connection),
	}
}

// Register binds address to sock and returns the new entry together with the one it
// replaced, if any. The caller is responsible for closing the replaced socket.
func (r *Registry) Register(address string, sock Socket, userID int64) (conn, prev *Connection) {
	conn = &Connection{Address: address, UserID: userID, Socket: sock}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byAddress[address]; ok {
		prev = old
		r.unindexUser(old)
	}

	r.byAddress[address] = conn
	if !conn.IsGuest() {
		r.byUser[userID] = conn
	}

	metrics.RegisteredConnections.Set(float64(len(r.byAddress)))
	return conn, prev
}

// LookupByAddress returns the connection registered for address.
func (r *Registry) LookupByAddress(address string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byAddress[address]
	return conn, ok
}

// LookupByUserID returns the connection of a persisted user.
func (r *Registry) LookupByUserID(userID int64) (*Connection, bool) {
	if userID == user.GuestID {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byUser[userID]
	return conn, ok
}

// Deregister removes the entry for address. It is a no-op when nothing is registered.
func (r *Registry) Deregister(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byAddress[address]
	if !ok {
		return false
	}

	r.remove(conn)
	return true
}

// Release removes the entry for address only while it still points at sock, so a
// superseded connection closing late cannot unregister its replacement.
func (r *Registry) Release(address string, sock Socket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byAddress[address]
	if !ok || conn.Socket != sock {
		return false
	}

	r.remove(conn)
	return true
}

// Snapshot returns the registered connections at the time of the call.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.byAddress))
	for _, conn := range r.byAddress {
		conns = append(conns, conn)
	}
	return conns
}

// Len returns the number of registered addresses.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byAddress)
}

// remove must be called with mu held.
func (r *Registry) remove(conn *Connection) {
	delete(r.byAddress, conn.Address)
	r.unindexUser(conn)
	metrics.RegisteredConnections.Set(float64(len(r.byAddress)))
}

func (r *Registry) unindexUser(conn *Connection) {
	if conn.IsGuest() {
		return
	}
	if cur, ok := r.byUser[conn.UserID]; ok && cur == conn {
		delete(r.byUser, conn.UserID)
	}
}
