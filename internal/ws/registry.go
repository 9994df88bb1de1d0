package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is the fan-out view of one live connection.
type Entry struct {
	ID     string
	UserID int
	Conn   Conn
}

type connection struct {
	id          string
	userID      int
	conn        Conn
	connectedAt time.Time
}

// Registry maps authenticated users to their live connections. A user may
// hold several (multi-tab, multi-device). Process-local and in-memory only.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*connection
	byUser map[int]map[string]*connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*connection),
		byUser: make(map[int]map[string]*connection),
	}
}

// Register adds a connection for the user and returns its id. wentOnline is
// true only when this is the user's first active connection.
func (r *Registry) Register(userID int, conn Conn) (connID string, wentOnline bool) {
	c := &connection{
		id:          uuid.NewString(),
		userID:      userID,
		conn:        conn,
		connectedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[c.id] = c
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]*connection)
		r.byUser[userID] = conns
	}
	wentOnline = len(conns) == 0
	conns[c.id] = c
	return c.id, wentOnline
}

// Unregister removes a connection by id. Unknown ids are a no-op.
// wentOffline is true only when this was the user's last connection.
func (r *Registry) Unregister(connID string) (userID int, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[connID]
	if !ok {
		return 0, false
	}
	delete(r.byID, connID)

	conns := r.byUser[c.userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, c.userID)
		return c.userID, true
	}
	return c.userID, false
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsFor(userID int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	entries := make([]Entry, 0, len(conns))
	for _, c := range conns {
		entries = append(entries, Entry{ID: c.id, UserID: c.userID, Conn: c.conn})
	}
	return entries
}

// ConnectionsExcept returns a snapshot of every live connection not
// belonging to userID. Used for presence broadcast.
func (r *Registry) ConnectionsExcept(userID int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []Entry
	for _, c := range r.byID {
		if c.userID == userID {
			continue
		}
		entries = append(entries, Entry{ID: c.id, UserID: c.userID, Conn: c.conn})
	}
	return entries
}

// IsOnline reports whether the user holds at least one live connection.
func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}
