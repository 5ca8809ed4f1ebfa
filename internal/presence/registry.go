package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// LiveConnection is one authenticated transport session.
type LiveConnection struct {
	ID           string
	UserID       string
	DisplayName  string
	PhotoURL     string
	JoinedAt     time.Time
	LastActivity time.Time
	Room         string
}

// UserSummary describes a user with at least one live connection.
type UserSummary struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"username"`
	PhotoURL     string    `json:"photoUrl,omitempty"`
	Connections  int       `json:"connections"`
	LastActivity time.Time `json:"lastActivity"`
}

// Registry maps live connections to users. A user is online while at least
// one of their connections is registered.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*LiveConnection
	users map[string]map[string]struct{}
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*LiveConnection),
		users: make(map[string]map[string]struct{}),
		now:   time.Now,
	}
}

// Register records conn. It reports whether this is the first connection of
// conn.UserID. Registering an existing connection id overwrites the record;
// if it previously belonged to another user whose set became empty, the
// previous record is returned as orphaned.
func (r *Registry) Register(conn LiveConnection) (first bool, orphaned *LiveConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if conn.JoinedAt.IsZero() {
		conn.JoinedAt = now
	}
	if conn.LastActivity.IsZero() {
		conn.LastActivity = now
	}

	if prev, ok := r.conns[conn.ID]; ok {
		if prev.UserID != conn.UserID && r.removeFromUser(prev.UserID, prev.ID) {
			old := *prev
			orphaned = &old
		}
		if conn.Room == "" {
			conn.Room = prev.Room
		}
	}

	set, ok := r.users[conn.UserID]
	if !ok {
		set = make(map[string]struct{})
		r.users[conn.UserID] = set
	}
	first = len(set) == 0
	set[conn.ID] = struct{}{}

	c := conn
	r.conns[conn.ID] = &c
	return first, orphaned
}

// Unregister removes the connection and reports whether it was the last one
// of its user.
func (r *Registry) Unregister(connID string) (conn LiveConnection, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return LiveConnection{}, false, false
	}
	delete(r.conns, connID)
	last = r.removeFromUser(c.UserID, connID)
	return *c, last, true
}

func (r *Registry) removeFromUser(userID, connID string) bool {
	set, ok := r.users[userID]
	if !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// Touch refreshes the last activity time of a connection.
func (r *Registry) Touch(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	c.LastActivity = r.now()
	return true
}

// SetRoom stores the current room of a connection and returns the previous one.
func (r *Registry) SetRoom(connID, room string) (prev string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	prev = c.Room
	c.Room = room
	return prev, true
}

func (r *Registry) Get(connID string) (LiveConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return LiveConnection{}, false
	}
	return *c, true
}

// ConnectionsOf returns the connection ids of a user in sorted order.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.users[userID])
	sort.Strings(ids)
	return ids
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) CountDistinctUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// ListDistinctUsers returns one summary per online user, using the details
// of their most recently active connection. Sorted by user id.
func (r *Registry) ListDistinctUsers() []UserSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := lo.MapToSlice(r.users, func(userID string, set map[string]struct{}) UserSummary {
		latest := lo.MaxBy(lo.Keys(set), func(a, b string) bool {
			return r.conns[a].LastActivity.After(r.conns[b].LastActivity)
		})
		c := r.conns[latest]
		return UserSummary{
			UserID:       userID,
			DisplayName:  c.DisplayName,
			PhotoURL:     c.PhotoURL,
			Connections:  len(set),
			LastActivity: c.LastActivity,
		}
	})
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].UserID < summaries[j].UserID })
	return summaries
}

// Stale returns the ids of connections idle for longer than threshold.
func (r *Registry) Stale(threshold time.Duration, now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stale := lo.FilterMap(lo.Values(r.conns), func(c *LiveConnection, _ int) (string, bool) {
		return c.ID, now.Sub(c.LastActivity) > threshold
	})
	sort.Strings(stale)
	return stale
}
