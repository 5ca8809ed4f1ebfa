package presence

import (
	"context"
	"sync"
	"time"

	"sangam/internal/metrics"
	"sangam/internal/models"

	"github.com/rs/zerolog/log"
)

// Directory persists the durable presence flags of a user.
type Directory interface {
	UpdatePresence(userID string, online bool, lastSeen time.Time) error
}

// Broadcaster delivers presence events to live connections.
type Broadcaster interface {
	// Broadcast sends ev to every connection except exceptConn.
	Broadcast(ev models.ServerEvent, exceptConn string)
	// Close terminates a connection evicted by the tracker.
	Close(connID string)
}

// Tracker applies presence transitions derived from the registry.
//
// Every registry mutation and the decision whether it changed a user's
// presence happen under one lock, so two racing disconnects of the same user
// cannot both fire or both suppress the offline transition.
type Tracker struct {
	mu        sync.Mutex
	registry  *Registry
	dir       Directory
	out       Broadcaster
	threshold time.Duration
	now       func() time.Time

	// users that asked to appear offline while still connected
	hidden map[string]struct{}
}

func NewTracker(registry *Registry, dir Directory, out Broadcaster, threshold time.Duration) *Tracker {
	return &Tracker{
		registry:  registry,
		dir:       dir,
		out:       out,
		threshold: threshold,
		now:       time.Now,
		hidden:    make(map[string]struct{}),
	}
}

func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Connect registers a joined connection and reports whether it brought its
// user online.
func (t *Tracker) Connect(conn LiveConnection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.observe()

	now := t.now()
	if conn.JoinedAt.IsZero() {
		conn.JoinedAt = now
	}
	if conn.LastActivity.IsZero() {
		conn.LastActivity = now
	}

	first, orphaned := t.registry.Register(conn)
	if orphaned != nil {
		t.goOffline(*orphaned, now, "")
	}
	if !first {
		return false
	}

	delete(t.hidden, conn.UserID)
	t.persist(conn.UserID, true, now)
	t.out.Broadcast(models.ServerEvent{
		Event: models.ServerEventUserOnline,
		Data: models.UserPresenceChange{
			UserID:    conn.UserID,
			Username:  conn.DisplayName,
			PhotoURL:  conn.PhotoURL,
			Status:    models.StatusOnline,
			Timestamp: now,
		},
	}, conn.ID)
	return true
}

// Disconnect unregisters a connection. When it was the last connection of
// its user the offline transition is applied and broadcast.
func (t *Tracker) Disconnect(connID string) (conn LiveConnection, last bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.observe()

	return t.disconnect(connID, "")
}

func (t *Tracker) disconnect(connID, reason string) (LiveConnection, bool, bool) {
	conn, last, ok := t.registry.Unregister(connID)
	if !ok || !last {
		return conn, last, ok
	}
	t.goOffline(conn, t.now(), reason)
	return conn, true, true
}

func (t *Tracker) goOffline(conn LiveConnection, now time.Time, reason string) {
	t.persist(conn.UserID, false, now)

	// Already announced by an explicit goOffline.
	if _, ok := t.hidden[conn.UserID]; ok {
		delete(t.hidden, conn.UserID)
		t.broadcastCount(now)
		return
	}

	t.out.Broadcast(models.ServerEvent{
		Event: models.ServerEventUserOffline,
		Data: models.UserPresenceChange{
			UserID:    conn.UserID,
			Username:  conn.DisplayName,
			PhotoURL:  conn.PhotoURL,
			Status:    models.StatusOffline,
			Timestamp: now,
			LastSeen:  &now,
			Reason:    reason,
		},
	}, "")
	t.broadcastCount(now)
}

// SetStatus applies an explicit status request from conn regardless of how
// many connections its user has.
func (t *Tracker) SetStatus(conn LiveConnection, online bool) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.persist(conn.UserID, online, now)

	change := models.UserPresenceChange{
		UserID:    conn.UserID,
		Username:  conn.DisplayName,
		PhotoURL:  conn.PhotoURL,
		Timestamp: now,
	}
	event := models.ServerEventUserOnline
	if online {
		delete(t.hidden, conn.UserID)
		change.Status = models.StatusOnline
	} else {
		t.hidden[conn.UserID] = struct{}{}
		event = models.ServerEventUserOffline
		change.Status = models.StatusOffline
		change.LastSeen = &now
	}

	t.out.Broadcast(models.ServerEvent{Event: event, Data: change}, conn.ID)
	return now
}

// OnlineUsers lists users that have a live connection and did not ask to
// appear offline.
func (t *Tracker) OnlineUsers() []models.OnlineUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onlineUsers()
}

func (t *Tracker) onlineUsers() []models.OnlineUser {
	summaries := t.registry.ListDistinctUsers()
	users := make([]models.OnlineUser, 0, len(summaries))
	for _, s := range summaries {
		if _, ok := t.hidden[s.UserID]; ok {
			continue
		}
		users = append(users, models.OnlineUser{
			UserID:   s.UserID,
			Name:     s.DisplayName,
			PhotoURL: s.PhotoURL,
			IsOnline: true,
			LastSeen: s.LastActivity,
			Status:   models.StatusOnline,
		})
	}
	return users
}

// BroadcastCount sends the current online count to every connection.
func (t *Tracker) BroadcastCount() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcastCount(t.now())
}

func (t *Tracker) broadcastCount(now time.Time) {
	users := t.onlineUsers()
	t.out.Broadcast(models.ServerEvent{
		Event: models.ServerEventOnlineUsersCount,
		Data: models.OnlineUsers{
			Count:     len(users),
			Users:     users,
			Timestamp: &now,
		},
	}, "")
}

// Sweep evicts connections idle for longer than the inactivity threshold and
// returns how many were evicted.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.observe()

	evicted := 0
	for _, connID := range t.registry.Stale(t.threshold, now) {
		conn, last, ok := t.disconnect(connID, models.ReasonInactive)
		if !ok {
			continue
		}
		log.Info().
			Str("conn_id", connID).
			Str("user_id", conn.UserID).
			Bool("last", last).
			Msg("evicting inactive connection")
		t.out.Close(connID)
		metrics.SweepEvictions.Inc()
		evicted++
	}
	return evicted
}

// Run sweeps every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := t.Sweep(t.now()); n > 0 {
				log.Info().Int("evicted", n).Msg("inactivity sweep finished")
			}
		}
	}
}

func (t *Tracker) persist(userID string, online bool, now time.Time) {
	if err := t.dir.UpdatePresence(userID, online, now); err != nil {
		log.Error().Err(err).Str("user_id", userID).Bool("online", online).Msg("failed to update presence")
	}
}

func (t *Tracker) observe() {
	metrics.Connections.Set(float64(t.registry.Count()))
	metrics.OnlineUsers.Set(float64(t.registry.CountDistinctUsers()))
}
