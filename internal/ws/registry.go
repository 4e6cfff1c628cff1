package ws

import (
	"sync"
	"time"

	"messaging-service/internal/observability"
)

// PresenceListener is notified when a user's connection count crosses zero.
// Callbacks are delivered off the registering goroutine, one at a time, in
// the order the transitions happened; the registry never waits on them.
type PresenceListener interface {
	UserOnline(userID int64)
	UserOffline(userID int64, lastSeen time.Time)
}

// presenceEvent is one queued online/offline transition.
type presenceEvent struct {
	userID int64
	online bool
	at     time.Time
}

// Registry tracks live connections per user and is the source of presence
// truth: a user is online iff it holds at least one connection for them.
// One instance is created at process start and passed to every component
// that needs it.
type Registry struct {
	mu       sync.RWMutex
	conns    map[int64]map[*Client]struct{}
	listener PresenceListener

	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	pending    []presenceEvent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{conns: make(map[int64]map[*Client]struct{})}
	r.notifyCond = sync.NewCond(&r.notifyMu)
	return r
}

// SetPresenceListener wires the presence broadcaster and starts the notifier
// goroutine. Must be called before the first Register.
func (r *Registry) SetPresenceListener(l PresenceListener) {
	r.listener = l
	go r.notifyLoop()
}

// enqueueTransition records a transition for the notifier. Callers hold the
// registry lock, so the queue order matches the transition order.
func (r *Registry) enqueueTransition(userID int64, online bool, at time.Time) {
	if r.listener == nil {
		return
	}
	r.notifyMu.Lock()
	r.pending = append(r.pending, presenceEvent{userID: userID, online: online, at: at})
	r.notifyMu.Unlock()
	r.notifyCond.Signal()
}

// notifyLoop drains the transition queue one event at a time. Running the
// callbacks on a single goroutine keeps a user's rapid connect/disconnect
// from broadcasting offline before online.
func (r *Registry) notifyLoop() {
	for {
		r.notifyMu.Lock()
		for len(r.pending) == 0 {
			r.notifyCond.Wait()
		}
		ev := r.pending[0]
		r.pending = r.pending[1:]
		r.notifyMu.Unlock()

		if ev.online {
			r.listener.UserOnline(ev.userID)
		} else {
			r.listener.UserOffline(ev.userID, ev.at)
		}
	}
}

// Register adds a live connection. The first connection for a user flips
// presence to online. Additional devices register without a transition.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	set, ok := r.conns[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		r.conns[c.UserID] = set
	}
	set[c] = struct{}{}
	if len(set) == 1 {
		r.enqueueTransition(c.UserID, true, time.Now())
	}
	r.mu.Unlock()

	observability.IncWSActive()
}

// Unregister removes a connection and closes its transport. Safe to call
// more than once per connection; only the first call has effect. Removing
// the user's last connection flips presence to offline.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	set, ok := r.conns[c.UserID]
	if ok {
		_, ok = set[c]
	}
	if !ok {
		r.mu.Unlock()
		c.close()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.UserID)
		r.enqueueTransition(c.UserID, false, time.Now())
	}
	r.mu.Unlock()

	c.close()
	observability.DecWSActive()
}

// Send pushes a payload to every live connection of the user without ever
// blocking the caller. A connection whose queue is full is evicted on the
// spot, which surfaces as a normal disconnect. Returns whether at least one
// connection accepted the payload.
func (r *Registry) Send(userID int64, payload []byte) bool {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.conns[userID]))
	for c := range r.conns[userID] {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	delivered := false
	for _, c := range clients {
		if c.trySend(payload) {
			delivered = true
			continue
		}
		observability.IncQueueEviction()
		r.Unregister(c)
	}
	return delivered
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// ConnectionCount returns the user's live connection count.
func (r *Registry) ConnectionCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
