// Package registry tracks the live transports of this process only. It is
// never persisted and never consulted across processes; the bus decides
// which process delivers to whom by broadcasting to all of them.
package registry

import "sync"

// Transport is one live duplex channel to a client. Send must not block;
// a transport that cannot accept the payload reports an error and the
// payload is dropped.
type Transport interface {
	Send(payload []byte) error
}

// Registry maps user ids to their transports. A user may hold several at
// once (multi-device). The top-level map has its own lock and each user's
// set has another, so deliveries to unrelated users never serialize.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*connSet
}

type connSet struct {
	mu         sync.Mutex
	transports map[Transport]struct{}
}

func New() *Registry {
	return &Registry{users: make(map[string]*connSet)}
}

// Register adds a live transport to the user's set. The registry lock is
// held across the insert so a concurrent Unregister cannot drop the set
// between lookup and add.
func (r *Registry) Register(userID string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = &connSet{transports: make(map[Transport]struct{})}
		r.users[userID] = set
	}
	set.mu.Lock()
	set.transports[t] = struct{}{}
	set.mu.Unlock()
}

// Unregister removes one transport. When the user's set empties, the map
// entry is dropped so disconnected users do not accumulate.
func (r *Registry) Unregister(userID string, t Transport) {
	r.mu.RLock()
	set, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	set.mu.Lock()
	delete(set.transports, t)
	empty := len(set.transports) == 0
	set.mu.Unlock()

	if !empty {
		return
	}
	r.mu.Lock()
	if current, ok := r.users[userID]; ok && current == set {
		current.mu.Lock()
		if len(current.transports) == 0 {
			delete(r.users, userID)
		}
		current.mu.Unlock()
	}
	r.mu.Unlock()
}

// Deliver fans the payload out to every local transport of the user,
// each on its own goroutine so one slow client never holds up another.
// Send failures are swallowed: reaping a dead transport is the job of its
// own disconnect handler, never of the delivery path.
func (r *Registry) Deliver(userID string, payload []byte) {
	r.mu.RLock()
	set, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	set.mu.Lock()
	targets := make([]Transport, 0, len(set.transports))
	for t := range set.transports {
		targets = append(targets, t)
	}
	set.mu.Unlock()

	for _, t := range targets {
		go func(t Transport) {
			_ = t.Send(payload)
		}(t)
	}
}

// Connections reports how many transports the user currently holds.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	set, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.transports)
}

// Users reports how many distinct users hold at least one transport.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
