// Package notify fans out call-session row changes to subscribed peers.
// Delivery is at-least-once in commit order; a slow subscriber has older
// snapshots coalesced away rather than blocking the writer. Snapshots are
// full rows, so the latest one always supersedes anything dropped.
package notify

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/telecare/internal/domain"
)

// Subscription is one listener on a single session id.
// Cancel must be called on every exit path; it is idempotent.
type Subscription struct {
	id domain.SessionID

	mu     sync.Mutex
	ch     chan domain.CallSession
	closed bool

	cancel func()
}

// Updates yields full-row snapshots. The channel is closed by Cancel.
func (s *Subscription) Updates() <-chan domain.CallSession {
	return s.ch
}

// Cancel detaches the subscription from the hub and closes Updates.
func (s *Subscription) Cancel() {
	s.cancel()
}

func (s *Subscription) deliver(sess domain.CallSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- sess:
			return
		default:
		}
		// Buffer full: drop the oldest pending snapshot and retry.
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Hub routes published rows to the subscribers of that session id.
type Hub struct {
	mu   sync.RWMutex
	subs map[domain.SessionID]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[domain.SessionID]map[*Subscription]struct{}),
	}
}

// Subscribe registers a listener for one session id.
func (h *Hub) Subscribe(id domain.SessionID) *Subscription {
	sub := &Subscription{
		id: id,
		ch: make(chan domain.CallSession, 4),
	}
	sub.cancel = func() { h.unsubscribe(sub) }

	h.mu.Lock()
	set, ok := h.subs[id]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[id] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	log.Debug().Str("module", "notify").Str("session", string(id)).Msg("subscribed")
	return sub
}

// Publish pushes a committed row snapshot to all subscribers of its id.
// Never blocks the caller.
func (h *Hub) Publish(sess domain.CallSession) {
	h.mu.RLock()
	set := h.subs[sess.ID]
	snapshot := make([]*Subscription, 0, len(set))
	for sub := range set {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	for _, sub := range snapshot {
		sub.deliver(sess)
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.id]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.id)
		}
	}
	h.mu.Unlock()

	sub.close()
	log.Debug().Str("module", "notify").Str("session", string(sub.id)).Msg("unsubscribed")
}

// SubscriberCount reports listeners for a session id.
func (h *Hub) SubscriberCount(id domain.SessionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[id])
}
