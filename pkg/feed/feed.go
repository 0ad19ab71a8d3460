package feed

// Package feed provides the in-process fan-out hub collaborators use
// to observe the sync engine: accepted activity events, connectivity
// transitions and invalidation dispatches all flow through it. Each
// listener owns a buffered channel; a listener that falls behind
// drops updates rather than backpressuring the transports.

import (
	"sync"

	"github.com/periljames/amo-portal-sub004/pkg/event"
)

// UpdateKind discriminates the hub envelope.
type UpdateKind string

const (
	// KindActivity carries one accepted activity event.
	KindActivity UpdateKind = "activity"
	// KindStatus signals a connectivity/state transition; consumers
	// re-read the session snapshot.
	KindStatus UpdateKind = "status"
	// KindInvalidation carries a coalesced invalidation scope set.
	KindInvalidation UpdateKind = "invalidation"
)

// Update is the hub envelope delivered to listeners.
type Update struct {
	Kind   UpdateKind           `json:"kind"`
	Event  *event.ActivityEvent `json:"event,omitempty"`
	Scopes []string             `json:"scopes,omitempty"`
}

// Hub is a concurrency-safe best-effort fan-out dispatcher.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan Update
	nextID    uint64
	bufSize   int
}

// NewHub constructs a hub with the given per-listener buffer size.
// If bufSize <= 0, a default of 32 is used.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Hub{
		listeners: make(map[uint64]chan Update),
		bufSize:   bufSize,
	}
}

// Register adds a listener and returns its id and receive channel.
// Callers must Unregister(id) when done.
func (h *Hub) Register() (uint64, <-chan Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Update, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes the listener and closes its channel. Unknown
// ids are ignored; calling twice is safe.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

// Broadcast delivers an update to every listener, dropping it for
// any listener whose buffer is full.
func (h *Hub) Broadcast(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- u:
		default:
			// Drop for slow listener.
		}
	}
}

// Size returns the current number of listeners.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
