package router

import (
	"sync"
	"time"

	"github.com/periljames/amo-portal-sub004/pkg/event"
	"github.com/periljames/amo-portal-sub004/pkg/log"
	"github.com/periljames/amo-portal-sub004/pkg/metrics"
)

var logger = log.ForComponent("router")

// DefaultDebounceWindow coalesces a burst of events into a single
// invalidation dispatch.
const DefaultDebounceWindow = 300 * time.Millisecond

// dedupWindow bounds how many recently accepted keys are remembered.
const dedupWindow = 512

// CursorStore is the durable cursor surface the router advances on
// acceptance.
type CursorStore interface {
	SetCursor(tenant, id string) error
}

// Clock supplies the reconciled server time for last-updated
// bookkeeping.
type Clock interface {
	Now() time.Time
}

// Config wires the Router to its collaborators.
type Config struct {
	Tenant     string
	Department string

	// Capacity bounds the in-memory activity ring buffer.
	Capacity int

	Cursors CursorStore
	Clock   Clock

	// Invalidate receives each coalesced scope set. Must not block.
	Invalidate func(scopes []string)

	// OnAccept observes each accepted event after the cursor is
	// persisted. Optional; must not block.
	OnAccept func(ev *event.ActivityEvent)

	// DebounceWindow defaults to DefaultDebounceWindow when zero.
	DebounceWindow time.Duration
}

// Router validates incoming event payloads, deduplicates them, keeps
// the bounded most-recent-first activity buffer, and maps accepted
// events to cache-invalidation scopes dispatched after a debounce
// window.
type Router struct {
	cfg Config

	mu          sync.Mutex
	ring        []*event.ActivityEvent
	seen        map[string]struct{}
	seenOrder   []string
	lastUpdated time.Time
	pending     map[string]struct{}
	timer       *time.Timer
	closed      bool
}

// New creates a router. Capacity falls back to 50 when unset.
func New(cfg Config) *Router {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 50
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	return &Router{
		cfg:     cfg,
		seen:    make(map[string]struct{}),
		pending: make(map[string]struct{}),
	}
}

// Handle processes one raw inbound payload. transportCursor is the
// transport-level event id when the stream supplied one; the event's
// own id is the fallback dedup/cursor key. Malformed payloads are
// dropped without advancing the cursor; Handle never panics or
// returns an error to the transport.
func (r *Router) Handle(raw []byte, transportCursor string) {
	ev, err := event.ParseActivityEvent(raw)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("invalid").Inc()
		logger.Debugf("dropping invalid payload: %v", err)
		return
	}

	key := transportCursor
	if key == "" {
		key = ev.ID
	}
	if key == "" {
		// Cannot be acknowledged safely.
		metrics.EventsDropped.WithLabelValues("no_key").Inc()
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, dup := r.seen[key]; dup {
		r.mu.Unlock()
		metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		logger.Debugf("dropping duplicate event %s", key)
		return
	}
	r.remember(key)
	r.mu.Unlock()

	// Durability precedes side effects: the cursor reflects this
	// event before any invalidation is dispatched. A failed write is
	// logged but not fatal; the worst case is a redelivered event.
	if err := r.cfg.Cursors.SetCursor(r.cfg.Tenant, key); err != nil {
		logger.Errorf("persisting cursor %s: %v", key, err)
	}

	tenant := ev.TenantHint()
	if tenant == "" {
		tenant = r.cfg.Tenant
	}
	scopes := ScopesFor(ev.EntityType, ev.Action, tenant, r.cfg.Department)

	r.mu.Lock()
	r.prepend(ev)
	r.lastUpdated = r.cfg.Clock.Now()
	for _, s := range scopes {
		r.pending[s] = struct{}{}
	}
	r.armTimerLocked()
	r.mu.Unlock()

	metrics.EventsAccepted.Inc()
	logger.Debugf("accepted event %s (%s.%s)", key, ev.EntityType, ev.Action)

	if r.cfg.OnAccept != nil {
		r.cfg.OnAccept(ev)
	}
}

// remember records a dedup key, evicting the oldest once the window
// is full. Caller holds r.mu.
func (r *Router) remember(key string) {
	r.seen[key] = struct{}{}
	r.seenOrder = append(r.seenOrder, key)
	if len(r.seenOrder) > dedupWindow {
		oldest := r.seenOrder[0]
		r.seenOrder = r.seenOrder[1:]
		delete(r.seen, oldest)
	}
}

// prepend inserts ev at the front of the ring, dropping the oldest
// entry beyond capacity. Caller holds r.mu.
func (r *Router) prepend(ev *event.ActivityEvent) {
	r.ring = append([]*event.ActivityEvent{ev}, r.ring...)
	if len(r.ring) > r.cfg.Capacity {
		r.ring = r.ring[:r.cfg.Capacity]
	}
}

// armTimerLocked schedules the debounce flush if one is not already
// pending. Caller holds r.mu.
func (r *Router) armTimerLocked() {
	if r.timer != nil || r.closed {
		return
	}
	r.timer = time.AfterFunc(r.cfg.DebounceWindow, r.flush)
}

// flush dispatches the coalesced pending scope set.
func (r *Router) flush() {
	r.mu.Lock()
	r.timer = nil
	if len(r.pending) == 0 || r.closed {
		r.mu.Unlock()
		return
	}
	scopes := make([]string, 0, len(r.pending))
	for s := range r.pending {
		scopes = append(scopes, s)
	}
	r.pending = make(map[string]struct{})
	r.mu.Unlock()

	metrics.InvalidationsDispatched.Inc()
	if r.cfg.Invalidate != nil {
		r.cfg.Invalidate(scopes)
	}
}

// BroadInvalidate dispatches the full-resync scope set immediately,
// folding in anything already pending. Used for server resets and
// manual refresh.
func (r *Router) BroadInvalidate() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	pending := r.pending
	r.pending = make(map[string]struct{})
	r.mu.Unlock()

	scopes := BroadScopes(r.cfg.Tenant, r.cfg.Department)
	merged := make(map[string]struct{}, len(scopes)+len(pending))
	for _, s := range scopes {
		merged[s] = struct{}{}
	}
	for s := range pending {
		merged[s] = struct{}{}
	}
	out := make([]string, 0, len(merged))
	for s := range merged {
		out = append(out, s)
	}

	metrics.InvalidationsDispatched.Inc()
	if r.cfg.Invalidate != nil {
		r.cfg.Invalidate(out)
	}
}

// Touch bumps the last-updated timestamp without accepting an event.
// The broker wake-up signal uses this.
func (r *Router) Touch() {
	r.mu.Lock()
	r.lastUpdated = r.cfg.Clock.Now()
	r.mu.Unlock()
}

// Recent returns a copy of the activity buffer, most recent first.
func (r *Router) Recent() []*event.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*event.ActivityEvent, len(r.ring))
	copy(out, r.ring)
	return out
}

// LastUpdated returns the reconciled time of the last accepted event
// (or wake-up), zero before anything arrived.
func (r *Router) LastUpdated() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdated
}

// Close cancels the pending debounce timer. Subsequent Handle calls
// are dropped.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
