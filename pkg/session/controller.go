package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/periljames/amo-portal-sub004/pkg/broker"
	"github.com/periljames/amo-portal-sub004/pkg/clock"
	"github.com/periljames/amo-portal-sub004/pkg/config"
	"github.com/periljames/amo-portal-sub004/pkg/event"
	"github.com/periljames/amo-portal-sub004/pkg/feed"
	"github.com/periljames/amo-portal-sub004/pkg/log"
	"github.com/periljames/amo-portal-sub004/pkg/metrics"
	"github.com/periljames/amo-portal-sub004/pkg/router"
	"github.com/periljames/amo-portal-sub004/pkg/store"
	"github.com/periljames/amo-portal-sub004/pkg/stream"
)

var logger = log.ForComponent("session")

// BackendHealth reflects the periodic health probe, independent of
// transport status.
type BackendHealth string

const (
	HealthOK       BackendHealth = "ok"
	HealthDegraded BackendHealth = "degraded"
)

// Snapshot is the externally observable state of the engine.
type Snapshot struct {
	Status        stream.Status `json:"status"`
	BrokerState   broker.State  `json:"brokerState"`
	BackendHealth BackendHealth `json:"backendHealth"`
	IsOnline      bool          `json:"isOnline"`
	IsStale       bool          `json:"isStale"`
	ClockSource   clock.Source  `json:"clockSource"`
	ClockOffsetMS int64         `json:"clockOffsetMs"`
	LastUpdated   time.Time     `json:"lastUpdated,omitempty"`
	QueueDepth    int           `json:"queueDepth"`
}

// Options wires the Controller beyond its config.
type Options struct {
	// Invalidate receives each coalesced invalidation scope set; this
	// is the seam to the application's data-cache layer. Optional:
	// the feed hub always observes dispatches too.
	Invalidate func(scopes []string)

	HTTPClient *http.Client
}

// Controller is the top-level orchestrator: it owns both transports,
// the clock synchronizer, the event router and the durable store,
// and exposes current status plus imperative refresh operations. One
// controller is constructed per application session and torn down on
// logout; it never gives up on recovery while running.
type Controller struct {
	cfg   *config.Config
	store *store.Store
	hub   *feed.Hub

	clock   *clock.Synchronizer
	router  *router.Router
	streamC *stream.Client
	brokerC *broker.Client

	httpClient *http.Client
	invalidate func(scopes []string)

	mu          sync.Mutex
	status      stream.Status
	brokerState broker.State
	health      BackendHealth
	isOnline    bool
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New builds a controller and wires all components together. Nothing
// connects until Start.
func New(cfg *config.Config, st *store.Store, opts Options) *Controller {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	c := &Controller{
		cfg:         cfg,
		store:       st,
		hub:         feed.NewHub(0),
		httpClient:  httpClient,
		invalidate:  opts.Invalidate,
		status:      stream.StatusSyncing,
		brokerState: broker.StateOffline,
		health:      HealthOK,
		isOnline:    true,
	}

	c.clock = clock.NewSynchronizer(cfg.BaseURL, httpClient)

	c.router = router.New(router.Config{
		Tenant:     cfg.Tenant,
		Department: cfg.Department,
		Capacity:   cfg.ActivityBufferSize,
		Cursors:    st,
		Clock:      c.clock,
		Invalidate: c.dispatchInvalidation,
		OnAccept: func(ev *event.ActivityEvent) {
			c.hub.Broadcast(feed.Update{Kind: feed.KindActivity, Event: ev})
		},
	})

	c.streamC = stream.NewClient(stream.Config{
		BaseURL:      cfg.BaseURL,
		Tenant:       cfg.Tenant,
		Token:        cfg.Token,
		Cursors:      st,
		Handler:      c.router.Handle,
		OnReset:      c.router.BroadInvalidate,
		OnStatus:     c.setStreamStatus,
		OnServerTime: c.clock.ObserveServerTime,
		HTTPClient:   httpClient,
	})

	c.brokerC = broker.NewClient(broker.Config{
		BaseURL:   cfg.BaseURL,
		Tenant:    cfg.Tenant,
		UserID:    cfg.UserID,
		Token:     cfg.Token,
		Queue:     st,
		OnState:   c.setBrokerState,
		OnMessage: c.onBrokerMessage,
	})

	return c
}

// Start launches both transports and the periodic heartbeat/clock
// loops. Calling Start twice is an error-free no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	c.mu.Unlock()

	logger.Infof("starting realtime session for tenant %s", c.cfg.Tenant)

	// Initial clock sync before the heartbeat cadence takes over.
	c.spawn(c.syncClock)
	c.spawn(c.streamC.Run)
	c.brokerC.Connect(runCtx)
	c.spawn(c.heartbeatLoop)
}

// spawn runs f on a tracked goroutine, but only while the session is
// running. The wg.Add happens under the same lock as the running
// check so a transport callback racing Stop can never Add while
// wg.Wait is draining the counter.
func (c *Controller) spawn(f func(context.Context)) {
	c.mu.Lock()
	if !c.running || c.ctx == nil {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		f(ctx)
	}()
}

// Stop tears everything down: transports, timers, router. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	logger.Infof("stopping realtime session")
	cancel()
	c.brokerC.Disconnect()
	c.router.Close()
	c.wg.Wait()
	logger.Infof("realtime session stopped")
}

// SetOnline feeds the platform network signal to both transports. On
// offline both are torn down with no pending reconnect timers; on
// online both reconnect immediately, bypassing backoff.
func (c *Controller) SetOnline(online bool) {
	c.mu.Lock()
	c.isOnline = online
	running := c.running
	ctx := c.ctx
	c.mu.Unlock()

	logger.Infof("platform network signal: online=%v", online)
	c.streamC.SetOnline(online)
	if running {
		c.brokerC.SetOnline(ctx, online)
	}
	if !online {
		c.setStreamStatus(stream.StatusOffline)
	}
}

// RefreshData force-invalidates the broad set of cached views and
// requests a reconnect on both transports. Safe to call repeatedly
// and concurrently.
func (c *Controller) RefreshData() {
	c.router.BroadInvalidate()
	c.streamC.Kick()

	c.mu.Lock()
	running := c.running
	ctx := c.ctx
	c.mu.Unlock()
	if running {
		c.brokerC.Connect(ctx)
	}
}

// TriggerSync is an alias of RefreshData kept for collaborators that
// think in terms of "sync now".
func (c *Controller) TriggerSync() {
	c.RefreshData()
}

// Publish hands an outbound envelope to the broker transport,
// buffering durably when disconnected.
func (c *Controller) Publish(env *event.Envelope) error {
	return c.brokerC.Publish(env)
}

// Feed returns the observer hub for status and activity updates.
func (c *Controller) Feed() *feed.Hub {
	return c.hub
}

// Recent returns the bounded activity buffer, most recent first.
func (c *Controller) Recent() []*event.ActivityEvent {
	return c.router.Recent()
}

// Snapshot assembles the externally observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		Status:        c.status,
		BrokerState:   c.brokerState,
		BackendHealth: c.health,
		IsOnline:      c.isOnline,
	}
	c.mu.Unlock()

	snap.IsStale = snap.Status != stream.StatusLive || snap.BrokerState != broker.StateConnected
	snap.ClockSource = c.clock.Source()
	snap.ClockOffsetMS = c.clock.OffsetMS()
	snap.LastUpdated = c.router.LastUpdated()
	if depth, err := c.store.QueueDepth(); err == nil {
		snap.QueueDepth = depth
		metrics.OutboundQueueDepth.Set(float64(depth))
	}
	return snap
}

func (c *Controller) setStreamStatus(s stream.Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	logger.Debugf("stream status -> %s", s)
	c.hub.Broadcast(feed.Update{Kind: feed.KindStatus})
}

func (c *Controller) setBrokerState(s broker.State) {
	c.mu.Lock()
	prev := c.brokerState
	c.brokerState = s
	c.mu.Unlock()
	if prev == s {
		return
	}
	logger.Debugf("broker state -> %s", s)
	c.hub.Broadcast(feed.Update{Kind: feed.KindStatus})

	// A fresh broker connection is a good moment to re-anchor the
	// clock.
	if s == broker.StateConnected {
		c.spawn(c.syncClock)
	}
}

// onBrokerMessage handles inbox/ack frames: the low-latency wake-up
// signal. Inbox payloads that parse as activity events flow through
// the same dedup/invalidation path as stream events (at-least-once
// delivery, dedup by event id).
func (c *Controller) onBrokerMessage(topic string, payload []byte) {
	c.router.Touch()
	c.spawn(c.syncClock)
	c.router.Handle(payload, "")
}

func (c *Controller) dispatchInvalidation(scopes []string) {
	logger.Debugf("dispatching %d invalidation scopes", len(scopes))
	c.hub.Broadcast(feed.Update{Kind: feed.KindInvalidation, Scopes: scopes})
	if c.invalidate != nil {
		c.invalidate(scopes)
	}
}

func (c *Controller) syncClock(ctx context.Context) {
	if err := c.clock.SyncNow(ctx); err != nil {
		c.setHealth(HealthDegraded)
		return
	}
	c.setHealth(HealthOK)
}

func (c *Controller) setHealth(h BackendHealth) {
	c.mu.Lock()
	changed := c.health != h
	c.health = h
	c.mu.Unlock()
	if changed {
		logger.Infof("backend health -> %s", h)
		c.hub.Broadcast(feed.Update{Kind: feed.KindStatus})
	}
	if h == HealthOK {
		metrics.BackendHealthy.Set(1)
	} else {
		metrics.BackendHealthy.Set(0)
	}
}

// heartbeatLoop probes backend health and re-syncs the clock on a
// minutes-scale cadence. It updates backendHealth only; transport
// status is owned by the transports themselves.
func (c *Controller) heartbeatLoop(ctx context.Context) {
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval.Duration)
	clockSync := time.NewTicker(c.cfg.ClockSyncInterval.Duration)
	defer heartbeat.Stop()
	defer clockSync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			c.probeHealth(ctx)
		case <-clockSync.C:
			c.syncClock(ctx)
		}
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (c *Controller) probeHealth(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/healthz", nil)
	if err != nil {
		c.setHealth(HealthDegraded)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warnf("health probe failed: %v", err)
		c.setHealth(HealthDegraded)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Debugf("closing health response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.setHealth(HealthDegraded)
		return
	}

	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil || hr.Status != "ok" {
		c.setHealth(HealthDegraded)
		return
	}
	c.setHealth(HealthOK)
}
