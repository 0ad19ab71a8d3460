package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/periljames/amo-portal-sub004/pkg/log"
	"github.com/periljames/amo-portal-sub004/pkg/metrics"
)

var logger = log.ForComponent("stream")

// Status is the externally observable state of the stream transport.
type Status string

const (
	StatusSyncing Status = "syncing"
	StatusLive    Status = "live"
	StatusOffline Status = "offline"
)

// Reconnect timing. Reset blocks and clean EOFs use short fixed
// delays; errors back off exponentially up to the cap.
const (
	resetReconnectDelay = 250 * time.Millisecond
	eofReconnectDelay   = 1500 * time.Millisecond
	backoffBase         = 2 * time.Second
	backoffCap          = 15 * time.Second
	handshakeTimeout    = 15 * time.Second
)

// CursorStore is the durable cursor surface the client resumes from.
type CursorStore interface {
	Cursor(tenant string) (string, error)
	SetCursor(tenant, id string) error
	ClearCursor(tenant string) error
}

// Config wires a Client to its collaborators. Handler and OnStatus
// are invoked from the client's own goroutine; they must not block.
type Config struct {
	BaseURL string
	Tenant  string
	Token   string

	Cursors CursorStore

	// Handler receives each dispatchable block's payload together
	// with the transport-level cursor (may be empty).
	Handler func(data []byte, transportCursor string)
	// OnReset fires when the server signals that incremental history
	// is invalid and a full resync is required.
	OnReset func()
	// OnStatus observes transport state transitions.
	OnStatus func(Status)
	// OnServerTime receives the response date header for clock skew.
	OnServerTime func(time.Time)

	HTTPClient *http.Client
}

// Client consumes the chunked push protocol over a long-lived
// request, resuming from the persisted cursor and reconnecting with
// capped exponential backoff. One Run loop owns all connection
// state; a new attempt always cancels the previous one.
type Client struct {
	cfg    Config
	client *http.Client

	online atomic.Bool
	kick   chan struct{}

	mu            sync.Mutex
	attemptCancel context.CancelFunc
}

// NewClient creates a stream client. It does not connect until Run.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{
		cfg:    cfg,
		client: httpClient,
		kick:   make(chan struct{}, 1),
	}
	c.online.Store(true)
	return c
}

// SetOnline feeds the platform network signal. Going offline aborts
// any in-flight connection immediately; while offline the client
// reports StatusOffline and schedules no reconnect timer.
func (c *Client) SetOnline(online bool) {
	c.online.Store(online)
	if online {
		c.Kick()
		return
	}
	c.mu.Lock()
	cancel := c.attemptCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Kick wakes the run loop immediately, bypassing any backoff delay.
func (c *Client) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// reconnectDelay is the backoff schedule for consecutive failures:
// min(15s, 2s * 2^attempt).
func reconnectDelay(attempt int) time.Duration {
	d := backoffBase << attempt
	if d <= 0 || d > backoffCap {
		return backoffCap
	}
	return d
}

// Run connects and consumes the stream until ctx is cancelled. It
// never returns a non-ctx error: every failure path schedules a
// retry.
func (c *Client) Run(ctx context.Context) {
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		if !c.online.Load() || c.cfg.Token == "" {
			// Not connectable: report offline without consuming a
			// retry slot and wait for a wake-up, not a timer.
			c.setStatus(StatusOffline)
			select {
			case <-ctx.Done():
				return
			case <-c.kick:
			}
			continue
		}

		c.setStatus(StatusSyncing)
		metrics.StreamReconnects.Inc()

		outcome, connected := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// A successful handshake resets the backoff schedule even
			// when the connection later fails.
			attempt = 0
		}
		if !c.online.Load() {
			// Torn down by the platform offline signal: report
			// offline from the loop top without arming a timer.
			continue
		}

		var delay time.Duration
		switch outcome {
		case outcomeReset:
			// Controlled resync: the connection is gone, so live no
			// longer holds. Short fixed pause, fresh cursor.
			c.setStatus(StatusSyncing)
			attempt = 0
			delay = resetReconnectDelay
		case outcomeEOF:
			// Stream ended without an error: unexpected disconnect.
			c.setStatus(StatusOffline)
			attempt = 0
			delay = eofReconnectDelay
		case outcomeError:
			c.setStatus(StatusOffline)
			delay = reconnectDelay(attempt)
			attempt++
		}

		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			attempt = 0
		case <-time.After(delay):
		}
	}
}

type outcome int

const (
	outcomeError outcome = iota
	outcomeEOF
	outcomeReset
)

// liveReader flips the transport to live on the first byte received
// after a reconnect; an open socket that has delivered nothing is
// still syncing.
type liveReader struct {
	r      io.Reader
	onByte func()
	fired  bool
}

func (lr *liveReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	if n > 0 && !lr.fired {
		lr.fired = true
		lr.onByte()
	}
	return n, err
}

func (c *Client) connectOnce(ctx context.Context) (outcome, bool) {
	attemptCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.attemptCancel = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.attemptCancel = nil
		c.mu.Unlock()
	}()

	endpoint := c.cfg.BaseURL + "/api/events"
	cursor, err := c.cfg.Cursors.Cursor(c.cfg.Tenant)
	if err != nil {
		logger.Warnf("loading cursor: %v", err)
	}
	if cursor != "" {
		endpoint += "?lastEventId=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		logger.Errorf("creating stream request: %v", err)
		return outcomeError, false
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	// Bound the handshake only; the read loop itself has no
	// inactivity deadline.
	handshake := time.AfterFunc(handshakeTimeout, cancel)
	resp, err := c.client.Do(req)
	handshake.Stop()
	if err != nil {
		logger.Warnf("stream connect failed: %v", err)
		return outcomeError, false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Debugf("closing stream body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		logger.Warnf("stream handshake returned %d", resp.StatusCode)
		return outcomeError, false
	}

	if c.cfg.OnServerTime != nil {
		if serverTime, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
			c.cfg.OnServerTime(serverTime)
		}
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warnf("opening gzip stream: %v", err)
			return outcomeError, false
		}
		defer func() {
			if err := gz.Close(); err != nil {
				logger.Debugf("closing gzip reader: %v", err)
			}
		}()
		body = gz
	}

	logger.Infof("stream connected (cursor=%q)", cursor)
	return c.readLoop(attemptCtx, body), true
}

func (c *Client) readLoop(ctx context.Context, body io.Reader) outcome {
	sc := NewScanner(&liveReader{r: body, onByte: func() {
		c.setStatus(StatusLive)
	}})

	for {
		block, err := sc.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Infof("stream ended")
				return outcomeEOF
			}
			if ctx.Err() != nil {
				return outcomeError
			}
			logger.Warnf("stream read error: %v", err)
			return outcomeError
		}

		if block.Event == "reset" {
			logger.Infof("server signaled reset, clearing cursor for full resync")
			if err := c.cfg.Cursors.ClearCursor(c.cfg.Tenant); err != nil {
				logger.Errorf("clearing cursor: %v", err)
			}
			if c.cfg.OnReset != nil {
				c.cfg.OnReset()
			}
			return outcomeReset
		}

		if !block.Dispatchable() {
			continue
		}

		c.cfg.Handler([]byte(block.Data), block.ID)
	}
}

func (c *Client) setStatus(s Status) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}

// Endpoint returns the stream URL for diagnostics.
func (c *Client) Endpoint() (string, error) {
	u, err := url.JoinPath(c.cfg.BaseURL, "/api/events")
	if err != nil {
		return "", fmt.Errorf("joining stream endpoint: %w", err)
	}
	return u, nil
}
