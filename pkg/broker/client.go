package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/periljames/amo-portal-sub004/pkg/event"
	"github.com/periljames/amo-portal-sub004/pkg/log"
	"github.com/periljames/amo-portal-sub004/pkg/metrics"
)

var logger = log.ForComponent("broker")

// ErrAuth is returned when the credential endpoint rejects the
// session (401/403). Auth failures are retried slowly: they need a
// fresh session, not a network retry.
var ErrAuth = errors.New("broker credential rejected")

// State is the externally observable broker transport state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateOffline      State = "offline"
	StateError        State = "error"
)

// Backoff policy: min(30s, 1s * 2^min(attempt,6) + rand(0,500ms)).
// Auth failures jump straight to the top of the curve.
const (
	backoffBase      = time.Second
	backoffCap       = 30 * time.Second
	backoffJitter    = 500 * time.Millisecond
	backoffMaxShift  = 6
	handshakeTimeout = 15 * time.Second
)

// tokenResponse is the body of POST {base}/api/realtime/token.
type tokenResponse struct {
	Token       string `json:"token"`
	BrokerWSURL string `json:"broker_ws_url"`
	ClientID    string `json:"client_id"`
	AmoID       string `json:"amo_id"`
	ExpiresAt   string `json:"expires_at"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

// frame is the JSON wire format on the broker socket.
type frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Queue is the durable outbound buffer the client drains on connect.
type Queue interface {
	Enqueue(env *event.Envelope) error
	LoadAll() ([]*event.Envelope, error)
	Remove(id string) error
}

// Config wires a Client to its collaborators. Callbacks fire from
// the client's goroutines and must not block.
type Config struct {
	BaseURL string
	Tenant  string
	UserID  string
	Token   string

	Queue Queue

	// OnState observes connection-state transitions.
	OnState func(State)
	// OnMessage receives inbox/ack frames (the low-latency wake-up
	// signal).
	OnMessage func(topic string, payload []byte)

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Client maintains a persistent publish/subscribe connection to the
// portal's broker, authenticated with a short-lived credential. It
// reconnects with capped, jittered exponential backoff and buffers
// sends in the durable queue while disconnected.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	attempt        int
	reconnectTimer *time.Timer
	ctx            context.Context
	online         bool
	stopped        bool
	connecting     bool

	writeMu sync.Mutex
}

// NewClient creates a broker client. It does not connect until
// Connect.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: handshakeTimeout}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		dialer:     dialer,
		state:      StateOffline,
		online:     true,
	}
}

func (c *Client) inboxTopic() string {
	return fmt.Sprintf("%s/user/%s/inbox", c.cfg.Tenant, c.cfg.UserID)
}

func (c *Client) ackTopic() string {
	return fmt.Sprintf("%s/user/%s/ack", c.cfg.Tenant, c.cfg.UserID)
}

func (c *Client) outboxTopic() string {
	return fmt.Sprintf("%s/user/%s/outbox", c.cfg.Tenant, c.cfg.UserID)
}

// nextDelay returns the backoff delay for the given attempt number.
func nextDelay(attempt int) time.Duration {
	shift := attempt
	if shift > backoffMaxShift {
		shift = backoffMaxShift
	}
	d := backoffBase << shift
	d += time.Duration(rand.Int63n(int64(backoffJitter)))
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// State returns the current transport state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

// SetOnline feeds the platform network signal. Going offline tears
// the connection down without scheduling a reconnect; coming back
// online reconnects immediately, bypassing backoff.
func (c *Client) SetOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()

	if !online {
		c.teardown(false)
		c.setState(StateOffline)
		return
	}

	c.mu.Lock()
	c.attempt = 0
	c.stopped = false
	c.mu.Unlock()
	c.Connect(ctx)
}

// Connect requests a broker credential and opens the socket. On
// failure a reconnect is scheduled; Connect itself never blocks on
// retries. At most one attempt runs at a time: a Connect overlapping
// an in-flight attempt returns immediately.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.conn != nil || c.stopped || !c.online || c.connecting {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.ctx = ctx
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	c.setState(StateConnecting)
	metrics.BrokerReconnects.Inc()

	cred, err := c.fetchCredential(ctx)
	if err != nil {
		if errors.Is(err, ErrAuth) {
			// Force the attempt counter to the high end: a fresh
			// session is needed, hammering the endpoint will not help.
			c.mu.Lock()
			c.attempt = backoffMaxShift
			c.mu.Unlock()
			logger.Warnf("credential rejected, slowing retries: %v", err)
		} else {
			logger.Warnf("credential request failed: %v", err)
		}
		c.setState(StateOffline)
		c.scheduleReconnect()
		return
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)
	conn, resp, err := c.dialer.DialContext(ctx, cred.BrokerWSURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		logger.Warnf("broker dial failed: %v", err)
		c.setState(StateError)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.attempt = 0
	c.mu.Unlock()

	if err := c.subscribe(); err != nil {
		logger.Warnf("broker subscribe failed: %v", err)
		c.teardown(false)
		c.setState(StateError)
		c.scheduleReconnect()
		return
	}

	c.setState(StateConnected)
	logger.Infof("broker connected (client_id=%s)", cred.ClientID)

	c.flushQueue()
	go c.readLoop(conn)
}

func (c *Client) fetchCredential(ctx context.Context) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/realtime/token", bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting broker credential: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Debugf("closing token response body: %v", err)
		}
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var cred tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if cred.Token == "" || cred.BrokerWSURL == "" {
		return nil, fmt.Errorf("token response missing token or broker url")
	}
	return &cred, nil
}

func (c *Client) subscribe() error {
	for _, topic := range []string{c.inboxTopic(), c.ackTopic()} {
		if err := c.writeFrame(&frame{Type: "subscribe", Topic: topic}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	return nil
}

func (c *Client) writeFrame(f *frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// Publish sends the envelope immediately when connected; otherwise
// it durably enqueues it and returns nil. Callers must not assume
// synchronous delivery.
func (c *Client) Publish(env *event.Envelope) error {
	c.mu.Lock()
	connected := c.conn != nil && c.state == StateConnected
	c.mu.Unlock()

	if connected {
		if err := c.send(env); err == nil {
			metrics.EnvelopesPublished.WithLabelValues("direct").Inc()
			return nil
		}
		// Fall through: the connection died under us, buffer instead.
	}

	if err := c.cfg.Queue.Enqueue(env); err != nil {
		return fmt.Errorf("buffering envelope %s: %w", env.ID, err)
	}
	metrics.EnvelopesPublished.WithLabelValues("queued").Inc()
	logger.Debugf("broker offline, queued envelope %s", env.ID)
	return nil
}

func (c *Client) send(env *event.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope %s: %w", env.ID, err)
	}
	return c.writeFrame(&frame{
		Type:    "publish",
		Topic:   c.outboxTopic(),
		ID:      env.ID,
		Payload: payload,
	})
}

// flushQueue replays queued envelopes in timestamp order, removing
// each only after the transport accepts the write. Runs once per
// successful connect.
func (c *Client) flushQueue() {
	envelopes, err := c.cfg.Queue.LoadAll()
	if err != nil {
		logger.Errorf("loading outbound queue: %v", err)
		return
	}
	if len(envelopes) == 0 {
		return
	}

	logger.Infof("flushing %d queued envelopes", len(envelopes))
	for _, env := range envelopes {
		if err := c.send(env); err != nil {
			logger.Warnf("flush stopped at envelope %s: %v", env.ID, err)
			return
		}
		if err := c.cfg.Queue.Remove(env.ID); err != nil {
			logger.Errorf("removing flushed envelope %s: %v", env.ID, err)
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stopped := c.stopped || c.conn != conn
			c.mu.Unlock()
			if stopped {
				return
			}
			logger.Warnf("broker read error: %v", err)
			c.teardown(false)
			c.setState(StateReconnecting)
			c.scheduleReconnect()
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Debugf("dropping malformed broker frame: %v", err)
			continue
		}
		if f.Type != "message" {
			continue
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(f.Topic, f.Payload)
		}
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || !c.online || c.reconnectTimer != nil {
		return
	}

	delay := nextDelay(c.attempt)
	c.attempt++
	ctx := c.ctx
	logger.Infof("broker reconnect in %s (attempt %d)", delay, c.attempt)

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		stopped := c.stopped || !c.online
		c.mu.Unlock()
		if stopped || ctx == nil || ctx.Err() != nil {
			return
		}
		c.Connect(ctx)
	})
}

// teardown closes the socket. When markStopped is set, future
// reconnects are suppressed until SetOnline/Connect restarts the
// client.
func (c *Client) teardown(markStopped bool) {
	c.mu.Lock()
	if markStopped {
		c.stopped = true
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Disconnect is idempotent: it cancels any pending reconnect timer,
// closes the socket and forces the state to offline.
func (c *Client) Disconnect() {
	c.teardown(true)
	c.setState(StateOffline)
}
