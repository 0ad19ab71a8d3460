package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/periljames/amo-portal-sub004/pkg/log"
)

var logger = log.ForComponent("clock")

// Source tells consumers whether Now() is anchored to the server
// clock or frozen at the last known-good projection.
type Source string

const (
	SourceServer Source = "server"
	SourceLocal  Source = "local"
)

// timeResponse is the body of GET {base}/time.
type timeResponse struct {
	EpochMS int64 `json:"epoch_ms"`
}

// Synchronizer reconciles local time against server-reported time.
// When the server becomes unreachable it freezes Now() at the last
// good projection instead of letting elapsed-time displays keep
// ticking against a stale offset.
type Synchronizer struct {
	baseURL string
	client  *http.Client

	mu     sync.Mutex
	offset time.Duration
	frozen time.Time // zero when not frozen
	source Source

	// wallClock is swappable in tests.
	wallClock func() time.Time
}

// NewSynchronizer creates a synchronizer against the portal at
// baseURL. A nil httpClient falls back to a default with a short
// timeout; clock probes must never hang the caller.
func NewSynchronizer(baseURL string, httpClient *http.Client) *Synchronizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Synchronizer{
		baseURL:   baseURL,
		client:    httpClient,
		source:    SourceServer,
		wallClock: time.Now,
	}
}

// SyncNow fetches the server epoch and recomputes the offset. On
// success any frozen value is cleared. On failure the clock freezes
// at the last good projection (if not already frozen) and the error
// is returned so the caller can degrade its health indicator; it is
// never fatal.
func (s *Synchronizer) SyncNow(ctx context.Context) error {
	serverNow, err := s.fetchServerTime(ctx)
	if err != nil {
		s.mu.Lock()
		if s.frozen.IsZero() {
			s.frozen = s.wallClock().Add(s.offset)
			s.source = SourceLocal
			logger.Warnf("server time unreachable, freezing clock at %s: %v", s.frozen.Format(time.RFC3339), err)
		}
		s.mu.Unlock()
		return fmt.Errorf("syncing clock: %w", err)
	}

	s.mu.Lock()
	s.offset = serverNow.Sub(s.wallClock())
	s.frozen = time.Time{}
	s.source = SourceServer
	offset := s.offset
	s.mu.Unlock()

	logger.Debugf("clock synchronized, offset %s", offset)
	return nil
}

func (s *Synchronizer) fetchServerTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/time", nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("creating time request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching server time: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warnf("failed to close time response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("time endpoint returned %d", resp.StatusCode)
	}

	var tr timeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return time.Time{}, fmt.Errorf("decoding time response: %w", err)
	}
	if tr.EpochMS <= 0 {
		return time.Time{}, fmt.Errorf("time endpoint returned invalid epoch %d", tr.EpochMS)
	}

	return time.UnixMilli(tr.EpochMS), nil
}

// ObserveServerTime folds an opportunistic server time sample (e.g.
// the stream response date header) into the offset. Frozen state is
// untouched; only SyncNow unfreezes.
func (s *Synchronizer) ObserveServerTime(serverTime time.Time) {
	if serverTime.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen.IsZero() {
		return
	}
	s.offset = serverTime.Sub(s.wallClock())
}

// Now returns the best current estimate of server time: the frozen
// instant while frozen, otherwise local time plus the known offset.
func (s *Synchronizer) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen.IsZero() {
		return s.frozen
	}
	return s.wallClock().Add(s.offset)
}

// Source reports whether Now() is server-anchored or frozen/local.
func (s *Synchronizer) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// OffsetMS returns the current server-minus-local skew in
// milliseconds, for the status surface.
func (s *Synchronizer) OffsetMS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset.Milliseconds()
}
