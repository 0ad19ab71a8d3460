package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCursors struct {
	mu      sync.Mutex
	cursor  string
	cleared int
}

func (f *fakeCursors) Cursor(tenant string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeCursors) SetCursor(tenant, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = id
	return nil
}

func (f *fakeCursors) ClearCursor(tenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = ""
	f.cleared++
	return nil
}

func TestReconnectDelaySchedule(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 15 * time.Second},
		{10, 15 * time.Second},
		{63, 15 * time.Second},
		{200, 15 * time.Second},
	}
	for _, tt := range tests {
		if got := reconnectDelay(tt.attempt); got != tt.want {
			t.Errorf("reconnectDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestClientReceivesEventsAndGoesLive(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing Accept header, got %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "id: evt-1\ndata: {\"a\":1}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "id: evt-2\ndata: {\"a\":2}\n\n")
		flusher.Flush()
		// Then hang until the client goes away.
		<-r.Context().Done()
	}))
	defer ts.Close()

	cursors := &fakeCursors{}
	events := make(chan string, 4)
	var sawLive atomic.Bool

	client := NewClient(Config{
		BaseURL: ts.URL,
		Tenant:  "acme",
		Token:   "secret",
		Cursors: cursors,
		Handler: func(data []byte, transportCursor string) {
			events <- transportCursor
		},
		OnStatus: func(s Status) {
			if s == StatusLive {
				sawLive.Store(true)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	for _, want := range []string{"evt-1", "evt-2"} {
		select {
		case got := <-events:
			if got != want {
				t.Errorf("expected cursor %q, got %q", want, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}

	if !sawLive.Load() {
		t.Error("client never reported live after receiving bytes")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClientResumesFromCursor(t *testing.T) {
	gotCursor := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case gotCursor <- r.URL.Query().Get("lastEventId"):
		default:
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	cursors := &fakeCursors{cursor: "evt-42"}
	client := NewClient(Config{
		BaseURL: ts.URL,
		Tenant:  "acme",
		Token:   "secret",
		Cursors: cursors,
		Handler: func([]byte, string) {},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case got := <-gotCursor:
		if got != "evt-42" {
			t.Errorf("expected lastEventId=evt-42, got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw a connection")
	}
}

func TestClientResetClearsCursor(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: reset\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	cursors := &fakeCursors{cursor: "evt-7"}
	resets := make(chan struct{}, 4)

	client := NewClient(Config{
		BaseURL: ts.URL,
		Tenant:  "acme",
		Token:   "secret",
		Cursors: cursors,
		Handler: func([]byte, string) {},
		OnReset: func() { resets <- struct{}{} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case <-resets:
	case <-time.After(5 * time.Second):
		t.Fatal("reset callback never fired")
	}

	cursors.mu.Lock()
	cursor, cleared := cursors.cursor, cursors.cleared
	cursors.mu.Unlock()
	if cursor != "" || cleared == 0 {
		t.Errorf("reset did not clear cursor: cursor=%q cleared=%d", cursor, cleared)
	}
}

func TestResetDropsLiveStatus(t *testing.T) {
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		if conns.Add(1) == 1 {
			// Deliver a byte so the client goes live, then force a
			// resync.
			fmt.Fprint(w, "id: evt-1\ndata: {\"a\":1}\n\n")
			flusher.Flush()
			fmt.Fprint(w, "event: reset\n\n")
		}
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	var mu sync.Mutex
	var last Status
	resets := make(chan struct{}, 4)

	client := NewClient(Config{
		BaseURL: ts.URL,
		Tenant:  "acme",
		Token:   "secret",
		Cursors: &fakeCursors{},
		Handler: func([]byte, string) {},
		OnReset: func() { resets <- struct{}{} },
		OnStatus: func(s Status) {
			mu.Lock()
			last = s
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case <-resets:
	case <-time.After(5 * time.Second):
		t.Fatal("reset callback never fired")
	}

	// The first connection is gone; the client must report syncing
	// during the reconnect pause, not a stale live.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		s := last
		mu.Unlock()
		if s == StatusSyncing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status after reset = %s, want %s", s, StatusSyncing)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The second connection delivers no bytes, so live must not come
	// back on its own.
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	s := last
	mu.Unlock()
	if s == StatusLive {
		t.Errorf("client reported live with no bytes received after reset")
	}
}

func TestClientWithoutTokenStaysOffline(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	statuses := make(chan Status, 4)
	client := NewClient(Config{
		BaseURL:  ts.URL,
		Tenant:   "acme",
		Cursors:  &fakeCursors{},
		Handler:  func([]byte, string) {},
		OnStatus: func(s Status) { statuses <- s },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case s := <-statuses:
		if s != StatusOffline {
			t.Errorf("expected offline status without a token, got %s", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no status reported")
	}

	time.Sleep(100 * time.Millisecond)
	if hits.Load() != 0 {
		t.Errorf("client connected without a token: %d requests", hits.Load())
	}
}

func TestClientSetOnlineTearsDownConnection(t *testing.T) {
	connected := make(chan struct{}, 4)
	closed := make(chan struct{}, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"a\":1}\n\n")
		w.(http.Flusher).Flush()
		connected <- struct{}{}
		<-r.Context().Done()
		closed <- struct{}{}
	}))
	defer ts.Close()

	statuses := make(chan Status, 16)
	client := NewClient(Config{
		BaseURL:  ts.URL,
		Tenant:   "acme",
		Token:    "secret",
		Cursors:  &fakeCursors{},
		Handler:  func([]byte, string) {},
		OnStatus: func(s Status) { statuses <- s },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("client never connected")
	}

	client.SetOnline(false)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("offline signal did not abort the in-flight connection")
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-statuses:
			if s == StatusOffline {
				return
			}
		case <-deadline:
			t.Fatal("client never reported offline after SetOnline(false)")
		}
	}
}
