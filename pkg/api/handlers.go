package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/periljames/amo-portal-sub004/pkg/version"
)

// HandleStatus returns the current session snapshot.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// HandleActivity returns the bounded recent-activity buffer, most
// recent first.
func (s *Server) HandleActivity(w http.ResponseWriter, r *http.Request) {
	events := s.controller.Recent()
	s.writeJSON(w, http.StatusOK, ActivityResponse{
		Events: events,
		Count:  len(events),
	})
}

// HandleQueue returns every pending outbound envelope in replay
// order.
func (s *Server) HandleQueue(w http.ResponseWriter, r *http.Request) {
	envelopes, err := s.store.LoadAll()
	if err != nil {
		logger.Errorf("loading outbound queue: %v", err)
		s.writeError(w, http.StatusInternalServerError, "queue_error", "Failed to load outbound queue")
		return
	}
	s.writeJSON(w, http.StatusOK, QueueResponse{
		Envelopes: envelopes,
		Count:     len(envelopes),
	})
}

// HandleRefresh forces a broad invalidation and a reconnect on both
// transports.
func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	s.controller.RefreshData()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "refreshing"})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: version.APIVersion()})
}

// HandleFeed streams session updates to the client as server-sent
// events until the client disconnects. Each update is one JSON
// object; slow clients drop updates rather than stalling the engine.
func (s *Server) HandleFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	hub := s.controller.Feed()
	id, updates := hub.Register()
	defer hub.Unregister(id)

	logger.Debugf("feed client connected (%d listeners)", hub.Size())

	for {
		select {
		case <-r.Context().Done():
			logger.Debugf("feed client disconnected")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				logger.Errorf("encoding feed update: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Kind, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
