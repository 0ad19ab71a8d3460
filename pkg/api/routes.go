package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.HandleStatus)
	mux.HandleFunc("GET /api/activity", s.HandleActivity)
	mux.HandleFunc("GET /api/queue", s.HandleQueue)
	mux.HandleFunc("GET /api/feed", s.HandleFeed)
	mux.HandleFunc("POST /api/refresh", s.HandleRefresh)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /healthz", s.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}
