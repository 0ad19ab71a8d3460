package api

import (
	"encoding/json"
	"net/http"

	"github.com/periljames/amo-portal-sub004/pkg/log"
	"github.com/periljames/amo-portal-sub004/pkg/session"
	"github.com/periljames/amo-portal-sub004/pkg/store"
)

var logger = log.ForComponent("api")

// Server exposes the local observability surface: session status,
// the recent-activity buffer, queue introspection and the realtime
// feed. It binds to a loopback address and carries no auth.
type Server struct {
	controller *session.Controller
	store      *store.Store
}

func NewServer(controller *session.Controller, st *store.Store) *Server {
	return &Server{
		controller: controller,
		store:      st,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
