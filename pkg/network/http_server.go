package network

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// HTTPServer serves the data plane (/event, /events/pull) and the
// inspection routes of a replica
type HTTPServer struct {
	port      int
	mux       *http.ServeMux
	replicaID string
	server    *http.Server

	listener net.Listener
	mutex    sync.Mutex

	EventHandler    http.HandlerFunc
	PullHandler     http.HandlerFunc
	ClaimsHandler   http.HandlerFunc
	StatsHandler    http.HandlerFunc
	PositionHandler http.HandlerFunc
	DebugHandler    http.HandlerFunc
	WSHandler       http.Handler
}

func NewHTTPServer(replicaID string, port int) *HTTPServer {
	mux := http.NewServeMux()

	s := &HTTPServer{
		replicaID: replicaID,
		port:      port,
		mux:       mux,
		server: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *HTTPServer) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/event", s.wrap("EVENT", "Event handler", func() http.HandlerFunc { return s.EventHandler }))
	s.mux.HandleFunc("/events/pull", s.wrap("PULL", "Pull handler", func() http.HandlerFunc { return s.PullHandler }))
	s.mux.HandleFunc("/claims", s.wrap("CLAIMS", "Claims handler", func() http.HandlerFunc { return s.ClaimsHandler }))
	s.mux.HandleFunc("/stats", s.wrap("STATS", "Stats handler", func() http.HandlerFunc { return s.StatsHandler }))
	s.mux.HandleFunc("/position", s.wrap("POSITION", "Position handler", func() http.HandlerFunc { return s.PositionHandler }))
	s.mux.HandleFunc("/debug/claims", s.wrap("DEBUG", "Debug handler", func() http.HandlerFunc { return s.DebugHandler }))
	s.mux.HandleFunc("/ws", s.handleWS)
}

// Handler exposes the route table, mostly for httptest
func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

// Start binds the port and serves until Stop. It blocks.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.mutex.Unlock()

	log.Printf("[HTTP] Server started on port %d", s.Port())
	err = s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests, giving up when ctx expires
func (s *HTTPServer) Stop(ctx context.Context) error {
	log.Printf("[HTTP] Stopping server on port %d", s.Port())
	return s.server.Shutdown(ctx)
}

// Port returns the bound port, resolved after Start when configured as 0
func (s *HTTPServer) Port() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.port
}

// handleHealth provides a basic health-check endpoint
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"replica_id": s.replicaID,
		"status":     "healthy",
		"port":       s.Port(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *HTTPServer) wrap(kind, feature string, get func() http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Message-Type", kind)
		w.Header().Set("X-Replica-ID", s.replicaID)
		if h := get(); h != nil {
			h(w, r)
			return
		}
		s.sendNotImplemented(w, feature)
	}
}

func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.WSHandler == nil {
		s.sendNotImplemented(w, "WebSocket handler")
		return
	}
	s.WSHandler.ServeHTTP(w, r)
}

func (s *HTTPServer) sendNotImplemented(w http.ResponseWriter, feature string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotImplemented)

	response := map[string]interface{}{
		"error":   "Not implemented",
		"feature": feature,
	}

	json.NewEncoder(w).Encode(response)
}

// GetStats returns HTTP server statistics
func (s *HTTPServer) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"http_port":  s.Port(),
		"replica_id": s.replicaID,
	}
}
