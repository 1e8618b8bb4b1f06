package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/chat"
	"github.com/wesh92/fastapi-websockets-llm-example/internal/config"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "api"})

// Server hosts the WebSocket chat endpoint and its small HTTP surface.
type Server struct {
	cfg      *config.Config
	manager  *chat.Manager
	router   *mux.Router
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// NewServer creates the API server around the session manager.
func NewServer(cfg *config.Config, manager *chat.Manager) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth and origin policy live in the fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/chat/metadata/available_models", s.handleAvailableModels).Methods("GET")
	api.HandleFunc("/chat/metadata/session_state/{sessionId}", s.handleSessionState).Methods("GET")
	api.HandleFunc("/chat/ws/{sessionId}", s.handleChatWebSocket)
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.manager.Len(),
	})
}

// handleAvailableModels returns the model catalog, matching the original
// template's metadata route.
func (s *Server) handleAvailableModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": s.manager.Catalog().List(),
	})
}

// handleSessionState reports the connection state for one session: whether
// a client is attached, since when, and how many messages it has accepted.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	info, ok := s.manager.Info(sessionID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "unknown session",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}
