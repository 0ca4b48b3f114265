package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/serroba/crdt-docs/internal/acl"
	"github.com/serroba/crdt-docs/internal/collab"
	"github.com/serroba/crdt-docs/internal/storage"
	"github.com/serroba/crdt-docs/internal/ws"
)

// Server handles HTTP requests for the collaboration API.
type Server struct {
	manager   *collab.Manager
	store     storage.Store
	permStore acl.Store
	hub       *ws.Hub
	upgrader  websocket.Upgrader
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Manager   *collab.Manager
	Store     storage.Store
	PermStore acl.Store
	Hub       *ws.Hub
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		manager:   cfg.Manager,
		store:     cfg.Store,
		permStore: cfg.PermStore,
		hub:       cfg.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true // Allow all origins for demo
			},
		},
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Document endpoints (require auth)
	mux.Handle("/documents", s.authMiddleware(http.HandlerFunc(s.handleCreateDocument)))
	mux.Handle("/documents/", s.authMiddleware(http.HandlerFunc(s.handleDocumentPath)))

	// WebSocket endpoint (requires auth)
	mux.Handle("/ws", s.authMiddleware(http.HandlerFunc(s.handleWebSocket)))

	return mux
}

// handleDocumentPath routes /documents/{id} and its sub-resources.
func (s *Server) handleDocumentPath(w http.ResponseWriter, r *http.Request) {
	docID, sub := splitDocPath(r.URL.Path)
	if docID == "" {
		http.Error(w, "document ID is required", http.StatusBadRequest)

		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleGetDocument(w, r, docID)
	case sub == "" && r.Method == http.MethodDelete:
		s.handleDeleteDocument(w, r, docID)
	case sub == "share" && r.Method == http.MethodPost:
		s.handleShareDocument(w, r, docID)
	case sub == "permissions" && r.Method == http.MethodGet:
		s.handleListPermissions(w, r, docID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
