package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/serroba/crdt-docs/internal/acl"
	"github.com/serroba/crdt-docs/internal/collab"
	"github.com/serroba/crdt-docs/internal/crdt"
	"github.com/serroba/crdt-docs/internal/storage"
	"github.com/serroba/crdt-docs/internal/ws"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	ID string `json:"id"`
}

// CreateDocumentResponse is the response body for creating a document.
type CreateDocumentResponse struct {
	ID string `json:"id"`
}

// GetDocumentResponse is the response body for getting a document.
type GetDocumentResponse struct {
	ID       string              `json:"id"`
	Elements []ws.ElementPayload `json:"elements"`
	Version  crdt.VersionVector  `json:"version"`
	Seq      int                 `json:"seq"`
}

// ShareDocumentRequest is the request body for sharing a document.
type ShareDocumentRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// handleCreateDocument handles POST /documents.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.ID == "" {
		http.Error(w, "document ID is required", http.StatusBadRequest)

		return
	}

	if err := s.store.CreateDocument(req.ID); err != nil {
		if errors.Is(err, storage.ErrDocumentExists) {
			http.Error(w, "document already exists", http.StatusConflict)

			return
		}

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	// Grant the creator Owner role if ACL store is configured
	userID := UserIDFromContext(r.Context())
	if s.permStore != nil && userID != "" {
		_ = s.permStore.Grant(req.ID, userID, acl.Owner)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	if err := json.NewEncoder(w).Encode(CreateDocumentResponse(req)); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// handleGetDocument handles GET /documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, docID string) {
	userID := UserIDFromContext(r.Context())

	// Get or create a session to retrieve current state
	session, err := s.manager.GetOrCreateSession(docID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)

			return
		}

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	state, err := session.GetState(userID)
	if err != nil {
		if errors.Is(err, acl.ErrAccessDenied) {
			http.Error(w, "access denied", http.StatusForbidden)

			return
		}

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(GetDocumentResponse{
		ID:       docID,
		Elements: stateElements(state),
		Version:  state.Version,
		Seq:      state.Seq,
	}); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// handleDeleteDocument handles DELETE /documents/{id}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, docID string) {
	userID := UserIDFromContext(r.Context())

	// Check delete permission if ACL is configured
	if s.permStore != nil {
		checker := acl.NewChecker(s.permStore)
		if err := checker.RequirePermission(docID, userID, acl.ActionDelete); err != nil {
			if errors.Is(err, acl.ErrAccessDenied) {
				http.Error(w, "access denied", http.StatusForbidden)

				return
			}

			http.Error(w, "internal server error", http.StatusInternalServerError)

			return
		}
	}

	// Close any active session first
	if err := s.manager.CloseSession(docID); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	if err := s.store.DeleteDocument(docID); err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)

			return
		}

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleShareDocument handles POST /documents/{id}/share.
func (s *Server) handleShareDocument(w http.ResponseWriter, r *http.Request, docID string) {
	if s.permStore == nil {
		http.Error(w, "sharing is not configured", http.StatusNotImplemented)

		return
	}

	userID := UserIDFromContext(r.Context())

	checker := acl.NewChecker(s.permStore)
	if err := checker.RequirePermission(docID, userID, acl.ActionShare); err != nil {
		if errors.Is(err, acl.ErrAccessDenied) {
			http.Error(w, "access denied", http.StatusForbidden)

			return
		}

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	var req ShareDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.UserID == "" {
		http.Error(w, "user ID is required", http.StatusBadRequest)

		return
	}

	role, err := acl.ParseRole(req.Role)
	if err != nil {
		http.Error(w, "invalid role", http.StatusBadRequest)

		return
	}

	if err := s.permStore.Grant(docID, req.UserID, role); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListPermissions handles GET /documents/{id}/permissions.
func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request, docID string) {
	if s.permStore == nil {
		http.Error(w, "sharing is not configured", http.StatusNotImplemented)

		return
	}

	userID := UserIDFromContext(r.Context())

	checker := acl.NewChecker(s.permStore)
	if err := checker.RequirePermission(docID, userID, acl.ActionShare); err != nil {
		if errors.Is(err, acl.ErrAccessDenied) {
			http.Error(w, "access denied", http.StatusForbidden)

			return
		}

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	perms, err := s.permStore.ListPermissions(docID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(perms); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// stateElements flattens a session state into a wire-friendly list,
// sorted by id for deterministic responses.
func stateElements(state collab.State) []ws.ElementPayload {
	elements := make([]ws.ElementPayload, 0, len(state.Elements))

	for id, elem := range state.Elements {
		elements = append(elements, ws.ElementPayload{
			ID:         id,
			Value:      elem.Value,
			Deleted:    elem.Deleted,
			LastWriter: elem.LastWriter,
		})
	}

	sort.Slice(elements, func(i, j int) bool {
		a, b := elements[i].ID, elements[j].ID
		if a.Node != b.Node {
			return a.Node < b.Node
		}

		return a.Counter < b.Counter
	})

	return elements
}

// splitDocPath breaks /documents/{id}[/{sub}] into its parts.
func splitDocPath(path string) (docID, sub string) {
	rest := strings.TrimPrefix(path, "/documents/")
	if rest == path {
		return "", ""
	}

	parts := strings.SplitN(rest, "/", 2)
	docID = parts[0]

	if len(parts) == 2 {
		sub = parts[1]
	}

	return docID, sub
}
