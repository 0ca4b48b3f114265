package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/serroba/crdt-docs/internal/acl"
	"github.com/serroba/crdt-docs/internal/collab"
	"github.com/serroba/crdt-docs/internal/crdt"
	"github.com/serroba/crdt-docs/internal/presence"
	"github.com/serroba/crdt-docs/internal/storage"
	"github.com/serroba/crdt-docs/internal/ws"
)

// handleWebSocket handles GET /ws?docId={id}.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "docId query parameter is required", http.StatusBadRequest)

		return
	}

	userID := UserIDFromContext(r.Context())

	client, cleanup, err := s.setupWebSocketClient(w, r, docID, userID)
	if err != nil {
		return
	}

	session, err := s.initializeSession(client, docID, userID)
	if err != nil {
		cleanup()

		return
	}

	defer func() {
		session.LeavePresence(userID)
		cleanup()
	}()

	session.RecordPresence(presence.Update{
		UserID: userID,
		Status: presence.StatusOnline,
	})

	s.handleMessages(client, session, docID, userID)
}

// setupWebSocketClient upgrades the connection and creates a client.
func (s *Server) setupWebSocketClient(
	w http.ResponseWriter, r *http.Request, docID, userID string,
) (*ws.Client, func(), error) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)

		return nil, nil, err
	}

	clientID := uuid.New().String()
	client := ws.NewClient(clientID, userID, conn)
	s.hub.Register(client)
	s.hub.Subscribe(client, docID)

	cleanup := func() {
		s.hub.Unregister(client)
		_ = client.Close()
	}

	return client, cleanup, nil
}

// initializeSession gets or creates a session and sends initial state.
func (s *Server) initializeSession(client *ws.Client, docID, userID string) (sessionInterface, error) {
	session, err := s.manager.GetOrCreateSession(docID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			_ = client.SendError(ws.ErrorCodeInvalidMessage, "document not found")
		} else {
			_ = client.SendError(ws.ErrorCodeInternalError, "failed to load document")
		}

		return nil, err
	}

	if err := s.sendState(client, session, docID, userID); err != nil {
		return nil, err
	}

	return session, nil
}

// sendState sends the full document state to the client.
func (s *Server) sendState(client *ws.Client, session sessionInterface, docID, userID string) error {
	state, err := session.GetState(userID)
	if err != nil {
		if errors.Is(err, acl.ErrAccessDenied) {
			_ = client.SendError(ws.ErrorCodeAccessDenied, "access denied")
		} else {
			_ = client.SendError(ws.ErrorCodeInternalError, "failed to get document state")
		}

		return err
	}

	return client.Send(ws.Message{
		Type: ws.MessageTypeState,
		Payload: ws.StatePayload{
			DocID:    docID,
			Elements: stateElements(state),
			Version:  state.Version,
			Seq:      state.Seq,
		},
	})
}

// handleMessages processes incoming messages from a client.
func (s *Server) handleMessages(client *ws.Client, session sessionInterface, docID, userID string) {
	for {
		msg, err := client.Receive()
		if err != nil {
			return
		}

		switch msg.Type {
		case ws.MessageTypeOperation:
			s.handleOperation(client, session, userID, msg)
		case ws.MessageTypePresence:
			s.handlePresence(session, userID, msg)
		case ws.MessageTypeCursor:
			s.handleCursor(session, userID, msg)
		case ws.MessageTypeSync:
			s.handleSync(client, session, docID, userID, msg)
		case ws.MessageTypeAck, ws.MessageTypeBroadcast, ws.MessageTypeState,
			ws.MessageTypeSyncStatus, ws.MessageTypePresenceSet, ws.MessageTypeError:
			// Server-to-client messages - ignore if received from client
			_ = client.SendError(ws.ErrorCodeInvalidMessage, "unexpected message type")
		}
	}
}

// handleOperation merges an operation from the client's replica.
func (s *Server) handleOperation(client *ws.Client, session sessionInterface, userID string, msg ws.Message) {
	payload, ok := msg.Payload.(ws.OperationPayload)
	if !ok {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "invalid operation payload")

		return
	}

	origin := payload.Origin
	if origin == "" && payload.Op.IsInsert() {
		origin = payload.Op.ID.Node
	}

	if origin == "" {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "operation origin is required")

		return
	}

	seq, applied, err := session.ApplyRemote(client.ID, userID, payload.Op, origin)
	if err != nil {
		if errors.Is(err, acl.ErrAccessDenied) {
			_ = client.SendError(ws.ErrorCodeAccessDenied, "write access denied")
		} else {
			_ = client.SendError(ws.ErrorCodeInternalError, err.Error())
		}

		return
	}

	_ = client.Send(ws.Message{
		Type: ws.MessageTypeAck,
		Payload: ws.AckPayload{
			Seq:     seq,
			Applied: applied,
		},
	})
}

// handlePresence buffers a status change for the next presence batch.
func (s *Server) handlePresence(session sessionInterface, userID string, msg ws.Message) {
	payload, ok := msg.Payload.(ws.PresencePayload)
	if !ok {
		return
	}

	session.RecordPresence(presence.Update{
		UserID: userID,
		Status: payload.Status,
	})
}

// handleCursor buffers a cursor move for the next presence batch.
func (s *Server) handleCursor(session sessionInterface, userID string, msg ws.Message) {
	payload, ok := msg.Payload.(ws.CursorPayload)
	if !ok {
		return
	}

	session.RecordCursor(presence.CursorPosition{
		UserID: userID,
		Line:   payload.Line,
		Column: payload.Col,
	})
}

// handleSync compares the client's version vector against the session
// replica's. A client that is behind also gets the full state.
func (s *Server) handleSync(client *ws.Client, session sessionInterface, docID, userID string, msg ws.Message) {
	payload, ok := msg.Payload.(ws.SyncPayload)
	if !ok {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "invalid sync payload")

		return
	}

	cmp, err := session.CompareVersions(userID, payload.Version)
	if err != nil {
		if errors.Is(err, acl.ErrAccessDenied) {
			_ = client.SendError(ws.ErrorCodeAccessDenied, "access denied")
		} else {
			_ = client.SendError(ws.ErrorCodeInternalError, "failed to compare versions")
		}

		return
	}

	_ = client.Send(ws.Message{
		Type: ws.MessageTypeSyncStatus,
		Payload: ws.SyncStatusPayload{
			DocID:       docID,
			Result:      cmp.Result.String(),
			LocalAhead:  cmp.LocalAhead,
			RemoteAhead: cmp.RemoteAhead,
			InSync:      cmp.InSync,
		},
	})

	// The server knows ops the client is missing: push the full state.
	if cmp.Result == crdt.LocalAhead || cmp.Result == crdt.Concurrent {
		_ = s.sendState(client, session, docID, userID)
	}
}

// sessionInterface allows mocking the session for testing.
type sessionInterface interface {
	ApplyRemote(clientID, userID string, op crdt.Operation, origin crdt.NodeID) (int, bool, error)
	GetState(userID string) (collab.State, error)
	CompareVersions(userID string, remote crdt.VersionVector) (crdt.Comparison, error)
	RecordPresence(update presence.Update)
	RecordCursor(cursor presence.CursorPosition)
	LeavePresence(userID string)
}
