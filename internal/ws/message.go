package ws

import (
	"encoding/json"

	"github.com/serroba/crdt-docs/internal/crdt"
	"github.com/serroba/crdt-docs/internal/presence"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to Server messages.
	MessageTypeOperation MessageType = "operation" // Client submits a CRDT operation
	MessageTypePresence  MessageType = "presence"  // Client reports its status
	MessageTypeCursor    MessageType = "cursor"    // Client moves its cursor
	MessageTypeSync      MessageType = "sync"      // Client offers its version vector

	// Server to Client messages.
	MessageTypeAck         MessageType = "ack"          // Server confirms operation applied
	MessageTypeBroadcast   MessageType = "broadcast"    // Server pushes an operation to peers
	MessageTypeState       MessageType = "state"        // Server sends full document state
	MessageTypeSyncStatus  MessageType = "sync_status"  // Server answers a sync offer
	MessageTypePresenceSet MessageType = "presence_set" // Server pushes a presence batch
	MessageTypeError       MessageType = "error"        // Server reports an error
)

// Message is the envelope for all WebSocket communication.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// OperationPayload is sent when a client submits an edit. Origin is
// the client replica's node id; for Deletes and Updates it cannot be
// derived from the op, whose ID names the targeted element.
type OperationPayload struct {
	DocID  string         `json:"docId"`
	Op     crdt.Operation `json:"op"`
	Origin crdt.NodeID    `json:"origin"`
}

// PresencePayload reports a client's status change.
type PresencePayload struct {
	DocID  string          `json:"docId"`
	Status presence.Status `json:"status"`
}

// CursorPayload reports a client's cursor position.
type CursorPayload struct {
	DocID string `json:"docId"`
	Line  int    `json:"line"`
	Col   int    `json:"col"`
}

// SyncPayload offers the client's version vector for comparison.
type SyncPayload struct {
	DocID   string             `json:"docId"`
	Version crdt.VersionVector `json:"version"`
}

// AckPayload confirms an operation was accepted into the log. Ops the
// server buffered pending their Insert still count as accepted.
type AckPayload struct {
	Seq     int  `json:"seq"`     // Assigned log sequence
	Applied bool `json:"applied"` // False when the op was a duplicate or stale
}

// BroadcastPayload pushes an operation to other clients.
type BroadcastPayload struct {
	DocID  string         `json:"docId"`
	Op     crdt.Operation `json:"op"`
	Origin crdt.NodeID    `json:"origin"`
	UserID string         `json:"userId"`
}

// ElementPayload is one element of a document's materialized state.
// Map keys are structs internally, so state goes over the wire as a
// sorted list instead.
type ElementPayload struct {
	ID         crdt.OperationID `json:"id"`
	Value      json.RawMessage  `json:"value,omitempty"`
	Deleted    bool             `json:"deleted"`
	LastWriter crdt.OperationID `json:"lastWriter"`
}

// StatePayload sends the full document state.
type StatePayload struct {
	DocID    string             `json:"docId"`
	Elements []ElementPayload   `json:"elements"`
	Version  crdt.VersionVector `json:"version"`
	Seq      int                `json:"seq"`
}

// SyncStatusPayload answers a client's sync offer with the comparison
// of the server replica's version vector against the client's.
type SyncStatusPayload struct {
	DocID       string        `json:"docId"`
	Result      string        `json:"result"` // equal, local_ahead, remote_ahead, concurrent
	LocalAhead  []crdt.NodeID `json:"localAhead,omitempty"`
	RemoteAhead []crdt.NodeID `json:"remoteAhead,omitempty"`
	InSync      []crdt.NodeID `json:"inSync,omitempty"`
}

// PresenceSetPayload pushes a flushed presence batch.
type PresenceSetPayload struct {
	DocID    string                    `json:"docId"`
	Presence []presence.Update         `json:"presence,omitempty"`
	Cursors  []presence.CursorPosition `json:"cursors,omitempty"`
}

// ErrorPayload reports an error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeAccessDenied   = "access_denied"
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeInternalError  = "internal_error"
)
