package ws_test

import (
	"encoding/json"
	"testing"

	"github.com/serroba/crdt-docs/internal/crdt"
	"github.com/serroba/crdt-docs/internal/ws"
)

func TestClient_Send(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", conn)

	msg := ws.Message{
		Type: ws.MessageTypeAck,
		Payload: ws.AckPayload{
			Seq:     5,
			Applied: true,
		},
	}

	err := client.Send(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages := conn.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	if messages[0].Type != ws.MessageTypeAck {
		t.Errorf("expected ack type, got %s", messages[0].Type)
	}
}

func TestClient_SendError(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", conn)

	err := client.SendError(ws.ErrorCodeAccessDenied, "not allowed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages := conn.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	if messages[0].Type != ws.MessageTypeError {
		t.Errorf("expected error type, got %s", messages[0].Type)
	}
}

func TestClient_Receive_Operation(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", conn)

	conn.incoming <- ws.Message{
		Type: ws.MessageTypeOperation,
		Payload: ws.OperationPayload{
			DocID: "doc1",
			Op: crdt.NewInsert(
				crdt.OperationID{Node: "A", Counter: 1, Timestamp: 1},
				0, json.RawMessage(`"x"`), nil,
			),
		},
	}

	msg, err := client.Receive()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, ok := msg.Payload.(ws.OperationPayload)
	if !ok {
		t.Fatalf("expected OperationPayload, got %T", msg.Payload)
	}

	if payload.DocID != "doc1" {
		t.Errorf("expected doc1, got %s", payload.DocID)
	}

	if !payload.Op.IsInsert() || payload.Op.ID.Node != "A" {
		t.Errorf("operation did not survive the round trip: %+v", payload.Op)
	}
}

func TestClient_Receive_Sync(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", conn)

	conn.incoming <- ws.Message{
		Type: ws.MessageTypeSync,
		Payload: ws.SyncPayload{
			DocID:   "doc1",
			Version: crdt.VersionVector{"A": 2, "B": 1},
		},
	}

	msg, err := client.Receive()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, ok := msg.Payload.(ws.SyncPayload)
	if !ok {
		t.Fatalf("expected SyncPayload, got %T", msg.Payload)
	}

	if payload.Version["A"] != 2 || payload.Version["B"] != 1 {
		t.Errorf("version vector did not survive the round trip: %v", payload.Version)
	}
}

func TestClient_Receive_Cursor(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", conn)

	conn.incoming <- ws.Message{
		Type: ws.MessageTypeCursor,
		Payload: ws.CursorPayload{
			DocID: "doc1",
			Line:  4,
			Col:   17,
		},
	}

	msg, err := client.Receive()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, ok := msg.Payload.(ws.CursorPayload)
	if !ok {
		t.Fatalf("expected CursorPayload, got %T", msg.Payload)
	}

	if payload.Line != 4 || payload.Col != 17 {
		t.Errorf("expected cursor 4:17, got %d:%d", payload.Line, payload.Col)
	}
}

func TestClient_Close(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", conn)

	err := client.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !conn.IsClosed() {
		t.Error("expected connection to be closed")
	}
}

func TestClient_DocID(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", conn)

	if client.DocID() != "" {
		t.Errorf("expected empty docID, got %s", client.DocID())
	}

	client.SetDocID("doc1")

	if client.DocID() != "doc1" {
		t.Errorf("expected doc1, got %s", client.DocID())
	}
}
