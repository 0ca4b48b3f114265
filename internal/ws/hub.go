package ws

import (
	"sync"

	"github.com/serroba/crdt-docs/internal/crdt"
	"github.com/serroba/crdt-docs/internal/presence"
)

// Hub manages WebSocket clients and per-document broadcasts.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// documents maps document ID to set of client IDs
	documents map[string]map[string]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		documents: make(map[string]map[string]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
}

// Unregister removes a client from the hub and any document subscriptions.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	docID := client.DocID()
	if docID != "" {
		h.dropSubscription(docID, client.ID)
	}

	delete(h.clients, client.ID)
}

// Subscribe adds a client to a document's broadcast list. A client is
// subscribed to at most one document; subscribing again moves it.
func (h *Hub) Subscribe(client *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	oldDocID := client.DocID()
	if oldDocID != "" && oldDocID != docID {
		h.dropSubscription(oldDocID, client.ID)
	}

	if h.documents[docID] == nil {
		h.documents[docID] = make(map[string]struct{})
	}

	h.documents[docID][client.ID] = struct{}{}
	client.SetDocID(docID)
}

// Unsubscribe removes a client from a document's broadcast list.
func (h *Hub) Unsubscribe(client *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropSubscription(docID, client.ID)

	if client.DocID() == docID {
		client.SetDocID("")
	}
}

// dropSubscription removes a client id from a document's set.
// Callers must hold the write lock.
func (h *Hub) dropSubscription(docID, clientID string) {
	clients, ok := h.documents[docID]
	if !ok {
		return
	}

	delete(clients, clientID)

	if len(clients) == 0 {
		delete(h.documents, docID)
	}
}

// Broadcast sends a message to all clients subscribed to a document,
// except the sender (identified by excludeClientID).
func (h *Hub) Broadcast(docID string, msg Message, excludeClientID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientIDs, ok := h.documents[docID]
	if !ok {
		return
	}

	for clientID := range clientIDs {
		if clientID == excludeClientID {
			continue
		}

		client, ok := h.clients[clientID]
		if !ok {
			continue
		}

		// Send in goroutine to avoid blocking on slow clients
		go func(c *Client) {
			_ = c.Send(msg)
		}(client)
	}
}

// BroadcastOperation pushes an applied operation to a document's peers.
func (h *Hub) BroadcastOperation(docID string, op crdt.Operation, origin crdt.NodeID, userID, excludeClientID string) {
	msg := Message{
		Type: MessageTypeBroadcast,
		Payload: BroadcastPayload{
			DocID:  docID,
			Op:     op,
			Origin: origin,
			UserID: userID,
		},
	}

	h.Broadcast(docID, msg, excludeClientID)
}

// BroadcastPresence pushes a flushed presence batch to every subscriber
// of the document. Presence goes to everyone, senders included, so each
// client sees the same roster.
func (h *Hub) BroadcastPresence(docID string, updates []presence.Update, cursors []presence.CursorPosition) {
	msg := Message{
		Type: MessageTypePresenceSet,
		Payload: PresenceSetPayload{
			DocID:    docID,
			Presence: updates,
			Cursors:  cursors,
		},
	}

	h.Broadcast(docID, msg, "")
}

// ClientCount returns the number of clients subscribed to a document.
func (h *Hub) ClientCount(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.documents[docID]; ok {
		return len(clients)
	}

	return 0
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
