package main

import (
	"log"
	"net/http"
	"time"

	"github.com/serroba/crdt-docs/internal/acl"
	"github.com/serroba/crdt-docs/internal/api"
	"github.com/serroba/crdt-docs/internal/collab"
	"github.com/serroba/crdt-docs/internal/crdt"
	"github.com/serroba/crdt-docs/internal/storage"
	"github.com/serroba/crdt-docs/internal/ws"
)

func main() {
	// Initialize stores
	store := storage.NewMemoryStore()
	permStore := acl.NewMemoryStore()

	// Initialize WebSocket hub
	hub := ws.NewHub()

	// Initialize session manager with a fresh server replica identity
	manager := collab.NewManager(collab.ManagerConfig{
		NodeID:         crdt.NewNodeID(),
		Store:          store,
		PermStore:      permStore,
		Hub:            hub,
		SnapshotPolicy: storage.NewSnapshotPolicy(100),
	})

	// Drive presence batching for all open sessions
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for range ticker.C {
			manager.TickPresence()
		}
	}()

	// Initialize API server
	server := api.NewServer(api.ServerConfig{
		Manager:   manager,
		Store:     store,
		PermStore: permStore,
		Hub:       hub,
	})

	// Configure HTTP server with timeouts
	addr := ":8080"
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Starting server on %s", addr)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
