package storage

import (
	"sync"
	"time"

	"github.com/serroba/crdt-docs/internal/crdt"
)

// documentData holds all persisted data for a single document.
type documentData struct {
	snapshot   *Snapshot
	operations []LoggedOperation
	nextSeq    int
}

// MemoryStore is an in-memory implementation of the Store interface.
// Useful for testing and development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*documentData
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*documentData),
	}
}

// CreateDocument creates a new document with the given ID.
func (m *MemoryStore) CreateDocument(docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[docID]; exists {
		return ErrDocumentExists
	}

	m.docs[docID] = &documentData{
		operations: make([]LoggedOperation, 0),
	}

	return nil
}

// DocumentExists checks if a document exists.
func (m *MemoryStore) DocumentExists(docID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.docs[docID]

	return exists, nil
}

// DeleteDocument removes a document and all its persisted state.
func (m *MemoryStore) DeleteDocument(docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[docID]; !exists {
		return ErrDocumentNotFound
	}

	delete(m.docs, docID)

	return nil
}

// SaveSnapshot persists the materialized state covering the log up to seq.
// The element map and version vector are copied; callers keep ownership
// of what they pass in.
func (m *MemoryStore) SaveSnapshot(docID string, elements map[crdt.OperationID]crdt.ElementState, version crdt.VersionVector, seq int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	copied := make(map[crdt.OperationID]crdt.ElementState, len(elements))
	for id, elem := range elements {
		copied[id] = elem
	}

	doc.snapshot = &Snapshot{
		DocID:     docID,
		Seq:       seq,
		Elements:  copied,
		Version:   version.Copy(),
		CreatedAt: time.Now(),
	}

	// Prune operations now covered by the snapshot.
	m.pruneOperations(doc, seq)

	return nil
}

// pruneOperations removes operations at or before the snapshot seq.
func (m *MemoryStore) pruneOperations(doc *documentData, snapshotSeq int) {
	var kept []LoggedOperation

	for _, op := range doc.operations {
		if op.Seq > snapshotSeq {
			kept = append(kept, op)
		}
	}

	doc.operations = kept
}

// LoadSnapshot retrieves the latest snapshot for a document.
func (m *MemoryStore) LoadSnapshot(docID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return Snapshot{}, ErrDocumentNotFound
	}

	if doc.snapshot == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return *doc.snapshot, nil
}

// AppendOperation adds an operation to the document's log.
func (m *MemoryStore) AppendOperation(docID string, op crdt.Operation, origin crdt.NodeID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[docID]
	if !exists {
		return 0, ErrDocumentNotFound
	}

	doc.nextSeq++
	doc.operations = append(doc.operations, LoggedOperation{
		Seq:    doc.nextSeq,
		Op:     op,
		Origin: origin,
	})

	return doc.nextSeq, nil
}

// LoadOperations retrieves all logged operations after sinceSeq.
func (m *MemoryStore) LoadOperations(docID string, sinceSeq int) ([]LoggedOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return nil, ErrDocumentNotFound
	}

	var result []LoggedOperation

	for _, op := range doc.operations {
		if op.Seq > sinceSeq {
			result = append(result, op)
		}
	}

	return result, nil
}

// LatestSeq returns the highest sequence number for a document.
func (m *MemoryStore) LatestSeq(docID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return 0, ErrDocumentNotFound
	}

	return doc.nextSeq, nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
