package storage

import (
	"errors"
	"sync"

	"github.com/serroba/crdt-docs/internal/crdt"
)

// SnapshotPolicy determines when to create snapshots.
type SnapshotPolicy struct {
	mu               sync.Mutex
	threshold        int            // Create snapshot every N operations
	opsSinceSnapshot map[string]int // Track ops per document since last snapshot
}

// NewSnapshotPolicy creates a policy that triggers snapshots every N operations.
func NewSnapshotPolicy(threshold int) *SnapshotPolicy {
	return &SnapshotPolicy{
		threshold:        threshold,
		opsSinceSnapshot: make(map[string]int),
	}
}

// RecordOperation records that an operation was applied.
// Returns true if a snapshot should be created.
func (p *SnapshotPolicy) RecordOperation(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opsSinceSnapshot[docID]++

	return p.opsSinceSnapshot[docID] >= p.threshold
}

// Reset resets the counter after a snapshot is created.
func (p *SnapshotPolicy) Reset(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opsSinceSnapshot[docID] = 0
}

// OperationsSinceSnapshot returns the number of operations since the last snapshot.
func (p *SnapshotPolicy) OperationsSinceSnapshot(docID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.opsSinceSnapshot[docID]
}

// DocumentLoader reconstructs replica state from storage using the
// snapshot + operation replay pattern.
type DocumentLoader struct {
	store Store
}

// NewDocumentLoader creates a new document loader.
func NewDocumentLoader(store Store) *DocumentLoader {
	return &DocumentLoader{store: store}
}

// LoadResult contains the result of loading a document.
type LoadResult struct {
	Doc   *crdt.Document // Reconstructed replica state
	Seq   int            // Highest replayed log sequence
	IsNew bool           // True if no persisted state existed
}

// Load reconstructs a document replica owned by nodeID. It restores the
// latest snapshot, replays any logged operations since, and resumes the
// replica's local counters so freshly generated ids stay unique.
func (l *DocumentLoader) Load(docID string, nodeID crdt.NodeID) (LoadResult, error) {
	doc := crdt.NewDocument(nodeID)

	snapshot, err := l.store.LoadSnapshot(docID)

	startSeq := 0

	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		// No snapshot - replay from the beginning of the log.
	case err != nil:
		return LoadResult{}, err
	default:
		doc.RestoreSnapshot(snapshot.Elements, snapshot.Version)
		startSeq = snapshot.Seq
	}

	ops, err := l.store.LoadOperations(docID, startSeq)
	if err != nil {
		return LoadResult{}, err
	}

	currentSeq := startSeq

	for _, logged := range ops {
		doc.ApplyOperation(logged.Op, logged.Origin)
		currentSeq = logged.Seq
	}

	doc.Resume()

	return LoadResult{
		Doc:   doc,
		Seq:   currentSeq,
		IsNew: startSeq == 0 && len(ops) == 0,
	}, nil
}
