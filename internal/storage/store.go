package storage

import (
	"errors"
	"time"

	"github.com/serroba/crdt-docs/internal/crdt"
)

// Common errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// LoggedOperation is an operation as recorded in a document's log,
// with its store-assigned sequence number and the node it came from.
type LoggedOperation struct {
	Seq    int
	Op     crdt.Operation
	Origin crdt.NodeID
}

// Snapshot is a point-in-time capture of a document's materialized
// state: the full element map (tombstones included) plus the version
// vector. Seq is the highest logged operation folded into it.
type Snapshot struct {
	DocID     string
	Seq       int
	Elements  map[crdt.OperationID]crdt.ElementState
	Version   crdt.VersionVector
	CreatedAt time.Time
}

// Store persists document state as snapshots plus an operation log.
// Implementations can use in-memory storage, databases, or other
// backends. The CRDT core mandates no serialization format; durability
// is entirely this layer's concern.
type Store interface {
	// CreateDocument creates a new document with the given ID.
	// Returns ErrDocumentExists if the document already exists.
	CreateDocument(docID string) error

	// DocumentExists checks if a document exists.
	DocumentExists(docID string) (bool, error)

	// DeleteDocument removes a document and all its persisted state.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	DeleteDocument(docID string) error

	// SaveSnapshot persists the materialized state covering the log up
	// to seq. Returns ErrDocumentNotFound if the document doesn't exist.
	SaveSnapshot(docID string, elements map[crdt.OperationID]crdt.ElementState, version crdt.VersionVector, seq int) error

	// LoadSnapshot retrieves the latest snapshot for a document.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	// Returns ErrSnapshotNotFound if document exists but has no snapshot.
	LoadSnapshot(docID string) (Snapshot, error)

	// AppendOperation adds an operation to the document's log and
	// returns its assigned sequence number.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	AppendOperation(docID string, op crdt.Operation, origin crdt.NodeID) (int, error)

	// LoadOperations retrieves all logged operations after sinceSeq.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	LoadOperations(docID string, sinceSeq int) ([]LoggedOperation, error)

	// LatestSeq returns the highest sequence number for a document.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	LatestSeq(docID string) (int, error)
}
