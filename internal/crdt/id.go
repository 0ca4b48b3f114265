package crdt

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeID identifies a single replica (one per editing session/device).
// It is opaque and immutable once assigned.
type NodeID string

// NewNodeID generates a fresh globally unique replica identifier.
func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}

// OperationID uniquely identifies an operation across all replicas.
// Counter is a per-node strictly increasing sequence number; Timestamp
// is the node's Lamport clock value at generation time. Global
// uniqueness follows from NodeID uniqueness plus the counter invariant.
type OperationID struct {
	Node      NodeID `json:"node"`
	Counter   uint64 `json:"counter"`
	Timestamp uint64 `json:"timestamp"`
}

// Compare orders two operation ids by (Timestamp, NodeID), the total
// order used for last-writer-wins tie-breaking. Returns -1, 0 or 1.
func (id OperationID) Compare(other OperationID) int {
	switch {
	case id.Timestamp < other.Timestamp:
		return -1
	case id.Timestamp > other.Timestamp:
		return 1
	case id.Node < other.Node:
		return -1
	case id.Node > other.Node:
		return 1
	default:
		return 0
	}
}

// After reports whether id is strictly greater than other in the
// (Timestamp, NodeID) order.
func (id OperationID) After(other OperationID) bool {
	return id.Compare(other) > 0
}

// IsZero reports whether the id is the zero value (no referenced element).
func (id OperationID) IsZero() bool {
	return id == OperationID{}
}

// String renders the id for logging and map diagnostics.
func (id OperationID) String() string {
	return fmt.Sprintf("%s:%d@%d", id.Node, id.Counter, id.Timestamp)
}
