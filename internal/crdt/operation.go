package crdt

import "encoding/json"

// OpKind represents the kind of document operation.
type OpKind int

const (
	Insert OpKind = iota
	Delete
	Update
)

// Operation is a single replicated edit. Exactly one kind applies:
//
//   - Insert creates a new element with a fresh ID. ParentID optionally
//     anchors it to a previously inserted element for presentation-layer
//     ordering; the engine itself does not resolve positions.
//   - Delete tombstones the element identified by ID.
//   - Update replaces the element's value, subject to last-writer-wins.
//
// Value carries an opaque JSON payload; the engine never inspects it.
type Operation struct {
	Kind      OpKind          `json:"kind"`
	ID        OperationID     `json:"id"`
	Value     json.RawMessage `json:"value,omitempty"`
	Position  int             `json:"position,omitempty"`
	ParentID  *OperationID    `json:"parentId,omitempty"`
	Timestamp uint64          `json:"timestamp,omitempty"`
}

// NewInsert creates an insert operation.
func NewInsert(id OperationID, position int, value json.RawMessage, parent *OperationID) Operation {
	return Operation{
		Kind:     Insert,
		ID:       id,
		Value:    value,
		Position: position,
		ParentID: parent,
	}
}

// NewDelete creates a delete operation targeting a previously inserted id.
func NewDelete(id OperationID, timestamp uint64) Operation {
	return Operation{
		Kind:      Delete,
		ID:        id,
		Timestamp: timestamp,
	}
}

// NewUpdate creates an update operation targeting a previously inserted id.
func NewUpdate(id OperationID, value json.RawMessage, timestamp uint64) Operation {
	return Operation{
		Kind:      Update,
		ID:        id,
		Value:     value,
		Timestamp: timestamp,
	}
}

// IsInsert returns true if this is an insert operation.
func (o Operation) IsInsert() bool {
	return o.Kind == Insert
}

// IsDelete returns true if this is a delete operation.
func (o Operation) IsDelete() bool {
	return o.Kind == Delete
}

// IsUpdate returns true if this is an update operation.
func (o Operation) IsUpdate() bool {
	return o.Kind == Update
}
