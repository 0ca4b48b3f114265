package crdt

import "encoding/json"

// maxPendingPerElement bounds how many Delete/Update operations may be
// buffered while waiting for the referenced Insert to arrive. Overflow
// drops the oldest buffered op; at-least-once transports re-deliver.
const maxPendingPerElement = 32

// ElementState is the materialized state of one inserted element.
// Tombstones (Deleted=true) are retained forever so late-arriving stale
// updates can never resurrect removed content.
type ElementState struct {
	Value      json.RawMessage `json:"value,omitempty"`
	Deleted    bool            `json:"deleted"`
	LastWriter OperationID     `json:"lastWriter"`
}

// pendingOp is a Delete/Update that arrived before its Insert.
type pendingOp struct {
	op     Operation
	origin NodeID
}

// ApplyResult classifies what ApplyOperation did with an operation.
type ApplyResult int

const (
	// Ignored means the operation was a duplicate or stale and changed
	// nothing. It carries no information peers are missing.
	Ignored ApplyResult = iota
	// Applied means the elements map changed.
	Applied
	// Buffered means a Delete/Update referenced an id whose Insert has
	// not arrived; the op is queued and takes effect when it does.
	// Buffered ops still matter to peers and to the persistent log.
	Buffered
)

// Changed reports whether the operation took effect on the elements map.
func (r ApplyResult) Changed() bool {
	return r == Applied
}

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Buffered:
		return "buffered"
	default:
		return "ignored"
	}
}

// Document is the replicated state machine for one document replica.
//
// It is synchronous and performs no I/O. Applying the same multiset of
// operations in any order, with benign duplicates, converges every
// replica to the same elements map. Document is NOT safe for concurrent
// use; callers must serialize access (see collab.Session).
type Document struct {
	nodeID           NodeID
	logicalClock     uint64
	operationCounter uint64
	elements         map[OperationID]*ElementState
	version          VersionVector
	pending          map[OperationID][]pendingOp
}

// NewDocument creates an empty replica owned by the given node.
func NewDocument(nodeID NodeID) *Document {
	return &Document{
		nodeID:   nodeID,
		elements: make(map[OperationID]*ElementState),
		version:  NewVersionVector(),
		pending:  make(map[OperationID][]pendingOp),
	}
}

// NodeID returns the replica's node identifier.
func (d *Document) NodeID() NodeID {
	return d.nodeID
}

// GenerateID mints a fresh id for a locally originated operation.
// Counter and logical clock both advance by one; after a remote merge
// the clock runs ahead of the counter, keeping new local ops causally
// after everything this replica has observed.
func (d *Document) GenerateID() OperationID {
	d.operationCounter++
	d.logicalClock++

	return OperationID{
		Node:      d.nodeID,
		Counter:   d.operationCounter,
		Timestamp: d.logicalClock,
	}
}

// Clock returns the current logical clock value.
func (d *Document) Clock() uint64 {
	return d.logicalClock
}

// NextTimestamp ticks the logical clock for a local Delete or Update.
// Unlike GenerateID it leaves the operation counter alone; only Inserts
// consume counter values.
func (d *Document) NextTimestamp() uint64 {
	d.logicalClock++

	return d.logicalClock
}

// ApplyOperation applies a local or remote operation and classifies the
// outcome. It never fails: any well-typed operation is mergeable, so
// there is no rejected state to surface.
//
// A Delete/Update referencing an id whose Insert has not arrived yet
// reports Buffered and replays when the Insert lands.
func (d *Document) ApplyOperation(op Operation, origin NodeID) ApplyResult {
	if origin != d.nodeID {
		d.mergeClock(op)
	}

	switch op.Kind {
	case Insert:
		return d.applyInsert(op)
	case Delete:
		return d.applyDelete(op, origin)
	case Update:
		return d.applyUpdate(op, origin)
	default:
		return Ignored
	}
}

// mergeClock advances the Lamport clock to max(local, remote)+1, so
// ids generated after a merge are causally after everything observed.
func (d *Document) mergeClock(op Operation) {
	ts := op.Timestamp
	if op.IsInsert() {
		ts = op.ID.Timestamp
	}

	if ts > d.logicalClock {
		d.logicalClock = ts
	}

	d.logicalClock++
}

// applyInsert materializes a new element. Replayed inserts are no-ops.
func (d *Document) applyInsert(op Operation) ApplyResult {
	if _, exists := d.elements[op.ID]; exists {
		return Ignored
	}

	d.elements[op.ID] = &ElementState{
		Value:      op.Value,
		Deleted:    false,
		LastWriter: op.ID,
	}
	d.version.Observe(op.ID.Node, op.ID.Counter)

	d.drainPending(op.ID)

	return Applied
}

// applyDelete tombstones an element. Delete always wins over concurrent
// updates regardless of timestamps. A tombstone is normalized to the
// same state on every replica: payload dropped, writer reset to the
// element's own id, so apply order cannot cause divergence.
func (d *Document) applyDelete(op Operation, origin NodeID) ApplyResult {
	elem, found := d.elements[op.ID]
	if !found {
		d.buffer(op, origin)

		return Buffered
	}

	if elem.Deleted {
		return Ignored
	}

	elem.Deleted = true
	elem.Value = nil
	elem.LastWriter = op.ID

	return Applied
}

// applyUpdate overwrites an element's value under last-writer-wins.
// Updates to tombstoned elements are discarded; among live writers the
// strictly greater (timestamp, node) pair wins, so replaying updates in
// any order converges on the maximum.
func (d *Document) applyUpdate(op Operation, origin NodeID) ApplyResult {
	elem, found := d.elements[op.ID]
	if !found {
		d.buffer(op, origin)

		return Buffered
	}

	if elem.Deleted {
		return Ignored
	}

	writer := OperationID{Node: origin, Timestamp: op.Timestamp}
	if !writer.After(elem.LastWriter) {
		return Ignored
	}

	elem.Value = op.Value
	elem.LastWriter = writer

	return Applied
}

// buffer stores an out-of-order Delete/Update until its Insert arrives.
func (d *Document) buffer(op Operation, origin NodeID) {
	queue := d.pending[op.ID]
	if len(queue) >= maxPendingPerElement {
		queue = queue[1:]
	}

	d.pending[op.ID] = append(queue, pendingOp{op: op, origin: origin})
}

// drainPending replays buffered ops now that their Insert has arrived.
func (d *Document) drainPending(id OperationID) {
	queue, ok := d.pending[id]
	if !ok {
		return
	}

	delete(d.pending, id)

	for _, p := range queue {
		d.ApplyOperation(p.op, p.origin)
	}
}

// Elements returns the live materialized state. The map is owned by the
// document: callers must treat it as read-only and must not retain it
// across subsequent ApplyOperation calls.
func (d *Document) Elements() map[OperationID]*ElementState {
	return d.elements
}

// Element returns a copy of one element's state.
func (d *Document) Element(id OperationID) (ElementState, bool) {
	elem, ok := d.elements[id]
	if !ok {
		return ElementState{}, false
	}

	return *elem, true
}

// Len returns the number of elements, tombstones included.
func (d *Document) Len() int {
	return len(d.elements)
}

// PendingCount returns how many Delete/Update ops are buffered waiting
// for their Insert.
func (d *Document) PendingCount() int {
	n := 0
	for _, queue := range d.pending {
		n += len(queue)
	}

	return n
}

// RestoreSnapshot replaces the document's state with a persisted
// snapshot. Meant for session startup, before any local edits.
func (d *Document) RestoreSnapshot(elements map[OperationID]ElementState, version VersionVector) {
	d.elements = make(map[OperationID]*ElementState, len(elements))
	for id, elem := range elements {
		e := elem
		d.elements[id] = &e
	}

	d.version = version.Copy()
}

// Resume fast-forwards the local counters after restoring persisted
// state, so newly generated ids stay unique and causally after
// everything already in the document.
func (d *Document) Resume() {
	if counter := d.version[d.nodeID]; counter > d.operationCounter {
		d.operationCounter = counter
	}

	for id, elem := range d.elements {
		ts := id.Timestamp
		if elem.LastWriter.Timestamp > ts {
			ts = elem.LastWriter.Timestamp
		}

		if ts >= d.logicalClock {
			d.logicalClock = ts + 1
		}
	}
}

// Version returns the live version vector. Read-only for callers.
func (d *Document) Version() VersionVector {
	return d.version
}

// CompareVersions classifies the local version vector against a remote
// one, driving sync decisions (what to fetch or send).
func (d *Document) CompareVersions(remote VersionVector) Comparison {
	return d.version.Compare(remote)
}
