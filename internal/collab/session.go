package collab

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/serroba/crdt-docs/internal/acl"
	"github.com/serroba/crdt-docs/internal/crdt"
	"github.com/serroba/crdt-docs/internal/presence"
	"github.com/serroba/crdt-docs/internal/storage"
	"github.com/serroba/crdt-docs/internal/ws"
)

// Common errors.
var (
	ErrSessionClosed = errors.New("session is closed")
)

// Session coordinates collaborative editing for a single document. It
// is the exclusive owner of the document's replica: the engine itself
// is single-threaded, so every apply goes through the session mutex.
// It wires together the CRDT engine, storage, ACL, presence batching,
// and WebSocket broadcasting.
type Session struct {
	docID string

	mu       sync.Mutex
	document *crdt.Document
	seq      int // Highest persisted log sequence
	closed   bool

	batcher *presence.Batcher
	tracker *presence.Tracker

	// Dependencies
	store          storage.Store
	permChecker    *acl.Checker
	hub            *ws.Hub
	snapshotPolicy *storage.SnapshotPolicy
	now            func() time.Time
}

// SessionConfig holds configuration for creating a session.
type SessionConfig struct {
	DocID          string
	NodeID         crdt.NodeID // Server replica identity
	Store          storage.Store
	PermChecker    *acl.Checker
	Hub            *ws.Hub
	SnapshotPolicy *storage.SnapshotPolicy
	Batcher        presence.BatcherConfig
	AwayAfter      time.Duration // zero defaults to 30s
	OfflineAfter   time.Duration // zero defaults to 5m
	Clock          func() time.Time
}

// NewSession creates a new collaborative editing session.
func NewSession(cfg SessionConfig) *Session {
	awayAfter := cfg.AwayAfter
	if awayAfter == 0 {
		awayAfter = 30 * time.Second
	}

	offlineAfter := cfg.OfflineAfter
	if offlineAfter == 0 {
		offlineAfter = 5 * time.Minute
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	batcherCfg := cfg.Batcher
	if batcherCfg.Clock == nil {
		batcherCfg.Clock = clock
	}

	return &Session{
		docID:          cfg.DocID,
		document:       crdt.NewDocument(cfg.NodeID),
		batcher:        presence.NewBatcher(batcherCfg),
		tracker:        presence.NewTracker(awayAfter, offlineAfter),
		store:          cfg.Store,
		permChecker:    cfg.PermChecker,
		hub:            cfg.Hub,
		snapshotPolicy: cfg.SnapshotPolicy,
		now:            clock,
	}
}

// Load initializes the session by reconstructing the replica from
// storage: latest snapshot plus logged operations since.
func (s *Session) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	loader := storage.NewDocumentLoader(s.store)

	result, err := loader.Load(s.docID, s.document.NodeID())
	if err != nil {
		return err
	}

	s.document = result.Doc
	s.seq = result.Seq

	return nil
}

// Insert creates an element locally on behalf of userID: the session's
// replica mints the id, applies, persists, and broadcasts.
func (s *Session) Insert(clientID, userID string, position int, value json.RawMessage, parent *crdt.OperationID) (crdt.Operation, int, error) {
	return s.applyLocal(clientID, userID, func(doc *crdt.Document) crdt.Operation {
		return crdt.NewInsert(doc.GenerateID(), position, value, parent)
	})
}

// Delete tombstones an element locally on behalf of userID.
func (s *Session) Delete(clientID, userID string, id crdt.OperationID) (crdt.Operation, int, error) {
	return s.applyLocal(clientID, userID, func(doc *crdt.Document) crdt.Operation {
		return crdt.NewDelete(id, doc.NextTimestamp())
	})
}

// Update rewrites an element's value locally on behalf of userID.
func (s *Session) Update(clientID, userID string, id crdt.OperationID, value json.RawMessage) (crdt.Operation, int, error) {
	return s.applyLocal(clientID, userID, func(doc *crdt.Document) crdt.Operation {
		return crdt.NewUpdate(id, value, doc.NextTimestamp())
	})
}

// applyLocal builds an operation against the session replica, persists
// it, applies it, and broadcasts it to peers. The append happens before
// the apply so a storage failure cannot leave the replica holding an
// edit the log never saw; a freshly minted op can never be a duplicate,
// so applying after the append is safe.
func (s *Session) applyLocal(clientID, userID string, build func(*crdt.Document) crdt.Operation) (crdt.Operation, int, error) {
	if err := s.checkPermission(userID, acl.ActionWrite); err != nil {
		return crdt.Operation{}, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return crdt.Operation{}, 0, ErrSessionClosed
	}

	op := build(s.document)
	origin := s.document.NodeID()

	seq, err := s.store.AppendOperation(s.docID, op, origin)
	if err != nil {
		return crdt.Operation{}, 0, err
	}

	s.document.ApplyOperation(op, origin)
	s.seq = seq
	s.maybeSnapshot()

	s.tracker.Touch(userID, s.now())
	s.broadcast(clientID, userID, op, origin)

	return op, seq, nil
}

// ApplyRemote merges an operation minted by another replica. Duplicate
// and stale operations are acknowledged without persisting again. An op
// the replica buffered (its Insert has not arrived) is persisted and
// broadcast like an applied one: the log replay and the peers buffer it
// the same way, so nobody loses it when the Insert lands later.
func (s *Session) ApplyRemote(clientID, userID string, op crdt.Operation, origin crdt.NodeID) (int, bool, error) {
	if err := s.checkPermission(userID, acl.ActionWrite); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false, ErrSessionClosed
	}

	// The merge must run first to classify duplicates, so a failed
	// append leaves the replica ahead of the log until the next
	// successful snapshot captures the merged state.
	result := s.document.ApplyOperation(op, origin)
	if result == crdt.Ignored {
		return s.seq, false, nil
	}

	seq, err := s.persist(op, origin)
	if err != nil {
		return 0, false, err
	}

	s.tracker.Touch(userID, s.now())
	s.broadcast(clientID, userID, op, origin)

	return seq, true, nil
}

// persist appends the op to the log and snapshots when the policy says
// so. Callers must hold the mutex.
func (s *Session) persist(op crdt.Operation, origin crdt.NodeID) (int, error) {
	seq, err := s.store.AppendOperation(s.docID, op, origin)
	if err != nil {
		return 0, err
	}

	s.seq = seq
	s.maybeSnapshot()

	return seq, nil
}

// maybeSnapshot checks the snapshot policy and persists a snapshot when
// it triggers. Callers must hold the mutex.
func (s *Session) maybeSnapshot() {
	if s.snapshotPolicy == nil {
		return
	}

	if s.snapshotPolicy.RecordOperation(s.docID) {
		_ = s.saveSnapshot()
		s.snapshotPolicy.Reset(s.docID)
	}
}

// saveSnapshot persists the replica's materialized state. Callers must
// hold the mutex.
func (s *Session) saveSnapshot() error {
	elements := make(map[crdt.OperationID]crdt.ElementState, s.document.Len())
	for id, elem := range s.document.Elements() {
		elements[id] = *elem
	}

	return s.store.SaveSnapshot(s.docID, elements, s.document.Version(), s.seq)
}

// broadcast pushes the applied operation to the document's other
// subscribers. Callers must hold the mutex.
func (s *Session) broadcast(clientID, userID string, op crdt.Operation, origin crdt.NodeID) {
	if s.hub == nil {
		return
	}

	s.hub.BroadcastOperation(s.docID, op, origin, userID, clientID)
}

// checkPermission verifies the user may perform the action.
func (s *Session) checkPermission(userID string, action acl.Action) error {
	if s.permChecker == nil {
		return nil
	}

	return s.permChecker.RequirePermission(s.docID, userID, action)
}

// State is a read-only copy of the session replica's materialized state.
type State struct {
	Elements map[crdt.OperationID]crdt.ElementState
	Version  crdt.VersionVector
	Seq      int
}

// GetState returns a copy of the current document state. It checks
// read permission before returning.
func (s *Session) GetState(userID string) (State, error) {
	if err := s.checkPermission(userID, acl.ActionRead); err != nil {
		return State{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return State{}, ErrSessionClosed
	}

	elements := make(map[crdt.OperationID]crdt.ElementState, s.document.Len())
	for id, elem := range s.document.Elements() {
		elements[id] = *elem
	}

	return State{
		Elements: elements,
		Version:  s.document.Version().Copy(),
		Seq:      s.seq,
	}, nil
}

// CompareVersions classifies the session replica's version vector
// against a client's, driving the client's sync decisions.
func (s *Session) CompareVersions(userID string, remote crdt.VersionVector) (crdt.Comparison, error) {
	if err := s.checkPermission(userID, acl.ActionRead); err != nil {
		return crdt.Comparison{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return crdt.Comparison{}, ErrSessionClosed
	}

	return s.document.CompareVersions(remote), nil
}

// RecordPresence buffers a presence update for the next batch and marks
// the user active.
func (s *Session) RecordPresence(update presence.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if update.Timestamp.IsZero() {
		update.Timestamp = s.now()
	}

	s.tracker.Touch(update.UserID, update.Timestamp)
	s.batcher.AddPresence(update)
}

// RecordCursor buffers a cursor move for the next batch and marks the
// user active.
func (s *Session) RecordCursor(cursor presence.CursorPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if cursor.Timestamp.IsZero() {
		cursor.Timestamp = s.now()
	}

	s.tracker.Touch(cursor.UserID, cursor.Timestamp)
	s.batcher.AddCursor(cursor)
}

// LeavePresence drops a user from tracking and queues an offline
// notification for peers.
func (s *Session) LeavePresence(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.tracker.Remove(userID)
	s.batcher.AddPresence(presence.Update{
		UserID:    userID,
		Status:    presence.StatusOffline,
		Timestamp: s.now(),
	})
}

// TickPresence drives the session's presence machinery from an external
// ticker: it ages tracked users, queues status transitions, and flushes
// the batch to subscribers when a flush is due.
func (s *Session) TickPresence() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	now := s.now()

	for userID, status := range s.tracker.Sweep(now) {
		s.batcher.AddPresence(presence.Update{
			UserID:    userID,
			Status:    status,
			Timestamp: now,
		})
	}

	if !s.batcher.ShouldFlush() {
		return
	}

	updates, cursors := s.batcher.Flush()

	if s.hub != nil {
		s.hub.BroadcastPresence(s.docID, updates, cursors)
	}
}

// DocID returns the document ID for this session.
func (s *Session) DocID() string {
	return s.docID
}

// Seq returns the highest persisted log sequence.
func (s *Session) Seq() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seq
}

// Close closes the session and saves a final snapshot.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.saveSnapshot()
}
