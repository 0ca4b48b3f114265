package collab_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/serroba/crdt-docs/internal/acl"
	"github.com/serroba/crdt-docs/internal/collab"
	"github.com/serroba/crdt-docs/internal/crdt"
	"github.com/serroba/crdt-docs/internal/presence"
	"github.com/serroba/crdt-docs/internal/storage"
	"github.com/serroba/crdt-docs/internal/ws"
	"github.com/stretchr/testify/require"
)

const testDocID = "doc1"

// mockConn is a test double for ws.Conn.
type mockConn struct {
	mu       sync.Mutex
	messages []ws.Message
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.messages = append(m.messages, msg)

	return nil
}

func (m *mockConn) ReadJSON(v any) error { return nil }
func (m *mockConn) Close() error         { return nil }

func (m *mockConn) Messages() []ws.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]ws.Message, len(m.messages))
	copy(result, m.messages)

	return result
}

// fakeClock provides controllable time for presence tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestSession(t *testing.T, cfg collab.SessionConfig) *collab.Session {
	t.Helper()

	if cfg.DocID == "" {
		cfg.DocID = testDocID
	}

	if cfg.NodeID == "" {
		cfg.NodeID = "server"
	}

	if cfg.Store == nil {
		store := storage.NewMemoryStore()
		require.NoError(t, store.CreateDocument(cfg.DocID))
		cfg.Store = store
	}

	session := collab.NewSession(cfg)
	require.NoError(t, session.Load())

	return session
}

func TestSession_Insert(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, collab.SessionConfig{})

	op, seq, err := session.Insert("c1", "alice", 0, json.RawMessage(`"hello"`), nil)
	require.NoError(t, err)

	if seq != 1 {
		t.Errorf("expected seq 1, got %d", seq)
	}

	if !op.IsInsert() || op.ID.Node != "server" {
		t.Errorf("unexpected operation: %+v", op)
	}

	state, err := session.GetState("alice")
	require.NoError(t, err)
	require.Len(t, state.Elements, 1)

	elem := state.Elements[op.ID]
	require.JSONEq(t, `"hello"`, string(elem.Value))
	require.Equal(t, crdt.VersionVector{"server": 1}, state.Version)
}

func TestSession_DeleteAndUpdate(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, collab.SessionConfig{})

	insOp, _, err := session.Insert("c1", "alice", 0, json.RawMessage(`"v1"`), nil)
	require.NoError(t, err)

	_, _, err = session.Update("c1", "alice", insOp.ID, json.RawMessage(`"v2"`))
	require.NoError(t, err)

	state, err := session.GetState("alice")
	require.NoError(t, err)
	require.JSONEq(t, `"v2"`, string(state.Elements[insOp.ID].Value))

	_, _, err = session.Delete("c1", "alice", insOp.ID)
	require.NoError(t, err)

	state, err = session.GetState("alice")
	require.NoError(t, err)

	if !state.Elements[insOp.ID].Deleted {
		t.Error("expected element to be tombstoned")
	}
}

func TestSession_ApplyRemote(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, collab.SessionConfig{})

	remote := crdt.NewDocument("laptop")
	op := crdt.NewInsert(remote.GenerateID(), 0, json.RawMessage(`"remote"`), nil)

	seq, applied, err := session.ApplyRemote("c1", "bob", op, "laptop")
	require.NoError(t, err)

	if !applied || seq != 1 {
		t.Errorf("expected applied at seq 1, got applied=%v seq=%d", applied, seq)
	}

	// Duplicate delivery is acknowledged but not re-persisted.
	seq2, applied2, err := session.ApplyRemote("c1", "bob", op, "laptop")
	require.NoError(t, err)

	if applied2 {
		t.Error("duplicate should not apply")
	}

	if seq2 != 1 {
		t.Errorf("expected seq to stay 1, got %d", seq2)
	}
}

func TestSession_ApplyRemote_DeleteBeforeInsertIsDurable(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateDocument(testDocID))

	session := newTestSession(t, collab.SessionConfig{Store: store})

	remote := crdt.NewDocument("laptop")
	ins := crdt.NewInsert(remote.GenerateID(), 0, json.RawMessage(`"x"`), nil)
	del := crdt.NewDelete(ins.ID, remote.NextTimestamp())

	// The delete outruns its insert. The replica can only buffer it,
	// but it must still reach the log so a reload sees the tombstone.
	seq, applied, err := session.ApplyRemote("c1", "bob", del, "laptop")
	require.NoError(t, err)
	require.True(t, applied)

	if seq != 1 {
		t.Errorf("expected buffered delete at seq 1, got %d", seq)
	}

	_, _, err = session.ApplyRemote("c1", "bob", ins, "laptop")
	require.NoError(t, err)

	state, err := session.GetState("bob")
	require.NoError(t, err)
	require.True(t, state.Elements[ins.ID].Deleted)

	ops, err := store.LoadOperations(testDocID, 0)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	// A fresh session replaying the same log converges to the tombstone.
	reloaded := newTestSession(t, collab.SessionConfig{Store: store})

	state, err = reloaded.GetState("bob")
	require.NoError(t, err)

	if !state.Elements[ins.ID].Deleted {
		t.Error("reloaded session lost the buffered delete")
	}
}

// failingStore injects append failures into a working store.
type failingStore struct {
	*storage.MemoryStore
	failAppend bool
}

var errAppendUnavailable = errors.New("append unavailable")

func (f *failingStore) AppendOperation(docID string, op crdt.Operation, origin crdt.NodeID) (int, error) {
	if f.failAppend {
		return 0, errAppendUnavailable
	}

	return f.MemoryStore.AppendOperation(docID, op, origin)
}

func TestSession_AppendFailureLeavesReplicaUnchanged(t *testing.T) {
	t.Parallel()

	store := &failingStore{MemoryStore: storage.NewMemoryStore()}
	require.NoError(t, store.CreateDocument(testDocID))

	session := newTestSession(t, collab.SessionConfig{Store: store})

	store.failAppend = true

	_, _, err := session.Insert("c1", "alice", 0, json.RawMessage(`"lost"`), nil)
	require.ErrorIs(t, err, errAppendUnavailable)

	// The replica must not hold an edit the log never saw.
	state, err := session.GetState("alice")
	require.NoError(t, err)
	require.Empty(t, state.Elements)

	store.failAppend = false

	_, seq, err := session.Insert("c1", "alice", 0, json.RawMessage(`"kept"`), nil)
	require.NoError(t, err)

	if seq != 1 {
		t.Errorf("expected first persisted op at seq 1, got %d", seq)
	}
}

func TestSession_PermissionChecks(t *testing.T) {
	t.Parallel()

	permStore := acl.NewMemoryStore()
	require.NoError(t, permStore.Grant(testDocID, "viewer", acl.Viewer))

	session := newTestSession(t, collab.SessionConfig{
		PermChecker: acl.NewChecker(permStore),
	})

	_, _, err := session.Insert("c1", "viewer", 0, json.RawMessage(`"x"`), nil)
	if !errors.Is(err, acl.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for viewer write, got %v", err)
	}

	_, err = session.GetState("viewer")
	require.NoError(t, err)

	_, err = session.GetState("stranger")
	if !errors.Is(err, acl.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for stranger read, got %v", err)
	}
}

func TestSession_BroadcastExcludesSender(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub()

	senderConn := &mockConn{}
	peerConn := &mockConn{}

	sender := ws.NewClient("c1", "alice", senderConn)
	peer := ws.NewClient("c2", "bob", peerConn)

	hub.Register(sender)
	hub.Register(peer)
	hub.Subscribe(sender, testDocID)
	hub.Subscribe(peer, testDocID)

	session := newTestSession(t, collab.SessionConfig{Hub: hub})

	_, _, err := session.Insert("c1", "alice", 0, json.RawMessage(`"x"`), nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	if len(senderConn.Messages()) != 0 {
		t.Errorf("sender should not receive its own op, got %d messages", len(senderConn.Messages()))
	}

	peerMsgs := peerConn.Messages()
	require.Len(t, peerMsgs, 1)

	if peerMsgs[0].Type != ws.MessageTypeBroadcast {
		t.Errorf("expected broadcast, got %s", peerMsgs[0].Type)
	}
}

func TestSession_SnapshotPolicy(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateDocument(testDocID))

	session := newTestSession(t, collab.SessionConfig{
		Store:          store,
		SnapshotPolicy: storage.NewSnapshotPolicy(2),
	})

	_, _, err := session.Insert("c1", "alice", 0, json.RawMessage(`"a"`), nil)
	require.NoError(t, err)

	_, err = store.LoadSnapshot(testDocID)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	_, _, err = session.Insert("c1", "alice", 1, json.RawMessage(`"b"`), nil)
	require.NoError(t, err)

	snap, err := store.LoadSnapshot(testDocID)
	require.NoError(t, err)

	if snap.Seq != 2 {
		t.Errorf("expected snapshot at seq 2, got %d", snap.Seq)
	}

	require.Len(t, snap.Elements, 2)
}

func TestSession_ReloadAfterClose(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateDocument(testDocID))

	session := newTestSession(t, collab.SessionConfig{Store: store})

	op, _, err := session.Insert("c1", "alice", 0, json.RawMessage(`"kept"`), nil)
	require.NoError(t, err)
	require.NoError(t, session.Close())

	// A fresh session over the same store sees the persisted state and
	// mints ids that do not collide with replayed history.
	reloaded := newTestSession(t, collab.SessionConfig{Store: store})

	state, err := reloaded.GetState("alice")
	require.NoError(t, err)
	require.JSONEq(t, `"kept"`, string(state.Elements[op.ID].Value))

	op2, _, err := reloaded.Insert("c1", "alice", 1, json.RawMessage(`"new"`), nil)
	require.NoError(t, err)

	if op2.ID == op.ID {
		t.Error("reloaded session minted a duplicate id")
	}
}

func TestSession_ClosedSessionRejectsWork(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, collab.SessionConfig{})
	require.NoError(t, session.Close())

	_, _, err := session.Insert("c1", "alice", 0, json.RawMessage(`"x"`), nil)
	if !errors.Is(err, collab.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}

	_, err = session.GetState("alice")
	if !errors.Is(err, collab.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_CompareVersions(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, collab.SessionConfig{})

	_, _, err := session.Insert("c1", "alice", 0, json.RawMessage(`"x"`), nil)
	require.NoError(t, err)

	cmp, err := session.CompareVersions("alice", crdt.VersionVector{})
	require.NoError(t, err)

	if cmp.Result != crdt.LocalAhead {
		t.Errorf("expected LocalAhead, got %s", cmp.Result)
	}

	cmp, err = session.CompareVersions("alice", crdt.VersionVector{"server": 1})
	require.NoError(t, err)

	if cmp.Result != crdt.Equal {
		t.Errorf("expected Equal, got %s", cmp.Result)
	}
}

func TestSession_PresenceFlush(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub()
	conn := &mockConn{}
	client := ws.NewClient("c1", "alice", conn)
	hub.Register(client)
	hub.Subscribe(client, testDocID)

	clock := newFakeClock()

	session := newTestSession(t, collab.SessionConfig{
		Hub:   hub,
		Clock: clock.Now,
		Batcher: presence.BatcherConfig{
			FlushInterval: 100 * time.Millisecond,
			MaxBatchSize:  50,
		},
	})

	session.RecordPresence(presence.Update{UserID: "alice", Status: presence.StatusOnline})
	session.RecordCursor(presence.CursorPosition{UserID: "alice", Line: 3, Column: 7})

	// Interval not elapsed yet: tick does nothing.
	session.TickPresence()
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, conn.Messages())

	clock.Advance(150 * time.Millisecond)
	session.TickPresence()
	time.Sleep(10 * time.Millisecond)

	msgs := conn.Messages()
	require.Len(t, msgs, 1)

	if msgs[0].Type != ws.MessageTypePresenceSet {
		t.Errorf("expected presence_set, got %s", msgs[0].Type)
	}
}

func TestSession_PresenceAwayTransition(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub()
	conn := &mockConn{}
	client := ws.NewClient("c1", "bob", conn)
	hub.Register(client)
	hub.Subscribe(client, testDocID)

	clock := newFakeClock()

	session := newTestSession(t, collab.SessionConfig{
		Hub:       hub,
		Clock:     clock.Now,
		AwayAfter: 5 * time.Second,
		Batcher: presence.BatcherConfig{
			FlushInterval: 100 * time.Millisecond,
			MaxBatchSize:  50,
		},
	})

	session.RecordPresence(presence.Update{UserID: "alice", Status: presence.StatusOnline})

	// Flush the initial online update.
	clock.Advance(150 * time.Millisecond)
	session.TickPresence()

	// Idle past the away threshold; the next tick queues and flushes the
	// transition.
	clock.Advance(6 * time.Second)
	session.TickPresence()
	time.Sleep(10 * time.Millisecond)

	msgs := conn.Messages()
	require.Len(t, msgs, 2)

	data, err := json.Marshal(msgs[1].Payload)
	require.NoError(t, err)

	var payload ws.PresenceSetPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Len(t, payload.Presence, 1)

	if payload.Presence[0].Status != presence.StatusAway {
		t.Errorf("expected away status, got %s", payload.Presence[0].Status)
	}
}

func TestSession_PresenceOfflineTransition(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub()
	conn := &mockConn{}
	client := ws.NewClient("c1", "bob", conn)
	hub.Register(client)
	hub.Subscribe(client, testDocID)

	clock := newFakeClock()

	session := newTestSession(t, collab.SessionConfig{
		Hub:          hub,
		Clock:        clock.Now,
		AwayAfter:    5 * time.Second,
		OfflineAfter: 10 * time.Second,
		Batcher: presence.BatcherConfig{
			FlushInterval: 100 * time.Millisecond,
			MaxBatchSize:  50,
		},
	})

	session.RecordPresence(presence.Update{UserID: "alice", Status: presence.StatusOnline})

	clock.Advance(150 * time.Millisecond)
	session.TickPresence() // online flush

	clock.Advance(6 * time.Second)
	session.TickPresence() // away transition

	// Past the offline threshold: peers that saw "away" must also see
	// "offline" even though the client never disconnected cleanly.
	clock.Advance(6 * time.Second)
	session.TickPresence()
	time.Sleep(10 * time.Millisecond)

	msgs := conn.Messages()
	require.Len(t, msgs, 3)

	data, err := json.Marshal(msgs[2].Payload)
	require.NoError(t, err)

	var payload ws.PresenceSetPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Len(t, payload.Presence, 1)

	if payload.Presence[0].Status != presence.StatusOffline {
		t.Errorf("expected offline status, got %s", payload.Presence[0].Status)
	}

	// The user is dropped; later ticks have nothing left to report.
	clock.Advance(time.Second)
	session.TickPresence()
	time.Sleep(10 * time.Millisecond)
	require.Len(t, conn.Messages(), 3)
}
