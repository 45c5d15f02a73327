package textroom

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neohum/achievement-criteria/internal/crdt"
)

type fakeSock struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeSock() *fakeSock {
	return &fakeSock{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeSock) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return binaryMessage, data, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeSock) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	case f.out <- data:
		return nil
	}
}

func (f *fakeSock) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// recv waits for the next frame matching the (type, sync) selector.
func (f *fakeSock) recv(t *testing.T, msgType, syncType uint64) *crdt.TextMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-f.out:
			msg, err := crdt.DecodeMessage(data)
			require.NoError(t, err)
			if msg.Type == msgType && (msgType != crdt.MessageSync || msg.Sync == syncType) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for frame type=%d sync=%d", msgType, syncType)
			return nil
		}
	}
}

func (f *fakeSock) expectNoFrames(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.out:
		msg, _ := crdt.DecodeMessage(data)
		t.Fatalf("unexpected frame: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestJoinGreetsWithStep1(t *testing.T) {
	h := NewHub(zerolog.Nop())
	sock := newFakeSock()
	h.Join(RoomName("b1"), sock)

	greeting := sock.recv(t, crdt.MessageSync, crdt.SyncStep1)
	assert.Empty(t, greeting.SV)
}

func TestTwoStepSyncBringsLatePeerCurrent(t *testing.T) {
	h := NewHub(zerolog.Nop())
	roomName := RoomName("b1")

	// First peer pushes an edit.
	early := newFakeSock()
	h.Join(roomName, early)
	early.recv(t, crdt.MessageSync, crdt.SyncStep1)

	peerDoc := crdt.NewDoc("peer-1")
	ops := peerDoc.InsertText("c1", 0, "hello")
	early.in <- crdt.EncodeSyncUpdate(ops)
	require.Eventually(t, func() bool {
		return h.Doc(roomName).TextContent("c1") == "hello"
	}, 2*time.Second, 10*time.Millisecond)

	// Late peer answers the greeting with its (empty) state vector and
	// receives everything it was missing.
	late := newFakeSock()
	h.Join(roomName, late)
	late.recv(t, crdt.MessageSync, crdt.SyncStep1)

	lateDoc := crdt.NewDoc("peer-2")
	late.in <- crdt.EncodeSyncStep1(lateDoc.StateVector())

	step2 := late.recv(t, crdt.MessageSync, crdt.SyncStep2)
	lateDoc.ApplyOps(step2.Ops)
	assert.Equal(t, "hello", lateDoc.TextContent("c1"))
}

func TestUpdateIsBroadcastToOthersOnly(t *testing.T) {
	h := NewHub(zerolog.Nop())
	roomName := RoomName("b1")

	a := newFakeSock()
	b := newFakeSock()
	h.Join(roomName, a)
	h.Join(roomName, b)
	a.recv(t, crdt.MessageSync, crdt.SyncStep1)
	b.recv(t, crdt.MessageSync, crdt.SyncStep1)

	doc := crdt.NewDoc("peer-a")
	ops := doc.InsertText("c1", 0, "hi")
	a.in <- crdt.EncodeSyncUpdate(ops)

	delta := b.recv(t, crdt.MessageSync, crdt.SyncUpdate)
	assert.Len(t, delta.Ops, 2)
	a.expectNoFrames(t)

	assert.Equal(t, "hi", h.Doc(roomName).TextContent("c1"))
}

func TestDuplicateUpdateIsNotRebroadcast(t *testing.T) {
	h := NewHub(zerolog.Nop())
	roomName := RoomName("b1")

	a := newFakeSock()
	b := newFakeSock()
	h.Join(roomName, a)
	h.Join(roomName, b)
	a.recv(t, crdt.MessageSync, crdt.SyncStep1)
	b.recv(t, crdt.MessageSync, crdt.SyncStep1)

	doc := crdt.NewDoc("peer-a")
	ops := doc.InsertText("c1", 0, "x")
	a.in <- crdt.EncodeSyncUpdate(ops)
	b.recv(t, crdt.MessageSync, crdt.SyncUpdate)

	// Same delta again: idempotent apply, no observable change downstream.
	a.in <- crdt.EncodeSyncUpdate(ops)
	b.expectNoFrames(t)
	assert.Equal(t, "x", h.Doc(roomName).TextContent("c1"))
}

func TestAwarenessLifecycle(t *testing.T) {
	h := NewHub(zerolog.Nop())
	roomName := RoomName("b1")

	a := newFakeSock()
	b := newFakeSock()
	h.Join(roomName, a)
	h.Join(roomName, b)
	a.recv(t, crdt.MessageSync, crdt.SyncStep1)
	b.recv(t, crdt.MessageSync, crdt.SyncStep1)

	a.in <- crdt.EncodeAwareness([]crdt.AwarenessEntry{
		{ClientID: 11, Clock: 1, State: []byte(`{"cursor":{"x":1,"y":2}}`)},
	})

	// Rebroadcast to the other peer.
	got := b.recv(t, crdt.MessageAwareness, 0)
	require.Len(t, got.Awareness, 1)
	assert.Equal(t, uint64(11), got.Awareness[0].ClientID)

	// A third peer joining now receives the full awareness state.
	c := newFakeSock()
	h.Join(roomName, c)
	c.recv(t, crdt.MessageSync, crdt.SyncStep1)
	snap := c.recv(t, crdt.MessageAwareness, 0)
	require.Len(t, snap.Awareness, 1)

	// Closing the owning connection withdraws its client IDs.
	a.Close()
	removal := b.recv(t, crdt.MessageAwareness, 0)
	require.Len(t, removal.Awareness, 1)
	assert.Equal(t, uint64(11), removal.Awareness[0].ClientID)
	assert.True(t, removal.Awareness[0].Removed())
}

func TestLastConnectionReleasesRoom(t *testing.T) {
	h := NewHub(zerolog.Nop())
	roomName := RoomName("b1")

	a := newFakeSock()
	h.Join(roomName, a)
	require.Equal(t, 1, h.Rooms())

	a.Close()
	assert.Eventually(t, func() bool { return h.Rooms() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, h.Doc(roomName))
}

func TestMalformedFrameIsDroppedConnectionSurvives(t *testing.T) {
	h := NewHub(zerolog.Nop())
	roomName := RoomName("b1")

	a := newFakeSock()
	b := newFakeSock()
	h.Join(roomName, a)
	h.Join(roomName, b)
	a.recv(t, crdt.MessageSync, crdt.SyncStep1)
	b.recv(t, crdt.MessageSync, crdt.SyncStep1)

	a.in <- []byte{99, 1, 2, 3}

	doc := crdt.NewDoc("peer-a")
	a.in <- crdt.EncodeSyncUpdate(doc.InsertText("c1", 0, "ok"))
	delta := b.recv(t, crdt.MessageSync, crdt.SyncUpdate)
	assert.Len(t, delta.Ops, 2)
}
