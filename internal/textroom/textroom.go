// Package textroom serves the replicated-text channel: one document per
// board in its own room namespace, synchronized with a two-step state
// vector exchange and an awareness side-channel, both multiplexed on a
// single binary WebSocket connection.
package textroom

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neohum/achievement-criteria/internal/crdt"
)

const binaryMessage = 2 // websocket.BinaryMessage

// RoomName derives the text-room name for a board. The namespace is
// deliberately distinct from the board-channel room identifier; the two
// subsystems are independently addressable.
func RoomName(boardID string) string { return "text-" + boardID }

// Transport is the message connection a text-room peer rides on.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Hub owns every live text room in this relay instance.
type Hub struct {
	log zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	name      string
	doc       *crdt.Doc
	awareness *crdt.Awareness

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

type conn struct {
	id   string
	sock Transport
	send chan []byte
	room *room

	// Awareness client IDs first observed on this connection; their state
	// is withdrawn when the connection closes.
	mu        sync.Mutex
	clientIDs map[uint64]struct{}
}

// NewHub builds an empty text-room hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:   log.With().Str("component", "textroom").Logger(),
		rooms: make(map[string]*room),
	}
}

// Join attaches a connection to the named room, creating the document on
// first connect, and greets the peer with sync step1 plus the full current
// awareness state.
func (h *Hub) Join(roomName string, sock Transport) {
	var r *room
	for {
		r = h.room(roomName)
		r.mu.Lock()
		if !r.closed {
			break
		}
		r.mu.Unlock()
	}

	c := &conn{
		id:        uuid.NewString(),
		sock:      sock,
		send:      make(chan []byte, 64),
		room:      r,
		clientIDs: make(map[uint64]struct{}),
	}
	r.conns[c.id] = c

	c.enqueue(crdt.EncodeSyncStep1(r.doc.StateVector()))
	if states := r.awareness.Snapshot(); len(states) > 0 {
		c.enqueue(crdt.EncodeAwareness(states))
	}
	r.mu.Unlock()

	h.log.Info().Str("room", roomName).Str("conn", c.id).Msg("text peer joined")

	go c.writePump(h)
	go c.readPump(h)
}

// Doc exposes the live document for a room, or nil. Used by tests and by
// operational introspection; the wire protocol is the normal access path.
func (h *Hub) Doc(roomName string) *crdt.Doc {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomName]; ok {
		return r.doc
	}
	return nil
}

func (h *Hub) room(name string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	if !ok {
		r = &room{
			name:      name,
			doc:       crdt.NewDoc("relay-" + uuid.NewString()),
			awareness: crdt.NewAwareness(),
			conns:     make(map[string]*conn),
		}
		h.rooms[name] = r
	}
	return r
}

// route handles one inbound frame. Sync messages merge into the shared
// document idempotently; the resulting delta (if any) goes to every other
// connection. Awareness updates touch only the awareness layer and are
// rebroadcast the same way.
func (h *Hub) route(c *conn, data []byte) {
	msg, err := crdt.DecodeMessage(data)
	if err != nil {
		h.log.Warn().Err(err).Str("room", c.room.name).Msg("dropping malformed text frame")
		return
	}
	r := c.room
	switch msg.Type {
	case crdt.MessageSync:
		switch msg.Sync {
		case crdt.SyncStep1:
			// The peer told us what it has; answer with what it lacks.
			missing := r.doc.Missing(msg.SV)
			r.mu.Lock()
			c.enqueue(crdt.EncodeSyncStep2(missing))
			r.mu.Unlock()
		case crdt.SyncStep2, crdt.SyncUpdate:
			applied := r.doc.ApplyOps(msg.Ops)
			if len(applied) == 0 {
				return // duplicate delivery, nothing to rebroadcast
			}
			frame := crdt.EncodeSyncUpdate(applied)
			r.mu.Lock()
			r.broadcastLocked(c.id, frame)
			r.mu.Unlock()
		}
	case crdt.MessageAwareness:
		c.observe(msg.Awareness)
		changed := r.awareness.Apply(msg.Awareness)
		if len(changed) == 0 {
			return
		}
		frame := crdt.EncodeAwareness(changed)
		r.mu.Lock()
		r.broadcastLocked(c.id, frame)
		r.mu.Unlock()
	}
}

// leave withdraws the connection's awareness entries, announces their
// removal, and releases the room once its last connection closes.
func (h *Hub) leave(c *conn) {
	r := c.room

	r.mu.Lock()
	if _, ok := r.conns[c.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c.id)
	close(c.send)

	if removed := r.awareness.Remove(c.ownedClients()); len(removed) > 0 {
		r.broadcastLocked(c.id, crdt.EncodeAwareness(removed))
	}
	empty := len(r.conns) == 0
	r.mu.Unlock()

	h.log.Info().Str("room", r.name).Str("conn", c.id).Msg("text peer left")

	if !empty {
		return
	}
	h.mu.Lock()
	r.mu.Lock()
	if len(r.conns) == 0 && h.rooms[r.name] == r {
		// Last peer gone: the document and its awareness state die with
		// the room. Durable memo text survives only through the board
		// snapshot flush.
		delete(h.rooms, r.name)
		r.closed = true
	}
	r.mu.Unlock()
	h.mu.Unlock()
}

// Close releases every room. Existing connections drain on their own as
// their transports close.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, r := range h.rooms {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		delete(h.rooms, name)
	}
}

// Rooms reports the number of live text rooms.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (r *room) broadcastLocked(senderID string, frame []byte) {
	for id, c := range r.conns {
		if id == senderID {
			continue
		}
		c.enqueue(frame)
	}
}

func (c *conn) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

func (c *conn) observe(entries []crdt.AwarenessEntry) {
	c.mu.Lock()
	for _, e := range entries {
		c.clientIDs[e.ClientID] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *conn) ownedClients() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.clientIDs))
	for id := range c.clientIDs {
		out = append(out, id)
	}
	return out
}

func (c *conn) readPump(h *Hub) {
	defer h.leave(c)
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		h.route(c, data)
	}
}

func (c *conn) writePump(h *Hub) {
	defer c.sock.Close()
	for frame := range c.send {
		if err := c.sock.WriteMessage(binaryMessage, frame); err != nil {
			h.log.Debug().Err(err).Str("room", c.room.name).Msg("text write failed")
			return
		}
	}
}
