// Package hub implements the board channel: the per-room connection
// registry and the broadcast relay. Ephemeral gestures are fanned out
// best-effort; durable board updates are additionally written to the fast
// cache, published for other relay instances, and marked for write-back.
package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neohum/achievement-criteria/internal/cache"
	"github.com/neohum/achievement-criteria/internal/wire"
)

// DirtyTracker is the slice of the write-back scheduler the hub needs.
type DirtyTracker interface {
	MarkDirty(boardID string)
	FlushNow(ctx context.Context, boardID string) error
}

// Hub owns every live board room in this relay instance.
type Hub struct {
	cache    cache.Cache
	flusher  DirtyTracker
	instance string
	log      zerolog.Logger
	handlers map[wire.Kind]func(*Conn, *wire.Message)

	mu    sync.Mutex
	rooms map[string]*room
}

// room serializes all mutation of one board's connection set.
type room struct {
	id string

	mu      sync.Mutex
	conns   map[string]*Conn
	stopSub func()
	closed  bool
}

// New builds a hub. The instance ID distinguishes this relay process on the
// cross-process bus.
func New(c cache.Cache, flusher DirtyTracker, log zerolog.Logger) *Hub {
	h := &Hub{
		cache:    c,
		flusher:  flusher,
		instance: uuid.NewString(),
		log:      log.With().Str("component", "hub").Logger(),
		rooms:    make(map[string]*room),
	}
	ephemeral := h.handleEphemeral
	h.handlers = map[wire.Kind]func(*Conn, *wire.Message){
		wire.KindCursor:       ephemeral,
		wire.KindDragStart:    ephemeral,
		wire.KindDragEnd:      ephemeral,
		wire.KindConnectStart: ephemeral,
		wire.KindConnectEnd:   ephemeral,
		wire.KindBoardUpdate:  h.handleBoardUpdate,
	}
	return h
}

// Join registers a connection in the board's room, assigns it a presence
// color, sends the init message and announces the new presence list. The
// room is created on first join.
func (h *Hub) Join(boardID, sessionID string, sock Transport) *Conn {
	var r *room
	for {
		r = h.room(boardID)
		r.mu.Lock()
		if !r.closed {
			break
		}
		// Lost a race with the room's drain teardown; get a fresh room.
		r.mu.Unlock()
	}

	c := &Conn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		sock:      sock,
		send:      make(chan []byte, 64),
		room:      r,
	}

	used := make(map[string]bool, len(r.conns))
	for _, other := range r.conns {
		used[other.Color] = true
	}
	c.Color = assignColor(used, len(r.conns))
	r.conns[c.ID] = c

	users := r.presenceLocked()
	init := &wire.Message{
		Type:      wire.KindInit,
		SessionID: sessionID,
		ConnID:    c.ID,
		Color:     c.Color,
		Users:     users,
	}
	c.enqueue(init.Encode())
	// The presence announcement goes to everyone, the joiner included.
	r.broadcastLocked("", (&wire.Message{Type: wire.KindPresence, Users: users}).Encode(), "")
	r.mu.Unlock()

	go c.writePump(h)
	go c.readPump(h)

	h.log.Info().Str("board", boardID).Str("session", sessionID).Str("color", c.Color).Msg("connection joined")
	return c
}

// Presence returns the room's deduplicated-by-session presence list.
func (h *Hub) Presence(boardID string) []wire.Presence {
	h.mu.Lock()
	r, ok := h.rooms[boardID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceLocked()
}

// route dispatches one inbound frame. Unparseable frames are dropped and
// the connection stays alive.
func (h *Hub) route(c *Conn, data []byte) {
	msg, err := wire.Parse(data)
	if err != nil {
		h.log.Warn().Err(err).Str("conn", c.ID).Msg("dropping malformed message")
		return
	}
	handler, ok := h.handlers[msg.Type]
	if !ok {
		h.log.Warn().Str("kind", string(msg.Type)).Str("conn", c.ID).Msg("dropping message of unknown kind")
		return
	}
	handler(c, msg)
}

// handleEphemeral relays a gesture to every other connection in the room,
// annotated with the sender's identity. Never persisted, never acked.
func (h *Hub) handleEphemeral(c *Conn, msg *wire.Message) {
	msg.SessionID = c.SessionID
	msg.Color = c.Color
	r := c.room
	r.mu.Lock()
	r.broadcastLocked(c.ID, msg.Encode(), "")
	r.mu.Unlock()
}

// handleBoardUpdate broadcasts the snapshot to local peers first, then
// asynchronously overwrites the cache copy, publishes it on the
// cross-process bus and marks the board dirty. Peers never wait on storage.
func (h *Hub) handleBoardUpdate(c *Conn, msg *wire.Message) {
	out := &wire.Message{
		Type:      wire.KindUpdate,
		SessionID: c.SessionID,
		Cards:     msg.Cards,
		Edges:     msg.Edges,
	}
	payload := out.Encode()

	r := c.room
	r.mu.Lock()
	r.broadcastLocked(c.ID, payload, "")
	r.mu.Unlock()

	snapshot, err := msg.Snapshot().Encode()
	if err != nil {
		h.log.Error().Err(err).Str("board", r.id).Msg("snapshot encode failed, broadcast already delivered")
		return
	}
	go h.persist(r.id, c.SessionID, snapshot, payload)
}

func (h *Hub) persist(boardID, sessionID string, snapshot, payload []byte) {
	ctx := context.Background()
	if err := h.cache.SetSnapshot(ctx, boardID, snapshot); err != nil {
		// Peers already received the update live; keep going.
		h.log.Error().Err(err).Str("board", boardID).Msg("cache write failed")
	}
	if err := h.cache.Publish(ctx, boardID, cache.PubMessage{
		Instance:  h.instance,
		SessionID: sessionID,
		Payload:   json.RawMessage(payload),
	}); err != nil {
		h.log.Error().Err(err).Str("board", boardID).Msg("cross-process publish failed")
	}
	h.flusher.MarkDirty(boardID)
}

// leave removes the connection, announces the departure, and on room drain
// releases the room and triggers an out-of-cycle flush of any pending
// durable write.
func (h *Hub) leave(c *Conn) {
	r := c.room

	r.mu.Lock()
	if _, ok := r.conns[c.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c.ID)
	close(c.send)
	r.broadcastLocked(c.ID, (&wire.Message{Type: wire.KindCursorLeave, SessionID: c.SessionID}).Encode(), "")
	r.broadcastLocked(c.ID, (&wire.Message{Type: wire.KindPresence, Users: r.presenceLocked()}).Encode(), "")
	empty := len(r.conns) == 0
	r.mu.Unlock()

	h.log.Info().Str("board", r.id).Str("session", c.SessionID).Msg("connection left")

	if !empty {
		return
	}
	h.mu.Lock()
	// Re-check under the hub lock: a join may have raced the drain.
	r.mu.Lock()
	if len(r.conns) == 0 && h.rooms[r.id] == r {
		delete(h.rooms, r.id)
		r.closed = true
		if r.stopSub != nil {
			r.stopSub()
		}
	}
	r.mu.Unlock()
	h.mu.Unlock()

	// The room is gone but its pending durable write must still land.
	if err := h.flusher.FlushNow(context.Background(), r.id); err != nil {
		h.log.Warn().Err(err).Str("board", r.id).Msg("drain flush failed, scheduler will retry")
	}
}

// Close tears down every room's bus subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, r := range h.rooms {
		r.mu.Lock()
		r.closed = true
		if r.stopSub != nil {
			r.stopSub()
		}
		r.mu.Unlock()
		delete(h.rooms, id)
	}
}

func (h *Hub) room(boardID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[boardID]
	if !ok {
		r = &room{id: boardID, conns: make(map[string]*Conn)}
		ch, stop := h.cache.Subscribe(context.Background(), boardID)
		r.stopSub = stop
		go h.relayRemote(r, ch)
		h.rooms[boardID] = r
	}
	return r
}

// relayRemote forwards updates published by other relay instances to this
// room's local connections, suppressing the originating session's echo.
func (h *Hub) relayRemote(r *room, ch <-chan cache.PubMessage) {
	for msg := range ch {
		if msg.Instance == h.instance {
			continue
		}
		r.mu.Lock()
		r.broadcastLocked("", []byte(msg.Payload), msg.SessionID)
		r.mu.Unlock()
	}
}

// broadcastLocked fans the payload out to every connection except the
// sender and any connection of skipSession. A connection that cannot accept
// the frame is skipped and logged by the caller's pump; fan-out never
// aborts. Callers hold r.mu.
func (r *room) broadcastLocked(senderConnID string, payload []byte, skipSession string) {
	for id, c := range r.conns {
		if id == senderConnID {
			continue
		}
		if skipSession != "" && c.SessionID == skipSession {
			continue
		}
		c.enqueue(payload)
	}
}

// presenceLocked returns the (session, color) list deduplicated by session.
// Callers hold r.mu.
func (r *room) presenceLocked() []wire.Presence {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := make(map[string]bool, len(ids))
	users := make([]wire.Presence, 0, len(ids))
	for _, id := range ids {
		c := r.conns[id]
		if seen[c.SessionID] {
			continue
		}
		seen[c.SessionID] = true
		users = append(users, wire.Presence{SessionID: c.SessionID, Color: c.Color})
	}
	return users
}
