package hub

// Transport is the bidirectional message connection a Conn rides on.
// *websocket.Conn satisfies it; tests substitute an in-memory pipe.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

const textMessage = 1 // websocket.TextMessage

// Conn is one live connection in a room: session identity, assigned
// presence color and the transport handle. A session may hold several
// connections at once (multi-tab); color is per connection, not per person.
type Conn struct {
	ID        string
	SessionID string
	Color     string

	sock Transport
	send chan []byte
	room *room
}

// enqueue hands the payload to the write pump without blocking. A full or
// closing connection drops the message; delivery is best-effort by design.
// Callers must hold the room mutex.
func (c *Conn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump drives the connection: it parses inbound frames and routes them
// until the transport reports closure, the only reap mechanism.
func (c *Conn) readPump(h *Hub) {
	defer h.leave(c)
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			h.log.Debug().Err(err).Str("conn", c.ID).Msg("connection closed")
			return
		}
		h.route(c, data)
	}
}

// writePump serializes outbound frames onto the transport. It exits when
// the send channel is closed (leave) or a write fails.
func (c *Conn) writePump(h *Hub) {
	defer c.sock.Close()
	for data := range c.send {
		if err := c.sock.WriteMessage(textMessage, data); err != nil {
			h.log.Debug().Err(err).Str("conn", c.ID).Msg("write failed")
			return
		}
	}
}
