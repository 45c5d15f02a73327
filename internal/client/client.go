// Package client implements the board-channel peer: a persistent WebSocket
// connection per board with automatic reconnection, snapshot reconciliation
// through the replicated-text layer, and a debounced board-update publisher
// so bursts of local edits collapse into one durable write.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/neohum/achievement-criteria/internal/board"
	"github.com/neohum/achievement-criteria/internal/reconcile"
	"github.com/neohum/achievement-criteria/internal/wire"
)

// DefaultDebounce matches the reference client's autosave window.
const DefaultDebounce = time.Second

// Handlers are the client's inbound callbacks. All are optional. They are
// invoked from the read loop; implementations must not block.
type Handlers struct {
	OnInit      func(sessionID, color string, users []wire.Presence)
	OnUpdate    func(senderSession string, snap board.Snapshot)
	OnPresence  func(users []wire.Presence)
	OnEphemeral func(msg *wire.Message)
}

// Options configure a Client.
type Options struct {
	// URL is the board-channel endpoint, e.g. ws://host/ws.
	URL     string
	BoardID string
	// SessionID persists across reconnects; generated when empty.
	SessionID string
	// Reconciler, when set, arbitrates inbound snapshots against the
	// replicated text before OnUpdate sees them.
	Reconciler *reconcile.Reconciler
	Handlers   Handlers
	// Debounce is the board-update publish window; DefaultDebounce if zero.
	Debounce time.Duration
	Logger   zerolog.Logger
}

// Client is one session's connection to a board room.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	sock    *websocket.Conn
	pending *board.Snapshot
	timer   *time.Timer

	// writeMu serializes frame writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

// New prepares a client; Run establishes the connection.
func New(opts Options) *Client {
	if opts.SessionID == "" {
		opts.SessionID = "sess-" + uuid.NewString()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Client{
		opts: opts,
		log:  opts.Logger.With().Str("component", "client").Str("board", opts.BoardID).Logger(),
	}
}

// SessionID returns the durable session identity.
func (c *Client) SessionID() string { return c.opts.SessionID }

// Run dials and serves the connection until ctx is cancelled, reconnecting
// with exponential backoff whenever the transport drops.
func (c *Client) Run(ctx context.Context) error {
	for {
		sock, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.sock = sock
		resend := c.pending != nil
		c.mu.Unlock()
		if resend {
			// A debounce window elapsed while disconnected; publish the
			// held snapshot now.
			c.flushPending()
		}

		// The read loop blocks in ReadMessage; closing the socket is the
		// only way to unblock it when the caller cancels.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = sock.Close()
			case <-watchDone:
			}
		}()

		c.readLoop(sock)
		close(watchDone)

		c.mu.Lock()
		c.sock = nil
		c.mu.Unlock()
		_ = sock.Close()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			c.log.Info().Msg("connection lost, reconnecting")
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	q := endpoint.Query()
	q.Set("boardId", c.opts.BoardID)
	q.Set("sessionId", c.opts.SessionID)
	endpoint.RawQuery = q.Encode()

	var sock *websocket.Conn
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry until cancelled
	err = backoff.Retry(func() error {
		var dialErr error
		sock, _, dialErr = websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
		return dialErr
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", endpoint.Host, err)
	}
	return sock, nil
}

func (c *Client) readLoop(sock *websocket.Conn) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.Parse(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *wire.Message) {
	h := c.opts.Handlers
	switch msg.Type {
	case wire.KindInit:
		if h.OnInit != nil {
			h.OnInit(msg.SessionID, msg.Color, msg.Users)
		}
	case wire.KindPresence:
		if h.OnPresence != nil {
			h.OnPresence(msg.Users)
		}
	case wire.KindUpdate:
		// Self-echo can still arrive through the cross-process bus.
		if msg.SessionID == c.opts.SessionID {
			return
		}
		snap := msg.Snapshot()
		if c.opts.Reconciler != nil {
			snap = c.opts.Reconciler.ApplyUpdate(snap)
		}
		if h.OnUpdate != nil {
			h.OnUpdate(msg.SessionID, snap)
		}
	default:
		if msg.Ephemeral() && h.OnEphemeral != nil {
			h.OnEphemeral(msg)
		}
	}
}

// SendCursor publishes the local cursor position, best-effort.
func (c *Client) SendCursor(x, y float64) {
	c.send(&wire.Message{Type: wire.KindCursor, X: &x, Y: &y})
}

// SendDragStart announces a card drag.
func (c *Client) SendDragStart(cardID, cardTitle string) {
	c.send(&wire.Message{Type: wire.KindDragStart, CardID: cardID, CardTitle: cardTitle})
}

// SendDragEnd ends a card drag.
func (c *Client) SendDragEnd() {
	c.send(&wire.Message{Type: wire.KindDragEnd})
}

// SendConnectStart announces an edge-connect gesture from a handle.
func (c *Client) SendConnectStart(nodeID, handleID string) {
	c.send(&wire.Message{Type: wire.KindConnectStart, NodeID: nodeID, HandleID: handleID})
}

// SendConnectEnd ends an edge-connect gesture.
func (c *Client) SendConnectEnd() {
	c.send(&wire.Message{Type: wire.KindConnectEnd})
}

// QueueBoardUpdate schedules a durable publish of the snapshot. Rapid calls
// collapse: only the last snapshot inside the debounce window is sent. A
// window that elapses while disconnected holds the snapshot for publication
// on reconnect.
func (c *Client) QueueBoardUpdate(snap board.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := snap.Clone()
	c.pending = &clone
	if c.timer == nil {
		c.timer = time.AfterFunc(c.opts.Debounce, c.flushPending)
		return
	}
	c.timer.Reset(c.opts.Debounce)
}

// PublishBoardUpdate sends the snapshot immediately, bypassing the
// debounce window.
func (c *Client) PublishBoardUpdate(snap board.Snapshot) {
	c.send(&wire.Message{Type: wire.KindBoardUpdate, Cards: snap.Cards, Edges: snap.Edges})
}

func (c *Client) flushPending() {
	c.mu.Lock()
	if c.sock == nil {
		// Disconnected: hold the snapshot, Run publishes it on reconnect.
		c.mu.Unlock()
		return
	}
	snap := c.pending
	c.pending = nil
	c.mu.Unlock()
	if snap != nil {
		c.PublishBoardUpdate(*snap)
	}
}

func (c *Client) send(msg *wire.Message) {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		c.log.Debug().Str("kind", string(msg.Type)).Msg("not connected, dropping outbound message")
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := sock.WriteMessage(websocket.TextMessage, msg.Encode()); err != nil {
		c.log.Warn().Err(err).Str("kind", string(msg.Type)).Msg("send failed")
	}
}
