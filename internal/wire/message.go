// Package wire defines the JSON messages exchanged on the board channel.
//
// Every frame is a single JSON object tagged by a "type" field. Ephemeral
// kinds (cursor, drag, connect gestures) are relayed verbatim and never
// persisted; the board-update kind carries the full snapshot and feeds the
// write-back pipeline.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/neohum/achievement-criteria/internal/board"
)

// Kind tags a board-channel message.
type Kind string

// Inbound kinds.
const (
	KindCursor       Kind = "cursor"
	KindDragStart    Kind = "drag-start"
	KindDragEnd      Kind = "drag-end"
	KindConnectStart Kind = "connect-start"
	KindConnectEnd   Kind = "connect-end"
	KindBoardUpdate  Kind = "board-update"
)

// Outbound kinds.
const (
	KindInit        Kind = "init"
	KindPresence    Kind = "presence"
	KindUpdate      Kind = "update"
	KindCursorLeave Kind = "cursor-leave"
)

// Presence is one (session, color) entry in a presence list, deduplicated
// by session across a session's tabs.
type Presence struct {
	SessionID string `json:"sessionId"`
	Color     string `json:"color"`
}

// Message is the board-channel frame. Fields are populated per kind; unused
// fields stay empty and are omitted from the encoding. The relay annotates
// inbound messages with the sender's session ID and color before fan-out.
type Message struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	ConnID    string `json:"connId,omitempty"`
	Color     string `json:"color,omitempty"`

	// cursor
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`

	// drag-start
	CardID    string `json:"cardId,omitempty"`
	CardTitle string `json:"cardTitle,omitempty"`

	// connect-start
	NodeID   string `json:"nodeId,omitempty"`
	HandleID string `json:"handleId,omitempty"`

	// board-update / update
	Cards []board.Card `json:"cards,omitempty"`
	Edges []board.Edge `json:"edges,omitempty"`

	// init / presence
	Users []Presence `json:"users,omitempty"`
}

// Ephemeral reports whether the kind is relayed best-effort and never
// persisted.
func (m *Message) Ephemeral() bool {
	switch m.Type {
	case KindCursor, KindDragStart, KindDragEnd, KindConnectStart, KindConnectEnd, KindCursorLeave:
		return true
	}
	return false
}

// Snapshot extracts the board snapshot carried by a board-update or update
// message.
func (m *Message) Snapshot() board.Snapshot {
	return board.Snapshot{Cards: m.Cards, Edges: m.Edges}
}

// Parse decodes one inbound frame. A parse failure drops the message only;
// the connection stays alive.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: parse message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("wire: message missing type tag")
	}
	return &m, nil
}

// Encode serializes an outbound frame.
func (m *Message) Encode() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// Message contains only marshal-safe field types.
		panic(fmt.Sprintf("wire: encode %s message: %v", m.Type, err))
	}
	return data
}
