// Package board holds the shared board model: positioned cards, the edges
// connecting them, and the snapshot that travels over the wire and into
// storage.
package board

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrHandleInUse is returned when an edge would reuse an attachment
	// point that already anchors another edge on the same side.
	ErrHandleInUse = errors.New("board: attachment handle already in use")

	// ErrUnknownCard is returned when an edge references a card that is not
	// on the board.
	ErrUnknownCard = errors.New("board: edge references unknown card")

	// ErrDuplicateEdge is returned when an edge ID is already present.
	ErrDuplicateEdge = errors.New("board: duplicate edge id")
)

// Position is a card's 2D placement on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Card is one positioned item on the board. Criteria is the reference
// payload the card was created from; it is carried opaquely and never
// interpreted by the sync engine.
type Card struct {
	ID       string          `json:"id"`
	Criteria json.RawMessage `json:"criteria,omitempty"`
	Memo     string          `json:"memo"`
	Position Position        `json:"position"`
}

// Edge connects two cards at named attachment handles.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Snapshot is the full serialized state of one board. It is the unit of
// both broadcast and persistence: inbound board updates replace the whole
// snapshot, last write wins.
type Snapshot struct {
	Cards []Card `json:"cards"`
	Edges []Edge `json:"edges"`
}

// Card returns the card with the given id, or nil.
func (s *Snapshot) Card(id string) *Card {
	for i := range s.Cards {
		if s.Cards[i].ID == id {
			return &s.Cards[i]
		}
	}
	return nil
}

// AddEdge appends e after validating it against the current snapshot.
// At most one edge may originate from a given (card, handle) pair and at
// most one may terminate at a given (card, handle) pair. Validation happens
// here, at creation time; snapshots received from peers are stored verbatim.
func (s *Snapshot) AddEdge(e Edge) error {
	if s.Card(e.Source) == nil || s.Card(e.Target) == nil {
		return ErrUnknownCard
	}
	for _, have := range s.Edges {
		if have.ID == e.ID {
			return ErrDuplicateEdge
		}
		if have.Source == e.Source && have.SourceHandle == e.SourceHandle {
			return fmt.Errorf("%w: %s/%s already has an outgoing edge", ErrHandleInUse, e.Source, e.SourceHandle)
		}
		if have.Target == e.Target && have.TargetHandle == e.TargetHandle {
			return fmt.Errorf("%w: %s/%s already has an incoming edge", ErrHandleInUse, e.Target, e.TargetHandle)
		}
	}
	s.Edges = append(s.Edges, e)
	return nil
}

// RemoveCard deletes the card and every edge touching it.
func (s *Snapshot) RemoveCard(id string) {
	cards := s.Cards[:0]
	for _, c := range s.Cards {
		if c.ID != id {
			cards = append(cards, c)
		}
	}
	s.Cards = cards

	edges := s.Edges[:0]
	for _, e := range s.Edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	s.Edges = edges
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() Snapshot {
	out := Snapshot{
		Cards: make([]Card, len(s.Cards)),
		Edges: make([]Edge, len(s.Edges)),
	}
	copy(out.Edges, s.Edges)
	for i, c := range s.Cards {
		out.Cards[i] = c
		if c.Criteria != nil {
			out.Cards[i].Criteria = append(json.RawMessage(nil), c.Criteria...)
		}
	}
	return out
}

// Encode serializes the snapshot into the {cards, edges} wire/cache layout.
// Nil slices are normalized so consumers always see arrays.
func (s Snapshot) Encode() ([]byte, error) {
	if s.Cards == nil {
		s.Cards = []Card{}
	}
	if s.Edges == nil {
		s.Edges = []Edge{}
	}
	return json.Marshal(s)
}

// Decode parses a serialized snapshot.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("board: decode snapshot: %w", err)
	}
	return s, nil
}
