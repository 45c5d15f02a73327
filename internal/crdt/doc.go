// Package crdt implements the replicated text layer: one document per
// board, one replicated character sequence per card memo, plus the
// ephemeral awareness side-channel.
//
// The sequence is an RGA (replicated growable array) with tombstones.
// Inserts name the ID of their left neighbor at insertion time; concurrent
// inserts at the same neighbor are ordered newest-ID-first, so all replicas
// converge to the same string regardless of delivery order or duplication.
package crdt

import "sync"

// ID names one operation: the peer that produced it and the Lamport clock
// it carried. The zero ID is the head-of-sequence sentinel.
type ID struct {
	Peer  string `json:"peer"`
	Clock uint64 `json:"clock"`
}

// Less is the clock-dominant total order used for RGA tie-breaks.
func (a ID) Less(b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock < b.Clock
	}
	return a.Peer < b.Peer
}

// IsNil reports whether the ID is the head sentinel.
func (a ID) IsNil() bool { return a == ID{} }

// OpKind discriminates replicated text operations.
type OpKind uint8

const (
	OpInsert OpKind = 1
	OpDelete OpKind = 2
)

// Op is one replicated text operation. Seq is the peer's contiguous
// delivery counter (1-based) and drives the state vector; Clock is the
// Lamport timestamp used for ordering ties.
type Op struct {
	Peer  string `json:"peer"`
	Seq   uint64 `json:"seq"`
	Clock uint64 `json:"clock"`
	Card  string `json:"card"`
	Kind  OpKind `json:"kind"`

	Ch     string `json:"ch,omitempty"`    // insert: the character
	Origin ID     `json:"origin,omitzero"` // insert: left neighbor at insert time
	Target ID     `json:"target,omitzero"` // delete: the tombstoned insert
}

// ID returns the operation's own identifier.
func (op Op) ID() ID { return ID{Peer: op.Peer, Clock: op.Clock} }

// StateVector maps peer → highest contiguous Seq applied. A peer holding
// vector v is missing exactly the ops with Seq > v[peer].
type StateVector map[string]uint64

// Doc is one board's replicated document: a lazily created replicated text
// per card ID. All methods are safe for concurrent use; mutations to one
// document are serialized by its mutex.
type Doc struct {
	mu      sync.Mutex
	site    string
	clock   uint64
	logs    map[string][]Op
	texts   map[string]*text
	pending []Op
}

// NewDoc creates an empty document replica owned by the given peer ID.
func NewDoc(site string) *Doc {
	return &Doc{
		site:  site,
		logs:  make(map[string][]Op),
		texts: make(map[string]*text),
	}
}

// Site returns the local peer ID.
func (d *Doc) Site() string { return d.site }

// StateVector returns a copy of the document's delivery state.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	sv := make(StateVector, len(d.logs))
	for peer, log := range d.logs {
		sv[peer] = uint64(len(log))
	}
	return sv
}

// Missing returns every op the holder of sv has not yet applied, in
// per-peer causal order.
func (d *Doc) Missing(sv StateVector) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Op
	for peer, log := range d.logs {
		if have := sv[peer]; have < uint64(len(log)) {
			out = append(out, log[have:]...)
		}
	}
	return out
}

// InsertText inserts s at the given rune index of the card's memo and
// returns the generated ops for broadcast.
func (d *Doc) InsertText(card string, index int, s string) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insertLocked(card, index, s)
}

// DeleteText removes n runes starting at the given rune index and returns
// the generated ops for broadcast.
func (d *Doc) DeleteText(card string, index, n int) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteLocked(card, index, n)
}

// Splice deletes deleteN runes at index and inserts s in their place as one
// atomic mutation, the shape a prefix/suffix diff produces.
func (d *Doc) Splice(card string, index, deleteN int, s string) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := d.deleteLocked(card, index, deleteN)
	return append(ops, d.insertLocked(card, index, s)...)
}

func (d *Doc) insertLocked(card string, index int, s string) []Op {
	t := d.text(card)
	origin := t.originAt(index)
	ops := make([]Op, 0, len(s))
	for _, r := range s {
		op := d.nextOp(card)
		op.Kind = OpInsert
		op.Ch = string(r)
		op.Origin = origin
		t.integrateInsert(op.ID(), origin, r)
		d.logs[d.site] = append(d.logs[d.site], op)
		ops = append(ops, op)
		origin = op.ID()
	}
	return ops
}

func (d *Doc) deleteLocked(card string, index, n int) []Op {
	t := d.text(card)
	targets := t.visibleRange(index, n)
	ops := make([]Op, 0, len(targets))
	for _, target := range targets {
		op := d.nextOp(card)
		op.Kind = OpDelete
		op.Target = target
		t.integrateDelete(target)
		d.logs[d.site] = append(d.logs[d.site], op)
		ops = append(ops, op)
	}
	return ops
}

// ApplyOps integrates remote ops. Duplicates are dropped, ops arriving
// ahead of their causal dependencies are parked until the gap fills, and
// the ops newly applied by this call are returned for rebroadcast.
func (d *Doc) ApplyOps(ops []Op) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, ops...)
	var applied []Op
	for progress := true; progress; {
		progress = false
		rest := d.pending[:0]
		for _, op := range d.pending {
			switch d.tryApply(op) {
			case applyOK:
				applied = append(applied, op)
				progress = true
			case applyWait:
				rest = append(rest, op)
			case applyDuplicate:
			}
		}
		d.pending = rest
	}
	return applied
}

// HasText reports whether a replicated text already exists for the card,
// without creating one.
func (d *Doc) HasText(card string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.texts[card]
	return ok
}

// TextContent returns the card memo's current value. The replicated text is
// created lazily if this is the first touch.
func (d *Doc) TextContent(card string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text(card).String()
}

// Cards lists the card IDs holding a replicated text.
func (d *Doc) Cards() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.texts))
	for card := range d.texts {
		out = append(out, card)
	}
	return out
}

type applyResult uint8

const (
	applyOK applyResult = iota
	applyDuplicate
	applyWait
)

func (d *Doc) tryApply(op Op) applyResult {
	have := uint64(len(d.logs[op.Peer]))
	if op.Seq <= have {
		return applyDuplicate
	}
	if op.Seq != have+1 {
		return applyWait
	}
	t := d.text(op.Card)
	switch op.Kind {
	case OpInsert:
		if !op.Origin.IsNil() && t.find(op.Origin) < 0 {
			return applyWait
		}
		runes := []rune(op.Ch)
		if len(runes) != 1 {
			// Malformed op: consume the seq slot so the peer's log keeps
			// advancing, but change nothing.
			d.logs[op.Peer] = append(d.logs[op.Peer], op)
			return applyOK
		}
		t.integrateInsert(op.ID(), op.Origin, runes[0])
	case OpDelete:
		if t.find(op.Target) < 0 {
			return applyWait
		}
		t.integrateDelete(op.Target)
	default:
		d.logs[op.Peer] = append(d.logs[op.Peer], op)
		return applyOK
	}
	d.logs[op.Peer] = append(d.logs[op.Peer], op)
	if op.Clock > d.clock {
		d.clock = op.Clock
	}
	return applyOK
}

func (d *Doc) nextOp(card string) Op {
	d.clock++
	return Op{
		Peer:  d.site,
		Seq:   uint64(len(d.logs[d.site])) + 1,
		Clock: d.clock,
		Card:  card,
	}
}

func (d *Doc) text(card string) *text {
	t, ok := d.texts[card]
	if !ok {
		t = &text{}
		d.texts[card] = t
	}
	return t
}
