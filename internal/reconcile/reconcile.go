// Package reconcile implements the client-side merge policy between the two
// synchronization channels. An inbound board snapshot is authoritative for
// card set, positions and edges, but for any card whose memo already has a
// live replicated text, the CRDT value wins: it resolves concurrent edits
// character by character, where the snapshot can only lose one side.
package reconcile

import (
	"sync"

	"github.com/neohum/achievement-criteria/internal/board"
	"github.com/neohum/achievement-criteria/internal/crdt"
)

// Reconciler arbitrates one board's state between the snapshot channel and
// the replicated-text document.
type Reconciler struct {
	mu       sync.Mutex
	doc      *crdt.Doc
	snapshot board.Snapshot

	// onLocalOps receives ops produced by local edits, for publication to
	// the text room. Remote ops never pass through it: local mutations flow
	// out through this hook and remote ones in through ApplyRemoteOps, so
	// neither side ever re-processes its own writes.
	onLocalOps func(ops []crdt.Op)
}

// New builds a reconciler around the given replica. onLocalOps may be nil.
func New(doc *crdt.Doc, onLocalOps func(ops []crdt.Op)) *Reconciler {
	return &Reconciler{doc: doc, onLocalOps: onLocalOps}
}

// Doc returns the underlying replica.
func (r *Reconciler) Doc() *crdt.Doc { return r.doc }

// Snapshot returns the current reconciled board state.
func (r *Reconciler) Snapshot() board.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot.Clone()
}

// ApplyUpdate merges an inbound snapshot. Cards with a live replicated text
// keep the CRDT memo; everything else is taken from the snapshot verbatim.
// The reconciled state is retained and returned.
func (r *Reconciler) ApplyUpdate(snap board.Snapshot) board.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := snap.Clone()
	for i := range merged.Cards {
		if r.doc.HasText(merged.Cards[i].ID) {
			merged.Cards[i].Memo = r.doc.TextContent(merged.Cards[i].ID)
		}
	}
	r.snapshot = merged
	return merged.Clone()
}

// ApplyRemoteOps folds a remote text delta into the replica and refreshes
// the affected memos in the reconciled snapshot. It returns the card IDs
// whose memo changed.
func (r *Reconciler) ApplyRemoteOps(ops []crdt.Op) []string {
	applied := r.doc.ApplyOps(ops)

	r.mu.Lock()
	defer r.mu.Unlock()
	touched := make(map[string]bool, 1)
	for _, op := range applied {
		touched[op.Card] = true
	}
	var changed []string
	for cardID := range touched {
		if c := r.snapshot.Card(cardID); c != nil {
			c.Memo = r.doc.TextContent(cardID)
		}
		changed = append(changed, cardID)
	}
	return changed
}

// SetMemo applies a local edit to a card's memo. The new value is diffed
// against the replicated text by common prefix and suffix and applied as a
// single delete+insert splice; the resulting ops go to onLocalOps only.
func (r *Reconciler) SetMemo(cardID, text string) {
	old := r.doc.TextContent(cardID)
	if old == text {
		return
	}
	prefix, suffix := commonAffixes([]rune(old), []rune(text))
	oldRunes := []rune(old)
	newRunes := []rune(text)
	deleteN := len(oldRunes) - prefix - suffix
	insert := string(newRunes[prefix : len(newRunes)-suffix])

	ops := r.doc.Splice(cardID, prefix, deleteN, insert)

	r.mu.Lock()
	if c := r.snapshot.Card(cardID); c != nil {
		c.Memo = text
	}
	r.mu.Unlock()

	if r.onLocalOps != nil && len(ops) > 0 {
		r.onLocalOps(ops)
	}
}

// commonAffixes returns the lengths of the longest common prefix and suffix
// of a and b, with the regions guaranteed not to overlap.
func commonAffixes(a, b []rune) (prefix, suffix int) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for prefix < n && a[prefix] == b[prefix] {
		prefix++
	}
	for suffix < n-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	return prefix, suffix
}
