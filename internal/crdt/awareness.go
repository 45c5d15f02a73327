package crdt

import (
	"encoding/json"
	"sync"
)

// AwarenessEntry is one peer's ephemeral state update: cursor position,
// drag state, anything the client attaches. A nil State marks removal.
// Entries are versioned by a per-client clock; stale clocks are ignored, so
// redelivery is a no-op.
type AwarenessEntry struct {
	ClientID uint64          `json:"clientId"`
	Clock    uint64          `json:"clock"`
	State    json.RawMessage `json:"state,omitempty"`
}

// Removed reports whether the entry clears the client's state.
func (e AwarenessEntry) Removed() bool {
	return len(e.State) == 0 || string(e.State) == "null"
}

// Awareness tracks ephemeral per-peer metadata for one document. It is
// never persisted and is released with the document.
type Awareness struct {
	mu     sync.Mutex
	states map[uint64]AwarenessEntry
	clocks map[uint64]uint64
}

// NewAwareness returns an empty awareness map.
func NewAwareness() *Awareness {
	return &Awareness{
		states: make(map[uint64]AwarenessEntry),
		clocks: make(map[uint64]uint64),
	}
}

// Apply merges entries into the map and returns the ones that changed
// state, ready for rebroadcast. Entries at or below a client's known clock
// are ignored.
func (a *Awareness) Apply(entries []AwarenessEntry) []AwarenessEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var changed []AwarenessEntry
	for _, e := range entries {
		if known, ok := a.clocks[e.ClientID]; ok && e.Clock <= known {
			continue
		}
		a.clocks[e.ClientID] = e.Clock
		if e.Removed() {
			delete(a.states, e.ClientID)
		} else {
			a.states[e.ClientID] = e
		}
		changed = append(changed, e)
	}
	return changed
}

// Remove clears the given clients and returns the removal entries to
// broadcast. Clients without live state are skipped.
func (a *Awareness) Remove(clientIDs []uint64) []AwarenessEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var removed []AwarenessEntry
	for _, id := range clientIDs {
		if _, ok := a.states[id]; !ok {
			continue
		}
		delete(a.states, id)
		a.clocks[id]++
		removed = append(removed, AwarenessEntry{ClientID: id, Clock: a.clocks[id]})
	}
	return removed
}

// Snapshot returns every live entry, for the full-state send on connect.
func (a *Awareness) Snapshot() []AwarenessEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AwarenessEntry, 0, len(a.states))
	for _, e := range a.states {
		out = append(out, e)
	}
	return out
}

// Len returns the number of clients with live state.
func (a *Awareness) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.states)
}
