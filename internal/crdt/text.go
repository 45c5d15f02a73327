package crdt

// text is one card memo's replicated character sequence. Nodes are kept in
// document order, tombstones included; deleted characters stay addressable
// so concurrent inserts anchored on them still integrate.
//
// Not safe for concurrent use on its own; the owning Doc serializes access.
type text struct {
	nodes []textNode
}

type textNode struct {
	id      ID
	ch      rune
	deleted bool
}

func (t *text) find(id ID) int {
	for i := range t.nodes {
		if t.nodes[i].id == id {
			return i
		}
	}
	return -1
}

// integrateInsert places the new node after its origin, skipping past any
// nodes with a greater ID. With Lamport clocks a skipped node's causal
// descendants also carry greater IDs, so the skip range is contiguous and
// every replica picks the same slot.
func (t *text) integrateInsert(id, origin ID, ch rune) {
	i := 0
	if !origin.IsNil() {
		oi := t.find(origin)
		if oi < 0 {
			// Caller guarantees the origin is present.
			return
		}
		i = oi + 1
	}
	for i < len(t.nodes) && id.Less(t.nodes[i].id) {
		i++
	}
	t.nodes = append(t.nodes, textNode{})
	copy(t.nodes[i+1:], t.nodes[i:])
	t.nodes[i] = textNode{id: id, ch: ch}
}

// integrateDelete tombstones the target. Deleting a tombstone is a no-op,
// which makes duplicate delivery harmless.
func (t *text) integrateDelete(target ID) {
	if i := t.find(target); i >= 0 {
		t.nodes[i].deleted = true
	}
}

// originAt returns the ID of the visible rune to the left of the given rune
// index, or the head sentinel for index 0.
func (t *text) originAt(index int) ID {
	if index <= 0 {
		return ID{}
	}
	seen := 0
	for i := range t.nodes {
		if t.nodes[i].deleted {
			continue
		}
		seen++
		if seen == index {
			return t.nodes[i].id
		}
	}
	// Index past the end anchors on the last visible rune.
	for i := len(t.nodes) - 1; i >= 0; i-- {
		if !t.nodes[i].deleted {
			return t.nodes[i].id
		}
	}
	return ID{}
}

// visibleRange returns the IDs of n visible runes starting at index.
func (t *text) visibleRange(index, n int) []ID {
	var out []ID
	seen := 0
	for i := range t.nodes {
		if t.nodes[i].deleted {
			continue
		}
		if seen >= index && len(out) < n {
			out = append(out, t.nodes[i].id)
		}
		seen++
		if len(out) == n {
			break
		}
	}
	return out
}

func (t *text) String() string {
	runes := make([]rune, 0, len(t.nodes))
	for i := range t.nodes {
		if !t.nodes[i].deleted {
			runes = append(runes, t.nodes[i].ch)
		}
	}
	return string(runes)
}
