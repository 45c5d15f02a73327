package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neohum/achievement-criteria/internal/board"
	"github.com/neohum/achievement-criteria/internal/crdt"
)

func TestCommonAffixes(t *testing.T) {
	cases := []struct {
		name           string
		a, b           string
		prefix, suffix int
	}{
		{"identical", "hello", "hello", 5, 0},
		{"append", "hello", "hello!", 5, 0},
		{"prepend", "world", "hello world", 0, 5},
		{"middle edit", "aXb", "aYb", 1, 1},
		{"disjoint", "abc", "xyz", 0, 0},
		{"empty old", "", "new", 0, 0},
		{"overlap guard", "aa", "aaa", 2, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prefix, suffix := commonAffixes([]rune(tc.a), []rune(tc.b))
			assert.Equal(t, tc.prefix, prefix, "prefix")
			assert.Equal(t, tc.suffix, suffix, "suffix")
		})
	}
}

func TestSetMemoEmitsSpliceOps(t *testing.T) {
	var published []crdt.Op
	r := New(crdt.NewDoc("me"), func(ops []crdt.Op) { published = append(published, ops...) })

	r.SetMemo("c1", "hello")
	assert.Equal(t, "hello", r.Doc().TextContent("c1"))
	assert.Len(t, published, 5)

	published = nil
	r.SetMemo("c1", "hallo") // one rune replaced: delete + insert
	assert.Equal(t, "hallo", r.Doc().TextContent("c1"))
	assert.Len(t, published, 2)

	published = nil
	r.SetMemo("c1", "hallo") // no change, no ops
	assert.Empty(t, published)
}

func TestSetMemoOpsReplayOnPeerConverges(t *testing.T) {
	var published []crdt.Op
	r := New(crdt.NewDoc("me"), func(ops []crdt.Op) { published = append(published, ops...) })

	r.SetMemo("c1", "achievement")
	r.SetMemo("c1", "achievements!")
	r.SetMemo("c1", "goals!")

	peer := crdt.NewDoc("peer")
	peer.ApplyOps(published)
	assert.Equal(t, "goals!", peer.TextContent("c1"))
}

func TestApplyUpdatePrefersLiveTextOverSnapshotMemo(t *testing.T) {
	r := New(crdt.NewDoc("me"), nil)
	r.SetMemo("c1", "crdt text")

	merged := r.ApplyUpdate(board.Snapshot{Cards: []board.Card{
		{ID: "c1", Memo: "stale snapshot memo"},
		{ID: "c2", Memo: "untouched memo"},
	}})

	assert.Equal(t, "crdt text", merged.Cards[0].Memo)
	// No replicated text exists for c2; snapshot wins there.
	assert.Equal(t, "untouched memo", merged.Cards[1].Memo)
}

func TestApplyRemoteOpsRefreshesSnapshotMemo(t *testing.T) {
	r := New(crdt.NewDoc("me"), nil)
	r.ApplyUpdate(board.Snapshot{Cards: []board.Card{{ID: "c1", Memo: "old"}}})

	remote := crdt.NewDoc("peer")
	ops := remote.InsertText("c1", 0, "new text")

	changed := r.ApplyRemoteOps(ops)
	assert.Equal(t, []string{"c1"}, changed)
	assert.Equal(t, "new text", r.Snapshot().Cards[0].Memo)
}

func TestLocalOpsDoNotLoopBack(t *testing.T) {
	calls := 0
	r := New(crdt.NewDoc("me"), func([]crdt.Op) { calls++ })

	r.SetMemo("c1", "abc")
	require.Equal(t, 1, calls)

	// Feeding the reconciler remote ops from elsewhere must not trigger the
	// local publication hook.
	remote := crdt.NewDoc("peer")
	r.ApplyRemoteOps(remote.InsertText("c2", 0, "x"))
	assert.Equal(t, 1, calls)
}

func TestConcurrentMemoEditsConvergeAcrossReconcilers(t *testing.T) {
	var opsA, opsB []crdt.Op
	a := New(crdt.NewDoc("a"), func(ops []crdt.Op) { opsA = append(opsA, ops...) })
	b := New(crdt.NewDoc("b"), func(ops []crdt.Op) { opsB = append(opsB, ops...) })

	a.SetMemo("c1", "hello")
	b.SetMemo("c1", "world")

	a.ApplyRemoteOps(opsB)
	b.ApplyRemoteOps(opsA)

	require.Equal(t, a.Doc().TextContent("c1"), b.Doc().TextContent("c1"))
	assert.Contains(t, []string{"helloworld", "worldhello"}, a.Doc().TextContent("c1"))
}
