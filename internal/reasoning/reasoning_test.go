package reasoning

import (
	"testing"

	"github.com/stretchr/testify/require"

	"branchmind/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCard(t *testing.T, s *store.Store, ws, branch, doc, cardType, title, text string, tags []string) store.Card {
	t.Helper()
	c, _, err := s.CreateCard(ws, branch, doc, cardType, title, text, tags, "{}", "{}")
	require.NoError(t, err)
	return c
}

func TestConfidenceEvidenceScoreFromReceipts(t *testing.T) {
	s := openTestStore(t)
	ev := mustCard(t, s, "ws", "main", "think", "evidence",
		"ran suite", "cargo test\nhttps://ci.example/run/1", []string{"pinned"})
	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	require.Equal(t, 0.5, Confidence(g, ev.ID, 2))
}

func TestConfidenceDecisionWeightedBySupports(t *testing.T) {
	s := openTestStore(t)
	dec := mustCard(t, s, "ws", "main", "think", "decision", "go with plan A", "", []string{"pinned"})
	ev := mustCard(t, s, "ws", "main", "think", "evidence", "benchmark", "cargo test\nhttps://ci.example/run/1", nil)
	require.NoError(t, s.AddCardEdge("ws", "main", "think", ev.ID, "supports", dec.ID))

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	conf := Confidence(g, dec.ID, 2)
	require.Greater(t, conf, 0.5)
}

func TestConfidenceCycleBreaksAtHalf(t *testing.T) {
	s := openTestStore(t)
	a := mustCard(t, s, "ws", "main", "think", "hypothesis", "a", "", nil)
	b := mustCard(t, s, "ws", "main", "think", "hypothesis", "b", "", nil)
	require.NoError(t, s.AddCardEdge("ws", "main", "think", a.ID, "supports", b.ID))
	require.NoError(t, s.AddCardEdge("ws", "main", "think", b.ID, "supports", a.ID))

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	conf := Confidence(g, a.ID, 2)
	require.GreaterOrEqual(t, conf, 0.0)
	require.LessOrEqual(t, conf, 1.0)
}

func TestBM1Contradiction(t *testing.T) {
	s := openTestStore(t)
	dec := mustCard(t, s, "ws", "main", "think", "decision", "pick X", "", []string{"pinned"})
	a := mustCard(t, s, "ws", "main", "think", "evidence", "for", "cargo test\nhttps://x", nil)
	b := mustCard(t, s, "ws", "main", "think", "evidence", "against", "cargo test\nhttps://y", nil)
	require.NoError(t, s.AddCardEdge("ws", "main", "think", a.ID, "supports", dec.ID))
	require.NoError(t, s.AddCardEdge("ws", "main", "think", b.ID, "blocks", dec.ID))

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	res := Watch(g, Focus{}, Limits{})
	require.Condition(t, func() bool {
		for _, sig := range res.Signals {
			if sig.Code == "BM1" && sig.CardID == dec.ID {
				return true
			}
		}
		return false
	})
}

func TestBM2WeakEvidence(t *testing.T) {
	s := openTestStore(t)
	mustCard(t, s, "ws", "main", "think", "evidence", "ran it", "trust me it works", []string{"pinned"})

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	res := Watch(g, Focus{}, Limits{})
	require.Len(t, res.Signals, 1)
	require.Equal(t, "BM2", res.Signals[0].Code)
}

func TestBM4HypothesisWithoutTest(t *testing.T) {
	s := openTestStore(t)
	mustCard(t, s, "ws", "main", "think", "hypothesis", "maybe caching helps", "", nil)

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	res := Watch(g, Focus{}, Limits{})
	found := false
	for _, a := range res.Actions {
		if a.Kind == "add_test_stub" {
			found = true
		}
	}
	require.True(t, found)
}

func TestBM9TradeoffFraming(t *testing.T) {
	s := openTestStore(t)
	mustCard(t, s, "ws", "main", "think", "question", "postgres vs sqlite?", "", nil)

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	res := Watch(g, Focus{}, Limits{})
	found := false
	for _, sig := range res.Signals {
		if sig.Code == "BM9" {
			found = true
		}
	}
	require.True(t, found)
}

func TestLaneDecisionNotPublished(t *testing.T) {
	s := openTestStore(t)
	mustCard(t, s, "ws", "main", "think", "decision", "local call", "", []string{"lane:a:agent-1"})

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	res := Watch(g, Focus{}, Limits{})
	found := false
	for _, a := range res.Actions {
		if a.Kind == "publish_decision" {
			found = true
		}
	}
	require.True(t, found)
}

func TestWatchLimitsTruncateAfterSort(t *testing.T) {
	s := openTestStore(t)
	mustCard(t, s, "ws", "main", "think", "evidence", "e1", "no receipts", []string{"pinned"})
	mustCard(t, s, "ws", "main", "think", "evidence", "e2", "no receipts either", []string{"pinned"})

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	res := Watch(g, Focus{}, Limits{Signals: 1})
	require.Len(t, res.Signals, 1)
}

func TestFocusScopesToStepMeta(t *testing.T) {
	s := openTestStore(t)
	c1, _, err := s.CreateCard("ws", "main", "think", "hypothesis", "in scope", "", nil,
		`{"step":{"task_id":"TASK-1","step_id":"TASK-1.1","path":"TASK-1.1"}}`, "{}")
	require.NoError(t, err)
	_, _, err = s.CreateCard("ws", "main", "think", "hypothesis", "out of scope", "", nil, "{}", "{}")
	require.NoError(t, err)

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	res := Watch(g, Focus{TaskID: "TASK-1"}, Limits{})
	for _, a := range res.Actions {
		require.Equal(t, c1.ID, a.CardID)
	}
}

func TestBuildGraphSnapshotIncludesAnchorsAndCardEdges(t *testing.T) {
	s := openTestStore(t)
	anchor, _, err := s.CreateAnchor("ws", "a:svc", "service", "component", "", nil, nil, "", nil, "{}")
	require.NoError(t, err)
	c1 := mustCard(t, s, "ws", "main", "think", "hypothesis", "h1", "", nil)
	c2 := mustCard(t, s, "ws", "main", "think", "test", "t1", "", nil)
	require.NoError(t, s.AddCardEdge("ws", "main", "think", c1.ID, "supports", c2.ID))

	g, err := LoadGraph(s, "ws", "main", "think")
	require.NoError(t, err)
	snap := BuildGraphSnapshot(g, []store.Anchor{anchor})

	require.Len(t, snap.Nodes, 3)
	foundEdge := false
	for _, e := range snap.Edges {
		if e.From == c1.ID && e.To == c2.ID && e.Kind == "supports" {
			foundEdge = true
		}
	}
	require.True(t, foundEdge)
}
