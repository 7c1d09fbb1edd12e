package anchor

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"branchmind/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNormalizeRepoRel(t *testing.T) {
	require.Equal(t, "a/b/c.go", NormalizeRepoRel("/A/B/C.go"))
	require.Equal(t, ".", NormalizeRepoRel(""))
	require.Equal(t, "a/b", NormalizeRepoRel("a/../a/b"))
}

func TestPathPrefixes(t *testing.T) {
	got := PathPrefixes("a/b/c.go")
	require.Equal(t, []string{"a/b/c.go", "a/b", "a", "."}, got)
}

func TestUpsertCreateThenMergeIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	in := UpsertInput{ID: "a:core-engine", Title: "Core Engine", Refs: []string{"path:internal/core"}}
	a1, created, err := Upsert(s, "ws1", in, "{}")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "a:core-engine", a1.ID)

	a2, created2, err := Upsert(s, "ws1", in, "{}")
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, a1.Revision, a2.Revision)
	require.Equal(t, []string{"path:internal/core"}, a2.Refs)
}

func TestUpsertMergesRefsDeduped(t *testing.T) {
	s := openTestStore(t)
	_, _, err := Upsert(s, "ws1", UpsertInput{ID: "a:core-engine", Title: "x", Refs: []string{"path:a"}}, "{}")
	require.NoError(t, err)
	a, _, err := Upsert(s, "ws1", UpsertInput{ID: "a:core-engine", Refs: []string{"path:a", "path:b"}}, "{}")
	require.NoError(t, err)
	require.Equal(t, []string{"path:a", "path:b"}, a.Refs)
}

func TestIsCanonicalCard(t *testing.T) {
	require.True(t, IsCanonicalCard("decision", nil))
	require.True(t, IsCanonicalCard("note", []string{"pinned"}))
	require.True(t, IsCanonicalCard("note", []string{"v:canon"}))
	require.False(t, IsCanonicalCard("note", []string{"lane:shared"}))
}

func TestUpsertLinksForCardTxAutoregisters(t *testing.T) {
	s := openTestStore(t)
	card, _, err := s.CreateCard("ws1", "main", "graph1", "decision", "Use X", "body", []string{"a:new-area"}, "{}", "{}")
	require.NoError(t, err)

	var resolved []string
	err = s.WithTx(func(tx *sql.Tx) error {
		var txErr error
		resolved, txErr = UpsertLinksForCardTx(tx, s, "ws1", card.ID, card.Type, card.Tags, "main", "graph1", 1000)
		return txErr
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a:new-area"}, resolved)

	got, err := s.GetAnchor("ws1", "a:new-area")
	require.NoError(t, err)
	require.Equal(t, "component", got.Kind)

	links, err := s.AnchorLinksForAnchor("ws1", "a:new-area")
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, card.ID, links[0].CardID)
}

func TestUpsertLinksForCardTxRemovesStaleLinks(t *testing.T) {
	s := openTestStore(t)
	card, _, err := s.CreateCard("ws1", "main", "graph1", "decision", "Use X", "body", []string{"a:area-one"}, "{}", "{}")
	require.NoError(t, err)

	err = s.WithTx(func(tx *sql.Tx) error {
		_, txErr := UpsertLinksForCardTx(tx, s, "ws1", card.ID, card.Type, card.Tags, "main", "graph1", 1000)
		return txErr
	})
	require.NoError(t, err)

	// re-tag the card to drop a:area-one in favor of a:area-two
	err = s.WithTx(func(tx *sql.Tx) error {
		_, txErr := UpsertLinksForCardTx(tx, s, "ws1", card.ID, card.Type, []string{"a:area-two"}, "main", "graph1", 2000)
		return txErr
	})
	require.NoError(t, err)

	oldLinks, err := s.AnchorLinksForAnchor("ws1", "a:area-one")
	require.NoError(t, err)
	require.Empty(t, oldLinks)

	newLinks, err := s.AnchorLinksForAnchor("ws1", "a:area-two")
	require.NoError(t, err)
	require.Len(t, newLinks, 1)
}

func TestPlanAnchorsCoverage(t *testing.T) {
	s := openTestStore(t)
	plan, _, err := s.CreatePlan("ws1", "Plan A", "", "", 0, "{}")
	require.NoError(t, err)
	task1, _, err := s.CreateTask("ws1", plan.ID, "Task 1", "", "", 0, "{}")
	require.NoError(t, err)
	task2, _, err := s.CreateTask("ws1", plan.ID, "Task 2", "", "", 0, "{}")
	require.NoError(t, err)

	active := "ACTIVE"
	_, _, err = s.EditTask("ws1", task1.ID, nil, store.TaskEdit{Status: &active}, "task_edited", "{}")
	require.NoError(t, err)
	_, _, err = s.EditTask("ws1", task2.ID, nil, store.TaskEdit{Status: &active}, "task_edited", "{}")
	require.NoError(t, err)

	card, _, err := s.CreateCard("ws1", TaskBranch(task1.ID), "trace", "decision", "decide", "", []string{"a:area-x"}, "{}", "{}")
	require.NoError(t, err)
	err = s.WithTx(func(tx *sql.Tx) error {
		_, txErr := UpsertLinksForCardTx(tx, s, "ws1", card.ID, card.Type, card.Tags, TaskBranch(task1.ID), "trace", 5000)
		return txErr
	})
	require.NoError(t, err)

	cov, err := PlanAnchorsCoverage(s, "ws1", plan.ID, 5)
	require.NoError(t, err)
	require.Equal(t, 2, cov.ActiveTotal)
	require.Equal(t, 1, cov.ActiveMissingAnchor)
	require.Len(t, cov.TopAnchors, 1)
	require.Equal(t, "a:area-x", cov.TopAnchors[0].AnchorID)
}
