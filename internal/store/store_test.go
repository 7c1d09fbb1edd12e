package store_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
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

func TestCreatePlanTaskStepRevisionStartsAtOne(t *testing.T) {
	s := openTestStore(t)
	plan, _, err := s.CreatePlan("ws1", "Ship v1", "", "", 0, "{}")
	require.NoError(t, err)
	require.Equal(t, int64(1), plan.Revision)

	task, _, err := s.CreateTask("ws1", plan.ID, "Implement feature", "", "", 0, "{}")
	require.NoError(t, err)
	require.Equal(t, int64(1), task.Revision)

	step, _, err := s.CreateStep("ws1", task.ID, "s:1", "do the thing", nil, nil, nil, nil, "{}")
	require.NoError(t, err)
	require.Equal(t, int64(1), step.Revision)
}

func TestEditTaskBumpsRevisionMonotonically(t *testing.T) {
	s := openTestStore(t)
	plan, _, err := s.CreatePlan("ws1", "Ship v1", "", "", 0, "{}")
	require.NoError(t, err)
	task, _, err := s.CreateTask("ws1", plan.ID, "Implement feature", "", "", 0, "{}")
	require.NoError(t, err)

	newTitle := "Implement feature v2"
	rev, _, err := s.EditTask("ws1", task.ID, nil, store.TaskEdit{Title: &newTitle}, "task_edited", "{}")
	require.NoError(t, err)
	require.Equal(t, int64(2), rev)

	newTitle2 := "Implement feature v3"
	rev2, _, err := s.EditTask("ws1", task.ID, nil, store.TaskEdit{Title: &newTitle2}, "task_edited", "{}")
	require.NoError(t, err)
	require.Equal(t, int64(3), rev2)
}

func TestEditTaskRejectsStaleExpectedRevision(t *testing.T) {
	s := openTestStore(t)
	plan, _, err := s.CreatePlan("ws1", "Ship v1", "", "", 0, "{}")
	require.NoError(t, err)
	task, _, err := s.CreateTask("ws1", plan.ID, "Implement feature", "", "", 0, "{}")
	require.NoError(t, err)

	stale := int64(99)
	newTitle := "won't land"
	_, _, err = s.EditTask("ws1", task.ID, &stale, store.TaskEdit{Title: &newTitle}, "task_edited", "{}")
	require.Error(t, err)
	se, ok := store.AsStoreError(err)
	require.True(t, ok)
	require.Equal(t, store.ErrRevisionMismatch, se.Code)
	require.Equal(t, int64(99), se.Expected)
	require.Equal(t, int64(1), se.Actual)
}

func TestEachMutationAppendsExactlyOneEvent(t *testing.T) {
	s := openTestStore(t)
	plan, _, err := s.CreatePlan("ws1", "Ship v1", "", "", 0, "{}")
	require.NoError(t, err)

	events, err := s.ListEvents("ws1", nil, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "plan_created", events[0].EventType)

	newTitle := "Ship v1.1"
	_, _, err = s.EditPlan("ws1", plan.ID, nil, store.PlanEdit{Title: &newTitle}, "plan_edited", "{}")
	require.NoError(t, err)

	events, err = s.ListEvents("ws1", nil, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "plan_edited", events[1].EventType)
}

func TestCreateTaskUnknownPlanIsUnknownID(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.CreateTask("ws1", "PLAN-999", "Implement feature", "", "", 0, "{}")
	require.Error(t, err)
	se, ok := store.AsStoreError(err)
	require.True(t, ok)
	require.Equal(t, store.ErrUnknownID, se.Code)
}

func TestCreateCardAloneWritesNoAnchorLinks(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.CreateAnchor("ws1", "a:core", "Core", "component", "", nil, nil, "", nil, "{}")
	require.NoError(t, err)

	card, _, err := s.CreateCard("ws1", "main", "doc1", "evidence", "ci green", "CMD: go test ./...", []string{"anchor:a:core"}, "{}", "{}")
	require.NoError(t, err)
	require.NotEmpty(t, card.ID)

	links, err := s.AnchorLinksForAnchor("ws1", "a:core")
	require.NoError(t, err)
	// card creation alone does not wire an anchor_link; that is
	// internal/anchor's responsibility (UpsertLinksForCardTx), not the
	// store's CreateCard. Confirms the store keeps that concern separate.
	require.Empty(t, links)
}

func TestDocEntriesSinceSeqIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	var lastSeq int64
	for i := 0; i < 3; i++ {
		entry, err := s.AppendDocEntry("ws1", "main", "notes", "note", "text", "{}", "entry")
		require.NoError(t, err)
		require.Greater(t, entry.Seq, lastSeq)
		lastSeq = entry.Seq
	}

	all, err := s.DocEntriesSince("ws1", "main", "notes", 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	fromMiddle, err := s.DocEntriesSince("ws1", "main", "notes", all[0].Seq, 10)
	require.NoError(t, err)
	require.Len(t, fromMiddle, 2)

	wantSeqs := []int64{all[1].Seq, all[2].Seq}
	gotSeqs := []int64{fromMiddle[0].Seq, fromMiddle[1].Seq}
	if diff := cmp.Diff(wantSeqs, gotSeqs); diff != "" {
		t.Errorf("seq ordering after cursor mismatch (-want +got):\n%s", diff)
	}
}

func TestClaimJobThenCompleteJobHappyPath(t *testing.T) {
	s := openTestStore(t)
	job, _, err := s.CreateJob("ws1", "run tests", "go test ./...", "builder", 0, "", "", "{}", "{}")
	require.NoError(t, err)
	require.Equal(t, "QUEUED", job.Status)

	claimed, ok, err := s.ClaimJob("ws1", "runner-1", job.CreatedAtMs+60000)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "RUNNING", claimed.Status)
	require.Equal(t, "runner-1", claimed.RunnerID)

	done, err := s.CompleteJob("ws1", job.ID, "runner-1", claimed.ClaimRevision, "DONE", "{}", "{}")
	require.NoError(t, err)
	require.Equal(t, "DONE", done.Status)
}

func TestClaimJobTwiceWithoutCompletionFindsNoWork(t *testing.T) {
	s := openTestStore(t)
	job, _, err := s.CreateJob("ws1", "run tests", "go test ./...", "builder", 0, "", "", "{}", "{}")
	require.NoError(t, err)

	_, ok, err := s.ClaimJob("ws1", "runner-1", job.CreatedAtMs+60000)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := s.ClaimJob("ws1", "runner-2", job.CreatedAtMs+60000)
	require.NoError(t, err)
	require.False(t, ok2)
}
