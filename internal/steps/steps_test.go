package steps

import (
	"testing"

	"github.com/stretchr/testify/require"

	"branchmind/internal/proof"
	"branchmind/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTaskWithSteps(t *testing.T, s *store.Store, n int) string {
	t.Helper()
	plan, _, err := s.CreatePlan("ws1", "Plan", "", "", 0, "{}")
	require.NoError(t, err)
	task, _, err := s.CreateTask("ws1", plan.ID, "Task", "", "", 0, "{}")
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, _, err := s.CreateStep("ws1", task.ID, stepPath(i), "step", nil, nil, nil, nil, "{}")
		require.NoError(t, err)
	}
	return task.ID
}

func stepPath(i int) string {
	return "s:" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}

func TestCloseStepRequiresProofByDefault(t *testing.T) {
	s := openTestStore(t)
	taskID := newTaskWithSteps(t, s, 1)

	_, err := CloseFirstOpenStep(s, "ws1", taskID, CloseStepRequest{})
	require.Error(t, err)
	serr, ok := store.AsStoreError(err)
	require.True(t, ok)
	require.Equal(t, "PROOF_REQUIRED", serr.Message)
}

func TestCloseStepSucceedsWithCMDAndLink(t *testing.T) {
	s := openTestStore(t)
	taskID := newTaskWithSteps(t, s, 1)

	in := proof.LinesInput([]string{"CMD: cargo test", "LINK: https://ci.example/run/1"})
	res, err := CloseFirstOpenStep(s, "ws1", taskID, CloseStepRequest{Proof: &in})
	require.NoError(t, err)
	require.Equal(t, "done", res.Step.Status)
	require.False(t, res.Weak)
	require.Len(t, res.ProofRefs, 2)
}

func TestCloseStepWeakLintWhenOnlyCMD(t *testing.T) {
	s := openTestStore(t)
	taskID := newTaskWithSteps(t, s, 1)

	in := proof.LinesInput([]string{"CMD: cargo test"})
	res, err := CloseFirstOpenStep(s, "ws1", taskID, CloseStepRequest{Proof: &in})
	require.NoError(t, err)
	require.Equal(t, "done", res.Step.Status)
	require.True(t, res.Weak)
}

func TestCloseStepPlaceholderDoesNotSatisfyGate(t *testing.T) {
	s := openTestStore(t)
	taskID := newTaskWithSteps(t, s, 1)

	in := proof.LinesInput([]string{"CMD: <fill command>", "LINK: <fill evidence>"})
	_, err := CloseFirstOpenStep(s, "ws1", taskID, CloseStepRequest{Proof: &in})
	require.Error(t, err)
	serr, ok := store.AsStoreError(err)
	require.True(t, ok)
	require.Equal(t, "PROOF_REQUIRED", serr.Message)
}

func TestCloseStepProofInNote(t *testing.T) {
	s := openTestStore(t)
	taskID := newTaskWithSteps(t, s, 1)

	res, err := CloseFirstOpenStep(s, "ws1", taskID, CloseStepRequest{
		Note: "CMD: cargo test\nLINK: https://ci.example/run/2",
	})
	require.NoError(t, err)
	require.Equal(t, "done", res.Step.Status)
	require.False(t, res.Weak)
}

func TestCloseStepSequenceAcrossMultipleSteps(t *testing.T) {
	s := openTestStore(t)
	taskID := newTaskWithSteps(t, s, 4)

	for i := 0; i < 3; i++ {
		in := proof.LinesInput([]string{"CMD: cargo test", "LINK: https://ci.example/run/1"})
		res, err := CloseFirstOpenStep(s, "ws1", taskID, CloseStepRequest{Proof: &in})
		require.NoError(t, err)
		require.Equal(t, "done", res.Step.Status)
	}

	_, err := CloseFirstOpenStep(s, "ws1", taskID, CloseStepRequest{})
	require.Error(t, err)
	serr, ok := store.AsStoreError(err)
	require.True(t, ok)
	require.Equal(t, "PROOF_REQUIRED", serr.Message)

	steps, err := s.ListStepsForTask("ws1", taskID)
	require.NoError(t, err)
	require.Equal(t, "open", steps[3].Status)

	in := proof.LinesInput([]string{"cargo test", "https://ci.example/run/1"})
	res, err := CloseFirstOpenStep(s, "ws1", taskID, CloseStepRequest{Proof: &in})
	require.NoError(t, err)
	require.Equal(t, "done", res.Step.Status)
}

func TestCloseStepExplicitCheckpointsMissingRequired(t *testing.T) {
	s := openTestStore(t)
	taskID := newTaskWithSteps(t, s, 1)

	in := proof.LinesInput([]string{"CMD: cargo test", "LINK: https://ci.example/run/1"})
	_, err := CloseFirstOpenStep(s, "ws1", taskID, CloseStepRequest{
		Proof: &in,
		Checkpoints: &CheckpointsArg{
			Mode:     CheckpointsExplicit,
			Explicit: map[proof.Axis]bool{proof.AxisCriteria: true},
		},
	})
	require.Error(t, err)
	serr, ok := store.AsStoreError(err)
	require.True(t, ok)
	require.Equal(t, "CHECKPOINTS_NOT_CONFIRMED", serr.Message)
}
