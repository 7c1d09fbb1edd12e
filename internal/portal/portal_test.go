package portal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"branchmind/internal/proof"
)

func TestRenderErrorWithFix(t *testing.T) {
	line := RenderError("PROOF_REQUIRED", "step needs a tests receipt", "attach CMD:<cmd>")
	require.Equal(t, "ERROR: PROOF_REQUIRED step needs a tests receipt | fix: attach CMD:<cmd>", line)
}

func TestRenderErrorNoFix(t *testing.T) {
	line := RenderError("UNKNOWN_ID", "no such task TASK-9", "")
	require.Equal(t, "ERROR: UNKNOWN_ID no such task TASK-9", line)
}

func TestRenderStatusLine(t *testing.T) {
	require.Equal(t, "ready checkout=main | version=1.2.0", RenderStatusLine("main", "1.2.0"))
}

func TestRenderFocusLineDone(t *testing.T) {
	require.Equal(t, "focus TASK-1 — ship it | done", RenderFocusLine("TASK-1", "ship it", nil, nil))
}

func TestRenderFocusLineWithNext(t *testing.T) {
	next := &NextAction{Tool: "tasks", Cmd: "tasks.plan"}
	line := RenderFocusLine("PLAN-1", "rollout", next, nil)
	require.Equal(t, "focus PLAN-1 — rollout | next tasks op=call cmd=tasks.plan", line)
}

func TestRenderActionLineSortsKeysAndQuotesValues(t *testing.T) {
	line := RenderActionLine("tasks", "tasks.macro.start", map[string]interface{}{
		"task_title":    "fix the login bug",
		"plan_template": "default",
		"omit_me":       nil,
	})
	require.Equal(t, `tasks op=call cmd=tasks.macro.start plan_template=default task_title="fix the login bug"`, line)
}

func TestRenderActionLineBareIdentifierTokens(t *testing.T) {
	line := RenderActionLine("tasks", "tasks.snapshot", map[string]interface{}{"id": "TASK-1.2"})
	require.Equal(t, "tasks op=call cmd=tasks.snapshot id=TASK-1.2", line)
}

func TestRenderCursorLineOmittedWhenEmpty(t *testing.T) {
	require.Equal(t, "MORE:", RenderCursorLine(nil, nil, nil))
}

func TestRenderCursorLineWithValues(t *testing.T) {
	n, tr := int64(5), int64(9)
	require.Equal(t, "MORE: notes_cursor=5 trace_cursor=9", RenderCursorLine(&n, &tr, nil))
}

func TestAvailableToolsByToolset(t *testing.T) {
	require.ElementsMatch(t, []string{"status", "tasks.macro.start", "tasks.snapshot"}, AvailableTools(ToolsetCore))
	daily := AvailableTools(ToolsetDaily)
	require.Contains(t, daily, "tasks.macro.close.step")
	require.NotContains(t, daily, "tasks.plan.decompose")
	full := AvailableTools(ToolsetFull)
	require.Contains(t, full, "tasks.plan.decompose")
	require.Contains(t, full, "think.watch")
}

func TestEscalationForHiddenTool(t *testing.T) {
	esc := EscalationFor("tasks.plan.decompose", ToolsetCore)
	require.NotNil(t, esc)
	require.True(t, esc.Required)
	require.Equal(t, ToolsetFull, esc.Toolset)
}

func TestEscalationForAvailableTool(t *testing.T) {
	require.Nil(t, EscalationFor("status", ToolsetCore))
}

func TestSelectNextActionNoFocus(t *testing.T) {
	next := SelectNextAction(CapsuleInput{Focus: FocusNone})
	require.Equal(t, "tasks.macro.start", next.Cmd)
}

func TestSelectNextActionTaskNoSteps(t *testing.T) {
	next := SelectNextAction(CapsuleInput{Focus: FocusTask, TaskStatus: "ACTIVE", TaskHasSteps: false})
	require.Equal(t, "tasks.plan.decompose", next.Cmd)
}

func TestSelectNextActionTaskOpenStepsWithMissingProof(t *testing.T) {
	next := SelectNextAction(CapsuleInput{
		Focus: FocusTask, TaskStatus: "ACTIVE", TaskHasSteps: true, TaskHasOpenSteps: true,
		MissingCheckpointAxes:    []proof.Axis{proof.AxisCriteria},
		MissingRequiredProofAxes: []proof.Axis{proof.AxisTests},
	})
	require.Equal(t, "tasks.macro.close.step", next.Cmd)
	require.Equal(t, []string{"criteria"}, next.Args["checkpoints"])
	proofArgs := next.Args["proof"].(map[string]interface{})
	require.Equal(t, "CMD:<fill command>", proofArgs["tests"])
}

func TestSelectNextActionTaskNoOpenStepsNotDone(t *testing.T) {
	next := SelectNextAction(CapsuleInput{Focus: FocusTask, TaskStatus: "ACTIVE", TaskHasSteps: true, TaskHasOpenSteps: false})
	require.Equal(t, "tasks.macro.close.step", next.Cmd)
	require.Equal(t, true, next.Args["finish_task"])
}

func TestSelectNextActionTaskDoneHasNoAction(t *testing.T) {
	next := SelectNextAction(CapsuleInput{Focus: FocusTask, TaskStatus: "DONE"})
	require.Nil(t, next)
}

func TestSnapshotLinesIncludesEscalationForHiddenTool(t *testing.T) {
	lines := SnapshotLines(CapsuleInput{Focus: FocusTask, TaskStatus: "ACTIVE", TaskHasSteps: false}, ToolsetCore, nil, nil, nil)
	require.Equal(t, "tools/list toolset=full", lines[0])
}

func TestSnapshotLinesTwoLineBudget(t *testing.T) {
	lines := SnapshotLines(CapsuleInput{Focus: FocusPlan, FocusID: "PLAN-1", FocusTitle: "rollout"}, ToolsetFull, nil, nil, nil)
	require.Len(t, lines, 2)
}

func TestSnapshotLinesAppendsCursorOnlyWithNextAction(t *testing.T) {
	n := int64(3)
	lines := SnapshotLines(CapsuleInput{Focus: FocusTask, TaskStatus: "DONE"}, ToolsetFull, &n, nil, nil)
	for _, l := range lines {
		require.NotContains(t, l, "MORE:")
	}
}
