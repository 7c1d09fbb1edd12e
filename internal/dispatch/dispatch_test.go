package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"branchmind/internal/cascade"
	"branchmind/internal/config"
	"branchmind/internal/store"
	"branchmind/internal/tools"
)

var testBigTool = tools.Tool{
	Name:     "big.echo",
	Category: tools.CategoryCore,
	Execute: func(ctx context.Context, args map[string]any) (any, error) {
		return strings.Repeat("x", 100), nil
	},
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cfg := config.DefaultConfig()
	return New(openTestStore(t), cfg)
}

func TestParseFenceVerbAndArgs(t *testing.T) {
	cmd, err := ParseFence(`close_step task_id=TASK-1 note="looks good"`)
	require.NoError(t, err)
	require.Equal(t, "close_step", cmd.Verb)
	require.Equal(t, "TASK-1", cmd.Args["task_id"])
	require.Equal(t, "looks good", cmd.Args["note"])
}

func TestParseFenceMultiLineBodyBecomesImplicitArg(t *testing.T) {
	cmd, err := ParseFence("publish doc=main type=evidence\nCMD: go test ./...\nexit 0")
	require.NoError(t, err)
	require.Equal(t, "publish", cmd.Verb)
	require.Equal(t, "CMD: go test ./...\nexit 0", cmd.Args["body"])
}

func TestParseFenceDuplicateKeyIsInvalidInput(t *testing.T) {
	_, err := ParseFence(`note title=a title=b`)
	require.Error(t, err)
	de, ok := err.(*dispatchError)
	require.True(t, ok)
	require.Equal(t, ErrInvalidInput, de.Code)
}

func TestParseFenceMalformedArg(t *testing.T) {
	_, err := ParseFence(`note notkv`)
	require.Error(t, err)
}

func TestExtractFencesFindsAllBlocks(t *testing.T) {
	md := "intro\n```bm\nstatus\n```\nmore text\n```bm\nsnapshot task_id=TASK-1\n```\n"
	fences := ExtractFences(md)
	require.Len(t, fences, 2)
	require.Contains(t, fences[0], "status")
	require.Contains(t, fences[1], "snapshot")
}

func TestMapErrorTranslatesSentinelMessages(t *testing.T) {
	err := &store.Error{Code: store.ErrPreconditionFailed, Message: "PROOF_REQUIRED"}
	ce := mapError(err)
	require.Equal(t, ErrProofRequired, ce.Code)

	err2 := &store.Error{Code: store.ErrPreconditionFailed, Message: "no open step on task X"}
	ce2 := mapError(err2)
	require.Equal(t, ErrPreconditionFailed, ce2.Code)
}

func TestMapErrorProjectGuard(t *testing.T) {
	err := &store.Error{Code: store.ErrProjectGuard, Message: "mismatch"}
	ce := mapError(err)
	require.Equal(t, ErrProjectGuardMismatch, ce.Code)
	require.NotEmpty(t, ce.Fix)
}

func TestDispatchUnknownToolProducesEnvelope(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.Dispatch(context.Background(), Request{Tool: "status", Cmd: "nope.verb", Workspace: "ws1"})
	require.False(t, env.Success)
	require.Equal(t, ErrUnknownTool, env.Error.Code)
}

func TestDispatchStatusSucceeds(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.Dispatch(context.Background(), Request{Tool: "status", Workspace: "ws1"})
	require.True(t, env.Success)
	require.Nil(t, env.Error)
}

func TestDispatchProjectGuardRejectsMismatch(t *testing.T) {
	d := newTestDispatcher(t)
	d.Config.ProjectGuard = "ws1"
	env := d.Dispatch(context.Background(), Request{Tool: "status", Workspace: "ws2"})
	require.False(t, env.Success)
	require.Equal(t, ErrProjectGuardMismatch, env.Error.Code)
}

func TestDispatchTasksPlanCreatesPlan(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.Dispatch(context.Background(), Request{Tool: "tasks.plan", Workspace: "ws1", Args: map[string]any{"title": "Ship v1"}})
	require.True(t, env.Success)
	plan, ok := env.Result.(store.Plan)
	require.True(t, ok)
	require.Equal(t, "Ship v1", plan.Title)
}

func TestDispatchCascadeInitAndAdvance(t *testing.T) {
	d := newTestDispatcher(t)

	initEnv := d.Dispatch(context.Background(), Request{Tool: "cascade.init", Workspace: "ws1", Args: map[string]any{
		"task_id": "TASK-1", "anchor_id": "a:x", "slice_id": "SLC-1", "objective": "do the thing",
	}})
	require.True(t, initEnv.Success)
	initResult, ok := initEnv.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "scout", initResult["phase"])

	scoutDispatch, ok := initResult["scout_dispatch"].(map[string]any)
	require.True(t, ok)
	resultMap, ok := scoutDispatch["result"].(map[string]any)
	require.True(t, ok)
	job, ok := resultMap["job"].(store.Job)
	require.True(t, ok)
	require.NotEmpty(t, job.ID)

	session := initResult["session"]

	advanceEnv := d.Dispatch(context.Background(), Request{Tool: "cascade.advance", Workspace: "ws1", Args: map[string]any{
		"session": session, "event": "scout_done", "job_id": job.ID,
	}})
	require.True(t, advanceEnv.Success)
	advanceResult, ok := advanceEnv.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "pre_validate", advanceResult["phase"])
}

func TestDispatchJobsPipelineABSliceDispatchesBothArms(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.Dispatch(context.Background(), Request{Tool: "jobs.pipeline.ab.slice", Workspace: "ws1", Args: map[string]any{
		"task_id": "TASK-1", "anchor_id": "a:x", "slice_id": "SLC-1", "objective": "try two ways",
	}})
	require.True(t, env.Success)
	result, ok := env.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "SLC-1", result["slice_id"])

	a, ok := result["variant_a"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "weak", a["mode"])
	b, ok := result["variant_b"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "strong", b["mode"])
}

func TestDispatchJobsPipelineABComparePrefersFewerReopens(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.Dispatch(context.Background(), Request{Tool: "jobs.pipeline.ab.compare", Workspace: "ws1", Args: map[string]any{
		"variant_a": map[string]any{"plan_fit_score": 0.5, "rework_count": float64(2), "approved": false},
		"variant_b": map[string]any{"plan_fit_score": 0.8, "rework_count": float64(0), "approved": true},
	}})
	require.True(t, env.Success)
	result, ok := env.Result.(cascade.ABResult)
	require.True(t, ok)
	require.Equal(t, cascade.DecisionPreferB, result.Decision)
}

func TestDispatchKnowledgeLintReturnsEmptyForUnknownAnchors(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.Dispatch(context.Background(), Request{Tool: "knowledge.lint", Workspace: "ws1", Args: map[string]any{
		"anchor_ids": []any{"a:nope"},
	}})
	require.True(t, env.Success)
	result, ok := env.Result.(map[string]any)
	require.True(t, ok)
	require.Empty(t, result["issues"])
}

func TestDispatchBudgetTruncatesAndWarns(t *testing.T) {
	d := newTestDispatcher(t)
	d.Registry.MustRegister(&testBigTool)
	env := d.Dispatch(context.Background(), Request{Tool: "big.echo", Workspace: "ws1", MaxChars: 10})
	require.True(t, env.Success)
	require.Len(t, env.Warnings, 1)
	require.Equal(t, WarnBudgetTruncated, env.Warnings[0].Code)
}
