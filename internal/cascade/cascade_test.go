package cascade

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionIDFormat(t *testing.T) {
	sess := Init("TASK-1", "a:x", "slice-1", "do the thing")
	require.True(t, strings.HasPrefix(sess.SessionID, "pls-"))
	require.Equal(t, PhaseScout, sess.Phase)
}

func TestHappyPathTransitionsToDone(t *testing.T) {
	sess := Init("TASK-1", "a:x", "slice-1", "objective")
	limits := DefaultLimits()

	sess, action, err := Advance(sess, EventScoutDispatched, "JOB-1", limits)
	require.NoError(t, err)
	require.Equal(t, ActionNone, action)
	require.Equal(t, []string{"JOB-1"}, sess.Lineage.ScoutJobIDs)
	require.Equal(t, 1, sess.TotalLLMCalls)

	sess, action, err = Advance(sess, EventScoutDone, "", limits)
	require.NoError(t, err)
	require.Equal(t, PhasePreValidate, sess.Phase)

	sess, action, err = Advance(sess, EventPreValidatePass, "", limits)
	require.NoError(t, err)
	require.Equal(t, ActionDispatchWriter, action)
	require.Equal(t, PhaseWriter, sess.Phase)

	sess, _, err = Advance(sess, EventWriterDispatched, "JOB-2", limits)
	require.NoError(t, err)
	require.Equal(t, []string{"JOB-2"}, sess.Lineage.WriterJobIDs)

	sess, action, err = Advance(sess, EventWriterDone, "", limits)
	require.NoError(t, err)
	require.Equal(t, ActionDispatchValidator, action)
	require.Equal(t, PhaseValidator, sess.Phase)

	sess, _, err = Advance(sess, EventValidatorDispatched, "JOB-3", limits)
	require.NoError(t, err)

	sess, action, err = Advance(sess, EventValidatorApprove, "", limits)
	require.NoError(t, err)
	require.Equal(t, ActionGateApply, action)
	require.Equal(t, PhaseGate, sess.Phase)

	sess, _, err = Advance(sess, EventGateApplyDone, "", limits)
	require.NoError(t, err)
	require.Equal(t, PhaseDone, sess.Phase)
	require.Equal(t, 3, sess.TotalLLMCalls)
}

func TestScoutRetryExhaustionFails(t *testing.T) {
	sess := Init("TASK-1", "a:x", "slice-1", "objective")
	limits := Limits{MaxScoutRetries: 1, MaxWriterRetries: 2}
	sess, _, _ = Advance(sess, EventScoutDispatched, "JOB-1", limits)
	sess, _, _ = Advance(sess, EventScoutDone, "", limits)

	sess, action, err := Advance(sess, EventPreValidateNeedMore, "", limits)
	require.NoError(t, err)
	require.Equal(t, ActionDispatchScout, action)
	require.Equal(t, PhaseScout, sess.Phase)
	require.Equal(t, 1, sess.ScoutRetries)

	sess, _, _ = Advance(sess, EventScoutDispatched, "JOB-2", limits)
	sess, _, _ = Advance(sess, EventScoutDone, "", limits)
	sess, action, err = Advance(sess, EventPreValidateNeedMore, "", limits)
	require.NoError(t, err)
	require.Equal(t, ActionNone, action)
	require.Equal(t, PhaseFailed, sess.Phase)
}

func TestWriterRejectRetriesThenFails(t *testing.T) {
	sess := Session{SessionID: "pls-x", Phase: PhaseValidator}
	limits := Limits{MaxScoutRetries: 2, MaxWriterRetries: 1}

	sess, action, err := Advance(sess, EventValidatorReject, "", limits)
	require.NoError(t, err)
	require.Equal(t, ActionDispatchWriter, action)
	require.Equal(t, PhaseWriter, sess.Phase)

	sess.Phase = PhaseValidator
	sess, action, err = Advance(sess, EventValidatorReject, "", limits)
	require.NoError(t, err)
	require.Equal(t, ActionNone, action)
	require.Equal(t, PhaseFailed, sess.Phase)
}

func TestAdvanceRejectsWrongPhase(t *testing.T) {
	sess := Init("TASK-1", "a:x", "slice-1", "objective")
	_, _, err := Advance(sess, EventWriterDone, "", DefaultLimits())
	require.Error(t, err)
	var wpe *WrongPhaseError
	require.ErrorAs(t, err, &wpe)
}

func TestRepairScoutPackDedupsClampsAndSynthesizes(t *testing.T) {
	pack := &ScoutContextPack{
		FormatVersion: 1,
		CodeRefs:      []CodeRef{{Path: "a.go"}, {Path: "a.go"}, {Path: "b.go"}},
		ChangeHints:   []ChangeHint{{Path: "src/foo.go"}, {Path: "a.go"}},
		Anchors:       []AnchorRef{{ID: "a:one", AnchorType: "primary", CodeRef: "a.go", Content: "x", LineCount: 3}},
	}
	result := RepairScoutPack(pack, 32)
	require.Equal(t, 1, result.DedupedRefs)
	require.Len(t, pack.CodeRefs, 2)
	require.Len(t, result.SynthesizedAnchors, 1)
	require.Len(t, pack.Anchors, 2)
	found := false
	for _, a := range pack.Anchors {
		if a.CodeRef == "src/foo.go" {
			found = true
			require.Equal(t, "structural", a.AnchorType)
			require.NotEmpty(t, a.Content)
			require.GreaterOrEqual(t, a.LineCount, 1)
		}
	}
	require.True(t, found)
}

func TestRepairScoutPackPromotesNonStructuralAnchorWhenStructuralAnchorsExistElsewhere(t *testing.T) {
	pack := &ScoutContextPack{
		FormatVersion: 1,
		ChangeHints:   []ChangeHint{{Path: "src/foo.go"}},
		Anchors: []AnchorRef{
			{ID: "a:elsewhere", AnchorType: "primary", CodeRef: "other.go", Content: "x", LineCount: 3},
			{ID: "a:loose", AnchorType: "component", CodeRef: "src/foo.go"},
		},
	}
	result := RepairScoutPack(pack, 32)
	require.Empty(t, result.SynthesizedAnchors)
	require.Equal(t, []string{"a:loose"}, result.PromotedAnchors)
	require.Len(t, pack.Anchors, 2)
	for _, a := range pack.Anchors {
		if a.ID == "a:loose" {
			require.Equal(t, "structural", a.AnchorType)
			require.NotEmpty(t, a.Content)
			require.GreaterOrEqual(t, a.LineCount, 1)
		}
	}
}

func TestRepairScoutPackClampsToMax(t *testing.T) {
	var refs []CodeRef
	for i := 0; i < 100; i++ {
		refs = append(refs, CodeRef{Path: "file" + strconv.Itoa(i) + ".go"})
	}
	pack := &ScoutContextPack{CodeRefs: refs}
	result := RepairScoutPack(pack, 200) // clamped internally to 64
	require.LessOrEqual(t, len(pack.CodeRefs), 64)
	require.Greater(t, result.ClampedRefs, 0)
}

func TestABVariantProfiles(t *testing.T) {
	weak := ABVariantProfile(VariantWeak)
	require.Equal(t, "standard", weak.ExecutorProfile)
	require.False(t, weak.CoverageTargetsTight)

	strong := ABVariantProfile(VariantStrong)
	require.Equal(t, "flagship", strong.ExecutorProfile)
	require.True(t, strong.CoverageTargetsTight)
}

func TestCompareVariantsPrefersFewerReopens(t *testing.T) {
	a := ValidatorReport{PlanFitScore: 0.5, ReworkCount: 2, Approved: false}
	b := ValidatorReport{PlanFitScore: 0.4, ReworkCount: 3, Approved: true}
	res := CompareVariants(a, b)
	require.Equal(t, DecisionPreferB, res.Decision)
}

func TestCompareVariantsInconclusiveWhenEqual(t *testing.T) {
	a := ValidatorReport{PlanFitScore: 0.5, ReworkCount: 2, Approved: true}
	b := ValidatorReport{PlanFitScore: 0.5, ReworkCount: 2, Approved: true}
	res := CompareVariants(a, b)
	require.Equal(t, DecisionInconclusive, res.Decision)
}
