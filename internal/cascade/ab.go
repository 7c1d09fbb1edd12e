package cascade

import "fmt"

// VariantMode selects a validator-threshold profile for an A/B slice run.
type VariantMode string

const (
	VariantWeak   VariantMode = "weak"
	VariantStrong VariantMode = "strong"
)

// VariantProfile bundles the dispatch profile/thresholds for one arm of an
// A/B slice pipeline run.
type VariantProfile struct {
	ExecutorProfile     string // "standard" | "flagship"
	ValidatorStrictness string // "warn" | "strict"
	PlanFitThreshold    float64
	ReworkThreshold     float64
	CoverageTargetsTight bool
}

// ABVariantProfile implements `ab_variant_profile(mode)`: weak is
// standard/warn/0.80/0.70 with relaxed coverage targets; strong is
// flagship/strict/0.35/0.25 with tight coverage targets.
func ABVariantProfile(mode VariantMode) VariantProfile {
	if mode == VariantStrong {
		return VariantProfile{
			ExecutorProfile: "flagship", ValidatorStrictness: "strict",
			PlanFitThreshold: 0.35, ReworkThreshold: 0.25, CoverageTargetsTight: true,
		}
	}
	return VariantProfile{
		ExecutorProfile: "standard", ValidatorStrictness: "warn",
		PlanFitThreshold: 0.80, ReworkThreshold: 0.70, CoverageTargetsTight: false,
	}
}

// ObjectivePrefix returns the "[AB:A:<mode>]"/"[AB:B:<mode>]" tag a slice
// dispatch prepends to its scout objective so both variants preserve the
// canonical slice_id while differing only in objective/metadata.
func ObjectivePrefix(arm string, mode VariantMode) string {
	return fmt.Sprintf("[AB:%s:%s]", arm, mode)
}

// ValidatorReport is the subset of a validator job's findings the A/B
// comparison needs.
type ValidatorReport struct {
	PlanFitScore float64
	ReworkCount  int
	Approved     bool
}

// Decision is the outcome of comparing two validator reports.
type Decision string

const (
	DecisionPreferA     Decision = "prefer_a"
	DecisionPreferB     Decision = "prefer_b"
	DecisionInconclusive Decision = "inconclusive"
)

// ABResult is the computed delta + decision for a completed A/B slice run.
type ABResult struct {
	PlanFitDelta   float64 // b - a
	ReworkDelta    int     // b - a
	ReopenRateDelta int    // b - a, each report's reopen_rate is 1 if not approved else 0
	Decision       Decision
}

func reopenRate(r ValidatorReport) int {
	if r.Approved {
		return 0
	}
	return 1
}

// CompareVariants implements the decision rule: prefer the variant
// that is lexicographically smaller on (reopen_rate, -plan_fit, rework_count)
// i.e. fewer reopens wins first, then higher plan_fit, then fewer rework
// actions; equal on all three is inconclusive.
func CompareVariants(a, b ValidatorReport) ABResult {
	res := ABResult{
		PlanFitDelta:    b.PlanFitScore - a.PlanFitScore,
		ReworkDelta:     b.ReworkCount - a.ReworkCount,
		ReopenRateDelta: reopenRate(b) - reopenRate(a),
	}

	ra, rb := reopenRate(a), reopenRate(b)
	switch {
	case ra != rb:
		if ra < rb {
			res.Decision = DecisionPreferA
		} else {
			res.Decision = DecisionPreferB
		}
	case a.PlanFitScore != b.PlanFitScore:
		if a.PlanFitScore > b.PlanFitScore {
			res.Decision = DecisionPreferA
		} else {
			res.Decision = DecisionPreferB
		}
	case a.ReworkCount != b.ReworkCount:
		if a.ReworkCount < b.ReworkCount {
			res.Decision = DecisionPreferA
		} else {
			res.Decision = DecisionPreferB
		}
	default:
		res.Decision = DecisionInconclusive
	}
	return res
}
