package cascade

import (
	"fmt"
	"path"
	"strings"

	"branchmind/internal/logging"
)

// CodeRef is one code_refs[] entry of a scout_context_pack.
type CodeRef struct {
	Path string `json:"path"`
}

// ChangeHint is one change_hints[] entry.
type ChangeHint struct {
	Path string `json:"path"`
}

// AnchorRef is one anchors[] entry of a scout_context_pack.
type AnchorRef struct {
	ID         string `json:"id"`
	AnchorType string `json:"anchor_type"`
	CodeRef    string `json:"code_ref"`
	Rationale  string `json:"rationale,omitempty"`
	Content    string `json:"content"`
	LineCount  int    `json:"line_count"`
	MetaHint   string `json:"meta_hint,omitempty"`
}

// ScoutContextPack is the artifact shape.
type ScoutContextPack struct {
	FormatVersion      int          `json:"format_version"`
	Objective          string       `json:"objective"`
	Scope              string       `json:"scope"`
	CodeRefs           []CodeRef    `json:"code_refs"`
	ChangeHints        []ChangeHint `json:"change_hints"`
	Anchors            []AnchorRef  `json:"anchors"`
	TestHints          []string     `json:"test_hints"`
	RiskMap            []string     `json:"risk_map"`
	OpenQuestions      []string     `json:"open_questions"`
	SummaryForBuilder  string       `json:"summary_for_builder"`
	NestedScoutContextPack *ScoutContextPack `json:"scout_context_pack,omitempty"`
}

// RepairResult reports what RepairScoutPack changed, for logging/audit.
type RepairResult struct {
	DedupedRefs       int
	ClampedRefs       int
	PromotedAnchors   []string
	SynthesizedAnchors []string
}

func clampMaxContextRefs(n int) int {
	if n < 8 {
		return 8
	}
	if n > 64 {
		return 64
	}
	return n
}

// RepairScoutPack applies persistence-time repair: code_refs
// dedup/clamp, and anchor coverage auto-repair for every change_hints[]
// path not covered by a matching anchors[].code_ref. It mutates pack in
// place (recursing into a nested scout_context_pack, if any) and returns a
// RepairResult summarizing what was repaired.
func RepairScoutPack(pack *ScoutContextPack, maxContextRefs int) RepairResult {
	maxContextRefs = clampMaxContextRefs(maxContextRefs)
	result := repairOne(pack, maxContextRefs)
	if pack.NestedScoutContextPack != nil {
		nested := repairOne(pack.NestedScoutContextPack, maxContextRefs)
		result.DedupedRefs += nested.DedupedRefs
		result.ClampedRefs += nested.ClampedRefs
		result.PromotedAnchors = append(result.PromotedAnchors, nested.PromotedAnchors...)
		result.SynthesizedAnchors = append(result.SynthesizedAnchors, nested.SynthesizedAnchors...)
	}
	return result
}

func repairOne(pack *ScoutContextPack, maxContextRefs int) RepairResult {
	var result RepairResult

	seen := map[string]bool{}
	deduped := make([]CodeRef, 0, len(pack.CodeRefs))
	for _, r := range pack.CodeRefs {
		if seen[r.Path] {
			result.DedupedRefs++
			continue
		}
		seen[r.Path] = true
		deduped = append(deduped, r)
	}
	if len(deduped) > maxContextRefs {
		result.ClampedRefs = len(deduped) - maxContextRefs
		deduped = deduped[:maxContextRefs]
	}
	pack.CodeRefs = deduped

	k := 0
	for _, hint := range pack.ChangeHints {
		if anchorCoversPath(pack.Anchors, hint.Path) {
			continue
		}
		if idx := findPromotableAnchor(pack.Anchors, hint.Path); idx >= 0 {
			a := &pack.Anchors[idx]
			if a.AnchorType != "primary" && a.AnchorType != "structural" {
				a.AnchorType = "structural"
			}
			if a.Content == "" {
				a.Content = fmt.Sprintf("Auto coverage anchor for `%s`.", hint.Path)
			}
			if a.LineCount < 1 {
				a.LineCount = 1
			}
			result.PromotedAnchors = append(result.PromotedAnchors, a.ID)
			continue
		}
		k++
		id := fmt.Sprintf("a:auto-coverage-%d", k)
		pack.Anchors = append(pack.Anchors, AnchorRef{
			ID: id, AnchorType: "structural", CodeRef: hint.Path,
			Rationale: fmt.Sprintf("synthesized to cover change hint %s", hint.Path),
			Content:   fmt.Sprintf("Auto coverage anchor for `%s`.", hint.Path),
			LineCount: 1,
			MetaHint:  "auto_synthesized_coverage_anchor",
		})
		result.SynthesizedAnchors = append(result.SynthesizedAnchors, id)
	}

	for i := range pack.Anchors {
		if pack.Anchors[i].Content == "" {
			pack.Anchors[i].Content = fmt.Sprintf("Auto coverage anchor for `%s`.", pack.Anchors[i].CodeRef)
		}
		if pack.Anchors[i].LineCount < 1 {
			pack.Anchors[i].LineCount = 1
		}
	}

	if result.ClampedRefs > 0 || len(result.SynthesizedAnchors) > 0 {
		logging.Cascade("scout pack repaired: clamped=%d synthesized=%d", result.ClampedRefs, len(result.SynthesizedAnchors))
	}
	return result
}

// matchesPath reports whether ref matches p case-insensitively with
// directory-prefix awareness (either is an ancestor directory of the other).
func matchesPath(ref, p string) bool {
	target := strings.ToLower(path.Clean(p))
	r := strings.ToLower(path.Clean(ref))
	return r == target || strings.HasPrefix(target, r+"/") || strings.HasPrefix(r, target+"/")
}

func hasPrimaryOrStructural(anchors []AnchorRef) bool {
	for _, a := range anchors {
		if a.AnchorType == "primary" || a.AnchorType == "structural" {
			return true
		}
	}
	return false
}

// anchorCoversPath reports whether path is covered for the purposes of
// deciding whether a repair is needed at all. It matches only
// primary/structural anchors' code_refs, falling back to every anchor's
// code_ref only when the pack carries no primary/structural anchors at
// all — distinct from findPromotableAnchor's any-type scan, so that a
// path matched only by a non-primary/non-structural anchor (while other
// primary/structural anchors exist elsewhere in the pack) is reported as
// uncovered and routed to the promotion branch below.
func anchorCoversPath(anchors []AnchorRef, p string) bool {
	structuralOnly := hasPrimaryOrStructural(anchors)
	for _, a := range anchors {
		if structuralOnly && a.AnchorType != "primary" && a.AnchorType != "structural" {
			continue
		}
		if matchesPath(a.CodeRef, p) {
			return true
		}
	}
	return false
}

// findPromotableAnchor scans every anchor regardless of type, looking for
// one whose code_ref matches p so it can be promoted to structural.
func findPromotableAnchor(anchors []AnchorRef, p string) int {
	for i, a := range anchors {
		if matchesPath(a.CodeRef, p) {
			return i
		}
	}
	return -1
}
