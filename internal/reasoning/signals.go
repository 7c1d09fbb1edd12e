package reasoning

import (
	"regexp"
	"sort"

	"branchmind/internal/logging"
	"branchmind/internal/proof"
	"branchmind/internal/store"
)

// Severity ranks a signal for stable ordering.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}

// Priority ranks an action for stable ordering.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func priorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// Signal is one heuristic finding over the card graph.
type Signal struct {
	Code     string
	Severity Severity
	CardID   string
	Message  string
	TsMs     int64
}

// Action is a suggested follow-up a signal (or the frontier scan) can
// attach — "use_playbook:<name>" names, tool-shaped verbs like
// "add_test_stub", or a direct think.* verb.
type Action struct {
	Code     string
	Priority Priority
	CardID   string
	Kind     string
	Args     map[string]string
	TsMs     int64
}

var tradeoffPattern = regexp.MustCompile(`(?i)(vs|versus|trade-?off|a/b)`)

func sortSignals(signals []Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		ri, rj := severityRank(signals[i].Severity), severityRank(signals[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if signals[i].TsMs != signals[j].TsMs {
			return signals[i].TsMs > signals[j].TsMs
		}
		return signals[i].Code < signals[j].Code
	})
}

func sortActions(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		ri, rj := priorityRank(actions[i].Priority), priorityRank(actions[j].Priority)
		if ri != rj {
			return ri > rj
		}
		if actions[i].TsMs != actions[j].TsMs {
			return actions[i].TsMs > actions[j].TsMs
		}
		return actions[i].Code < actions[j].Code
	})
}

// Limits bounds the number of signals/actions Watch returns after sorting.
type Limits struct {
	Signals int
	Actions int
}

// Result is the output of a Watch scan: truncated, stably ordered
// signals and actions.
type Result struct {
	Signals []Signal
	Actions []Action
}

// Watch derives signals[]/actions[] for think.watch/think.frontier/
// tasks.snapshot's smart view, applying the step-scoping filter when
// focus is active.
func Watch(g Graph, focus Focus, limits Limits) Result {
	ids := scopedCardIDs(g, focus)
	cardSet := map[string]bool{}
	for _, id := range ids {
		cardSet[id] = true
	}

	var signals []Signal
	var actions []Action
	emit := func(s Signal, a *Action) {
		signals = append(signals, s)
		if a != nil {
			actions = append(actions, *a)
		}
	}

	for _, id := range ids {
		c := g.Cards[id]
		switch {
		case bm1Contradiction(g, c, cardSet):
			emit(Signal{Code: "BM1", Severity: SeverityHigh, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "conflicting supports/blocks edges pin the same node"},
				&Action{Code: "BM1", Priority: PriorityHigh, CardID: c.ID, TsMs: c.UpdatedAtMs,
					Kind: "use_playbook:contradiction"})
		}
		if bm2WeakEvidence(c) {
			emit(Signal{Code: "BM2", Severity: SeverityWarning, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "pinned evidence has no non-placeholder CMD+LINK receipt"}, nil)
		}
		if bm3LowConfidenceDecision(g, c) {
			emit(Signal{Code: "BM3", Severity: SeverityWarning, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "pinned decision has weighted-support confidence below 0.5"},
				&Action{Code: "BM3", Priority: PriorityMedium, CardID: c.ID, TsMs: c.UpdatedAtMs,
					Kind: "use_playbook:experiment"})
		}
		if bm4HypothesisWithoutTest(g, c) {
			emit(Signal{Code: "BM4", Severity: SeverityWarning, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "hypothesis has no outgoing supports edge to a test"},
				&Action{Code: "BM4", Priority: PriorityMedium, CardID: c.ID, TsMs: c.UpdatedAtMs,
					Kind: "add_test_stub"})
		}
		if bm5RunnableTestWithoutEvidence(g, c) {
			emit(Signal{Code: "BM5", Severity: SeverityInfo, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "test has an extractable command but no linked evidence"},
				&Action{Code: "BM5", Priority: PriorityLow, CardID: c.ID, TsMs: c.UpdatedAtMs,
					Kind: "run_test"})
		}
		if bm6AssumptionCascade(g, c) {
			emit(Signal{Code: "BM6", Severity: SeverityWarning, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "resolved assumption still supports a canonical node"},
				&Action{Code: "BM6", Priority: PriorityMedium, CardID: c.ID, TsMs: c.UpdatedAtMs,
					Kind: "recheck_assumption"})
		}
		if bm7OneSidedEvidence(g, c) {
			emit(Signal{Code: "BM7", Severity: SeverityWarning, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "pinned hypothesis has supports-only evidence with no counter"},
				&Action{Code: "BM7", Priority: PriorityMedium, CardID: c.ID, TsMs: c.UpdatedAtMs,
					Kind: "add_counter_hypothesis", Args: map[string]string{"verb": "think.card"}})
		}
		if bm8StaleEvidence(g, c) {
			emit(Signal{Code: "BM8", Severity: SeverityInfo, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "evidence predates the latest card update in the graph by more than its staleness window"},
				&Action{Code: "BM8", Priority: PriorityLow, CardID: c.ID, TsMs: c.UpdatedAtMs,
					Kind: "run_test"})
		}
		if bm9TradeoffFraming(c) {
			emit(Signal{Code: "BM9", Severity: SeverityInfo, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "question reads as a tradeoff/versus framing"},
				&Action{Code: "BM9", Priority: PriorityLow, CardID: c.ID, TsMs: c.UpdatedAtMs,
					Kind: "use_playbook:criteria_matrix"})
		}
		if laneDecisionNotPublished(c) {
			emit(Signal{Code: "LANE_UNPUBLISHED", Severity: SeverityWarning, CardID: c.ID, TsMs: c.UpdatedAtMs,
				Message: "lane decision has no shared-lane twin"},
				&Action{Code: "LANE_UNPUBLISHED", Priority: PriorityMedium, CardID: c.ID, TsMs: c.UpdatedAtMs,
					Kind: "publish_decision", Args: map[string]string{"verb": "think.publish"}})
		}
	}

	sortSignals(signals)
	sortActions(actions)
	if limits.Signals > 0 && len(signals) > limits.Signals {
		signals = signals[:limits.Signals]
	}
	if limits.Actions > 0 && len(actions) > limits.Actions {
		actions = actions[:limits.Actions]
	}
	logging.ReasoningDebug("watch scan: %d signals, %d actions (scoped=%v)", len(signals), len(actions), focus.active())
	return Result{Signals: signals, Actions: actions}
}

func bm1Contradiction(g Graph, c store.Card, scope map[string]bool) bool {
	if !isPinned(c.Tags) {
		return false
	}
	hasSupports, hasBlocks := false, false
	for _, e := range g.In[c.ID] {
		if scope != nil && !scope[e.FromID] {
			continue
		}
		switch e.EdgeType {
		case "supports":
			hasSupports = true
		case "blocks":
			hasBlocks = true
		}
	}
	return hasSupports && hasBlocks
}

func bm2WeakEvidence(c store.Card) bool {
	if c.Type != "evidence" || !isPinned(c.Tags) {
		return false
	}
	receipts := proof.SalvageFromText(c.Text)
	return !proof.HasCMDAndLink(receipts)
}

func bm3LowConfidenceDecision(g Graph, c store.Card) bool {
	if c.Type != "decision" || !isPinned(c.Tags) {
		return false
	}
	return Confidence(g, c.ID, 2) < 0.5
}

func bm4HypothesisWithoutTest(g Graph, c store.Card) bool {
	if c.Type != "hypothesis" {
		return false
	}
	for _, e := range g.Out[c.ID] {
		if e.EdgeType != "supports" {
			continue
		}
		if target, ok := g.Cards[e.ToID]; ok && target.Type == "test" {
			return false
		}
	}
	return true
}

func bm5RunnableTestWithoutEvidence(g Graph, c store.Card) bool {
	if c.Type != "test" {
		return false
	}
	hasCmd := false
	for _, r := range proof.SalvageFromText(c.Text) {
		if r.Kind == proof.KindCMD && !r.Placeholder {
			hasCmd = true
			break
		}
	}
	if !hasCmd {
		return false
	}
	for _, e := range g.In[c.ID] {
		if e.EdgeType != "supports" {
			continue
		}
		if from, ok := g.Cards[e.FromID]; ok && from.Type == "evidence" {
			return false
		}
	}
	return true
}

func bm6AssumptionCascade(g Graph, c store.Card) bool {
	if !hasTag(c.Tags, "assumption") || c.Status == "open" {
		return false
	}
	for _, e := range g.Out[c.ID] {
		if e.EdgeType != "supports" {
			continue
		}
		if target, ok := g.Cards[e.ToID]; ok && isPinned(target.Tags) {
			return true
		}
	}
	return false
}

func bm7OneSidedEvidence(g Graph, c store.Card) bool {
	if c.Type != "hypothesis" || !isPinned(c.Tags) {
		return false
	}
	supports, blocks := 0, 0
	for _, e := range g.In[c.ID] {
		from, ok := g.Cards[e.FromID]
		if !ok || from.Type != "evidence" {
			continue
		}
		switch e.EdgeType {
		case "supports":
			supports++
		case "blocks":
			blocks++
		}
	}
	return supports > 0 && blocks == 0
}

func bm8StaleEvidence(g Graph, c store.Card) bool {
	if c.Type != "evidence" {
		return false
	}
	staleAfterMs := staleAfterMsFromMeta(c.MetaJSON)
	if staleAfterMs <= 0 {
		return false
	}
	latest := int64(0)
	for _, other := range g.Cards {
		if other.UpdatedAtMs > latest {
			latest = other.UpdatedAtMs
		}
	}
	return latest-c.UpdatedAtMs > staleAfterMs
}

func bm9TradeoffFraming(c store.Card) bool {
	if c.Type != "question" {
		return false
	}
	return tradeoffPattern.MatchString(c.Title) || tradeoffPattern.MatchString(c.Text)
}

func laneDecisionNotPublished(c store.Card) bool {
	if c.Type != "decision" {
		return false
	}
	_, ok := hasTagPrefix(c.Tags, "lane:a:")
	if !ok {
		return false
	}
	return !hasTag(c.Tags, "lane:shared")
}
