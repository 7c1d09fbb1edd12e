// Package reasoning implements the heuristic signal/action engine over
// the card+trace+edge graph: weighted-support confidence, step-scoping,
// and a read-only graph snapshot projection for viewers.
package reasoning

import (
	"encoding/json"
	"sort"

	"branchmind/internal/store"
)

// Graph is an in-memory projection of one (branch, graphDoc)'s cards and
// supports/blocks edges, loaded once per engine invocation.
type Graph struct {
	Cards map[string]store.Card
	Out   map[string][]store.CardEdge // fromID -> outgoing edges
	In    map[string][]store.CardEdge // toID -> incoming edges
}

// LoadGraph fetches every card in (branch, graphDoc) plus its edges.
func LoadGraph(s *store.Store, workspace, branch, graphDoc string) (Graph, error) {
	cards, err := s.ListCardsForDoc(workspace, branch, graphDoc)
	if err != nil {
		return Graph{}, err
	}
	g := Graph{Cards: map[string]store.Card{}, Out: map[string][]store.CardEdge{}, In: map[string][]store.CardEdge{}}
	for _, c := range cards {
		g.Cards[c.ID] = c
		out, err := s.CardEdgesFrom(workspace, branch, graphDoc, c.ID)
		if err != nil {
			return Graph{}, err
		}
		g.Out[c.ID] = out
		in, err := s.CardEdgesTo(workspace, branch, graphDoc, c.ID)
		if err != nil {
			return Graph{}, err
		}
		g.In[c.ID] = in
	}
	return g, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func hasTagPrefix(tags []string, prefix string) (string, bool) {
	for _, t := range tags {
		if len(t) > len(prefix) && t[:len(prefix)] == prefix {
			return t, true
		}
	}
	return "", false
}

// isPinned reports the card's "pinned"/"v:canon" canonical markers — the
// same rule `internal/anchor`'s IsCanonicalCard applies to card tags.
func isPinned(tags []string) bool {
	return hasTag(tags, "pinned") || hasTag(tags, "v:canon")
}

// stepMeta is the `meta.step` shape a card's MetaJSON may carry.
type stepMeta struct {
	Step *struct {
		TaskID string `json:"task_id"`
		StepID string `json:"step_id"`
		Path   string `json:"path"`
	} `json:"step"`
}

func cardStepMeta(c store.Card) (taskID, stepID, path string, ok bool) {
	var m stepMeta
	if err := json.Unmarshal([]byte(c.MetaJSON), &m); err != nil || m.Step == nil {
		return "", "", "", false
	}
	return m.Step.TaskID, m.Step.StepID, m.Step.Path, true
}

// runMeta is the `meta.run.stale_after_ms` shape (BM8).
type runMeta struct {
	Run *struct {
		StaleAfterMs int64 `json:"stale_after_ms"`
	} `json:"run"`
}

func staleAfterMsFromMeta(metaJSON string) int64 {
	var m runMeta
	if err := json.Unmarshal([]byte(metaJSON), &m); err != nil || m.Run == nil {
		return 0
	}
	return m.Run.StaleAfterMs
}

// Focus selects the step-scoping filter: when non-empty, only cards/edges
// whose meta.step matches are considered.
type Focus struct {
	TaskID string
	StepID string
}

func (f Focus) active() bool { return f.TaskID != "" || f.StepID != "" }

func (f Focus) matches(c store.Card) bool {
	if !f.active() {
		return true
	}
	taskID, stepID, _, ok := cardStepMeta(c)
	if !ok {
		return false
	}
	if f.StepID != "" {
		return stepID == f.StepID
	}
	return taskID == f.TaskID
}

// scopedCardIDs returns the ids of cards the focus keeps, ordered by
// (created_at_ms, id) for deterministic downstream iteration.
func scopedCardIDs(g Graph, focus Focus) []string {
	var ids []string
	for id, c := range g.Cards {
		if focus.matches(c) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := g.Cards[ids[i]], g.Cards[ids[j]]
		if ci.CreatedAtMs != cj.CreatedAtMs {
			return ci.CreatedAtMs < cj.CreatedAtMs
		}
		return ids[i] < ids[j]
	})
	return ids
}
