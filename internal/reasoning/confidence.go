package reasoning

import (
	"strconv"

	"branchmind/internal/proof"
	"branchmind/internal/store"
)

// typeWeight is the incoming-edge weight table by supporting card type.
func typeWeight(cardType string) float64 {
	switch cardType {
	case "evidence":
		return 4.0
	case "test":
		return 1.5
	case "decision", "hypothesis":
		return 0.75
	default:
		return 0.25
	}
}

// evidenceStrengthScore implements the evidence-node scoring rule: CMD
// (+25), LINK (+25), source:ci/source:local hint (+20/+10), and a +20/+10
// bonus if the card supports a test or decision|hypothesis node, clamped
// to [0,100].
func evidenceStrengthScore(g Graph, c store.Card) int {
	score := 0
	for _, r := range proof.SalvageFromText(c.Text) {
		if r.Placeholder {
			continue
		}
		switch r.Kind {
		case proof.KindCMD:
			score += 25
		case proof.KindLink:
			score += 25
		}
	}
	if hasTag(c.Tags, "source:ci") {
		score += 20
	} else if hasTag(c.Tags, "source:local") {
		score += 10
	}
	bonus := 0
	for _, e := range g.Out[c.ID] {
		if e.EdgeType != "supports" {
			continue
		}
		target, ok := g.Cards[e.ToID]
		if !ok {
			continue
		}
		switch target.Type {
		case "test":
			if bonus < 20 {
				bonus = 20
			}
		case "decision", "hypothesis":
			if bonus < 10 {
				bonus = 10
			}
		}
	}
	score += bonus
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Confidence computes the weighted-support confidence of node id at
// recursion depth d. Recursion is memoized by (id, d); cycles
// (a node reached while it is still being evaluated) break at 0.5.
func Confidence(g Graph, id string, d int) float64 {
	return confidence(g, id, d, map[string]float64{}, map[string]bool{})
}

func confidence(g Graph, id string, d int, memo map[string]float64, visiting map[string]bool) float64 {
	key := id + "@" + strconv.Itoa(d)
	if v, ok := memo[key]; ok {
		return v
	}
	if d <= 0 || visiting[id] {
		return 0.5
	}
	c, ok := g.Cards[id]
	if !ok {
		return 0.5
	}

	visiting[id] = true
	defer delete(visiting, id)

	var result float64
	if c.Type == "evidence" {
		result = float64(evidenceStrengthScore(g, c)) / 100
	} else {
		pos := 1.0
		neg := 1.0
		for _, e := range g.In[id] {
			from, ok := g.Cards[e.FromID]
			if !ok {
				continue
			}
			w := typeWeight(from.Type) * confidence(g, e.FromID, d-1, memo, visiting)
			switch e.EdgeType {
			case "supports":
				pos += w
			case "blocks":
				neg += w
			}
		}
		result = pos / (pos + neg)
	}
	memo[key] = result
	return result
}
