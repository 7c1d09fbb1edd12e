package reasoning

import "branchmind/internal/store"

// SnapshotNode is one node of a GraphSnapshot projection.
type SnapshotNode struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"` // "anchor" | "card"
	CardType string `json:"card_type,omitempty"`
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
	Pinned   bool   `json:"pinned"`
}

// SnapshotEdge is one edge of a GraphSnapshot projection.
type SnapshotEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"` // "supports" | "blocks" | "depends_on"
}

// GraphSnapshot is a serializable node/edge projection of a graph doc
// plus its anchor bindings, for a future viewer to render.
type GraphSnapshot struct {
	Nodes []SnapshotNode `json:"nodes"`
	Edges []SnapshotEdge `json:"edges"`
}

// BuildGraphSnapshot projects a card graph plus its bound anchors into
// nodes/edges: anchor depends_on edges come straight from each anchor's
// declared DependsOn, layered on top of the card graph's supports/blocks
// edges.
func BuildGraphSnapshot(g Graph, anchors []store.Anchor) GraphSnapshot {
	snap := GraphSnapshot{}
	for _, a := range anchors {
		snap.Nodes = append(snap.Nodes, SnapshotNode{
			ID: a.ID, Kind: "anchor", Title: a.Title, Status: a.Status,
		})
		for _, dep := range a.DependsOn {
			snap.Edges = append(snap.Edges, SnapshotEdge{From: a.ID, To: dep, Kind: "depends_on"})
		}
	}
	ids := scopedCardIDs(g, Focus{})
	for _, id := range ids {
		c := g.Cards[id]
		snap.Nodes = append(snap.Nodes, SnapshotNode{
			ID: c.ID, Kind: "card", CardType: c.Type, Title: c.Title,
			Status: c.Status, Pinned: isPinned(c.Tags),
		})
		for _, e := range g.Out[c.ID] {
			snap.Edges = append(snap.Edges, SnapshotEdge{From: e.FromID, To: e.ToID, Kind: e.EdgeType})
		}
	}
	return snap
}
