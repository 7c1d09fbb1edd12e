// Package anchor implements the anchor meaning-map / coverage index: id
// normalization, alias resolution, autoregistration from tagged cards,
// repo-path binding lookups, and plan-level coverage KPIs.
package anchor

import (
	"database/sql"
	"regexp"
	"sort"
	"strings"

	"branchmind/internal/logging"
	"branchmind/internal/store"
)

var slugRe = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// NormalizeID lowercases an anchor id and strips a redundant "a:" prefix
// doubling, returning the canonical "a:<slug>" form.
func NormalizeID(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "a:")
	return "a:" + s
}

// ValidateSlug checks the slug portion (after "a:") against the rule:
// lowercase alphanumeric + "-", 1-64 chars.
func ValidateSlug(id string) bool {
	slug := strings.TrimPrefix(id, "a:")
	return slugRe.MatchString(slug)
}

// NormalizeRepoRel applies binding normalization: lowercase,
// "/"-separated, no leading "/", no ".." (each one drops the segment
// before it, never climbing above the root), "." means root.
func NormalizeRepoRel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "\\", "/")
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		s = "."
	}
	parts := strings.Split(s, "/")
	clean := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		if p == ".." {
			if len(clean) > 0 {
				clean = clean[:len(clean)-1]
			}
			continue
		}
		clean = append(clean, p)
	}
	if len(clean) == 0 {
		return "."
	}
	return strings.Join(clean, "/")
}

// PathPrefixes returns every trailing-stripped prefix of a normalized repo
// path, most specific first, used to drive anchor_bindings_lookup_any:
// "a/b/c.go" -> ["a/b/c.go", "a/b", "a", "."].
func PathPrefixes(repoRel string) []string {
	repoRel = NormalizeRepoRel(repoRel)
	if repoRel == "." {
		return []string{"."}
	}
	parts := strings.Split(repoRel, "/")
	out := make([]string, 0, len(parts)+1)
	for i := len(parts); i > 0; i-- {
		out = append(out, strings.Join(parts[:i], "/"))
	}
	out = append(out, ".")
	return out
}

// ResolveID returns the canonical id for an anchor id, following one alias
// hop ("anchor_resolve_id"). If id is not registered as an alias, it
// is returned unchanged (it may or may not exist as a canonical anchor).
func ResolveID(s *store.Store, workspace, id string) (string, error) {
	id = NormalizeID(id)
	canonical, isAlias, err := s.ResolveAnchorAlias(workspace, id)
	if err != nil {
		return "", err
	}
	if isAlias {
		return canonical, nil
	}
	return id, nil
}

// dedupeOrdered removes duplicates while preserving first-seen order, the
// deterministic order "anchor_upsert" calls for when merging
// refs/aliases/depends_on.
func dedupeOrdered(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, v := range existing {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	for _, v := range incoming {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// UpsertInput is the caller-supplied payload to Upsert.
type UpsertInput struct {
	ID          string
	Title       string
	Kind        string
	Description string
	Refs        []string
	Aliases     []string
	ParentID    string
	DependsOn   []string
}

// Upsert creates an anchor if missing, or merges refs/aliases/depends_on
// (deduped, order-preserving) into the existing row if present, leaving
// description/parent untouched unless the caller clears them explicitly
// ("merges with existing"). Idempotent: re-upserting identical input
// twice yields zero additional anchor_links rows and an unchanged row.
func Upsert(s *store.Store, workspace string, in UpsertInput, eventPayloadJSON string) (store.Anchor, bool, error) {
	in.ID = NormalizeID(in.ID)
	if !ValidateSlug(in.ID) {
		return store.Anchor{}, false, &store.Error{Code: store.ErrInvalidInput, Message: "invalid anchor slug: " + in.ID}
	}

	existing, err := s.GetAnchor(workspace, in.ID)
	if err != nil {
		if se, ok := store.AsStoreError(err); !ok || se.Code != store.ErrUnknownID {
			return store.Anchor{}, false, err
		}
		created, _, cerr := s.CreateAnchor(workspace, in.ID, firstNonEmpty(in.Title, in.ID), firstNonEmpty(in.Kind, "component"), in.Description, in.Refs, in.Aliases, in.ParentID, in.DependsOn, eventPayloadJSON)
		if cerr != nil {
			return store.Anchor{}, false, cerr
		}
		return created, true, nil
	}

	title := existing.Title
	if in.Title != "" {
		title = in.Title
	}
	kind := existing.Kind
	if in.Kind != "" {
		kind = in.Kind
	}
	desc := existing.Description
	if in.Description != "" {
		desc = in.Description
	}
	parent := existing.ParentID
	if in.ParentID != "" {
		parent = in.ParentID
	}
	refs := dedupeOrdered(existing.Refs, in.Refs)
	aliases := dedupeOrdered(existing.Aliases, in.Aliases)
	dependsOn := dedupeOrdered(existing.DependsOn, in.DependsOn)

	changed := title != existing.Title || kind != existing.Kind || desc != existing.Description ||
		parent != existing.ParentID || len(refs) != len(existing.Refs) ||
		len(aliases) != len(existing.Aliases) || len(dependsOn) != len(existing.DependsOn)
	if !changed {
		return existing, false, nil
	}

	edit := store.AnchorEdit{Title: &title, Kind: &kind, Description: &desc, ParentID: &parent, Refs: &refs, Aliases: &aliases, DependsOn: &dependsOn}
	_, _, err = s.EditAnchor(workspace, in.ID, nil, edit, "anchor_merged", eventPayloadJSON)
	if err != nil {
		return store.Anchor{}, false, err
	}
	updated, err := s.GetAnchor(workspace, in.ID)
	return updated, true, err
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// IsCanonicalCard reports whether a card's type/tags make it a "canon"
// card that triggers anchor autoregistration: decision/evidence/test
// type, or tagged pinned/v:canon.
func IsCanonicalCard(cardType string, tags []string) bool {
	switch cardType {
	case "decision", "evidence", "test":
		return true
	}
	for _, t := range tags {
		if t == "pinned" || t == "v:canon" {
			return true
		}
	}
	return false
}

var anchorTagRe = regexp.MustCompile(`^a:([a-z0-9-]{1,64})$`)

// AnchorTagsFromCard extracts every "a:<slug>" tag on a card, normalized.
func AnchorTagsFromCard(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if !anchorTagRe.MatchString(t) {
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// UpsertLinksForCardTx implements "upsert_anchor_links_for_card_tx":
// for every a:<slug> tag on the card, resolve its alias, autoregister the
// anchor if the card is canonical and the anchor is missing, then upsert a
// link row. Existing link rows for the card that fall outside the new tag
// set are removed in the same transaction.
func UpsertLinksForCardTx(tx *sql.Tx, s *store.Store, workspace string, cardID, cardType string, tags []string, branch, graphDoc string, nowMs int64) ([]string, error) {
	rawTags := AnchorTagsFromCard(tags)
	canon := IsCanonicalCard(cardType, tags)

	var resolved []string
	for _, raw := range rawTags {
		id := NormalizeID(raw)
		canonical, isAlias, err := s.ResolveAnchorAlias(workspace, id)
		if err != nil {
			return nil, err
		}
		if isAlias {
			id = canonical
		}

		exists, err := s.AnchorExists(tx, workspace, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			if !canon {
				// Non-canonical cards never autoregister;
				// skip linking to an anchor that doesn't exist yet.
				continue
			}
			if _, err := tx.Exec(
				`INSERT INTO anchors (workspace, id, title, kind, status, description, refs_json, aliases_json, parent_id, depends_on_json, revision, created_at_ms, updated_at_ms)
				 VALUES (?, ?, ?, 'component', 'active', '', '[]', '[]', '', '[]', 1, ?, ?)`,
				workspace, id, id, nowMs, nowMs,
			); err != nil {
				return nil, err
			}
			logging.Anchor("autoregistered anchor %s from canon card %s", id, cardID)
		}

		if err := store.UpsertAnchorLinkTx(tx, workspace, id, branch, graphDoc, cardID, cardType, nowMs); err != nil {
			return nil, err
		}
		resolved = append(resolved, id)
	}

	if err := store.DeleteAnchorLinksForCardTx(tx, workspace, branch, graphDoc, cardID, resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

// BindingsLookupAny implements "anchor_bindings_lookup_any": given a
// repo-relative path, walk its prefixes most-specific first and return
// bindings ordered by (most specific repo_rel, then most recent).
func BindingsLookupAny(s *store.Store, workspace, repoRel string, limit int) ([]store.AnchorBinding, error) {
	prefixes := PathPrefixes(repoRel)
	var out []store.AnchorBinding
	for _, p := range prefixes {
		bindings, err := s.AnchorBindingsForPath(workspace, p)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(bindings, func(i, j int) bool { return bindings[i].UpdatedAtMs > bindings[j].UpdatedAtMs })
		out = append(out, bindings...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}

// TaskBranch returns the task-scoped branch name for anchor-link lookups
// ("Task-scoped branches are task/TASK-<n>").
func TaskBranch(taskID string) string { return "task/" + taskID }

// Coverage is the result of PlanAnchorsCoverage.
type Coverage struct {
	ActiveTotal         int
	ActiveMissingAnchor int
	TopAnchors          []TopAnchor
}

// TopAnchor is one row of the plan's top-anchors-by-activity list.
type TopAnchor struct {
	AnchorID   string
	LastTsMs   int64
	TaskCount  int
}

// PlanAnchorsCoverage implements "plan_anchors_coverage": how many of
// a plan's ACTIVE tasks have no anchor_links row on their task/<id> branch,
// plus the top N anchors by (max last_ts_ms desc, task_count desc, id asc).
func PlanAnchorsCoverage(s *store.Store, workspace, planID string, topAnchorsLimit int) (Coverage, error) {
	tasks, err := allTasksForPlan(s, workspace, planID)
	if err != nil {
		return Coverage{}, err
	}

	branchToTask := make(map[string]string, len(tasks))
	var branches []string
	activeTotal := 0
	for _, t := range tasks {
		if t.Status != "ACTIVE" {
			continue
		}
		activeTotal++
		b := TaskBranch(t.ID)
		branchToTask[b] = t.ID
		branches = append(branches, b)
	}

	links, err := s.AnchorLinksForBranches(workspace, branches)
	if err != nil {
		return Coverage{}, err
	}
	covered := map[string]bool{}
	for _, l := range links {
		covered[l.Branch] = true
	}
	missing := 0
	for _, b := range branches {
		if !covered[b] {
			missing++
		}
	}

	// Aggregate top anchors across *every* task branch under the plan
	// (not just ACTIVE), matching "anchors ordered by activity" scope.
	var allBranches []string
	for _, t := range tasks {
		allBranches = append(allBranches, TaskBranch(t.ID))
	}
	allLinks, err := s.AnchorLinksForBranches(workspace, allBranches)
	if err != nil {
		return Coverage{}, err
	}
	agg := map[string]*TopAnchor{}
	taskSeen := map[string]map[string]bool{}
	for _, l := range allLinks {
		ta := agg[l.AnchorID]
		if ta == nil {
			ta = &TopAnchor{AnchorID: l.AnchorID}
			agg[l.AnchorID] = ta
			taskSeen[l.AnchorID] = map[string]bool{}
		}
		if l.LastTsMs > ta.LastTsMs {
			ta.LastTsMs = l.LastTsMs
		}
		if !taskSeen[l.AnchorID][l.Branch] {
			taskSeen[l.AnchorID][l.Branch] = true
			ta.TaskCount++
		}
	}
	top := make([]TopAnchor, 0, len(agg))
	for _, ta := range agg {
		top = append(top, *ta)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].LastTsMs != top[j].LastTsMs {
			return top[i].LastTsMs > top[j].LastTsMs
		}
		if top[i].TaskCount != top[j].TaskCount {
			return top[i].TaskCount > top[j].TaskCount
		}
		return top[i].AnchorID < top[j].AnchorID
	})
	if topAnchorsLimit > 0 && len(top) > topAnchorsLimit {
		top = top[:topAnchorsLimit]
	}

	return Coverage{ActiveTotal: activeTotal, ActiveMissingAnchor: missing, TopAnchors: top}, nil
}

func allTasksForPlan(s *store.Store, workspace, planID string) ([]store.Task, error) {
	var out []store.Task
	var cursor *string
	for {
		res, err := s.ListTasksForPlanCursor(workspace, planID, cursor, 200)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Tasks...)
		if !res.HasMore {
			break
		}
		cursor = res.NextCursor
	}
	return out, nil
}

// AnchorLinkExists reports whether an anchor has any recorded link, used by
// lint to prune "dead" (unreferenced) anchors.
func AnchorLinkExists(s *store.Store, workspace, anchorID string) (bool, error) {
	links, err := s.AnchorLinksForAnchor(workspace, anchorID)
	if err != nil {
		return false, err
	}
	return len(links) > 0, nil
}
