package store

import (
	"database/sql"
	"encoding/json"

	"branchmind/internal/logging"
)

// CreateAnchor inserts a new anchor at its caller-specified canonical
// "a:<slug>" id and its "created" event. Unlike plans/tasks/steps/cards/
// jobs, anchors are not allocated from the per-workspace id counter: the
// slug itself is the durable identity ("Anchor id a:<slug> is
// canonical").
func (s *Store) CreateAnchor(workspace, id, title, kind, description string, refs, aliases []string, parentID string, dependsOn []string, eventPayloadJSON string) (Anchor, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Anchor{}, Event{}, err
	}
	if id == "" {
		return Anchor{}, Event{}, errInvalidInput("anchor id must not be empty")
	}
	if title == "" {
		return Anchor{}, Event{}, errInvalidInput("title must not be empty")
	}

	var anchor Anchor
	var event Event
	var err error
	now := nowMs()

	err = s.tx(func(tx *sql.Tx) error {
		var dup int
		if qerr := tx.QueryRow(`SELECT 1 FROM anchors WHERE workspace = ? AND id = ?`, workspace, id).Scan(&dup); qerr == nil {
			return errConflict("anchor %s already exists", id)
		} else if qerr != sql.ErrNoRows {
			return errIO(qerr)
		}
		anchor = Anchor{
			Workspace: workspace, ID: id, Title: title, Kind: kind, Status: "active",
			Description: description, Refs: refs, Aliases: aliases, ParentID: parentID, DependsOn: dependsOn,
			Revision: 1, CreatedAtMs: now, UpdatedAtMs: now,
		}
		if _, err := tx.Exec(
			`INSERT INTO anchors (workspace, id, title, kind, status, description, refs_json, aliases_json, parent_id, depends_on_json, revision, created_at_ms, updated_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			anchor.Workspace, anchor.ID, anchor.Title, anchor.Kind, anchor.Status, anchor.Description,
			mustMarshal(anchor.Refs), mustMarshal(anchor.Aliases), anchor.ParentID, mustMarshal(anchor.DependsOn),
			anchor.Revision, anchor.CreatedAtMs, anchor.UpdatedAtMs,
		); err != nil {
			return errIO(err)
		}
		for _, alias := range aliases {
			if err := upsertAnchorAliasTx(tx, workspace, alias, id); err != nil {
				return err
			}
		}
		event, err = appendEvent(tx, workspace, id, "anchor_created", eventPayloadJSON, now)
		return err
	})
	if err != nil {
		return Anchor{}, Event{}, err
	}
	logging.Anchor("created anchor %s (%s)", anchor.ID, anchor.Title)
	return anchor, event, nil
}

// AnchorEdit describes an optional field update to EditAnchor.
type AnchorEdit struct {
	Title       *string
	Kind        *string
	Status      *string
	Description *string
	Refs        *[]string
	Aliases     *[]string
	ParentID    *string
	DependsOn   *[]string
}

// EditAnchor applies an update with optional revision check, keeping the
// alias index in sync with the edited alias set.
func (s *Store) EditAnchor(workspace, id string, expectedRevision *int64, edit AnchorEdit, eventType, eventPayloadJSON string) (int64, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return 0, Event{}, err
	}

	var newRevision int64
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		a, err := s.scanAnchor(tx, workspace, id)
		if err != nil {
			return err
		}
		if expectedRevision != nil && *expectedRevision != a.Revision {
			return errRevisionMismatch(*expectedRevision, a.Revision)
		}

		if edit.Title != nil {
			a.Title = *edit.Title
		}
		if edit.Kind != nil {
			a.Kind = *edit.Kind
		}
		if edit.Status != nil {
			a.Status = *edit.Status
		}
		if edit.Description != nil {
			a.Description = *edit.Description
		}
		if edit.Refs != nil {
			a.Refs = *edit.Refs
		}
		if edit.ParentID != nil {
			a.ParentID = *edit.ParentID
		}
		if edit.DependsOn != nil {
			a.DependsOn = *edit.DependsOn
		}
		if edit.Aliases != nil {
			if _, err := tx.Exec(`DELETE FROM anchor_aliases WHERE workspace = ? AND canonical_id = ?`, workspace, id); err != nil {
				return errIO(err)
			}
			a.Aliases = *edit.Aliases
			for _, alias := range a.Aliases {
				if err := upsertAnchorAliasTx(tx, workspace, alias, id); err != nil {
					return err
				}
			}
		}
		newRevision = a.Revision + 1

		if _, err := tx.Exec(
			`UPDATE anchors SET title=?, kind=?, status=?, description=?, refs_json=?, aliases_json=?, parent_id=?, depends_on_json=?, revision=?, updated_at_ms=?
			 WHERE workspace=? AND id=?`,
			a.Title, a.Kind, a.Status, a.Description, mustMarshal(a.Refs), mustMarshal(a.Aliases), a.ParentID, mustMarshal(a.DependsOn), newRevision, now,
			workspace, id,
		); err != nil {
			return errIO(err)
		}
		event, err = appendEvent(tx, workspace, id, eventType, eventPayloadJSON, now)
		return err
	})
	if err != nil {
		return 0, Event{}, err
	}
	return newRevision, event, nil
}

// GetAnchor fetches a single anchor by id.
func (s *Store) GetAnchor(workspace, id string) (Anchor, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Anchor{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT title, kind, status, description, refs_json, aliases_json, parent_id, depends_on_json, revision, created_at_ms, updated_at_ms
		 FROM anchors WHERE workspace = ? AND id = ?`, workspace, id)
	return scanAnchorRow(row, workspace, id)
}

func (s *Store) scanAnchor(tx *sql.Tx, workspace, id string) (Anchor, error) {
	row := tx.QueryRow(
		`SELECT title, kind, status, description, refs_json, aliases_json, parent_id, depends_on_json, revision, created_at_ms, updated_at_ms
		 FROM anchors WHERE workspace = ? AND id = ?`, workspace, id)
	return scanAnchorRow(row, workspace, id)
}

func scanAnchorRow(row *sql.Row, workspace, id string) (Anchor, error) {
	a := Anchor{Workspace: workspace, ID: id}
	var refsJSON, aliasesJSON, dependsJSON string
	if err := row.Scan(&a.Title, &a.Kind, &a.Status, &a.Description, &refsJSON, &aliasesJSON, &a.ParentID, &dependsJSON, &a.Revision, &a.CreatedAtMs, &a.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return Anchor{}, errUnknownID(id)
		}
		return Anchor{}, errIO(err)
	}
	_ = json.Unmarshal([]byte(refsJSON), &a.Refs)
	_ = json.Unmarshal([]byte(aliasesJSON), &a.Aliases)
	_ = json.Unmarshal([]byte(dependsJSON), &a.DependsOn)
	return a, nil
}

// ListAnchors returns every anchor in a workspace, ordered by id.
func (s *Store) ListAnchors(workspace string) ([]Anchor, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id FROM anchors WHERE workspace = ? ORDER BY id`, workspace)
	if err != nil {
		return nil, errIO(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errIO(err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]Anchor, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAnchor(workspace, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// upsertAnchorAliasTx records a one-hop alias -> canonical mapping. The
// caller is responsible for cycle/duplicate checks (internal/anchor owns
// resolution policy); this is a raw table write.
func upsertAnchorAliasTx(tx *sql.Tx, workspace, alias, canonicalID string) error {
	_, err := tx.Exec(
		`INSERT INTO anchor_aliases (workspace, alias_id, canonical_id) VALUES (?, ?, ?)
		 ON CONFLICT(workspace, alias_id) DO UPDATE SET canonical_id = excluded.canonical_id`,
		workspace, alias, canonicalID,
	)
	if err != nil {
		return errIO(err)
	}
	return nil
}

// ResolveAnchorAlias returns the canonical anchor id for an alias, or ("",
// false, nil) if alias is not registered. One-hop only; internal/anchor
// guards against longer chains at registration time.
func (s *Store) ResolveAnchorAlias(workspace, alias string) (string, bool, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var canonical string
	err := s.db.QueryRow(`SELECT canonical_id FROM anchor_aliases WHERE workspace = ? AND alias_id = ?`, workspace, alias).Scan(&canonical)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errIO(err)
	}
	return canonical, true, nil
}

// UpsertAnchorBinding records (or refreshes) a repo-path binding for an
// anchor.
func (s *Store) UpsertAnchorBinding(workspace, anchorID, repoRel, kind string) (AnchorBinding, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return AnchorBinding{}, err
	}
	now := nowMs()
	var binding AnchorBinding
	err := s.tx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT 1 FROM anchors WHERE workspace = ? AND id = ?`, workspace, anchorID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return errUnknownID(anchorID)
			}
			return errIO(err)
		}
		if _, err := tx.Exec(
			`INSERT INTO anchor_bindings (workspace, anchor_id, repo_rel, kind, created_at_ms, updated_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(workspace, anchor_id, repo_rel) DO UPDATE SET kind = excluded.kind, updated_at_ms = excluded.updated_at_ms`,
			workspace, anchorID, repoRel, kind, now, now,
		); err != nil {
			return errIO(err)
		}
		binding = AnchorBinding{Workspace: workspace, AnchorID: anchorID, RepoRel: repoRel, Kind: kind, CreatedAtMs: now, UpdatedAtMs: now}
		return nil
	})
	return binding, err
}

// AnchorBindingsForPath returns every binding whose repo_rel exactly matches
// path, across all anchors ("bindings lookup any").
func (s *Store) AnchorBindingsForPath(workspace, repoRel string) ([]AnchorBinding, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT anchor_id, repo_rel, kind, created_at_ms, updated_at_ms FROM anchor_bindings WHERE workspace = ? AND repo_rel = ?`,
		workspace, repoRel)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []AnchorBinding
	for rows.Next() {
		b := AnchorBinding{Workspace: workspace, RepoRel: repoRel}
		if err := rows.Scan(&b.AnchorID, &b.RepoRel, &b.Kind, &b.CreatedAtMs, &b.UpdatedAtMs); err != nil {
			return nil, errIO(err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BindingsForAnchor returns every path bound to an anchor.
func (s *Store) BindingsForAnchor(workspace, anchorID string) ([]AnchorBinding, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT repo_rel, kind, created_at_ms, updated_at_ms FROM anchor_bindings WHERE workspace = ? AND anchor_id = ? ORDER BY repo_rel`,
		workspace, anchorID)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []AnchorBinding
	for rows.Next() {
		b := AnchorBinding{Workspace: workspace, AnchorID: anchorID}
		if err := rows.Scan(&b.RepoRel, &b.Kind, &b.CreatedAtMs, &b.UpdatedAtMs); err != nil {
			return nil, errIO(err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpsertAnchorLinkTx records (or refreshes the timestamp of) a link between
// an anchor and a tagged card, inside a caller-managed transaction. Used by
// internal/anchor's card-write hook.
func UpsertAnchorLinkTx(tx *sql.Tx, workspace, anchorID, branch, graphDoc, cardID, cardType string, tsMs int64) error {
	_, err := tx.Exec(
		`INSERT INTO anchor_links (workspace, anchor_id, branch, graph_doc, card_id, card_type, last_ts_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workspace, anchor_id, branch, graph_doc, card_id) DO UPDATE SET card_type = excluded.card_type, last_ts_ms = excluded.last_ts_ms`,
		workspace, anchorID, branch, graphDoc, cardID, cardType, tsMs,
	)
	if err != nil {
		return errIO(err)
	}
	return nil
}

// WithTx exposes the store's transaction helper to other packages that need
// to compose a raw-table write (e.g. anchor link upserts) with a store
// mutation in one commit.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	return s.tx(fn)
}

// AnchorLinksForAnchor returns every card link recorded against an anchor,
// most recent first.
func (s *Store) AnchorLinksForAnchor(workspace, anchorID string) ([]AnchorLink, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT branch, graph_doc, card_id, card_type, last_ts_ms FROM anchor_links WHERE workspace = ? AND anchor_id = ? ORDER BY last_ts_ms DESC`,
		workspace, anchorID)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []AnchorLink
	for rows.Next() {
		l := AnchorLink{Workspace: workspace, AnchorID: anchorID}
		if err := rows.Scan(&l.Branch, &l.GraphDoc, &l.CardID, &l.CardType, &l.LastTsMs); err != nil {
			return nil, errIO(err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AnchorLinksForBranches returns every anchor_links row whose branch is in
// the given set, across all anchors ("plan_anchors_coverage" needs
// this to compute active-task anchor coverage and top anchors for a plan).
func (s *Store) AnchorLinksForBranches(workspace string, branches []string) ([]AnchorLink, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	if len(branches) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]interface{}, 0, len(branches)+1)
	args = append(args, workspace)
	q := `SELECT anchor_id, branch, graph_doc, card_id, card_type, last_ts_ms FROM anchor_links WHERE workspace = ? AND branch IN (`
	for i, b := range branches {
		if i > 0 {
			q += ","
		}
		q += "?"
		args = append(args, b)
	}
	q += ")"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []AnchorLink
	for rows.Next() {
		l := AnchorLink{Workspace: workspace}
		if err := rows.Scan(&l.AnchorID, &l.Branch, &l.GraphDoc, &l.CardID, &l.CardType, &l.LastTsMs); err != nil {
			return nil, errIO(err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteAnchorLinksForCardTx removes every link row for a card that is not
// in keepAnchorIDs, within the caller's transaction: stale (anchor_id,
// card_id) rows never survive a re-tagged card.
func DeleteAnchorLinksForCardTx(tx *sql.Tx, workspace, branch, graphDoc, cardID string, keepAnchorIDs []string) error {
	rows, err := tx.Query(
		`SELECT anchor_id FROM anchor_links WHERE workspace=? AND branch=? AND graph_doc=? AND card_id=?`,
		workspace, branch, graphDoc, cardID)
	if err != nil {
		return errIO(err)
	}
	var existing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errIO(err)
		}
		existing = append(existing, id)
	}
	rows.Close()

	keep := make(map[string]bool, len(keepAnchorIDs))
	for _, id := range keepAnchorIDs {
		keep[id] = true
	}
	for _, id := range existing {
		if keep[id] {
			continue
		}
		if _, err := tx.Exec(
			`DELETE FROM anchor_links WHERE workspace=? AND anchor_id=? AND branch=? AND graph_doc=? AND card_id=?`,
			workspace, id, branch, graphDoc, cardID,
		); err != nil {
			return errIO(err)
		}
	}
	return nil
}

// AnchorExists reports whether an anchor row is present.
func (s *Store) AnchorExists(tx *sql.Tx, workspace, id string) (bool, error) {
	var exists int
	err := tx.QueryRow(`SELECT 1 FROM anchors WHERE workspace = ? AND id = ?`, workspace, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errIO(err)
	}
	return true, nil
}
