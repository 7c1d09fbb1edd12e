package store

import (
	"database/sql"
	"encoding/json"

	"branchmind/internal/logging"
)

// CreateCard inserts a new reasoning card into a (branch, graph_doc) graph.
func (s *Store) CreateCard(workspace, branch, graphDoc, cardType, title, text string, tags []string, metaJSON, eventPayloadJSON string) (Card, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Card{}, Event{}, err
	}
	if cardType == "" {
		return Card{}, Event{}, errInvalidInput("card type must not be empty")
	}
	if metaJSON == "" {
		metaJSON = "{}"
	}

	var card Card
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		id, _, err := nextID(tx, workspace, "CARD")
		if err != nil {
			return err
		}
		card = Card{
			Workspace: workspace, Branch: branch, GraphDoc: graphDoc, ID: id, Type: cardType,
			Title: title, Text: text, Tags: tags, Status: "open", MetaJSON: metaJSON,
			Revision: 1, CreatedAtMs: now, UpdatedAtMs: now,
		}
		if _, err := tx.Exec(
			`INSERT INTO cards (workspace, branch, graph_doc, id, type, title, text, tags_json, status, meta_json, revision, created_at_ms, updated_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			card.Workspace, card.Branch, card.GraphDoc, card.ID, card.Type, card.Title, card.Text,
			mustMarshal(card.Tags), card.Status, card.MetaJSON, card.Revision, card.CreatedAtMs, card.UpdatedAtMs,
		); err != nil {
			return errIO(err)
		}
		event, err = appendEvent(tx, workspace, id, "card_created", eventPayloadJSON, now)
		return err
	})
	if err != nil {
		return Card{}, Event{}, err
	}
	logging.Reasoning("created card %s type=%s in %s/%s", card.ID, cardType, branch, graphDoc)
	return card, event, nil
}

// CardEdit describes an optional field update to EditCard.
type CardEdit struct {
	Title  *string
	Text   *string
	Tags   *[]string
	Status *string
	Meta   *string
}

// EditCard applies an update with optional revision check.
func (s *Store) EditCard(workspace, branch, graphDoc, id string, expectedRevision *int64, edit CardEdit, eventType, eventPayloadJSON string) (int64, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return 0, Event{}, err
	}

	var newRevision int64
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		c, err := scanCardRow(tx.QueryRow(
			`SELECT type, title, text, tags_json, status, meta_json, revision FROM cards WHERE workspace=? AND branch=? AND graph_doc=? AND id=?`,
			workspace, branch, graphDoc, id), workspace, branch, graphDoc, id)
		if err != nil {
			return err
		}
		if expectedRevision != nil && *expectedRevision != c.Revision {
			return errRevisionMismatch(*expectedRevision, c.Revision)
		}

		if edit.Title != nil {
			c.Title = *edit.Title
		}
		if edit.Text != nil {
			c.Text = *edit.Text
		}
		if edit.Tags != nil {
			c.Tags = *edit.Tags
		}
		if edit.Status != nil {
			c.Status = *edit.Status
		}
		if edit.Meta != nil {
			c.MetaJSON = *edit.Meta
		}
		newRevision = c.Revision + 1

		if _, err := tx.Exec(
			`UPDATE cards SET title=?, text=?, tags_json=?, status=?, meta_json=?, revision=?, updated_at_ms=?
			 WHERE workspace=? AND branch=? AND graph_doc=? AND id=?`,
			c.Title, c.Text, mustMarshal(c.Tags), c.Status, c.MetaJSON, newRevision, now, workspace, branch, graphDoc, id,
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

// GetCard fetches a single card by (branch, graph_doc, id).
func (s *Store) GetCard(workspace, branch, graphDoc, id string) (Card, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Card{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT type, title, text, tags_json, status, meta_json, revision, created_at_ms, updated_at_ms
		 FROM cards WHERE workspace=? AND branch=? AND graph_doc=? AND id=?`,
		workspace, branch, graphDoc, id)
	c := Card{Workspace: workspace, Branch: branch, GraphDoc: graphDoc, ID: id}
	var tagsJSON string
	if err := row.Scan(&c.Type, &c.Title, &c.Text, &tagsJSON, &c.Status, &c.MetaJSON, &c.Revision, &c.CreatedAtMs, &c.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return Card{}, errUnknownID(id)
		}
		return Card{}, errIO(err)
	}
	_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)
	return c, nil
}

func scanCardRow(row *sql.Row, workspace, branch, graphDoc, id string) (Card, error) {
	c := Card{Workspace: workspace, Branch: branch, GraphDoc: graphDoc, ID: id}
	var tagsJSON string
	if err := row.Scan(&c.Type, &c.Title, &c.Text, &tagsJSON, &c.Status, &c.MetaJSON, &c.Revision); err != nil {
		if err == sql.ErrNoRows {
			return Card{}, errUnknownID(id)
		}
		return Card{}, errIO(err)
	}
	_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)
	return c, nil
}

// ListCardsForDoc returns every card in a (branch, graph_doc) graph, ordered
// by most recently updated.
func (s *Store) ListCardsForDoc(workspace, branch, graphDoc string) ([]Card, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, type, title, text, tags_json, status, meta_json, revision, created_at_ms, updated_at_ms
		 FROM cards WHERE workspace=? AND branch=? AND graph_doc=? ORDER BY updated_at_ms DESC`,
		workspace, branch, graphDoc)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []Card
	for rows.Next() {
		c := Card{Workspace: workspace, Branch: branch, GraphDoc: graphDoc}
		var tagsJSON string
		if err := rows.Scan(&c.ID, &c.Type, &c.Title, &c.Text, &tagsJSON, &c.Status, &c.MetaJSON, &c.Revision, &c.CreatedAtMs, &c.UpdatedAtMs); err != nil {
			return nil, errIO(err)
		}
		_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddCardEdge records a supports/blocks edge between two cards in the same
// doc. Idempotent: re-adding the same edge is a no-op.
func (s *Store) AddCardEdge(workspace, branch, graphDoc, fromID, edgeType, toID string) error {
	if err := ValidateWorkspace(workspace); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO card_edges (workspace, branch, graph_doc, from_id, edge_type, to_id) VALUES (?, ?, ?, ?, ?, ?)`,
		workspace, branch, graphDoc, fromID, edgeType, toID,
	)
	if err != nil {
		return errIO(err)
	}
	return nil
}

// CardEdgesFrom returns every edge originating at a card.
func (s *Store) CardEdgesFrom(workspace, branch, graphDoc, fromID string) ([]CardEdge, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT edge_type, to_id FROM card_edges WHERE workspace=? AND branch=? AND graph_doc=? AND from_id=?`,
		workspace, branch, graphDoc, fromID)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []CardEdge
	for rows.Next() {
		e := CardEdge{Workspace: workspace, Branch: branch, GraphDoc: graphDoc, FromID: fromID}
		if err := rows.Scan(&e.EdgeType, &e.ToID); err != nil {
			return nil, errIO(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CardEdgesTo returns every edge pointing at a card (used by confidence
// propagation in internal/reasoning).
func (s *Store) CardEdgesTo(workspace, branch, graphDoc, toID string) ([]CardEdge, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT from_id, edge_type FROM card_edges WHERE workspace=? AND branch=? AND graph_doc=? AND to_id=?`,
		workspace, branch, graphDoc, toID)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []CardEdge
	for rows.Next() {
		e := CardEdge{Workspace: workspace, Branch: branch, GraphDoc: graphDoc, ToID: toID}
		if err := rows.Scan(&e.FromID, &e.EdgeType); err != nil {
			return nil, errIO(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
