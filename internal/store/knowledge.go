package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"

	"branchmind/internal/logging"
)

// contentHash is the normalized-content hash knowledge entries dedupe on.
// Normalization is whitespace-trimmed, case-preserved: the source format
// doesn't specify case-folding, and card content is rarely
// case-insensitive-equivalent.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

// UpsertKnowledge records a (anchor_id, key, card_id) mapping, deduplicated
// by normalized content hash per (anchor_id, key). Content
// is supplied by the caller (internal/anchor resolves it from the card).
// Re-inserting an identical (anchor_id, key, card_id, content) tuple is a
// no-op; a new card_id with the same content under the same key is also a
// no-op since the dedup key already covers it.
func (s *Store) UpsertKnowledge(workspace, anchorID, key, cardID, content string) (KnowledgeEntry, bool, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return KnowledgeEntry{}, false, err
	}
	hash := contentHash(content)
	now := nowMs()
	var entry KnowledgeEntry
	inserted := false
	err := s.tx(func(tx *sql.Tx) error {
		var existingHash string
		err := tx.QueryRow(
			`SELECT content_hash FROM knowledge WHERE workspace=? AND anchor_id=? AND key=? AND card_id=?`,
			workspace, anchorID, key, cardID,
		).Scan(&existingHash)
		if err == nil {
			entry = KnowledgeEntry{Workspace: workspace, AnchorID: anchorID, Key: key, CardID: cardID, ContentHash: existingHash}
			return nil
		}
		if err != sql.ErrNoRows {
			return errIO(err)
		}
		var dupCardID string
		var dupCreatedAt int64
		err = tx.QueryRow(
			`SELECT card_id, created_at_ms FROM knowledge WHERE workspace=? AND anchor_id=? AND key=? AND content_hash=? LIMIT 1`,
			workspace, anchorID, key, hash,
		).Scan(&dupCardID, &dupCreatedAt)
		if err == nil {
			entry = KnowledgeEntry{Workspace: workspace, AnchorID: anchorID, Key: key, CardID: dupCardID, ContentHash: hash, CreatedAtMs: dupCreatedAt}
			return nil
		}
		if err != sql.ErrNoRows {
			return errIO(err)
		}
		if _, err := tx.Exec(
			`INSERT INTO knowledge (workspace, anchor_id, key, card_id, content_hash, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
			workspace, anchorID, key, cardID, hash, now,
		); err != nil {
			return errIO(err)
		}
		entry = KnowledgeEntry{Workspace: workspace, AnchorID: anchorID, Key: key, CardID: cardID, ContentHash: hash, CreatedAtMs: now}
		inserted = true
		return nil
	})
	if err != nil {
		return KnowledgeEntry{}, false, err
	}
	if inserted {
		logging.AnchorDebug("knowledge %s/%s <- %s recorded", anchorID, key, cardID)
	}
	return entry, inserted, nil
}

// KnowledgeKeysListAny returns every knowledge entry recorded against any of
// the given anchors ("knowledge_keys_list_any").
func (s *Store) KnowledgeKeysListAny(workspace string, anchorIDs []string, limit int) ([]KnowledgeEntry, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	if len(anchorIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]interface{}, 0, len(anchorIDs)+2)
	placeholders = append(placeholders, workspace)
	q := `SELECT anchor_id, key, card_id, content_hash, created_at_ms FROM knowledge WHERE workspace = ? AND anchor_id IN (`
	for i, id := range anchorIDs {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders = append(placeholders, id)
	}
	q += ") ORDER BY anchor_id, key, created_at_ms LIMIT ?"
	placeholders = append(placeholders, limit)

	rows, err := s.db.Query(q, placeholders...)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []KnowledgeEntry
	for rows.Next() {
		var e KnowledgeEntry
		e.Workspace = workspace
		if err := rows.Scan(&e.AnchorID, &e.Key, &e.CardID, &e.ContentHash, &e.CreatedAtMs); err != nil {
			return nil, errIO(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
