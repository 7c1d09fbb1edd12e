package store

import (
	"database/sql"

	"branchmind/internal/logging"
)

// AppendDocEntry appends a new entry to a (branch, doc) stream, allocating
// the next strictly-increasing seq for that stream.
func (s *Store) AppendDocEntry(workspace, branch, doc, title, format, metaJSON, content string) (DocEntry, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return DocEntry{}, err
	}
	if doc == "" {
		return DocEntry{}, errInvalidInput("doc name must not be empty")
	}

	var entry DocEntry
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		var maxSeq sql.NullInt64
		if err := tx.QueryRow(`SELECT MAX(seq) FROM doc_entries WHERE workspace = ? AND branch = ? AND doc = ?`, workspace, branch, doc).Scan(&maxSeq); err != nil {
			return errIO(err)
		}
		seq := int64(1)
		if maxSeq.Valid {
			seq = maxSeq.Int64 + 1
		}
		entry = DocEntry{Workspace: workspace, Branch: branch, Doc: doc, Seq: seq, TsMs: now, Title: title, Format: format, MetaJSON: metaJSON, Content: content}
		if metaJSON == "" {
			entry.MetaJSON = "{}"
		}
		if _, err := tx.Exec(
			`INSERT INTO doc_entries (workspace, branch, doc, seq, ts_ms, title, format, meta_json, content)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.Workspace, entry.Branch, entry.Doc, entry.Seq, entry.TsMs, entry.Title, entry.Format, entry.MetaJSON, entry.Content,
		); err != nil {
			return errIO(err)
		}
		return nil
	})
	if err != nil {
		return DocEntry{}, err
	}
	logging.Docstream("appended seq %d to %s/%s", entry.Seq, branch, doc)
	return entry, nil
}

// TailDocEntries returns up to limit entries at the tail of a (branch, doc)
// stream, oldest first.
func (s *Store) TailDocEntries(workspace, branch, doc string, limit int) ([]DocEntry, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT seq, ts_ms, title, format, meta_json, content FROM doc_entries
		 WHERE workspace = ? AND branch = ? AND doc = ? ORDER BY seq DESC LIMIT ?`,
		workspace, branch, doc, limit)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []DocEntry
	for rows.Next() {
		e := DocEntry{Workspace: workspace, Branch: branch, Doc: doc}
		if err := rows.Scan(&e.Seq, &e.TsMs, &e.Title, &e.Format, &e.MetaJSON, &e.Content); err != nil {
			return nil, errIO(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errIO(err)
	}
	// reverse into oldest-first order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DocEntriesSince returns entries with seq > sinceSeq, oldest first, for
// diffing against a previously seen tail ("doc_diff_tail").
func (s *Store) DocEntriesSince(workspace, branch, doc string, sinceSeq int64, limit int) ([]DocEntry, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT seq, ts_ms, title, format, meta_json, content FROM doc_entries
		 WHERE workspace = ? AND branch = ? AND doc = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		workspace, branch, doc, sinceSeq, limit)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []DocEntry
	for rows.Next() {
		e := DocEntry{Workspace: workspace, Branch: branch, Doc: doc}
		if err := rows.Scan(&e.Seq, &e.TsMs, &e.Title, &e.Format, &e.MetaJSON, &e.Content); err != nil {
			return nil, errIO(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestDocSeq returns the highest seq recorded for a (branch, doc) stream,
// or 0 if the stream is empty.
func (s *Store) LatestDocSeq(workspace, branch, doc string) (int64, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxSeq sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM doc_entries WHERE workspace = ? AND branch = ? AND doc = ?`, workspace, branch, doc).Scan(&maxSeq); err != nil {
		return 0, errIO(err)
	}
	if !maxSeq.Valid {
		return 0, nil
	}
	return maxSeq.Int64, nil
}

// ListDocs returns the distinct (branch, doc) streams present in a workspace.
func (s *Store) ListDocs(workspace string) ([]struct{ Branch, Doc string }, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT DISTINCT branch, doc FROM doc_entries WHERE workspace = ? ORDER BY branch, doc`, workspace)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []struct{ Branch, Doc string }
	for rows.Next() {
		var b, d string
		if err := rows.Scan(&b, &d); err != nil {
			return nil, errIO(err)
		}
		out = append(out, struct{ Branch, Doc string }{b, d})
	}
	return out, rows.Err()
}
