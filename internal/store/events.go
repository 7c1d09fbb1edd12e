package store

import "database/sql"

// Event is a row in the append-only per-workspace event log.
type Event struct {
	Workspace   string
	Seq         int64
	ID          string
	TsMs        int64
	EventType   string
	PayloadJSON string
}

// appendEvent writes one event row within tx, allocating the next seq for
// the workspace. Each entity create/edit that calls it commits exactly one
// event row in the same transaction.
func appendEvent(tx *sql.Tx, workspace, entityID, eventType, payloadJSON string, nowMs int64) (Event, error) {
	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM events WHERE workspace = ?`, workspace).Scan(&maxSeq); err != nil {
		return Event{}, errIO(err)
	}
	seq := int64(1)
	if maxSeq.Valid {
		seq = maxSeq.Int64 + 1
	}
	if _, err := tx.Exec(
		`INSERT INTO events (workspace, seq, id, ts_ms, event_type, payload_json) VALUES (?, ?, ?, ?, ?, ?)`,
		workspace, seq, entityID, nowMs, eventType, payloadJSON,
	); err != nil {
		return Event{}, errIO(err)
	}
	return Event{Workspace: workspace, Seq: seq, ID: entityID, TsMs: nowMs, EventType: eventType, PayloadJSON: payloadJSON}, nil
}

// ListEvents returns events with seq > sinceEventID (or all, if nil), in
// (ts_ms, seq) order, limited. Used by viewers and audit trails.
func (s *Store) ListEvents(workspace string, sinceEventID *int64, limit int) ([]Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}
	since := int64(0)
	if sinceEventID != nil {
		since = *sinceEventID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT workspace, seq, id, ts_ms, event_type, payload_json FROM events
		 WHERE workspace = ? AND seq > ?
		 ORDER BY ts_ms ASC, seq ASC
		 LIMIT ?`,
		workspace, since, limit,
	)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Workspace, &e.Seq, &e.ID, &e.TsMs, &e.EventType, &e.PayloadJSON); err != nil {
			return nil, errIO(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
