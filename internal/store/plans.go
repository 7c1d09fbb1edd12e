package store

import (
	"database/sql"
	"encoding/json"

	"branchmind/internal/logging"
)

// CreatePlan inserts a new plan and its "created" event in one transaction.
func (s *Store) CreatePlan(workspace, title, description, context string, priority int, eventPayloadJSON string) (Plan, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Plan{}, Event{}, err
	}
	if title == "" {
		return Plan{}, Event{}, errInvalidInput("title must not be empty")
	}

	var plan Plan
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		id, _, err := nextID(tx, workspace, "PLAN")
		if err != nil {
			return err
		}
		plan = Plan{
			Workspace: workspace, ID: id, Title: title, Description: description,
			Context: context, Status: "TODO", Priority: priority, Revision: 1,
			CreatedAtMs: now, UpdatedAtMs: now,
		}
		if _, err := tx.Exec(
			`INSERT INTO plans (workspace, id, title, description, context, status, priority, revision, created_at_ms, updated_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			plan.Workspace, plan.ID, plan.Title, plan.Description, plan.Context, plan.Status, plan.Priority, plan.Revision, plan.CreatedAtMs, plan.UpdatedAtMs,
		); err != nil {
			return errIO(err)
		}
		event, err = appendEvent(tx, workspace, id, "plan_created", eventPayloadJSON, now)
		return err
	})
	if err != nil {
		return Plan{}, Event{}, err
	}
	logging.Store("created plan %s in workspace %s", plan.ID, workspace)
	return plan, event, nil
}

// PlanEdit describes an optional field update to EditPlan. Nil fields are
// left unchanged.
type PlanEdit struct {
	Title       *string
	Description *string
	Context     *string
	Status      *string
	Priority    *int
}

// EditPlan applies an update, bumping revision and enforcing an optional
// expected_revision check.
func (s *Store) EditPlan(workspace, id string, expectedRevision *int64, edit PlanEdit, eventType, eventPayloadJSON string) (int64, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return 0, Event{}, err
	}

	var newRevision int64
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		var current Plan
		row := tx.QueryRow(`SELECT title, description, context, status, priority, revision FROM plans WHERE workspace = ? AND id = ?`, workspace, id)
		if err := row.Scan(&current.Title, &current.Description, &current.Context, &current.Status, &current.Priority, &current.Revision); err != nil {
			if err == sql.ErrNoRows {
				return errUnknownID(id)
			}
			return errIO(err)
		}
		if expectedRevision != nil && *expectedRevision != current.Revision {
			return errRevisionMismatch(*expectedRevision, current.Revision)
		}

		if edit.Title != nil {
			current.Title = *edit.Title
		}
		if edit.Description != nil {
			current.Description = *edit.Description
		}
		if edit.Context != nil {
			current.Context = *edit.Context
		}
		if edit.Status != nil {
			current.Status = *edit.Status
		}
		if edit.Priority != nil {
			current.Priority = *edit.Priority
		}
		newRevision = current.Revision + 1

		if _, err := tx.Exec(
			`UPDATE plans SET title = ?, description = ?, context = ?, status = ?, priority = ?, revision = ?, updated_at_ms = ?
			 WHERE workspace = ? AND id = ?`,
			current.Title, current.Description, current.Context, current.Status, current.Priority, newRevision, now, workspace, id,
		); err != nil {
			return errIO(err)
		}

		var err error
		event, err = appendEvent(tx, workspace, id, eventType, eventPayloadJSON, now)
		return err
	})
	if err != nil {
		return 0, Event{}, err
	}
	return newRevision, event, nil
}

// GetPlan fetches a single plan by id.
func (s *Store) GetPlan(workspace, id string) (Plan, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Plan{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p Plan
	p.Workspace, p.ID = workspace, id
	row := s.db.QueryRow(
		`SELECT title, description, context, status, priority, revision, created_at_ms, updated_at_ms
		 FROM plans WHERE workspace = ? AND id = ?`, workspace, id)
	if err := row.Scan(&p.Title, &p.Description, &p.Context, &p.Status, &p.Priority, &p.Revision, &p.CreatedAtMs, &p.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return Plan{}, errUnknownID(id)
		}
		return Plan{}, errIO(err)
	}
	return p, nil
}

// ListPlans returns a simple offset-paginated list of plans, for the viewer.
func (s *Store) ListPlans(workspace string, limit, offset int) ([]Plan, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, title, description, context, status, priority, revision, created_at_ms, updated_at_ms
		 FROM plans WHERE workspace = ? ORDER BY id LIMIT ? OFFSET ?`, workspace, limit, offset)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		p := Plan{Workspace: workspace}
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Context, &p.Status, &p.Priority, &p.Revision, &p.CreatedAtMs, &p.UpdatedAtMs); err != nil {
			return nil, errIO(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PlanHorizonStats is the result of PlanHorizonStatsForPlan.
type PlanHorizonStats struct {
	Active   int
	Backlog  int
	Parked   int
	Done     int
	Total    int
	Stale    int
	NextWake *int64
}

// PlanHorizonStatsForPlan computes the backlog/parked/stale/next-wake view
// over a plan's tasks, per the semantics table.
func (s *Store) PlanHorizonStatsForPlan(workspace, planID string, nowMsVal int64, staleDefaultMs int64) (PlanHorizonStats, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return PlanHorizonStats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT status, parked_until_ts_ms, stale_after_ms, updated_at_ms FROM tasks WHERE workspace = ? AND plan_id = ?`,
		workspace, planID)
	if err != nil {
		return PlanHorizonStats{}, errIO(err)
	}
	defer rows.Close()

	var stats PlanHorizonStats
	var nextWake *int64

	for rows.Next() {
		var status string
		var parkedUntil, staleAfter sql.NullInt64
		var updatedAt int64
		if err := rows.Scan(&status, &parkedUntil, &staleAfter, &updatedAt); err != nil {
			return PlanHorizonStats{}, errIO(err)
		}
		stats.Total++

		switch status {
		case "ACTIVE":
			stats.Active++
		case "DONE":
			stats.Done++
		case "TODO":
			stats.Backlog++
		case "PARKED":
			if parkedUntil.Valid && parkedUntil.Int64 > nowMsVal {
				stats.Parked++
				if nextWake == nil || parkedUntil.Int64 < *nextWake {
					v := parkedUntil.Int64
					nextWake = &v
				}
			} else {
				stats.Backlog++
			}
		}

		if status == "TODO" || status == "ACTIVE" || status == "PARKED" {
			threshold := staleDefaultMs
			if staleAfter.Valid {
				threshold = staleAfter.Int64
			}
			if nowMsVal-updatedAt > threshold {
				stats.Stale++
			}
		}
	}
	stats.NextWake = nextWake
	return stats, rows.Err()
}

// CountTasksByStatusForPlan returns grouped counts per status.
func (s *Store) CountTasksByStatusForPlan(workspace, planID string) (map[string]int, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM tasks WHERE workspace = ? AND plan_id = ? GROUP BY status`,
		workspace, planID)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errIO(err)
		}
		out[status] = count
	}
	return out, rows.Err()
}

func mustMarshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
