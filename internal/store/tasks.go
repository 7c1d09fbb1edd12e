package store

import (
	"database/sql"
	"encoding/json"

	"branchmind/internal/logging"
)

// CreateTask inserts a new task under a plan and its "created" event.
func (s *Store) CreateTask(workspace, planID, title, description, context string, priority int, eventPayloadJSON string) (Task, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Task{}, Event{}, err
	}
	if title == "" {
		return Task{}, Event{}, errInvalidInput("title must not be empty")
	}

	var task Task
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT 1 FROM plans WHERE workspace = ? AND id = ?`, workspace, planID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return errUnknownID(planID)
			}
			return errIO(err)
		}

		id, _, err := nextID(tx, workspace, "TASK")
		if err != nil {
			return err
		}
		task = Task{
			Workspace: workspace, ID: id, PlanID: planID, Title: title, Description: description,
			Context: context, Status: "TODO", Priority: priority, ReasoningMode: "off",
			Revision: 1, CreatedAtMs: now, UpdatedAtMs: now,
		}
		if _, err := tx.Exec(
			`INSERT INTO tasks (workspace, id, plan_id, title, description, context, status, priority, reasoning_mode, revision, created_at_ms, updated_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.Workspace, task.ID, task.PlanID, task.Title, task.Description, task.Context, task.Status, task.Priority, task.ReasoningMode, task.Revision, task.CreatedAtMs, task.UpdatedAtMs,
		); err != nil {
			return errIO(err)
		}
		event, err = appendEvent(tx, workspace, id, "task_created", eventPayloadJSON, now)
		return err
	})
	if err != nil {
		return Task{}, Event{}, err
	}
	logging.Store("created task %s under plan %s", task.ID, planID)
	return task, event, nil
}

// TaskEdit describes an optional field update to EditTask.
type TaskEdit struct {
	Title           *string
	Description     *string
	Context         *string
	Status          *string
	Priority        *int
	Blocked         *bool
	ParkedUntilTsMs **int64
	StaleAfterMs    **int64
	ReasoningMode   *string
}

// EditTask applies an update with optional revision check.
func (s *Store) EditTask(workspace, id string, expectedRevision *int64, edit TaskEdit, eventType, eventPayloadJSON string) (int64, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return 0, Event{}, err
	}

	var newRevision int64
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		t, err := scanTaskRow(tx.QueryRow(`
			SELECT title, description, context, status, priority, blocked, parked_until_ts_ms, stale_after_ms, reasoning_mode, revision
			FROM tasks WHERE workspace = ? AND id = ?`, workspace, id))
		if err != nil {
			return err
		}
		if expectedRevision != nil && *expectedRevision != t.Revision {
			return errRevisionMismatch(*expectedRevision, t.Revision)
		}

		if edit.Title != nil {
			t.Title = *edit.Title
		}
		if edit.Description != nil {
			t.Description = *edit.Description
		}
		if edit.Context != nil {
			t.Context = *edit.Context
		}
		if edit.Status != nil {
			t.Status = *edit.Status
		}
		if edit.Priority != nil {
			t.Priority = *edit.Priority
		}
		if edit.Blocked != nil {
			t.Blocked = *edit.Blocked
		}
		if edit.ParkedUntilTsMs != nil {
			t.ParkedUntilTsMs = *edit.ParkedUntilTsMs
		}
		if edit.StaleAfterMs != nil {
			t.StaleAfterMs = *edit.StaleAfterMs
		}
		if edit.ReasoningMode != nil {
			t.ReasoningMode = *edit.ReasoningMode
		}
		newRevision = t.Revision + 1

		if _, err := tx.Exec(
			`UPDATE tasks SET title=?, description=?, context=?, status=?, priority=?, blocked=?, parked_until_ts_ms=?, stale_after_ms=?, reasoning_mode=?, revision=?, updated_at_ms=?
			 WHERE workspace=? AND id=?`,
			t.Title, t.Description, t.Context, t.Status, t.Priority, boolToInt(t.Blocked), t.ParkedUntilTsMs, t.StaleAfterMs, t.ReasoningMode, newRevision, now, workspace, id,
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

// SetTaskCheckpoints overwrites the five checkpoint axes' manual/auto flags
// on a task.
func (s *Store) SetTaskCheckpoints(workspace, id string, cp Checkpoints) error {
	if err := ValidateWorkspace(workspace); err != nil {
		return err
	}
	return s.tx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE tasks SET crit_manual=?, crit_auto=?, tests_manual=?, tests_auto=?,
				security_manual=?, security_auto=?, perf_manual=?, perf_auto=?, docs_manual=?, docs_auto=?
			WHERE workspace=? AND id=?`,
			boolToInt(cp.CriteriaManual), boolToInt(cp.CriteriaAuto),
			boolToInt(cp.TestsManual), boolToInt(cp.TestsAuto),
			boolToInt(cp.SecurityManual), boolToInt(cp.SecurityAuto),
			boolToInt(cp.PerfManual), boolToInt(cp.PerfAuto),
			boolToInt(cp.DocsManual), boolToInt(cp.DocsAuto),
			workspace, id,
		)
		if err != nil {
			return errIO(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errUnknownID(id)
		}
		return nil
	})
}

// AppendSalvagedProofRefs appends proof refs to a task's salvaged set,
// stored separately from the step's own proof so a later close can
// still surface earlier refs.
func (s *Store) AppendSalvagedProofRefs(workspace, id string, refs []string) error {
	if err := ValidateWorkspace(workspace); err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}
	return s.tx(func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRow(`SELECT salvaged_proof_json FROM tasks WHERE workspace=? AND id=?`, workspace, id).Scan(&raw); err != nil {
			if err == sql.ErrNoRows {
				return errUnknownID(id)
			}
			return errIO(err)
		}
		var existing []string
		_ = json.Unmarshal([]byte(raw), &existing)
		seen := map[string]bool{}
		for _, r := range existing {
			seen[r] = true
		}
		for _, r := range refs {
			if !seen[r] {
				existing = append(existing, r)
				seen[r] = true
			}
		}
		if _, err := tx.Exec(`UPDATE tasks SET salvaged_proof_json=? WHERE workspace=? AND id=?`, mustMarshal(existing), workspace, id); err != nil {
			return errIO(err)
		}
		return nil
	})
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(workspace, id string) (Task, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Task{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT title, description, context, status, priority, blocked, parked_until_ts_ms, stale_after_ms, reasoning_mode,
			crit_manual, crit_auto, tests_manual, tests_auto, security_manual, security_auto, perf_manual, perf_auto, docs_manual, docs_auto,
			salvaged_proof_json, revision, created_at_ms, updated_at_ms
		FROM tasks WHERE workspace = ? AND id = ?`, workspace, id)

	t := Task{Workspace: workspace, ID: id}
	var blocked int
	var critM, critA, testsM, testsA, secM, secA, perfM, perfA, docsM, docsA int
	var salvagedJSON string
	if err := row.Scan(&t.Title, &t.Description, &t.Context, &t.Status, &t.Priority, &blocked, &t.ParkedUntilTsMs, &t.StaleAfterMs, &t.ReasoningMode,
		&critM, &critA, &testsM, &testsA, &secM, &secA, &perfM, &perfA, &docsM, &docsA,
		&salvagedJSON, &t.Revision, &t.CreatedAtMs, &t.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, errUnknownID(id)
		}
		return Task{}, errIO(err)
	}
	t.Blocked = blocked != 0
	t.Checkpoints = Checkpoints{
		CriteriaManual: critM != 0, CriteriaAuto: critA != 0,
		TestsManual: testsM != 0, TestsAuto: testsA != 0,
		SecurityManual: secM != 0, SecurityAuto: secA != 0,
		PerfManual: perfM != 0, PerfAuto: perfA != 0,
		DocsManual: docsM != 0, DocsAuto: docsA != 0,
	}
	_ = json.Unmarshal([]byte(salvagedJSON), &t.SalvagedProofRef)
	return t, nil
}

// ListTasks returns a simple offset-paginated list of tasks for the viewer.
func (s *Store) ListTasks(workspace string, limit, offset int) ([]Task, error) {
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

	rows, err := s.db.Query(`SELECT id FROM tasks WHERE workspace = ? ORDER BY id LIMIT ? OFFSET ?`, workspace, limit, offset)
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

	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(workspace, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ListTasksForPlanCursorResult is the result of key-set pagination over a
// plan's tasks.
type ListTasksForPlanCursorResult struct {
	Tasks      []Task
	HasMore    bool
	NextCursor *string
}

// ListTasksForPlanCursor returns tasks for a plan ordered by id ascending,
// using an exclusive lower-bound cursor (the last-seen task id).
func (s *Store) ListTasksForPlanCursor(workspace, planID string, cursor *string, limit int) (ListTasksForPlanCursorResult, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return ListTasksForPlanCursorResult{}, err
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	var ids []string
	var err error
	func() {
		defer s.mu.RUnlock()
		var rows *sql.Rows
		if cursor != nil {
			rows, err = s.db.Query(
				`SELECT id FROM tasks WHERE workspace = ? AND plan_id = ? AND id > ? ORDER BY id LIMIT ?`,
				workspace, planID, *cursor, limit+1)
		} else {
			rows, err = s.db.Query(
				`SELECT id FROM tasks WHERE workspace = ? AND plan_id = ? ORDER BY id LIMIT ?`,
				workspace, planID, limit+1)
		}
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if scanErr := rows.Scan(&id); scanErr != nil {
				err = scanErr
				return
			}
			ids = append(ids, id)
		}
		err = rows.Err()
	}()
	if err != nil {
		return ListTasksForPlanCursorResult{}, errIO(err)
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}

	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(workspace, id)
		if err != nil {
			return ListTasksForPlanCursorResult{}, err
		}
		tasks = append(tasks, t)
	}

	var nextCursor *string
	if hasMore && len(ids) > 0 {
		last := ids[len(ids)-1]
		nextCursor = &last
	}

	return ListTasksForPlanCursorResult{Tasks: tasks, HasMore: hasMore, NextCursor: nextCursor}, nil
}

func scanTaskRow(row *sql.Row) (Task, error) {
	var t Task
	var blocked int
	if err := row.Scan(&t.Title, &t.Description, &t.Context, &t.Status, &t.Priority, &blocked, &t.ParkedUntilTsMs, &t.StaleAfterMs, &t.ReasoningMode, &t.Revision); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, errUnknownID("")
		}
		return Task{}, errIO(err)
	}
	t.Blocked = blocked != 0
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
