package store

import (
	"database/sql"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"branchmind/internal/logging"
)

var defaultProofModes = StepProofModes{
	Criteria: ProofModeOff,
	Tests:    ProofModeRequire,
	Security: ProofModeOff,
	Perf:     ProofModeOff,
	Docs:     ProofModeOff,
}

var defaultStepRequire = StepRequire{Criteria: true, Tests: true}

// parseStepPath splits a "s:i[.s:j...]" path into its integer components.
func parseStepPath(path string) ([]int, error) {
	if path == "" {
		return nil, errInvalidInput("step path must not be empty")
	}
	parts := strings.Split(path, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if !strings.HasPrefix(p, "s:") {
			return nil, errInvalidInput("malformed step path segment %q", p)
		}
		n, err := strconv.Atoi(strings.TrimPrefix(p, "s:"))
		if err != nil || n < 1 {
			return nil, errInvalidInput("malformed step path segment %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

// stepPathLess orders two paths depth-first (parents before children,
// siblings by index), matching the tree-walk order a reader expects.
func stepPathLess(a, b string) bool {
	pa, errA := parseStepPath(a)
	pb, errB := parseStepPath(b)
	if errA != nil || errB != nil {
		return a < b
	}
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return len(pa) < len(pb)
}

// CreateStep inserts a new step under a task at the given path.
func (s *Store) CreateStep(workspace, taskID, path, title string, successCriteria, tests, blockers, rollback []string, eventPayloadJSON string) (Step, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Step{}, Event{}, err
	}
	if title == "" {
		return Step{}, Event{}, errInvalidInput("title must not be empty")
	}
	if _, err := parseStepPath(path); err != nil {
		return Step{}, Event{}, err
	}

	var step Step
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT 1 FROM tasks WHERE workspace = ? AND id = ?`, workspace, taskID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return errUnknownID(taskID)
			}
			return errIO(err)
		}
		var dup int
		if err := tx.QueryRow(`SELECT 1 FROM steps WHERE workspace = ? AND task_id = ? AND path = ?`, workspace, taskID, path).Scan(&dup); err == nil {
			return errConflict("step path %s already exists on task %s", path, taskID)
		} else if err != sql.ErrNoRows {
			return errIO(err)
		}

		id, _, err := nextID(tx, workspace, "STEP")
		if err != nil {
			return err
		}
		step = Step{
			Workspace: workspace, ID: id, TaskID: taskID, Path: path, Title: title,
			SuccessCriteria: successCriteria, Tests: tests, Blockers: blockers, Rollback: rollback,
			Status: "open", Require: defaultStepRequire, ProofModes: defaultProofModes,
			Revision: 1, CreatedAtMs: now, UpdatedAtMs: now,
		}
		if _, err := tx.Exec(
			`INSERT INTO steps (workspace, id, task_id, path, title, success_criteria_json, tests_json, blockers_json, rollback_json,
				status, require_criteria, require_tests, require_security, require_perf, require_docs,
				proof_criteria_mode, proof_tests_mode, proof_security_mode, proof_perf_mode, proof_docs_mode,
				revision, created_at_ms, updated_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			step.Workspace, step.ID, step.TaskID, step.Path, step.Title,
			mustMarshal(step.SuccessCriteria), mustMarshal(step.Tests), mustMarshal(step.Blockers), mustMarshal(step.Rollback),
			step.Status,
			boolToInt(step.Require.Criteria), boolToInt(step.Require.Tests), boolToInt(step.Require.Security), boolToInt(step.Require.Perf), boolToInt(step.Require.Docs),
			string(step.ProofModes.Criteria), string(step.ProofModes.Tests), string(step.ProofModes.Security), string(step.ProofModes.Perf), string(step.ProofModes.Docs),
			step.Revision, step.CreatedAtMs, step.UpdatedAtMs,
		); err != nil {
			return errIO(err)
		}
		event, err = appendEvent(tx, workspace, id, "step_created", eventPayloadJSON, now)
		return err
	})
	if err != nil {
		return Step{}, Event{}, err
	}
	logging.Store("created step %s at path %s under task %s", step.ID, path, taskID)
	return step, event, nil
}

// StepEdit describes an optional field update to EditStep.
type StepEdit struct {
	Title           *string
	SuccessCriteria *[]string
	Tests           *[]string
	Blockers        *[]string
	Rollback        *[]string
	Status          *string
	Confirmed       *StepConfirmed
	Require         *StepRequire
	ProofModes      *StepProofModes
	ProofPresent    *StepProofPresent
}

// EditStep applies an update with optional revision check.
func (s *Store) EditStep(workspace, id string, expectedRevision *int64, edit StepEdit, eventType, eventPayloadJSON string) (int64, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return 0, Event{}, err
	}

	var newRevision int64
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		st, err := s.scanStep(tx, workspace, id)
		if err != nil {
			return err
		}
		if expectedRevision != nil && *expectedRevision != st.Revision {
			return errRevisionMismatch(*expectedRevision, st.Revision)
		}

		if edit.Title != nil {
			st.Title = *edit.Title
		}
		if edit.SuccessCriteria != nil {
			st.SuccessCriteria = *edit.SuccessCriteria
		}
		if edit.Tests != nil {
			st.Tests = *edit.Tests
		}
		if edit.Blockers != nil {
			st.Blockers = *edit.Blockers
		}
		if edit.Rollback != nil {
			st.Rollback = *edit.Rollback
		}
		if edit.Status != nil {
			st.Status = *edit.Status
		}
		if edit.Confirmed != nil {
			st.Confirmed = *edit.Confirmed
		}
		if edit.Require != nil {
			st.Require = *edit.Require
		}
		if edit.ProofModes != nil {
			st.ProofModes = *edit.ProofModes
		}
		if edit.ProofPresent != nil {
			st.ProofPresent = *edit.ProofPresent
		}
		newRevision = st.Revision + 1

		if _, err := tx.Exec(
			`UPDATE steps SET title=?, success_criteria_json=?, tests_json=?, blockers_json=?, rollback_json=?, status=?,
				crit_confirmed=?, tests_confirmed=?, security_confirmed=?, perf_confirmed=?, docs_confirmed=?,
				require_criteria=?, require_tests=?, require_security=?, require_perf=?, require_docs=?,
				proof_criteria_mode=?, proof_tests_mode=?, proof_security_mode=?, proof_perf_mode=?, proof_docs_mode=?,
				proof_criteria_present=?, proof_tests_present=?, proof_security_present=?, proof_perf_present=?, proof_docs_present=?,
				revision=?, updated_at_ms=?
			 WHERE workspace=? AND id=?`,
			st.Title, mustMarshal(st.SuccessCriteria), mustMarshal(st.Tests), mustMarshal(st.Blockers), mustMarshal(st.Rollback), st.Status,
			boolToInt(st.Confirmed.Criteria), boolToInt(st.Confirmed.Tests), boolToInt(st.Confirmed.Security), boolToInt(st.Confirmed.Perf), boolToInt(st.Confirmed.Docs),
			boolToInt(st.Require.Criteria), boolToInt(st.Require.Tests), boolToInt(st.Require.Security), boolToInt(st.Require.Perf), boolToInt(st.Require.Docs),
			string(st.ProofModes.Criteria), string(st.ProofModes.Tests), string(st.ProofModes.Security), string(st.ProofModes.Perf), string(st.ProofModes.Docs),
			boolToInt(st.ProofPresent.Criteria), boolToInt(st.ProofPresent.Tests), boolToInt(st.ProofPresent.Security), boolToInt(st.ProofPresent.Perf), boolToInt(st.ProofPresent.Docs),
			newRevision, now, workspace, id,
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

// GetStep fetches a single step by id.
func (s *Store) GetStep(workspace, id string) (Step, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Step{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanStepNoTx(workspace, id)
}

// ListStepsForTask returns every step under a task, ordered depth-first by
// path (parents before children, siblings by index).
func (s *Store) ListStepsForTask(workspace, taskID string) ([]Step, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id FROM steps WHERE workspace = ? AND task_id = ?`, workspace, taskID)
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

	out := make([]Step, 0, len(ids))
	for _, id := range ids {
		st, err := s.scanStepNoTx(workspace, id)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return stepPathLess(out[i].Path, out[j].Path) })
	return out, nil
}

// FirstOpenStep returns the first open step under a task in tree order, or
// (Step{}, false, nil) if every step is done.
func (s *Store) FirstOpenStep(workspace, taskID string) (Step, bool, error) {
	steps, err := s.ListStepsForTask(workspace, taskID)
	if err != nil {
		return Step{}, false, err
	}
	for _, st := range steps {
		if st.Status == "open" {
			return st, true, nil
		}
	}
	return Step{}, false, nil
}

func (s *Store) scanStepNoTx(workspace, id string) (Step, error) {
	row := s.db.QueryRow(stepSelectSQL, workspace, id)
	return scanStepFromRow(row, workspace, id)
}

func (s *Store) scanStep(tx *sql.Tx, workspace, id string) (Step, error) {
	row := tx.QueryRow(stepSelectSQL, workspace, id)
	return scanStepFromRow(row, workspace, id)
}

const stepSelectSQL = `
	SELECT task_id, path, title, success_criteria_json, tests_json, blockers_json, rollback_json, status,
		crit_confirmed, tests_confirmed, security_confirmed, perf_confirmed, docs_confirmed,
		require_criteria, require_tests, require_security, require_perf, require_docs,
		proof_criteria_mode, proof_tests_mode, proof_security_mode, proof_perf_mode, proof_docs_mode,
		proof_criteria_present, proof_tests_present, proof_security_present, proof_perf_present, proof_docs_present,
		revision, created_at_ms, updated_at_ms
	FROM steps WHERE workspace = ? AND id = ?`

func scanStepFromRow(row *sql.Row, workspace, id string) (Step, error) {
	st := Step{Workspace: workspace, ID: id}
	var sc, te, bl, ro string
	var critC, testsC, secC, perfC, docsC int
	var reqC, reqT, reqS, reqP, reqD int
	var pcm, ptm, psm, ppm, pdm string
	var ppC, ppT, ppS, ppP, ppD int

	if err := row.Scan(&st.TaskID, &st.Path, &st.Title, &sc, &te, &bl, &ro, &st.Status,
		&critC, &testsC, &secC, &perfC, &docsC,
		&reqC, &reqT, &reqS, &reqP, &reqD,
		&pcm, &ptm, &psm, &ppm, &pdm,
		&ppC, &ppT, &ppS, &ppP, &ppD,
		&st.Revision, &st.CreatedAtMs, &st.UpdatedAtMs,
	); err != nil {
		if err == sql.ErrNoRows {
			return Step{}, errUnknownID(id)
		}
		return Step{}, errIO(err)
	}

	_ = json.Unmarshal([]byte(sc), &st.SuccessCriteria)
	_ = json.Unmarshal([]byte(te), &st.Tests)
	_ = json.Unmarshal([]byte(bl), &st.Blockers)
	_ = json.Unmarshal([]byte(ro), &st.Rollback)

	st.Confirmed = StepConfirmed{Criteria: critC != 0, Tests: testsC != 0, Security: secC != 0, Perf: perfC != 0, Docs: docsC != 0}
	st.Require = StepRequire{Criteria: reqC != 0, Tests: reqT != 0, Security: reqS != 0, Perf: reqP != 0, Docs: reqD != 0}
	st.ProofModes = StepProofModes{Criteria: ProofMode(pcm), Tests: ProofMode(ptm), Security: ProofMode(psm), Perf: ProofMode(ppm), Docs: ProofMode(pdm)}
	st.ProofPresent = StepProofPresent{Criteria: ppC != 0, Tests: ppT != 0, Security: ppS != 0, Perf: ppP != 0, Docs: ppD != 0}
	return st, nil
}
