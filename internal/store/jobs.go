package store

import (
	"database/sql"

	"branchmind/internal/logging"
)

// CreateJob enqueues a new job.
func (s *Store) CreateJob(workspace, title, prompt, kind string, priority int, taskID, anchorID, metaJSON, eventPayloadJSON string) (Job, Event, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Job{}, Event{}, err
	}
	if title == "" {
		return Job{}, Event{}, errInvalidInput("title must not be empty")
	}
	if metaJSON == "" {
		metaJSON = "{}"
	}

	var job Job
	var event Event
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		id, _, err := nextID(tx, workspace, "JOB")
		if err != nil {
			return err
		}
		job = Job{
			Workspace: workspace, ID: id, Title: title, Prompt: prompt, Kind: kind, Priority: priority,
			Status: "QUEUED", TaskID: taskID, AnchorID: anchorID, MetaJSON: metaJSON, ArtifactsJSON: "{}",
			Revision: 1, CreatedAtMs: now, UpdatedAtMs: now,
		}
		if _, err := tx.Exec(
			`INSERT INTO jobs (workspace, id, title, prompt, kind, priority, status, task_id, anchor_id, meta_json, artifacts_json, revision, created_at_ms, updated_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.Workspace, job.ID, job.Title, job.Prompt, job.Kind, job.Priority, job.Status, job.TaskID, job.AnchorID,
			job.MetaJSON, job.ArtifactsJSON, job.Revision, job.CreatedAtMs, job.UpdatedAtMs,
		); err != nil {
			return errIO(err)
		}
		if _, err := tx.Exec(
			`INSERT INTO job_events (workspace, job_id, seq, ts_ms, kind, payload_json) VALUES (?, ?, 1, ?, 'queued', '{}')`,
			workspace, id, now,
		); err != nil {
			return errIO(err)
		}
		event, err = appendEvent(tx, workspace, id, "job_created", eventPayloadJSON, now)
		return err
	})
	if err != nil {
		return Job{}, Event{}, err
	}
	logging.Jobs("created job %s (%s)", job.ID, kind)
	return job, event, nil
}

// ClaimJob assigns the oldest QUEUED job (by priority desc, then id asc) to
// a runner, leasing it until leaseExpiresAtMs. Returns (Job{}, false, nil)
// if no job is claimable.
func (s *Store) ClaimJob(workspace, runnerID string, leaseExpiresAtMs int64) (Job, bool, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Job{}, false, err
	}

	var job Job
	found := false
	now := nowMs()

	err := s.tx(func(tx *sql.Tx) error {
		row := tx.QueryRow(
			`SELECT id FROM jobs WHERE workspace = ? AND status = 'QUEUED' ORDER BY priority DESC, id ASC LIMIT 1`,
			workspace)
		var id string
		if err := row.Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return errIO(err)
		}

		var revision int64
		if err := tx.QueryRow(`SELECT revision FROM jobs WHERE workspace = ? AND id = ?`, workspace, id).Scan(&revision); err != nil {
			return errIO(err)
		}
		newRevision := revision + 1

		if _, err := tx.Exec(
			`UPDATE jobs SET status='RUNNING', runner_id=?, lease_expires_at_ms=?, claim_revision=?, revision=?, updated_at_ms=?
			 WHERE workspace=? AND id=?`,
			runnerID, leaseExpiresAtMs, newRevision, newRevision, now, workspace, id,
		); err != nil {
			return errIO(err)
		}
		if _, err := tx.Exec(
			`INSERT INTO runner_leases (workspace, runner_id, active_job_id, lease_expires_at_ms, status)
			 VALUES (?, ?, ?, ?, 'LIVE')
			 ON CONFLICT(workspace, runner_id) DO UPDATE SET active_job_id=excluded.active_job_id, lease_expires_at_ms=excluded.lease_expires_at_ms, status='LIVE'`,
			workspace, runnerID, id, leaseExpiresAtMs,
		); err != nil {
			return errIO(err)
		}
		if err := appendJobEventTx(tx, workspace, id, "claimed", mustMarshal(map[string]string{"runner_id": runnerID}), now); err != nil {
			return err
		}

		var err error
		job, err = scanJobNoLock(tx.QueryRow(jobSelectSQL, workspace, id), workspace, id)
		found = err == nil
		return err
	})
	if err != nil {
		return Job{}, false, err
	}
	if found {
		logging.Jobs("runner %s claimed job %s", runnerID, job.ID)
	}
	return job, found, nil
}

// HeartbeatJob extends a runner's lease on its active job, matching on
// (runner_id, claim_revision) so a stale or pre-empted runner cannot refresh
// a lease it no longer holds.
func (s *Store) HeartbeatJob(workspace, jobID, runnerID string, claimRevision int64, newLeaseExpiresAtMs int64) error {
	if err := ValidateWorkspace(workspace); err != nil {
		return err
	}
	return s.tx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE jobs SET lease_expires_at_ms=? WHERE workspace=? AND id=? AND runner_id=? AND claim_revision=? AND status='RUNNING'`,
			newLeaseExpiresAtMs, workspace, jobID, runnerID, claimRevision,
		)
		if err != nil {
			return errIO(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errJobNotMessageable(jobID, "lease stale or job not running")
		}
		_, err = tx.Exec(
			`UPDATE runner_leases SET lease_expires_at_ms=? WHERE workspace=? AND runner_id=?`,
			newLeaseExpiresAtMs, workspace, runnerID,
		)
		if err != nil {
			return errIO(err)
		}
		return nil
	})
}

// AppendJobMessage appends a message-kind job event, rejecting jobs in a
// terminal status ("jobs.macro.respond.inbox" uses this as its write
// primitive).
func (s *Store) AppendJobMessage(workspace, jobID, kind, payloadJSON string) (JobEvent, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return JobEvent{}, err
	}
	var je JobEvent
	now := nowMs()
	err := s.tx(func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRow(`SELECT status FROM jobs WHERE workspace=? AND id=?`, workspace, jobID).Scan(&status); err != nil {
			if err == sql.ErrNoRows {
				return errUnknownID(jobID)
			}
			return errIO(err)
		}
		if status == "DONE" || status == "FAILED" || status == "CANCELED" {
			return errJobNotMessageable(jobID, status)
		}
		var err error
		je, err = appendJobEventReturningTx(tx, workspace, jobID, kind, payloadJSON, now)
		return err
	})
	return je, err
}

// CompleteJob marks a job DONE or FAILED, recording a summary and artifact
// set, and releasing the runner's lease.
func (s *Store) CompleteJob(workspace, jobID, runnerID string, claimRevision int64, status, summary, artifactsJSON string) (Job, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Job{}, err
	}
	if artifactsJSON == "" {
		artifactsJSON = "{}"
	}
	now := nowMs()
	var job Job

	err := s.tx(func(tx *sql.Tx) error {
		var revision int64
		row := tx.QueryRow(`SELECT revision FROM jobs WHERE workspace=? AND id=? AND runner_id=? AND claim_revision=?`, workspace, jobID, runnerID, claimRevision)
		if err := row.Scan(&revision); err != nil {
			if err == sql.ErrNoRows {
				return errJobNotMessageable(jobID, "claim mismatch")
			}
			return errIO(err)
		}
		newRevision := revision + 1

		if _, err := tx.Exec(
			`UPDATE jobs SET status=?, summary=?, artifacts_json=?, revision=?, updated_at_ms=? WHERE workspace=? AND id=?`,
			status, summary, artifactsJSON, newRevision, now, workspace, jobID,
		); err != nil {
			return errIO(err)
		}
		if _, err := tx.Exec(
			`UPDATE runner_leases SET active_job_id='', status='IDLE' WHERE workspace=? AND runner_id=?`,
			workspace, runnerID,
		); err != nil {
			return errIO(err)
		}
		if err := appendJobEventTx(tx, workspace, jobID, "completed", mustMarshal(map[string]string{"status": status}), now); err != nil {
			return err
		}
		var err error
		job, err = scanJobNoLock(tx.QueryRow(jobSelectSQL, workspace, jobID), workspace, jobID)
		return err
	})
	if err != nil {
		return Job{}, err
	}
	logging.Jobs("job %s completed with status %s", jobID, status)
	return job, nil
}

// ExpireStaleLeases transitions every RUNNING job whose lease has passed
// nowMsVal back to QUEUED, and marks the owning runner lease OFFLINE.
func (s *Store) ExpireStaleLeases(workspace string, nowMsVal int64) (int, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return 0, err
	}
	count := 0
	err := s.tx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT id, runner_id, revision FROM jobs WHERE workspace=? AND status='RUNNING' AND lease_expires_at_ms < ?`,
			workspace, nowMsVal)
		if err != nil {
			return errIO(err)
		}
		type stale struct {
			id, runnerID string
			revision     int64
		}
		var list []stale
		for rows.Next() {
			var st stale
			if err := rows.Scan(&st.id, &st.runnerID, &st.revision); err != nil {
				rows.Close()
				return errIO(err)
			}
			list = append(list, st)
		}
		rows.Close()

		for _, st := range list {
			if _, err := tx.Exec(
				`UPDATE jobs SET status='QUEUED', runner_id='', claim_revision=0, revision=?, updated_at_ms=? WHERE workspace=? AND id=?`,
				st.revision+1, nowMsVal, workspace, st.id,
			); err != nil {
				return errIO(err)
			}
			if err := appendJobEventTx(tx, workspace, st.id, "lease_expired", "{}", nowMsVal); err != nil {
				return err
			}
			if st.runnerID != "" {
				if _, err := tx.Exec(
					`UPDATE runner_leases SET active_job_id='', status='OFFLINE' WHERE workspace=? AND runner_id=?`,
					workspace, st.runnerID,
				); err != nil {
					return errIO(err)
				}
			}
			count++
		}
		return nil
	})
	return count, err
}

const jobSelectSQL = `
	SELECT title, prompt, kind, priority, status, task_id, anchor_id, meta_json, runner_id, lease_expires_at_ms,
		claim_revision, summary, artifacts_json, revision, created_at_ms, updated_at_ms
	FROM jobs WHERE workspace = ? AND id = ?`

// GetJob fetches a single job by id.
func (s *Store) GetJob(workspace, id string) (Job, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return Job{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanJobNoLock(s.db.QueryRow(jobSelectSQL, workspace, id), workspace, id)
}

func scanJobNoLock(row *sql.Row, workspace, id string) (Job, error) {
	j := Job{Workspace: workspace, ID: id}
	if err := row.Scan(&j.Title, &j.Prompt, &j.Kind, &j.Priority, &j.Status, &j.TaskID, &j.AnchorID, &j.MetaJSON,
		&j.RunnerID, &j.LeaseExpiresAtMs, &j.ClaimRevision, &j.Summary, &j.ArtifactsJSON, &j.Revision, &j.CreatedAtMs, &j.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return Job{}, errUnknownID(id)
		}
		return Job{}, errIO(err)
	}
	return j, nil
}

// ListJobsRadar returns the radar view over jobs: non-terminal jobs ordered
// by priority desc then id asc ("jobs_radar").
func (s *Store) ListJobsRadar(workspace string, limit int) ([]Job, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id FROM jobs WHERE workspace = ? AND status IN ('QUEUED', 'RUNNING') ORDER BY priority DESC, id ASC LIMIT ?`,
		workspace, limit)
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

	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		j, err := scanJobNoLock(s.db.QueryRow(jobSelectSQL, workspace, id), workspace, id)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// ListJobEvents returns the event stream for a job, oldest first.
func (s *Store) ListJobEvents(workspace, jobID string, sinceSeq int64) ([]JobEvent, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT seq, ts_ms, kind, payload_json FROM job_events WHERE workspace=? AND job_id=? AND seq > ? ORDER BY seq ASC`,
		workspace, jobID, sinceSeq)
	if err != nil {
		return nil, errIO(err)
	}
	defer rows.Close()

	var out []JobEvent
	for rows.Next() {
		e := JobEvent{Workspace: workspace, JobID: jobID}
		if err := rows.Scan(&e.Seq, &e.TsMs, &e.Kind, &e.PayloadJSON); err != nil {
			return nil, errIO(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func appendJobEventTx(tx *sql.Tx, workspace, jobID, kind, payloadJSON string, nowMsVal int64) error {
	_, err := appendJobEventReturningTx(tx, workspace, jobID, kind, payloadJSON, nowMsVal)
	return err
}

func appendJobEventReturningTx(tx *sql.Tx, workspace, jobID, kind, payloadJSON string, nowMsVal int64) (JobEvent, error) {
	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM job_events WHERE workspace=? AND job_id=?`, workspace, jobID).Scan(&maxSeq); err != nil {
		return JobEvent{}, errIO(err)
	}
	seq := int64(1)
	if maxSeq.Valid {
		seq = maxSeq.Int64 + 1
	}
	if payloadJSON == "" {
		payloadJSON = "{}"
	}
	if _, err := tx.Exec(
		`INSERT INTO job_events (workspace, job_id, seq, ts_ms, kind, payload_json) VALUES (?, ?, ?, ?, ?, ?)`,
		workspace, jobID, seq, nowMsVal, kind, payloadJSON,
	); err != nil {
		return JobEvent{}, errIO(err)
	}
	return JobEvent{Workspace: workspace, JobID: jobID, Seq: seq, TsMs: nowMsVal, Kind: kind, PayloadJSON: payloadJSON}, nil
}

// RunnerLeaseFor returns a runner's current lease state.
func (s *Store) RunnerLeaseFor(workspace, runnerID string) (RunnerLease, bool, error) {
	if err := ValidateWorkspace(workspace); err != nil {
		return RunnerLease{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l RunnerLease
	l.Workspace, l.RunnerID = workspace, runnerID
	err := s.db.QueryRow(
		`SELECT active_job_id, lease_expires_at_ms, status FROM runner_leases WHERE workspace=? AND runner_id=?`,
		workspace, runnerID,
	).Scan(&l.ActiveJobID, &l.LeaseExpiresAtMs, &l.Status)
	if err == sql.ErrNoRows {
		return RunnerLease{}, false, nil
	}
	if err != nil {
		return RunnerLease{}, false, errIO(err)
	}
	return l, true, nil
}
