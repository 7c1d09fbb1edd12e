// Package jobs implements the job-lifecycle orchestration that sits above
// the raw store: bounded wait/poll, the jobs_radar summary, the
// inbox/mesh reply macro, and the strict-input-mode context-request
// fallback.
package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"branchmind/internal/logging"
	"branchmind/internal/proof"
	"branchmind/internal/store"
)

// RadarEntry summarizes one job's latest event sequence numbers by kind.
type RadarEntry struct {
	JobID               string
	Status              string
	LastQuestionSeq     int64
	LastManagerReplySeq int64
	LastProofGateSeq    int64
	LastCheckpointSeq   int64
	LastManagerProofSeq int64
}

// Radar computes the jobs_radar view: for every non-terminal job (store's
// ListJobsRadar already filters to QUEUED/RUNNING), the seq of its last
// question/manager_reply/proof_gate/checkpoint/manager_proof event.
func Radar(s *store.Store, workspace string, limit int) ([]RadarEntry, error) {
	jobs, err := s.ListJobsRadar(workspace, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RadarEntry, 0, len(jobs))
	for _, j := range jobs {
		entry, err := radarForJob(s, workspace, j)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func radarForJob(s *store.Store, workspace string, j store.Job) (RadarEntry, error) {
	events, err := s.ListJobEvents(workspace, j.ID, 0)
	if err != nil {
		return RadarEntry{}, err
	}
	entry := RadarEntry{JobID: j.ID, Status: j.Status}
	for _, e := range events {
		switch e.Kind {
		case "question":
			entry.LastQuestionSeq = e.Seq
		case "manager_reply":
			entry.LastManagerReplySeq = e.Seq
		case "proof_gate":
			entry.LastProofGateSeq = e.Seq
		case "checkpoint":
			entry.LastCheckpointSeq = e.Seq
		case "manager_proof":
			entry.LastManagerProofSeq = e.Seq
		}
	}
	return entry, nil
}

// NeedsReply reports whether a job's last question is newer than its last
// manager_reply.
func (r RadarEntry) NeedsReply() bool {
	return r.LastQuestionSeq > r.LastManagerReplySeq
}

// WaitResult is the outcome of a bounded Wait call.
type WaitResult struct {
	Job      store.Job
	Events   []store.JobEvent
	TimedOut bool
}

const (
	MaxWaitTimeoutMs = 25000
	MinPollMs        = 20
	MaxPollMs        = 5000
)

// clampPoll enforces poll_ms ∈ [20,5000].
func clampPoll(pollMs int64) int64 {
	if pollMs < MinPollMs {
		return MinPollMs
	}
	if pollMs > MaxPollMs {
		return MaxPollMs
	}
	return pollMs
}

// clampTimeout enforces timeout_ms ≤ 25000.
func clampTimeout(timeoutMs int64) int64 {
	if timeoutMs <= 0 || timeoutMs > MaxWaitTimeoutMs {
		return MaxWaitTimeoutMs
	}
	return timeoutMs
}

// Wait implements `jobs.wait`: poll a job until it reaches a terminal
// status, produces an event with seq > afterSeq, or the bounded timeout
// elapses. The timeout elapses when the wall clock passes it or when the
// poll intervals handed to sleep add up to it, so an injected no-op
// sleeper (as tests use) still ends the loop. A nil sleeper uses
// time.Sleep.
func Wait(ctx context.Context, s *store.Store, workspace, jobID string, afterSeq int64, timeoutMs, pollMs int64, sleep func(time.Duration)) (WaitResult, error) {
	timeout := clampTimeout(timeoutMs)
	poll := clampPoll(pollMs)
	if sleep == nil {
		sleep = time.Sleep
	}
	deadline := time.Now().Add(time.Duration(timeout) * time.Millisecond)
	var sleptMs int64

	for {
		job, err := s.GetJob(workspace, jobID)
		if err != nil {
			return WaitResult{}, err
		}
		events, err := s.ListJobEvents(workspace, jobID, afterSeq)
		if err != nil {
			return WaitResult{}, err
		}
		if isTerminal(job.Status) || len(events) > 0 {
			return WaitResult{Job: job, Events: events}, nil
		}
		if sleptMs >= timeout || time.Now().After(deadline) {
			return WaitResult{Job: job, TimedOut: true}, nil
		}
		select {
		case <-ctx.Done():
			return WaitResult{Job: job, TimedOut: true}, ctx.Err()
		default:
		}
		sleep(time.Duration(poll) * time.Millisecond)
		sleptMs += poll
	}
}

func isTerminal(status string) bool {
	return status == "DONE" || status == "FAILED" || status == "CANCELED"
}

// RespondInbox implements `jobs.macro.respond.inbox`: append a
// manager_reply event to every job whose last question is newer than its
// last manager_reply, or to an explicit job id list when given. Gated on
// meshEnabled (BRANCHMIND_JOBS_MESH_V1) — callers pass cfg.Jobs.MeshEnabled.
func RespondInbox(s *store.Store, workspace string, meshEnabled bool, explicitJobIDs []string, replyPayloadJSON string) ([]store.JobEvent, error) {
	if !meshEnabled {
		return nil, &store.Error{Code: store.ErrPreconditionFailed, Message: "NOT_ENABLED"}
	}
	if replyPayloadJSON == "" {
		replyPayloadJSON = "{}"
	}

	var targets []string
	if len(explicitJobIDs) > 0 {
		targets = append([]string(nil), explicitJobIDs...)
	} else {
		radar, err := Radar(s, workspace, 200)
		if err != nil {
			return nil, err
		}
		for _, r := range radar {
			if r.NeedsReply() {
				targets = append(targets, r.JobID)
			}
		}
	}
	sort.Strings(targets)

	out := make([]store.JobEvent, 0, len(targets))
	for _, jobID := range targets {
		je, err := s.AppendJobMessage(workspace, jobID, "manager_reply", replyPayloadJSON)
		if err != nil {
			return out, err
		}
		out = append(out, je)
	}
	logging.Jobs("mesh reply delivered to %d job(s)", len(out))
	return out, nil
}

// executionEvidence mirrors the subset of a job-complete summary JSON the
// server inspects to stamp a normalized revision.
type executionEvidence struct {
	ExecutionEvidence *struct {
		Revision int64 `json:"revision"`
	} `json:"execution_evidence"`
}

// CompleteJob wraps store.CompleteJob with the summary-revision stamping
// rule: if summary parses as JSON and carries execution_evidence.revision,
// it is overwritten with claimRevision+1 before being persisted.
func CompleteJob(s *store.Store, workspace, jobID, runnerID string, claimRevision int64, status, summary, artifactsJSON string) (store.Job, error) {
	summary = stampExecutionEvidenceRevision(summary, claimRevision+1)
	return s.CompleteJob(workspace, jobID, runnerID, claimRevision, status, summary, artifactsJSON)
}

func stampExecutionEvidenceRevision(summary string, revision int64) string {
	var ev executionEvidence
	if err := json.Unmarshal([]byte(summary), &ev); err != nil || ev.ExecutionEvidence == nil {
		return summary
	}
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(summary), &generic); err != nil {
		return summary
	}
	if inner, ok := generic["execution_evidence"].(map[string]interface{}); ok {
		inner["revision"] = revision
		if out, err := json.Marshal(generic); err == nil {
			return string(out)
		}
	}
	return summary
}

// ContextRequestSummary is the synthesized completion body for the strict
// input-mode fallback.
type ContextRequestSummary struct {
	Kind              string   `json:"kind"` // "context_request"
	BlockedTools      []string `json:"blocked_tools"`
	StderrFileReceipt string   `json:"stderr_file_receipt"` // "FILE:<path>"
}

// SynthesizeContextRequestCompletion completes a strict-input-mode builder
// job without patches when its runner's stderr log shows blocked tool
// calls: status=DONE, summary describes the blocked tools and references
// the stderr log as a FILE: receipt, with execution_evidence.revision
// stamped to claimRevision+1.
func SynthesizeContextRequestCompletion(s *store.Store, workspace, jobID, runnerID string, claimRevision int64, stderrPath string, blockedTools []string) (store.Job, error) {
	body := map[string]interface{}{
		"kind":                "context_request",
		"blocked_tools":       blockedTools,
		"stderr_file_receipt": proof.FormatReceipt(proof.Receipt{Kind: proof.KindFile, Payload: stderrPath}),
		"execution_evidence":  map[string]interface{}{"revision": claimRevision + 1},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return store.Job{}, err
	}
	logging.Jobs("synthesized context_request completion for job %s (blocked tools: %v)", jobID, blockedTools)
	return s.CompleteJob(workspace, jobID, runnerID, claimRevision, "DONE", string(raw), "{}")
}

// ToolLinePrefix is the marker the strict-input-mode fallback scans for in
// a runner's stderr log ("tool <name>" lines indicate disallowed
// discovery calls outside the scout pack).
const ToolLinePrefix = "tool "

// ScanBlockedTools extracts the distinct tool names referenced by "tool
// <name>" lines in a stderr log, in first-seen order.
func ScanBlockedTools(stderrLog string) []string {
	seen := map[string]bool{}
	var out []string
	for _, line := range strings.Split(stderrLog, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, ToolLinePrefix) {
			continue
		}
		name := strings.TrimSpace(line[len(ToolLinePrefix):])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
