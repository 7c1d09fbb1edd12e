package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"branchmind/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRadarTracksLastSeqByKind(t *testing.T) {
	s := openTestStore(t)
	job, _, err := s.CreateJob("ws1", "Scout run", "do it", "codex_cli", 0, "", "", "{}", "{}")
	require.NoError(t, err)
	_, err = s.AppendJobMessage("ws1", job.ID, "question", "{}")
	require.NoError(t, err)
	_, err = s.AppendJobMessage("ws1", job.ID, "manager_reply", "{}")
	require.NoError(t, err)
	_, err = s.AppendJobMessage("ws1", job.ID, "question", "{}")
	require.NoError(t, err)

	radar, err := Radar(s, "ws1", 10)
	require.NoError(t, err)
	require.Len(t, radar, 1)
	require.True(t, radar[0].NeedsReply())
}

func TestRespondInboxGatedByMesh(t *testing.T) {
	s := openTestStore(t)
	_, err := RespondInbox(s, "ws1", false, nil, "{}")
	require.Error(t, err)
	serr, ok := store.AsStoreError(err)
	require.True(t, ok)
	require.Equal(t, "NOT_ENABLED", serr.Message)
}

func TestRespondInboxRepliesToNeedyJobs(t *testing.T) {
	s := openTestStore(t)
	job, _, err := s.CreateJob("ws1", "Scout run", "do it", "codex_cli", 0, "", "", "{}", "{}")
	require.NoError(t, err)
	_, err = s.AppendJobMessage("ws1", job.ID, "question", "{}")
	require.NoError(t, err)

	events, err := RespondInbox(s, "ws1", true, nil, `{"text":"ack"}`)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "manager_reply", events[0].Kind)

	radar, err := Radar(s, "ws1", 10)
	require.NoError(t, err)
	require.False(t, radar[0].NeedsReply())
}

func TestWaitReturnsImmediatelyOnNewEvent(t *testing.T) {
	s := openTestStore(t)
	job, _, err := s.CreateJob("ws1", "Scout run", "do it", "codex_cli", 0, "", "", "{}", "{}")
	require.NoError(t, err)
	_, err = s.AppendJobMessage("ws1", job.ID, "message", "{}")
	require.NoError(t, err)

	res, err := Wait(context.Background(), s, "ws1", job.ID, 1, 1000, 20, func(time.Duration) {})
	require.NoError(t, err)
	require.False(t, res.TimedOut)
	require.Len(t, res.Events, 1)
}

func TestWaitTimesOutWhenNothingHappens(t *testing.T) {
	s := openTestStore(t)
	job, _, err := s.CreateJob("ws1", "Scout run", "do it", "codex_cli", 0, "", "", "{}", "{}")
	require.NoError(t, err)

	ticks := 0
	res, err := Wait(context.Background(), s, "ws1", job.ID, 1, 50, 20, func(time.Duration) {
		ticks++
		if ticks > 5 {
			t.Fatal("wait looped past its deadline")
		}
	})
	require.NoError(t, err)
	require.True(t, res.TimedOut)
}

func TestCompleteJobStampsExecutionEvidenceRevision(t *testing.T) {
	s := openTestStore(t)
	job, _, err := s.CreateJob("ws1", "Scout run", "do it", "codex_cli", 0, "", "", "{}", "{}")
	require.NoError(t, err)
	claimed, ok, err := s.ClaimJob("ws1", "runner-1", 999999999999)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.ID, claimed.ID)

	summary := `{"execution_evidence":{"revision":1}}`
	done, err := CompleteJob(s, "ws1", job.ID, "runner-1", claimed.ClaimRevision, "DONE", summary, "{}")
	require.NoError(t, err)
	require.Contains(t, done.Summary, `"revision":`+itoa(claimed.ClaimRevision+1))
}

func TestSynthesizeContextRequestCompletion(t *testing.T) {
	s := openTestStore(t)
	job, _, err := s.CreateJob("ws1", "Builder run", "do it", "codex_cli", 0, "", "", `{"input_mode":"strict"}`, "{}")
	require.NoError(t, err)
	claimed, ok, err := s.ClaimJob("ws1", "runner-1", 999999999999)
	require.NoError(t, err)
	require.True(t, ok)

	stderr := "tool grep\nother line\ntool cat\ntool grep\n"
	blocked := ScanBlockedTools(stderr)
	require.Equal(t, []string{"grep", "cat"}, blocked)

	done, err := SynthesizeContextRequestCompletion(s, "ws1", job.ID, "runner-1", claimed.ClaimRevision, "logs/stderr.txt", blocked)
	require.NoError(t, err)
	require.Equal(t, "DONE", done.Status)
	require.Contains(t, done.Summary, "context_request")
	require.Contains(t, done.Summary, "FILE:logs/stderr.txt")
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	if neg {
		return "-" + digits
	}
	return digits
}
