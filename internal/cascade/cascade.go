// Package cascade implements the scout/writer/validator pipeline state
// machine: cascade_session lifecycle, transition rules, and the job-id
// lineage bookkeeping that backs `cascade.init`/`cascade.advance`.
package cascade

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"

	"branchmind/internal/logging"
)

// Phase is one state of the cascade_session state machine.
type Phase string

const (
	PhaseScout       Phase = "scout"
	PhasePreValidate Phase = "pre_validate"
	PhaseWriter      Phase = "writer"
	PhaseValidator   Phase = "validator"
	PhaseGate        Phase = "gate"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Lineage tracks the job ids dispatched at each stage of a session.
type Lineage struct {
	ScoutJobIDs     []string
	WriterJobIDs    []string
	ValidatorJobIDs []string
}

// Session is the cascade_session record.
type Session struct {
	SessionID     string // "pls-<ulid>"
	TaskID        string
	AnchorID      string
	SliceID       string
	Objective     string
	Phase         Phase
	ScoutRetries  int
	WriterRetries int
	ScoutReruns   int
	TotalLLMCalls int
	Lineage       Lineage
}

// NewSessionID allocates a "pls-<ulid>" session id.
func NewSessionID() string {
	id := ulid.MustNew(ulid.Now(), rand.Reader)
	return "pls-" + id.String()
}

// NextAction is the dispatch instruction Advance hands back to the caller;
// the caller (internal/dispatch) is responsible for actually creating the
// named job kind via the store, then feeding its job id back through a
// later Advance call.
type NextAction string

const (
	ActionNone              NextAction = ""
	ActionDispatchScout     NextAction = "dispatch_scout"
	ActionDispatchWriter    NextAction = "dispatch_writer"
	ActionDispatchValidator NextAction = "dispatch_validator"
	ActionGateApply         NextAction = "gate_apply"
)

// Init starts a new cascade session in phase=scout ("cascade.init").
// The caller dispatches the actual scout job and records its id via the
// first Advance("scout_dispatched", jobID) call.
func Init(taskID, anchorID, sliceID, objective string) Session {
	sess := Session{
		SessionID: NewSessionID(),
		TaskID:    taskID, AnchorID: anchorID, SliceID: sliceID, Objective: objective,
		Phase: PhaseScout,
	}
	logging.Cascade("initialized session %s for task %s slice %s", sess.SessionID, taskID, sliceID)
	return sess
}

// Event is one of the cascade's state transition triggers.
type Event string

const (
	EventScoutDispatched     Event = "scout_dispatched"
	EventScoutDone           Event = "scout_done"
	EventPreValidatePass     Event = "pre_validate.pass"
	EventPreValidateNeedMore Event = "pre_validate.need_more"
	EventWriterDispatched    Event = "writer_dispatched"
	EventWriterDone          Event = "writer_done"
	EventValidatorDispatched Event = "validator_dispatched"
	EventValidatorApprove    Event = "validator_done.approve"
	EventValidatorReject     Event = "validator_done.reject"
	EventGateApplyDone       Event = "gate_apply_done"
)

// Limits bounds retry counts (default: 2 scout retries, 2 writer retries).
type Limits struct {
	MaxScoutRetries  int
	MaxWriterRetries int
}

func DefaultLimits() Limits { return Limits{MaxScoutRetries: 2, MaxWriterRetries: 2} }

// Advance implements `cascade.advance`: applies one transition, recording
// jobID into the lineage bucket for the phase it was dispatched in and
// incrementing total_llm_calls on every job-producing event, and returns
// the updated session plus the next dispatch action (if any).
func Advance(sess Session, event Event, jobID string, limits Limits) (Session, NextAction, error) {
	switch event {
	case EventScoutDispatched:
		if jobID != "" {
			sess.Lineage.ScoutJobIDs = append(sess.Lineage.ScoutJobIDs, jobID)
			sess.TotalLLMCalls++
		}
		sess.Phase = PhaseScout
		return sess, ActionNone, nil

	case EventScoutDone:
		if sess.Phase != PhaseScout {
			return sess, ActionNone, errWrongPhase(event, sess.Phase)
		}
		sess.Phase = PhasePreValidate
		return sess, ActionNone, nil

	case EventPreValidatePass:
		if sess.Phase != PhasePreValidate {
			return sess, ActionNone, errWrongPhase(event, sess.Phase)
		}
		sess.Phase = PhaseWriter
		return sess, ActionDispatchWriter, nil

	case EventPreValidateNeedMore:
		if sess.Phase != PhasePreValidate {
			return sess, ActionNone, errWrongPhase(event, sess.Phase)
		}
		if sess.ScoutRetries < limits.MaxScoutRetries {
			sess.ScoutRetries++
			sess.ScoutReruns++
			sess.Phase = PhaseScout
			return sess, ActionDispatchScout, nil
		}
		sess.Phase = PhaseFailed
		return sess, ActionNone, nil

	case EventWriterDispatched:
		if jobID != "" {
			sess.Lineage.WriterJobIDs = append(sess.Lineage.WriterJobIDs, jobID)
			sess.TotalLLMCalls++
		}
		sess.Phase = PhaseWriter
		return sess, ActionNone, nil

	case EventWriterDone:
		if sess.Phase != PhaseWriter {
			return sess, ActionNone, errWrongPhase(event, sess.Phase)
		}
		sess.Phase = PhaseValidator
		return sess, ActionDispatchValidator, nil

	case EventValidatorDispatched:
		if jobID != "" {
			sess.Lineage.ValidatorJobIDs = append(sess.Lineage.ValidatorJobIDs, jobID)
			sess.TotalLLMCalls++
		}
		sess.Phase = PhaseValidator
		return sess, ActionNone, nil

	case EventValidatorApprove:
		if sess.Phase != PhaseValidator {
			return sess, ActionNone, errWrongPhase(event, sess.Phase)
		}
		sess.Phase = PhaseGate
		return sess, ActionGateApply, nil

	case EventValidatorReject:
		if sess.Phase != PhaseValidator {
			return sess, ActionNone, errWrongPhase(event, sess.Phase)
		}
		if sess.WriterRetries < limits.MaxWriterRetries {
			sess.WriterRetries++
			sess.Phase = PhaseWriter
			return sess, ActionDispatchWriter, nil
		}
		sess.Phase = PhaseFailed
		return sess, ActionNone, nil

	case EventGateApplyDone:
		if sess.Phase != PhaseGate {
			return sess, ActionNone, errWrongPhase(event, sess.Phase)
		}
		sess.Phase = PhaseDone
		return sess, ActionNone, nil
	}
	return sess, ActionNone, &InvalidEventError{Event: event}
}

// InvalidEventError reports an unrecognized cascade event.
type InvalidEventError struct{ Event Event }

func (e *InvalidEventError) Error() string { return "cascade: unrecognized event " + string(e.Event) }

// WrongPhaseError reports an event that doesn't apply to the session's
// current phase.
type WrongPhaseError struct {
	Event Event
	Phase Phase
}

func (e *WrongPhaseError) Error() string {
	return "cascade: event " + string(e.Event) + " invalid in phase " + string(e.Phase)
}

func errWrongPhase(event Event, phase Phase) error {
	return &WrongPhaseError{Event: event, Phase: phase}
}
