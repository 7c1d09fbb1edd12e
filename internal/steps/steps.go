// Package steps implements the proof-gated step closure state machine:
// checkpoint inference, required-proof gating, and the soft proof-quality
// lint that backs the `tasks.macro.close.step` tool.
package steps

import (
	"branchmind/internal/logging"
	"branchmind/internal/proof"
	"branchmind/internal/store"
)

// CheckpointsMode selects how the caller wants checkpoint confirmation
// computed for this close attempt.
type CheckpointsMode string

const (
	// CheckpointsGate auto-confirms criteria and tests (the default).
	CheckpointsGate CheckpointsMode = "gate"
	// CheckpointsExplicit marks only the axes named in Explicit.
	CheckpointsExplicit CheckpointsMode = "explicit"
)

// CheckpointsArg is the `checkpoints=` argument to the close-step macro.
type CheckpointsArg struct {
	Mode     CheckpointsMode
	Explicit map[proof.Axis]bool
}

// CloseStepRequest bundles the optional arguments to CloseFirstOpenStep.
type CloseStepRequest struct {
	Proof       *proof.Input
	ProofInput  *proof.Input
	ParsePolicy proof.ParsePolicy
	Note        string
	Checkpoints *CheckpointsArg
}

// CloseStepResult reports the outcome of a successful close, or the axes
// still missing on a gate failure.
type CloseStepResult struct {
	Step                  store.Step
	ProofRefs             []string
	MissingCheckpointAxes []proof.Axis
	MissingProofAxes      []proof.Axis
	Weak                  bool
}

var axisOrder = []proof.Axis{proof.AxisCriteria, proof.AxisTests, proof.AxisSecurity, proof.AxisPerf, proof.AxisDocs}

func axisRequired(req store.StepRequire, a proof.Axis) bool {
	switch a {
	case proof.AxisCriteria:
		return req.Criteria
	case proof.AxisTests:
		return req.Tests
	case proof.AxisSecurity:
		return req.Security
	case proof.AxisPerf:
		return req.Perf
	case proof.AxisDocs:
		return req.Docs
	}
	return false
}

func axisMode(modes store.StepProofModes, a proof.Axis) store.ProofMode {
	switch a {
	case proof.AxisCriteria:
		return modes.Criteria
	case proof.AxisTests:
		return modes.Tests
	case proof.AxisSecurity:
		return modes.Security
	case proof.AxisPerf:
		return modes.Perf
	case proof.AxisDocs:
		return modes.Docs
	}
	return store.ProofModeOff
}

func setAxisBool(dst *store.StepConfirmed, a proof.Axis, v bool) {
	switch a {
	case proof.AxisCriteria:
		dst.Criteria = v
	case proof.AxisTests:
		dst.Tests = v
	case proof.AxisSecurity:
		dst.Security = v
	case proof.AxisPerf:
		dst.Perf = v
	case proof.AxisDocs:
		dst.Docs = v
	}
}

func getConfirmed(c store.StepConfirmed, a proof.Axis) bool {
	switch a {
	case proof.AxisCriteria:
		return c.Criteria
	case proof.AxisTests:
		return c.Tests
	case proof.AxisSecurity:
		return c.Security
	case proof.AxisPerf:
		return c.Perf
	case proof.AxisDocs:
		return c.Docs
	}
	return false
}

func setAxisPresent(dst *store.StepProofPresent, a proof.Axis, v bool) {
	switch a {
	case proof.AxisCriteria:
		dst.Criteria = v
	case proof.AxisTests:
		dst.Tests = v
	case proof.AxisSecurity:
		dst.Security = v
	case proof.AxisPerf:
		dst.Perf = v
	case proof.AxisDocs:
		dst.Docs = v
	}
}

func getPresent(p store.StepProofPresent, a proof.Axis) bool {
	switch a {
	case proof.AxisCriteria:
		return p.Criteria
	case proof.AxisTests:
		return p.Tests
	case proof.AxisSecurity:
		return p.Security
	case proof.AxisPerf:
		return p.Perf
	case proof.AxisDocs:
		return p.Docs
	}
	return false
}

// CloseFirstOpenStep implements `tasks.macro.close.step`: locate the task's
// first open step, normalize proof, infer checkpoints, gate on required
// checkpoints/proof, close the step, and salvage proof refs onto the task.
func CloseFirstOpenStep(s *store.Store, workspace, taskID string, req CloseStepRequest) (CloseStepResult, error) {
	step, ok, err := s.FirstOpenStep(workspace, taskID)
	if err != nil {
		return CloseStepResult{}, err
	}
	if !ok {
		return CloseStepResult{}, &store.Error{Code: store.ErrPreconditionFailed, Message: "no open step on task " + taskID}
	}

	policy := req.ParsePolicy
	if policy == "" {
		policy = proof.PolicyLenient
	}

	var result proof.Result
	haveInput := false
	if req.Proof != nil {
		result = proof.Normalize(*req.Proof, proof.PolicyLenient)
		haveInput = true
	}
	if req.ProofInput != nil {
		r2 := proof.Normalize(*req.ProofInput, policy)
		if r2.Ambiguous {
			return CloseStepResult{}, &store.Error{Code: store.ErrPreconditionFailed, Message: "PROOF_PARSE_AMBIGUOUS"}
		}
		if haveInput {
			result.Receipts = append(result.Receipts, r2.Receipts...)
			result.AxisPresent = proof.MergeAxisPresent(result.AxisPresent, r2.AxisPresent)
			result.HasNonPlaceholder = result.HasNonPlaceholder || r2.HasNonPlaceholder
		} else {
			result = r2
			haveInput = true
		}
	}
	if req.Note != "" {
		noteResult := proof.Normalize(proof.TextInput(req.Note), proof.PolicyLenient)
		if len(noteResult.Receipts) > 0 {
			if haveInput {
				result.Receipts = append(result.Receipts, noteResult.Receipts...)
				result.AxisPresent = proof.MergeAxisPresent(result.AxisPresent, noteResult.AxisPresent)
				result.HasNonPlaceholder = result.HasNonPlaceholder || noteResult.HasNonPlaceholder
			} else {
				result = noteResult
				haveInput = true
			}
		}
	}
	if !haveInput {
		result = proof.Result{AxisPresent: map[proof.Axis]bool{}}
	}

	confirmed := step.Confirmed
	mode := CheckpointsGate
	if req.Checkpoints != nil {
		mode = req.Checkpoints.Mode
	}
	switch mode {
	case CheckpointsExplicit:
		for axis, v := range req.Checkpoints.Explicit {
			setAxisBool(&confirmed, axis, v)
		}
	default:
		setAxisBool(&confirmed, proof.AxisCriteria, true)
		setAxisBool(&confirmed, proof.AxisTests, true)
	}

	var missingCheckpoints []proof.Axis
	for _, a := range axisOrder {
		if axisRequired(step.Require, a) && !getConfirmed(confirmed, a) {
			missingCheckpoints = append(missingCheckpoints, a)
		}
	}
	if len(missingCheckpoints) > 0 {
		return CloseStepResult{Step: step, MissingCheckpointAxes: missingCheckpoints},
			&store.Error{Code: store.ErrPreconditionFailed, Message: "CHECKPOINTS_NOT_CONFIRMED"}
	}

	present := step.ProofPresent
	for _, a := range axisOrder {
		if result.AxisPresent[a] {
			setAxisPresent(&present, a, true)
		}
	}

	var missingProof []proof.Axis
	for _, a := range axisOrder {
		if axisMode(step.ProofModes, a) == store.ProofModeRequire && !getPresent(present, a) {
			missingProof = append(missingProof, a)
		}
	}
	if len(missingProof) > 0 {
		return CloseStepResult{Step: step, MissingProofAxes: missingProof},
			&store.Error{Code: store.ErrPreconditionFailed, Message: "PROOF_REQUIRED"}
	}

	done := "done"
	newRev, _, err := s.EditStep(workspace, step.ID, &step.Revision, store.StepEdit{
		Status:       &done,
		Confirmed:    &confirmed,
		ProofPresent: &present,
	}, "checkpoint", "{}")
	if err != nil {
		return CloseStepResult{}, err
	}
	step.Revision = newRev
	step.Status = done
	step.Confirmed = confirmed
	step.ProofPresent = present

	var refs []string
	for _, r := range result.Receipts {
		if !r.Placeholder {
			refs = append(refs, proof.FormatReceipt(r))
		}
	}
	if len(refs) > 0 {
		if err := s.AppendSalvagedProofRefs(workspace, taskID, refs); err != nil {
			return CloseStepResult{}, err
		}
		if _, _, err := s.EditStep(workspace, step.ID, nil, store.StepEdit{}, "proof_gate", "{}"); err != nil {
			return CloseStepResult{}, err
		}
	}

	weak := result.HasNonPlaceholder && !proof.HasCMDAndLink(result.Receipts)
	logging.Steps("closed step %s on task %s weak=%v", step.ID, taskID, weak)

	return CloseStepResult{Step: step, ProofRefs: refs, Weak: weak}, nil
}
