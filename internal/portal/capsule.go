package portal

import "branchmind/internal/proof"

// Focus is the capsule's notion of "what is the caller looking at".
type Focus string

const (
	FocusNone Focus = "none"
	FocusPlan Focus = "plan"
	FocusTask Focus = "task"
)

// CapsuleInput is everything the next-action selector needs to read off
// the current snapshot ("Capsule action selection").
type CapsuleInput struct {
	Focus      Focus
	FocusID    string
	FocusTitle string

	// Focus == FocusTask only.
	TaskStatus               string
	TaskHasSteps             bool
	TaskHasOpenSteps         bool
	MissingCheckpointAxes    []proof.Axis
	MissingRequiredProofAxes []proof.Axis
}

// NextAction is a single recommended follow-up call.
type NextAction struct {
	Tool string
	Cmd  string
	Args map[string]interface{}
}

// SelectNextAction implements the capsule action selection table. It
// returns nil when there is no recommended action (task already DONE).
func SelectNextAction(in CapsuleInput) *NextAction {
	switch in.Focus {
	case FocusNone:
		return &NextAction{
			Tool: "tasks", Cmd: "tasks.macro.start",
			Args: map[string]interface{}{"plan_template": nil, "task_title": nil},
		}
	case FocusPlan:
		return &NextAction{Tool: "tasks", Cmd: "tasks.plan"}
	case FocusTask:
		return selectTaskAction(in)
	default:
		return nil
	}
}

func selectTaskAction(in CapsuleInput) *NextAction {
	if in.TaskStatus == "DONE" {
		return nil
	}
	if !in.TaskHasSteps {
		return &NextAction{
			Tool: "tasks", Cmd: "tasks.plan.decompose",
			Args: map[string]interface{}{"args_hint": "steps=[{path,title,success_criteria,tests}]"},
		}
	}
	if in.TaskHasOpenSteps {
		args := map[string]interface{}{}
		if len(in.MissingCheckpointAxes) > 0 {
			args["checkpoints"] = axesToStrings(in.MissingCheckpointAxes)
		}
		if len(in.MissingRequiredProofAxes) > 0 {
			proofArgs := map[string]interface{}{}
			for _, axis := range in.MissingRequiredProofAxes {
				proofArgs[string(axis)] = proof.PlaceholderFor(axis)
			}
			args["proof"] = proofArgs
		}
		return &NextAction{Tool: "tasks", Cmd: "tasks.macro.close.step", Args: args}
	}
	return &NextAction{Tool: "tasks", Cmd: "tasks.macro.close.step",
		Args: map[string]interface{}{"finish_task": true}}
}

func axesToStrings(axes []proof.Axis) []string {
	out := make([]string, len(axes))
	for i, a := range axes {
		out[i] = string(a)
	}
	return out
}
