package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"branchmind/internal/anchor"
	"branchmind/internal/cascade"
	"branchmind/internal/docstream"
	"branchmind/internal/jobs"
	"branchmind/internal/portal"
	"branchmind/internal/proof"
	"branchmind/internal/reasoning"
	"branchmind/internal/steps"
	"branchmind/internal/store"
	"branchmind/internal/tools"
)

// registerTools wires every BranchMind verb into the dispatcher's
// registry, grouped by the toolset that exposes it.
func registerTools(d *Dispatcher) {
	reg := d.Registry

	reg.MustRegister(&tools.Tool{
		Name:     "status",
		Category: tools.CategoryCore,
		Execute:  d.execStatus,
	})
	reg.MustRegister(&tools.Tool{
		Name:     "tasks.macro.start",
		Category: tools.CategoryCore,
		Execute:  d.execTasksMacroStart,
	})
	reg.MustRegister(&tools.Tool{
		Name:     "tasks.snapshot",
		Category: tools.CategoryCore,
		Execute:  d.execTasksSnapshot,
	})

	reg.MustRegister(&tools.Tool{
		Name:     "macro.branch.note",
		Category: tools.CategoryDaily,
		Execute:  d.execMacroBranchNote,
		Schema:   tools.ToolSchema{Required: []string{"doc", "content"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "tasks.macro.close.step",
		Category: tools.CategoryDaily,
		Execute:  d.execTasksMacroCloseStep,
		Schema:   tools.ToolSchema{Required: []string{"task_id"}},
	})

	reg.MustRegister(&tools.Tool{
		Name:     "tasks.plan",
		Category: tools.CategoryFull,
		Execute:  d.execTasksPlan,
		Schema:   tools.ToolSchema{Required: []string{"title"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "tasks.plan.decompose",
		Category: tools.CategoryFull,
		Execute:  d.execTasksPlanDecompose,
		Schema:   tools.ToolSchema{Required: []string{"task_id", "steps"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "jobs.claim",
		Category: tools.CategoryFull,
		Execute:  d.execJobsClaim,
		Schema:   tools.ToolSchema{Required: []string{"runner_id"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "jobs.wait",
		Category: tools.CategoryFull,
		Execute:  d.execJobsWait,
		Schema:   tools.ToolSchema{Required: []string{"job_id"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "jobs.complete",
		Category: tools.CategoryFull,
		Execute:  d.execJobsComplete,
		Schema:   tools.ToolSchema{Required: []string{"job_id", "runner_id", "status"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "jobs.macro.respond.inbox",
		Category: tools.CategoryFull,
		Execute:  d.execJobsRespondInbox,
	})
	reg.MustRegister(&tools.Tool{
		Name:     "think.watch",
		Category: tools.CategoryFull,
		Execute:  d.execThinkWatch,
	})
	reg.MustRegister(&tools.Tool{
		Name:     "think.publish",
		Category: tools.CategoryFull,
		Execute:  d.execThinkPublish,
		Schema:   tools.ToolSchema{Required: []string{"doc", "type", "title"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "anchor.upsert",
		Category: tools.CategoryFull,
		Execute:  d.execAnchorUpsert,
		Schema:   tools.ToolSchema{Required: []string{"id", "title", "kind"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "docs.tail",
		Category: tools.CategoryFull,
		Execute:  d.execDocsTail,
		Schema:   tools.ToolSchema{Required: []string{"doc"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "cascade.init",
		Category: tools.CategoryFull,
		Execute:  d.execCascadeInit,
		Schema:   tools.ToolSchema{Required: []string{"task_id", "anchor_id", "slice_id", "objective"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "cascade.advance",
		Category: tools.CategoryFull,
		Execute:  d.execCascadeAdvance,
		Schema:   tools.ToolSchema{Required: []string{"session", "event"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "jobs.pipeline.ab.slice",
		Category: tools.CategoryFull,
		Execute:  d.execJobsPipelineABSlice,
		Schema:   tools.ToolSchema{Required: []string{"task_id", "anchor_id", "slice_id", "objective"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "jobs.pipeline.ab.compare",
		Category: tools.CategoryFull,
		Execute:  d.execJobsPipelineABCompare,
		Schema:   tools.ToolSchema{Required: []string{"variant_a", "variant_b"}},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "knowledge.lint",
		Category: tools.CategoryFull,
		Execute:  d.execKnowledgeLint,
		Schema:   tools.ToolSchema{Required: []string{"anchor_ids"}},
	})
}

func (d *Dispatcher) execStatus(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"checkout": argString(args, "workspace"),
		"version":  "0.1.0",
		"toolset":  string(d.Toolset),
		"_lines":   []string{portal.RenderStatusLine(argString(args, "workspace"), "0.1.0")},
	}, nil
}

func (d *Dispatcher) execTasksMacroStart(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	in := portal.CapsuleInput{Focus: portal.FocusNone}
	lines := portal.SnapshotLines(in, d.Toolset, nil, nil, nil)
	return map[string]any{"workspace": workspace, "_lines": lines}, nil
}

func (d *Dispatcher) execTasksSnapshot(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	taskID := argString(args, "task_id")
	if taskID == "" {
		in := portal.CapsuleInput{Focus: portal.FocusNone}
		return map[string]any{"workspace": workspace, "_lines": portal.SnapshotLines(in, d.Toolset, nil, nil, nil)}, nil
	}

	task, err := d.Store.GetTask(workspace, taskID)
	if err != nil {
		return nil, err
	}
	stepList, err := d.Store.ListStepsForTask(workspace, taskID)
	if err != nil {
		return nil, err
	}
	hasOpen := false
	for _, st := range stepList {
		if st.Status == "open" {
			hasOpen = true
			break
		}
	}
	in := portal.CapsuleInput{
		Focus:            portal.FocusTask,
		FocusID:          task.ID,
		FocusTitle:       task.Title,
		TaskStatus:       task.Status,
		TaskHasSteps:     len(stepList) > 0,
		TaskHasOpenSteps: hasOpen,
	}
	return map[string]any{
		"task":   task,
		"steps":  stepList,
		"_lines": portal.SnapshotLines(in, d.Toolset, nil, nil, nil),
	}, nil
}

func (d *Dispatcher) execMacroBranchNote(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	branch := argString(args, "branch")
	if branch == "" {
		branch = "main"
	}
	entry, err := docstream.AppendNote(d.Store, workspace, branch, argString(args, "doc"), argString(args, "title"), argString(args, "format"), argString(args, "meta"), argString(args, "content"))
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (d *Dispatcher) execTasksMacroCloseStep(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	taskID := argString(args, "task_id")

	req := steps.CloseStepRequest{
		Proof:       argProofInput(args, "proof"),
		ProofInput:  argProofInput(args, "proof_input"),
		ParsePolicy: proof.ParsePolicyOrDefault(argString(args, "parse_policy"), d.Config.Proof.DefaultParsePolicy),
		Note:        argString(args, "note"),
	}
	if raw, ok := args["checkpoints"]; ok {
		req.Checkpoints = parseCheckpointsArg(raw)
	}

	result, err := steps.CloseFirstOpenStep(d.Store, workspace, taskID, req)
	if err != nil {
		return nil, err
	}
	if len(result.MissingCheckpointAxes) > 0 || len(result.MissingProofAxes) > 0 {
		in := portal.CapsuleInput{
			Focus:                     portal.FocusTask,
			FocusID:                   taskID,
			TaskHasSteps:              true,
			TaskHasOpenSteps:          true,
			MissingCheckpointAxes:     result.MissingCheckpointAxes,
			MissingRequiredProofAxes:  result.MissingProofAxes,
		}
		return map[string]any{"result": result, "_lines": portal.SnapshotLines(in, d.Toolset, nil, nil, nil)}, nil
	}
	out := map[string]any{"result": result}
	if result.Weak {
		out["_warnings"] = []Warning{{Code: WarnCode("PROOF_WEAK"), Message: "step closed with weak proof"}}
	}
	return out, nil
}

func parseCheckpointsArg(raw any) *steps.CheckpointsArg {
	switch v := raw.(type) {
	case string:
		if v == "explicit" {
			return &steps.CheckpointsArg{Mode: steps.CheckpointsExplicit, Explicit: map[proof.Axis]bool{}}
		}
		return &steps.CheckpointsArg{Mode: steps.CheckpointsGate}
	case []string:
		explicit := map[proof.Axis]bool{}
		for _, a := range v {
			explicit[proof.Axis(a)] = true
		}
		return &steps.CheckpointsArg{Mode: steps.CheckpointsExplicit, Explicit: explicit}
	case []any:
		explicit := map[proof.Axis]bool{}
		for _, e := range v {
			if s, ok := e.(string); ok {
				explicit[proof.Axis(s)] = true
			}
		}
		return &steps.CheckpointsArg{Mode: steps.CheckpointsExplicit, Explicit: explicit}
	}
	return &steps.CheckpointsArg{Mode: steps.CheckpointsGate}
}

func (d *Dispatcher) execTasksPlan(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	plan, _, err := d.Store.CreatePlan(workspace, argString(args, "title"), argString(args, "description"), argString(args, "context"), argInt(args, "priority", 0), "{}")
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (d *Dispatcher) execTasksPlanDecompose(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	taskID := argString(args, "task_id")
	rawSteps, ok := args["steps"].([]any)
	if !ok {
		return nil, newDispatchError(ErrInvalidInput, "steps must be a list of {path,title,success_criteria,tests}")
	}
	created := make([]any, 0)
	for _, raw := range rawSteps {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		st, _, err := d.Store.CreateStep(workspace, taskID, argString(m, "path"), argString(m, "title"),
			argStringSlice(m, "success_criteria"), argStringSlice(m, "tests"), argStringSlice(m, "blockers"), argStringSlice(m, "rollback"), "{}")
		if err != nil {
			return nil, err
		}
		created = append(created, st)
	}
	return map[string]any{"steps": created}, nil
}

func (d *Dispatcher) execJobsClaim(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	leaseTTL := d.Config.Jobs.DefaultLeaseTTLMs
	leaseExpires := time.Now().UnixMilli() + leaseTTL
	job, claimed, err := d.Store.ClaimJob(workspace, argString(args, "runner_id"), leaseExpires)
	if err != nil {
		return nil, err
	}
	return map[string]any{"job": job, "claimed": claimed}, nil
}

func (d *Dispatcher) execJobsWait(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	res, err := jobs.Wait(ctx, d.Store, workspace, argString(args, "job_id"), int64(argInt(args, "after_seq", 0)),
		int64(argInt(args, "timeout_ms", 0)), int64(argInt(args, "poll_ms", 0)), nil)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) execJobsComplete(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	job, err := jobs.CompleteJob(d.Store, workspace, argString(args, "job_id"), argString(args, "runner_id"),
		int64(argInt(args, "claim_revision", 0)), argString(args, "status"), argString(args, "summary"), argString(args, "artifacts"))
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (d *Dispatcher) execJobsRespondInbox(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	events, err := jobs.RespondInbox(d.Store, workspace, d.Config.Jobs.MeshEnabled, argStringSlice(args, "job_ids"), argString(args, "reply"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": events}, nil
}

func (d *Dispatcher) execThinkWatch(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	branch := argString(args, "branch")
	if branch == "" {
		branch = "main"
	}
	graphDoc := argString(args, "graph_doc")
	if graphDoc == "" {
		graphDoc = "main"
	}
	g, err := reasoning.LoadGraph(d.Store, workspace, branch, graphDoc)
	if err != nil {
		return nil, err
	}
	focus := reasoning.Focus{TaskID: argString(args, "task_id"), StepID: argString(args, "step_id")}
	limits := reasoning.Limits{
		Signals: d.Config.Reasoning.EngineSignalsLimit,
		Actions: d.Config.Reasoning.EngineActionsLimit,
	}
	return reasoning.Watch(g, focus, limits), nil
}

func (d *Dispatcher) execThinkPublish(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	branch := argString(args, "branch")
	if branch == "" {
		branch = "main"
	}
	card, _, err := d.Store.CreateCard(workspace, branch, argString(args, "doc"), argString(args, "type"), argString(args, "title"),
		argString(args, "text"), argStringSlice(args, "tags"), argString(args, "meta"), "{}")
	if err != nil {
		return nil, err
	}
	for _, edge := range argStringSlice(args, "supports") {
		if err := d.Store.AddCardEdge(workspace, branch, argString(args, "doc"), card.ID, "supports", edge); err != nil {
			return nil, err
		}
	}
	for _, edge := range argStringSlice(args, "blocks") {
		if err := d.Store.AddCardEdge(workspace, branch, argString(args, "doc"), card.ID, "blocks", edge); err != nil {
			return nil, err
		}
	}
	return card, nil
}

func (d *Dispatcher) execAnchorUpsert(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	in := anchor.UpsertInput{
		ID:          argString(args, "id"),
		Title:       argString(args, "title"),
		Kind:        argString(args, "kind"),
		Description: argString(args, "description"),
		Refs:        argStringSlice(args, "refs"),
		Aliases:     argStringSlice(args, "aliases"),
		ParentID:    argString(args, "parent_id"),
		DependsOn:   argStringSlice(args, "depends_on"),
	}
	a, created, err := anchor.Upsert(d.Store, workspace, in, "{}")
	if err != nil {
		return nil, err
	}
	return map[string]any{"anchor": a, "created": created}, nil
}

func (d *Dispatcher) execDocsTail(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	branch := argString(args, "branch")
	if branch == "" {
		branch = "main"
	}
	var before *int64
	if v := argRevisionPtr(args, "before_seq"); v != nil {
		before = v
	}
	entries, err := docstream.ShowTail(d.Store, workspace, branch, argString(args, "doc"), before, argInt(args, "limit", 20))
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries}, nil
}

// execCascadeInit implements `cascade.init`: allocates a session id,
// dispatches the scout job, and records it into the session's lineage.
func (d *Dispatcher) execCascadeInit(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	taskID := argString(args, "task_id")
	anchorID := argString(args, "anchor_id")
	sliceID := argString(args, "slice_id")
	objective := argString(args, "objective")

	sess := cascade.Init(taskID, anchorID, sliceID, objective)

	metaJSON, err := json.Marshal(map[string]any{"slice_id": sliceID, "quality_profile": "standard", "input_mode": "strict"})
	if err != nil {
		return nil, err
	}
	job, _, err := d.Store.CreateJob(workspace, "scout: "+objective, objective, "codex_cli", 0, taskID, anchorID, string(metaJSON), "{}")
	if err != nil {
		return nil, err
	}

	sess, _, err = cascade.Advance(sess, cascade.EventScoutDispatched, job.ID, cascade.DefaultLimits())
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"cascade_session_id": sess.SessionID,
		"phase":              string(sess.Phase),
		"session":            sess,
		"scout_dispatch":     map[string]any{"result": map[string]any{"job": job}},
	}, nil
}

// execCascadeAdvance implements `cascade.advance`: applies one transition
// to the caller-supplied session, dispatching the next-phase job inline
// (scout/writer/validator) when the transition calls for one.
func (d *Dispatcher) execCascadeAdvance(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	sess, err := parseCascadeSession(args["session"])
	if err != nil {
		return nil, err
	}
	event := cascade.Event(argString(args, "event"))
	jobID := argString(args, "job_id")
	limits := cascade.DefaultLimits()

	sess, action, err := cascade.Advance(sess, event, jobID, limits)
	if err != nil {
		return nil, newDispatchError(ErrInvalidInput, "%v", err)
	}

	var dispatched *store.Job
	switch action {
	case cascade.ActionDispatchScout:
		job, _, err := d.Store.CreateJob(workspace, "scout: "+sess.Objective, sess.Objective, "codex_cli", 0, sess.TaskID, sess.AnchorID, "{}", "{}")
		if err != nil {
			return nil, err
		}
		if sess, _, err = cascade.Advance(sess, cascade.EventScoutDispatched, job.ID, limits); err != nil {
			return nil, err
		}
		dispatched = &job
	case cascade.ActionDispatchWriter:
		job, _, err := d.Store.CreateJob(workspace, "writer: "+sess.Objective, sess.Objective, "writer", 0, sess.TaskID, sess.AnchorID, "{}", "{}")
		if err != nil {
			return nil, err
		}
		if sess, _, err = cascade.Advance(sess, cascade.EventWriterDispatched, job.ID, limits); err != nil {
			return nil, err
		}
		dispatched = &job
	case cascade.ActionDispatchValidator:
		job, _, err := d.Store.CreateJob(workspace, "validator: "+sess.Objective, sess.Objective, "validator", 0, sess.TaskID, sess.AnchorID, "{}", "{}")
		if err != nil {
			return nil, err
		}
		if sess, _, err = cascade.Advance(sess, cascade.EventValidatorDispatched, job.ID, limits); err != nil {
			return nil, err
		}
		dispatched = &job
	case cascade.ActionGateApply:
		if sess, _, err = cascade.Advance(sess, cascade.EventGateApplyDone, "", limits); err != nil {
			return nil, err
		}
	}

	out := map[string]any{
		"cascade_session_id": sess.SessionID,
		"phase":              string(sess.Phase),
		"session":            sess,
	}
	if dispatched != nil {
		out["dispatch"] = map[string]any{"job": *dispatched}
	}
	return out, nil
}

func parseCascadeSession(raw any) (cascade.Session, error) {
	var sess cascade.Session
	switch v := raw.(type) {
	case cascade.Session:
		return v, nil
	case string:
		if v == "" {
			return sess, newDispatchError(ErrInvalidInput, "session is required")
		}
		if err := json.Unmarshal([]byte(v), &sess); err != nil {
			return sess, newDispatchError(ErrInvalidInput, "invalid session json: %v", err)
		}
		return sess, nil
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return sess, err
		}
		if err := json.Unmarshal(b, &sess); err != nil {
			return sess, newDispatchError(ErrInvalidInput, "invalid session: %v", err)
		}
		return sess, nil
	default:
		return sess, newDispatchError(ErrInvalidInput, "session must be an object or a JSON string")
	}
}

// execJobsPipelineABSlice implements `jobs.pipeline.ab.slice`: dispatches
// the A and B scout jobs tagged with their variant profile, preserving the
// canonical slice_id across both arms.
func (d *Dispatcher) execJobsPipelineABSlice(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	taskID := argString(args, "task_id")
	anchorID := argString(args, "anchor_id")
	sliceID := argString(args, "slice_id")
	objective := argString(args, "objective")

	variantA := cascade.VariantMode(argString(args, "variant_a"))
	if variantA == "" {
		variantA = cascade.VariantWeak
	}
	variantB := cascade.VariantMode(argString(args, "variant_b"))
	if variantB == "" {
		variantB = cascade.VariantStrong
	}

	arm, err := dispatchABArm(d.Store, workspace, taskID, anchorID, sliceID, objective, "A", variantA)
	if err != nil {
		return nil, err
	}
	brm, err := dispatchABArm(d.Store, workspace, taskID, anchorID, sliceID, objective, "B", variantB)
	if err != nil {
		return nil, err
	}

	return map[string]any{"slice_id": sliceID, "variant_a": arm, "variant_b": brm}, nil
}

func dispatchABArm(s *store.Store, workspace, taskID, anchorID, sliceID, objective, arm string, mode cascade.VariantMode) (map[string]any, error) {
	profile := cascade.ABVariantProfile(mode)
	fullObjective := cascade.ObjectivePrefix(arm, mode) + " " + objective
	metaJSON, err := json.Marshal(map[string]any{
		"slice_id":               sliceID,
		"ab_arm":                 arm,
		"ab_mode":                string(mode),
		"executor_profile":       profile.ExecutorProfile,
		"validator_strictness":   profile.ValidatorStrictness,
		"plan_fit_threshold":     profile.PlanFitThreshold,
		"rework_threshold":       profile.ReworkThreshold,
		"coverage_targets_tight": profile.CoverageTargetsTight,
	})
	if err != nil {
		return nil, err
	}
	job, _, err := s.CreateJob(workspace, fullObjective, fullObjective, "codex_cli", 0, taskID, anchorID, string(metaJSON), "{}")
	if err != nil {
		return nil, err
	}
	return map[string]any{"mode": string(mode), "profile": profile, "job": job}, nil
}

// execJobsPipelineABCompare implements the A/B decision rule once both
// variants' validator reports are available.
func (d *Dispatcher) execJobsPipelineABCompare(ctx context.Context, args map[string]any) (any, error) {
	a, err := parseValidatorReport(args["variant_a"])
	if err != nil {
		return nil, err
	}
	b, err := parseValidatorReport(args["variant_b"])
	if err != nil {
		return nil, err
	}
	return cascade.CompareVariants(a, b), nil
}

func parseValidatorReport(raw any) (cascade.ValidatorReport, error) {
	var r cascade.ValidatorReport
	m, ok := raw.(map[string]any)
	if !ok {
		return r, newDispatchError(ErrInvalidInput, "validator report must be an object")
	}
	if v, ok := m["plan_fit_score"].(float64); ok {
		r.PlanFitScore = v
	}
	if v, ok := m["rework_count"].(float64); ok {
		r.ReworkCount = int(v)
	}
	if v, ok := m["approved"].(bool); ok {
		r.Approved = v
	}
	return r, nil
}

// execKnowledgeLint implements the knowledge dedup/overload lint pass
// (§4.8): scans knowledge entries for the given anchors and reports
// duplicate-content and overloaded-key findings.
func (d *Dispatcher) execKnowledgeLint(ctx context.Context, args map[string]any) (any, error) {
	workspace := argString(args, "workspace")
	issues, err := anchor.LintKnowledge(d.Store, workspace, argStringSlice(args, "anchor_ids"), argInt(args, "limit", 200))
	if err != nil {
		return nil, err
	}
	return map[string]any{"issues": issues}, nil
}
