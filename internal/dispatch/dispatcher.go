package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"branchmind/internal/budget"
	"branchmind/internal/config"
	"branchmind/internal/logging"
	"branchmind/internal/portal"
	"branchmind/internal/store"
	"branchmind/internal/tools"
)

// Dispatcher binds a store, configuration, and tool registry together and
// turns Requests into Envelopes. One Dispatcher serves one workspace db.
type Dispatcher struct {
	Store    *store.Store
	Config   *config.Config
	Registry *tools.Registry
	Toolset  portal.Toolset
}

// New builds a Dispatcher with every BranchMind tool registered.
func New(s *store.Store, cfg *config.Config) *Dispatcher {
	d := &Dispatcher{
		Store:    s,
		Config:   cfg,
		Registry: tools.NewRegistry(),
		Toolset:  toolsetFor(cfg.Portal.DefaultToolset),
	}
	registerTools(d)
	return d
}

// tasksFamilyPrefixes lists the tool-name prefixes that get an automatic
// portal-first recovery suggestion on failure when no suggestion was
// already produced ("the dispatcher attaches a recovery suggestion").
var tasksFamilyPrefixes = []string{"tasks."}

// Dispatch validates the workspace/project guard, looks the tool up in the
// registry, executes it, and assembles the response envelope, including
// max_chars/redaction handling and, for fmt=lines, portal rendering.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Envelope {
	name := req.Tool
	if req.Cmd != "" {
		name = req.Cmd
	}
	env := Envelope{Intent: name, TimestampMs: time.Now().UnixMilli()}

	if err := d.checkProjectGuard(req.Workspace); err != nil {
		env.Success = false
		env.Error = mapError(err)
		return env
	}

	tool := d.Registry.Get(name)
	if tool == nil {
		env.Success = false
		env.Error = mapError(newDispatchError(ErrUnknownTool, "no tool registered for %q", name))
		return env
	}

	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	args["workspace"] = req.Workspace

	result, err := d.Registry.Execute(ctx, name, args)
	if err != nil {
		env.Success = false
		env.Error = mapError(err)
		if hasTasksPrefix(name) {
			env.Suggestions = append(env.Suggestions, Suggestion{Tool: "tasks", Cmd: "tasks.snapshot"})
		}
		logging.DispatchError("tool %s failed: %v", name, err)
		return env
	}

	env.Success = true
	env.Result = result.Result
	d.applyWarnings(&env, args)
	d.applyBudget(&env, req.MaxChars)

	if req.Fmt == "lines" {
		env.LineProtocol = d.renderLines(req, env)
	}

	return env
}

func hasTasksPrefix(name string) bool {
	for _, p := range tasksFamilyPrefixes {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}

// checkProjectGuard enforces the configured project_guard workspace name,
// when set, rejecting any call against a different workspace.
func (d *Dispatcher) checkProjectGuard(workspace string) error {
	if d.Config.ProjectGuard == "" {
		return nil
	}
	if workspace != d.Config.ProjectGuard {
		return &store.Error{
			Code:    store.ErrProjectGuard,
			Message: "workspace " + workspace + " does not match configured project_guard " + d.Config.ProjectGuard,
		}
	}
	return nil
}

// applyWarnings inspects the tool's result for soft-lint markers a handler
// may have attached via the "_warnings" pseudo-key (set by
// tasks.macro.close.step when a step closes with weak proof).
func (d *Dispatcher) applyWarnings(env *Envelope, args map[string]any) {
	m, ok := env.Result.(map[string]any)
	if !ok {
		return
	}
	raw, ok := m["_warnings"]
	if !ok {
		return
	}
	warns, ok := raw.([]Warning)
	if !ok {
		return
	}
	env.Warnings = append(env.Warnings, warns...)
	delete(m, "_warnings")
}

// applyBudget truncates the JSON-rendered result text when it would
// overflow max_chars, and redacts secrets, before the envelope leaves. Most
// tool handlers return a map/struct rather than a string; those are
// JSON-marshaled first so the same length/redaction passes run over them
// (§7, C9) instead of only over handlers that happen to return a raw
// string. The structured Result is left untouched when neither pass would
// change anything, so typed results (store.Plan, store.Job, ...) still
// reach callers unmodified on the common, within-budget path.
func (d *Dispatcher) applyBudget(env *Envelope, requested int) {
	text, isString := env.Result.(string)
	if !isString {
		marshaled, err := json.Marshal(env.Result)
		if err != nil {
			return
		}
		text = string(marshaled)
	}

	redacted, changed := budget.Redact(text)
	if changed {
		text = redacted
	}

	maxChars := budget.ResolveMaxChars(requested, d.Config.Budgets.DefaultMaxChars, d.Config.Budgets.PerToolCap)
	res := budget.Truncate(text, maxChars, d.Config.Budgets.PerToolCap)
	if !changed && !res.Truncated {
		return
	}

	env.Result = res.Text
	if res.Truncated {
		env.Warnings = append(env.Warnings, Warning{Code: WarnBudgetTruncated, Message: "response truncated to max_chars"})
		env.Suggestions = append(env.Suggestions, Suggestion{
			Tool: "status",
			Cmd:  env.Intent,
			Args: map[string]any{"max_chars": res.SuggestedMaxChars},
		})
	}
}

// renderLines produces the BM-L1 line-protocol rendering of an envelope:
// errors/warnings first, then the action lines a handler may have staged
// on the result under "_lines".
func (d *Dispatcher) renderLines(req Request, env Envelope) []string {
	var lines []string
	if env.Error != nil {
		lines = append(lines, portal.RenderError(string(env.Error.Code), env.Error.Message, env.Error.Fix))
		return lines
	}
	for _, w := range env.Warnings {
		lines = append(lines, portal.RenderWarning(string(w.Code), w.Message, ""))
	}
	if m, ok := env.Result.(map[string]any); ok {
		if raw, ok := m["_lines"]; ok {
			if ls, ok := raw.([]string); ok {
				lines = append(lines, ls...)
			}
		}
	}
	return lines
}
