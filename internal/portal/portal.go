// Package portal renders tool responses into the BM-L1 line protocol:
// short, human-scannable lines instead of JSON envelopes, with a capsule
// action selector choosing the single best next step.
package portal

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Toolset gates which commands a portal response may recommend.
type Toolset string

const (
	ToolsetCore  Toolset = "core"
	ToolsetDaily Toolset = "daily"
	ToolsetFull  Toolset = "full"
)

var toolsetRank = map[Toolset]int{ToolsetCore: 0, ToolsetDaily: 1, ToolsetFull: 2}

var coreTools = []string{"status", "tasks.macro.start", "tasks.snapshot"}
var dailyOnlyTools = []string{"macro.branch.note", "tasks.macro.close.step"}
var fullOnlyTools = []string{
	"tasks.plan", "tasks.plan.decompose", "jobs.claim", "jobs.wait", "jobs.complete",
	"jobs.macro.respond.inbox", "think.watch", "think.frontier", "think.card", "think.publish",
}

// AvailableTools lists the commands a toolset exposes ("Tool
// availability by toolset").
func AvailableTools(ts Toolset) []string {
	out := append([]string{}, coreTools...)
	if ts == ToolsetDaily || ts == ToolsetFull {
		out = append(out, dailyOnlyTools...)
	}
	if ts == ToolsetFull {
		out = append(out, fullOnlyTools...)
	}
	return out
}

func minToolsetFor(tool string) Toolset {
	for _, t := range coreTools {
		if t == tool {
			return ToolsetCore
		}
	}
	for _, t := range dailyOnlyTools {
		if t == tool {
			return ToolsetDaily
		}
	}
	return ToolsetFull
}

// Escalation is the hint attached when the capsule's recommended action
// names a tool hidden from the caller's current toolset.
type Escalation struct {
	Required bool
	Toolset  Toolset
	Reason   string
}

// EscalationFor reports the escalation hint for tool under the caller's
// current toolset, or nil if tool is already available.
func EscalationFor(tool string, current Toolset) *Escalation {
	need := minToolsetFor(tool)
	if toolsetRank[need] <= toolsetRank[current] {
		return nil
	}
	return &Escalation{
		Required: true, Toolset: need,
		Reason: fmt.Sprintf("%s requires toolset=%s", tool, need),
	}
}

var safeTokenRe = regexp.MustCompile(`^[A-Za-z0-9_.:/-]+$`)

func formatArgValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if val != "" && safeTokenRe.MatchString(val) {
			return val
		}
		b, _ := json.Marshal(val)
		return string(b)
	case fmt.Stringer:
		return formatArgValue(val.String())
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// RenderActionLine renders one `<tool> op=call cmd=<namespace.cmd> k=v …`
// line: args in sorted key order, nil values omitted, whitespace/
// punctuation-bearing strings JSON-quoted, safe identifier tokens bare.
func RenderActionLine(tool, cmd string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{tool, "op=call", "cmd=" + cmd}
	for _, k := range keys {
		parts = append(parts, k+"="+formatArgValue(args[k]))
	}
	return strings.Join(parts, " ")
}

// RenderError renders `ERROR: <CODE> <message> | fix: <recovery>`. fix is
// omitted when empty — at most one fix segment per error.
func RenderError(code, message, fix string) string {
	line := fmt.Sprintf("ERROR: %s %s", code, message)
	if fix != "" {
		line += " | fix: " + fix
	}
	return line
}

// RenderWarning renders `WARNING: <CODE> <message> | fix: <recovery>`.
func RenderWarning(code, message, fix string) string {
	line := fmt.Sprintf("WARNING: %s %s", code, message)
	if fix != "" {
		line += " | fix: " + fix
	}
	return line
}

// RenderStatusLine renders the status-tool state line:
// `ready checkout=<branch> | version=<semver>`.
func RenderStatusLine(branch, version string) string {
	return fmt.Sprintf("ready checkout=%s | version=%s", branch, version)
}

// RenderFocusLine renders the snapshot/macro state line:
// `focus <ID> — <title> | next <action>`, or `| done` with no action,
// or `| backup <tool> op=call cmd=<cmd> …` when there is no recommended
// next action but memory has more.
func RenderFocusLine(id, title string, next *NextAction, backup *NextAction) string {
	line := fmt.Sprintf("focus %s — %s", id, title)
	switch {
	case next != nil:
		line += " | next " + RenderActionLine(next.Tool, next.Cmd, next.Args)
	case backup != nil:
		line += " | backup " + RenderActionLine(backup.Tool, backup.Cmd, backup.Args)
	default:
		line += " | done"
	}
	return line
}

// RenderCursorLine renders the `MORE: notes_cursor=… trace_cursor=…
// cards_cursor=…` line. Call only when a next-action line is present.
func RenderCursorLine(notesCursor, traceCursor, cardsCursor *int64) string {
	parts := []string{"MORE:"}
	if notesCursor != nil {
		parts = append(parts, fmt.Sprintf("notes_cursor=%d", *notesCursor))
	}
	if traceCursor != nil {
		parts = append(parts, fmt.Sprintf("trace_cursor=%d", *traceCursor))
	}
	if cardsCursor != nil {
		parts = append(parts, fmt.Sprintf("cards_cursor=%d", *cardsCursor))
	}
	return strings.Join(parts, " ")
}

// RenderEscalationLine surfaces a hidden-tool escalation hint immediately
// before the action line: `tools/list toolset=<name>`.
func RenderEscalationLine(esc *Escalation) string {
	if esc == nil {
		return ""
	}
	return fmt.Sprintf("tools/list toolset=%s", esc.Toolset)
}
