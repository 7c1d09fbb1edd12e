// Package tools is the name->handler registry C10 dispatches tool calls
// through: one Tool per `<namespace>.<verb>` command, grouped by the
// minimum toolset (core/daily/full) that exposes it.
package tools

import (
	"context"
)

// ToolCategory is the minimum toolset that exposes a tool.
type ToolCategory string

const (
	// CategoryCore tools are in every toolset: status, tasks.macro.start,
	// tasks.snapshot.
	CategoryCore ToolCategory = "core"

	// CategoryDaily tools additionally require toolset=daily|full:
	// macro.branch.note, tasks.macro.close.step.
	CategoryDaily ToolCategory = "daily"

	// CategoryFull tools require toolset=full: decompose, plan, jobs.*,
	// think.*.
	CategoryFull ToolCategory = "full"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution. It returns a
// structured result (marshaled to JSON, or handed to the portal
// renderer for fmt=lines) and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool defines one `<namespace>.<verb>` command the dispatcher can call.
type Tool struct {
	// Name is the unique identifier, e.g. "tasks.macro.close.step".
	Name string

	// Description explains what the tool does.
	Description string

	// Category is the minimum toolset exposing this tool.
	Category ToolCategory

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Priority is used when multiple tools match. Higher wins (default 50).
	Priority int

	// RequiresContext indicates if the tool needs session context.
	RequiresContext bool
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// WithPriority returns a copy of the tool with the given priority.
func (t *Tool) WithPriority(priority int) *Tool {
	copy := *t
	copy.Priority = priority
	return &copy
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the structured output from the tool.
	Result any

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}
