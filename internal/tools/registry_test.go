package tools

import (
	"context"
	"errors"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:     "status",
		Category: CategoryCore,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return "ok", nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("status")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if got.Name != "status" {
		t.Errorf("got name %q, want %q", got.Name, "status")
	}
	if got.Priority != 50 {
		t.Errorf("expected default priority 50, got %d", got.Priority)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:     "status",
		Category: CategoryCore,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := reg.Register(tool); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Errorf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestAvailableInRespectsToolsetGate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{Name: "status", Category: CategoryCore, Execute: noop})
	reg.MustRegister(&Tool{Name: "tasks.macro.close.step", Category: CategoryDaily, Execute: noop})
	reg.MustRegister(&Tool{Name: "think.watch", Category: CategoryFull, Execute: noop})

	core := reg.AvailableIn(CategoryCore)
	if len(core) != 1 || core[0].Name != "status" {
		t.Errorf("core toolset should expose only core tools, got %v", names(core))
	}

	daily := reg.AvailableIn(CategoryDaily)
	if len(daily) != 2 {
		t.Errorf("daily toolset should expose core+daily tools, got %v", names(daily))
	}

	full := reg.AvailableIn(CategoryFull)
	if len(full) != 3 {
		t.Errorf("full toolset should expose every tool, got %v", names(full))
	}
}

func TestExecuteMissingRequiredArgFails(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name:     "jobs.claim",
		Category: CategoryFull,
		Execute:  noop,
		Schema:   ToolSchema{Required: []string{"runner_id"}},
	})

	if _, err := reg.Execute(context.Background(), "jobs.claim", map[string]any{}); !errors.Is(err, ErrMissingRequiredArg) {
		t.Errorf("expected ErrMissingRequiredArg, got %v", err)
	}
}

func TestExecuteUnknownToolFails(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Execute(context.Background(), "nope", nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}

func noop(ctx context.Context, args map[string]any) (any, error) { return nil, nil }

func names(ts []*Tool) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}
