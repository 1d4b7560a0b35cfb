// Package exectool exposes sandboxed shell execution as tools. The
// package is only registered when command execution is enabled in
// configuration; the safety classifier is consulted inside the runner
// before any process starts.
package exectool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jkaninda/sanduku/internal/runner"
	"github.com/jkaninda/sanduku/internal/safety"
	"github.com/jkaninda/sanduku/internal/tools"
)

// Deps carries the components the exec tools build on.
type Deps struct {
	Runner *runner.Runner
	Logger *slog.Logger
}

// Register adds the execution tool set to a registry.
func Register(reg *tools.Registry, d Deps) {
	reg.Register(NewRunTool(d))
	reg.Register(NewSafeCommandsTool(d))
}

// ---- RunTool ----

// RunTool executes one allowlisted shell command inside the sandbox.
type RunTool struct {
	deps Deps
}

func NewRunTool(d Deps) *RunTool { return &RunTool{deps: d} }

func (t *RunTool) Name() string { return "exec_run" }
func (t *RunTool) Description() string {
	return "Run an allowlisted shell command confined to the sandbox; output is captured and capped"
}
func (t *RunTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":     map[string]any{"type": "string", "description": "Shell command to run. Must match the safe-command allowlist"},
			"working_dir": map[string]any{"type": "string", "description": "Working directory relative to the sandbox root. Defaults to the root"},
			"timeout_sec": map[string]any{"type": "integer", "description": "Timeout in seconds. Defaults to 30"},
		},
		"required": []string{"command"},
	}
}
func (t *RunTool) ReadOnly() bool { return false }

func (t *RunTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "command"); err != nil {
		return err
	}
	if v, ok := params["timeout_sec"]; ok {
		n, ok := v.(float64)
		if !ok {
			if i, isInt := v.(int); isInt {
				n = float64(i)
			} else {
				return fmt.Errorf("parameter timeout_sec must be a number, got %T", v)
			}
		}
		if n <= 0 {
			return fmt.Errorf("timeout_sec must be positive")
		}
	}
	return nil
}

func (t *RunTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, _ := requireString(params, "command")
	workingDir, _ := params["working_dir"].(string)

	var timeout time.Duration
	switch v := params["timeout_sec"].(type) {
	case float64:
		timeout = time.Duration(v * float64(time.Second))
	case int:
		timeout = time.Duration(v) * time.Second
	}

	res, err := t.deps.Runner.Run(ctx, runner.Request{
		Command:    command,
		WorkingDir: workingDir,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, err
	}

	t.deps.Logger.InfoContext(ctx, "exec_run executed",
		slog.String("command", command),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Duration("duration", res.Duration),
	)

	var b strings.Builder
	b.WriteString(res.Stdout)
	if res.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]\n")
		b.WriteString(res.Stderr)
	}
	return &tools.Result{
		Output:  tools.TruncateOutput(b.String(), tools.MaxOutputBytes),
		Success: res.ExitCode == 0,
		Metadata: map[string]any{
			"exit_code":   res.ExitCode,
			"timed_out":   res.TimedOut,
			"duration_ms": res.Duration.Milliseconds(),
		},
	}, nil
}

// ---- SafeCommandsTool ----

// SafeCommandsTool lists example commands the allowlist accepts.
type SafeCommandsTool struct {
	deps Deps
}

func NewSafeCommandsTool(d Deps) *SafeCommandsTool { return &SafeCommandsTool{deps: d} }

func (t *SafeCommandsTool) Name() string { return "exec_safe_commands" }
func (t *SafeCommandsTool) Description() string {
	return "List example commands accepted by the safe-command allowlist, optionally for one category"
}
func (t *SafeCommandsTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": map[string]any{"type": "string", "enum": []string{"files", "text", "system", "dev", "vcs"}, "description": "Restrict the listing to one category"},
		},
	}
}
func (t *SafeCommandsTool) ReadOnly() bool { return true }

func (t *SafeCommandsTool) Validate(params map[string]any) error {
	v, ok := params["category"]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("parameter category must be a string, got %T", v)
	}
	switch s {
	case "", "files", "text", "system", "dev", "vcs":
		return nil
	default:
		return fmt.Errorf("unknown category %q", s)
	}
}

func (t *SafeCommandsTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	category, _ := params["category"].(string)
	listing := safety.SafeCommands(category)
	if len(listing) == 0 {
		return nil, fmt.Errorf("unknown category %q", category)
	}

	categories := make([]string, 0, len(listing))
	for cat := range listing {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var b strings.Builder
	for _, cat := range categories {
		fmt.Fprintf(&b, "%s:\n", cat)
		for _, cmd := range listing[cat] {
			fmt.Fprintf(&b, "  %s\n", cmd)
		}
	}
	return &tools.Result{
		Output:   b.String(),
		Success:  true,
		Metadata: map[string]any{"categories": listing},
	}, nil
}

// requireString extracts a required non-empty string param.
func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}
