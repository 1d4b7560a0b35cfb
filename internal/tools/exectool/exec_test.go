package exectool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/jkaninda/sanduku/internal/confine"
	"github.com/jkaninda/sanduku/internal/runner"
	"github.com/jkaninda/sanduku/internal/safety"
	"github.com/jkaninda/sanduku/internal/tools"
)

func newDeps(t *testing.T) Deps {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("exec tools require /bin/sh")
	}
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	resolver, err := confine.New(root)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	classifier := safety.NewClassifier(safety.Config{}, resolver, logger)
	return Deps{
		Runner: runner.New(runner.Config{}, resolver, classifier, logger),
		Logger: logger,
	}
}

func TestRegister(t *testing.T) {
	d := newDeps(t)
	reg := tools.NewRegistry()
	Register(reg, d)

	for _, name := range []string{"exec_run", "exec_safe_commands"} {
		if reg.Get(name) == nil {
			t.Errorf("%s not registered", name)
		}
	}
}

func TestRunToolSuccess(t *testing.T) {
	d := newDeps(t)
	tool := NewRunTool(d)

	params := map[string]any{"command": "echo tool-output"}
	if err := tool.Validate(params); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	res, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false: %+v", res)
	}
	if !strings.Contains(res.Output, "tool-output") {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Metadata["exit_code"] != 0 {
		t.Errorf("exit_code = %v", res.Metadata["exit_code"])
	}
}

func TestRunToolBlocked(t *testing.T) {
	d := newDeps(t)
	tool := NewRunTool(d)

	_, err := tool.Execute(context.Background(), map[string]any{"command": "rm -rf ."})
	if !errors.Is(err, runner.ErrCommandBlocked) {
		t.Fatalf("err = %v, want ErrCommandBlocked", err)
	}
}

func TestRunToolNonZeroExit(t *testing.T) {
	d := newDeps(t)
	tool := NewRunTool(d)

	res, err := tool.Execute(context.Background(), map[string]any{"command": "false"})
	if err != nil {
		t.Fatalf("non-zero exit must be a result: %v", err)
	}
	if res.Success {
		t.Error("Success = true for failing command")
	}
	if res.Metadata["exit_code"] == 0 {
		t.Error("exit_code = 0")
	}
}

func TestRunToolTimeout(t *testing.T) {
	d := newDeps(t)
	tool := NewRunTool(d)

	params := map[string]any{"command": "sleep 10", "timeout_sec": float64(1)}
	if err := tool.Validate(params); err != nil {
		t.Fatal(err)
	}
	res, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("timeout must be a result: %v", err)
	}
	if res.Metadata["timed_out"] != true || res.Metadata["exit_code"] != -1 {
		t.Errorf("metadata = %v", res.Metadata)
	}
}

func TestRunToolValidation(t *testing.T) {
	d := newDeps(t)
	tool := NewRunTool(d)

	if err := tool.Validate(map[string]any{}); err == nil {
		t.Error("missing command should fail")
	}
	if err := tool.Validate(map[string]any{"command": "ls", "timeout_sec": float64(-1)}); err == nil {
		t.Error("negative timeout should fail")
	}
	if err := tool.Validate(map[string]any{"command": "ls", "timeout_sec": "soon"}); err == nil {
		t.Error("string timeout should fail")
	}
}

func TestSafeCommandsTool(t *testing.T) {
	d := newDeps(t)
	tool := NewSafeCommandsTool(d)

	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, cat := range []string{"files:", "text:", "system:", "dev:", "vcs:"} {
		if !strings.Contains(res.Output, cat) {
			t.Errorf("output missing %q", cat)
		}
	}

	res, err = tool.Execute(context.Background(), map[string]any{"category": "vcs"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Output, "files:") || !strings.Contains(res.Output, "git status") {
		t.Errorf("filtered output = %q", res.Output)
	}

	if err := tool.Validate(map[string]any{"category": "nonsense"}); err == nil {
		t.Error("unknown category should fail validation")
	}
}
