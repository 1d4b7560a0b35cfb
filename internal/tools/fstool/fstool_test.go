package fstool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jkaninda/sanduku/internal/confine"
	"github.com/jkaninda/sanduku/internal/edit"
	"github.com/jkaninda/sanduku/internal/fsops"
	"github.com/jkaninda/sanduku/internal/search"
	"github.com/jkaninda/sanduku/internal/tools"
)

func newDeps(t *testing.T) (Deps, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	resolver, err := confine.New(root)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ops := fsops.New(fsops.Config{}, resolver, logger)
	return Deps{
		Resolver: resolver,
		Ops:      ops,
		Search:   search.New(resolver, 4, logger),
		Edit:     edit.New(resolver, ops, logger),
		Logger:   logger,
	}, root
}

func execute(t *testing.T, tool tools.Tool, params map[string]any) *tools.Result {
	t.Helper()
	if err := tool.Validate(params); err != nil {
		t.Fatalf("%s.Validate: %v", tool.Name(), err)
	}
	res, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("%s.Execute: %v", tool.Name(), err)
	}
	if !res.Success {
		t.Fatalf("%s reported failure: %+v", tool.Name(), res)
	}
	return res
}

func TestRegisterToolSet(t *testing.T) {
	d, _ := newDeps(t)
	reg := tools.NewRegistry()
	Register(reg, d)

	want := []string{
		"fs_copy", "fs_delete", "fs_edit", "fs_glob", "fs_grep", "fs_list",
		"fs_mkdir", "fs_multi_edit", "fs_pwd", "fs_read", "fs_rename",
		"fs_search", "fs_stat", "fs_tail", "fs_write",
	}
	got := reg.List()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("List = %v, want %v", got, want)
	}

	// The root-swap tool only appears when enabled.
	d2, _ := newDeps(t)
	d2.AllowChangeRoot = true
	reg2 := tools.NewRegistry()
	Register(reg2, d2)
	if reg2.Get("fs_change_root") == nil {
		t.Error("fs_change_root missing despite AllowChangeRoot")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	d, _ := newDeps(t)

	execute(t, NewWriteTool(d), map[string]any{
		"path":    "docs/readme.md",
		"content": "# Title\n\nbody\n",
	})

	res := execute(t, NewReadTool(d), map[string]any{"path": "docs/readme.md"})
	if res.Output != "# Title\n\nbody" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Metadata["total_lines"] != 3 {
		t.Errorf("total_lines = %v", res.Metadata["total_lines"])
	}
}

func TestReadWindowParams(t *testing.T) {
	d, _ := newDeps(t)
	execute(t, NewWriteTool(d), map[string]any{"path": "f.txt", "content": "a\nb\nc\nd\ne\n"})

	// JSON numbers arrive as float64.
	res := execute(t, NewReadTool(d), map[string]any{"path": "f.txt", "offset": float64(2), "limit": float64(2)})
	if res.Output != "b\nc" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Metadata["start_line"] != 2 || res.Metadata["end_line"] != 3 {
		t.Errorf("window = %v..%v", res.Metadata["start_line"], res.Metadata["end_line"])
	}

	tool := NewReadTool(d)
	if err := tool.Validate(map[string]any{"path": "f.txt", "offset": 1.5}); err == nil {
		t.Error("fractional offset should fail validation")
	}
	if err := tool.Validate(map[string]any{"path": "f.txt", "limit": "ten"}); err == nil {
		t.Error("string limit should fail validation")
	}
	if err := tool.Validate(map[string]any{}); err == nil {
		t.Error("missing path should fail validation")
	}
}

func TestListAndStat(t *testing.T) {
	d, _ := newDeps(t)
	execute(t, NewMkdirTool(d), map[string]any{"path": "proj/src"})
	execute(t, NewWriteTool(d), map[string]any{"path": "proj/main.go", "content": "package main\n"})

	res := execute(t, NewListTool(d), map[string]any{"path": "proj"})
	if !strings.Contains(res.Output, "main.go") || !strings.Contains(res.Output, "src") {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Metadata["count"] != 2 {
		t.Errorf("count = %v", res.Metadata["count"])
	}

	res = execute(t, NewStatTool(d), map[string]any{"path": "proj/main.go"})
	if res.Metadata["kind"] != "file" || res.Metadata["path"] != "/proj/main.go" {
		t.Errorf("stat metadata = %v", res.Metadata)
	}
}

func TestDeleteRenameCopy(t *testing.T) {
	d, root := newDeps(t)
	execute(t, NewWriteTool(d), map[string]any{"path": "a.txt", "content": "x"})

	execute(t, NewCopyTool(d), map[string]any{"source": "a.txt", "destination": "b.txt"})
	execute(t, NewRenameTool(d), map[string]any{"source": "b.txt", "destination": "c.txt"})
	execute(t, NewDeleteTool(d), map[string]any{"path": "a.txt"})

	if _, err := os.Stat(filepath.Join(root, "c.txt")); err != nil {
		t.Errorf("c.txt missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Error("a.txt still present")
	}

	// Non-recursive delete of a directory with contents is refused.
	execute(t, NewMkdirTool(d), map[string]any{"path": "d/sub"})
	tool := NewDeleteTool(d)
	if _, err := tool.Execute(context.Background(), map[string]any{"path": "d"}); err == nil {
		t.Error("non-recursive delete of non-empty dir should fail")
	}
	execute(t, tool, map[string]any{"path": "d", "recursive": true})
}

func TestGlobGrepSearchTools(t *testing.T) {
	d, _ := newDeps(t)
	execute(t, NewWriteTool(d), map[string]any{"path": "src/a.go", "content": "package a // marker\n"})
	execute(t, NewWriteTool(d), map[string]any{"path": "src/b.go", "content": "package b\n"})
	execute(t, NewWriteTool(d), map[string]any{"path": "notes.txt", "content": "marker here\n"})

	res := execute(t, NewGlobTool(d), map[string]any{"pattern": "**/*.go"})
	if res.Metadata["total_matches"] != 2 {
		t.Errorf("glob total = %v", res.Metadata["total_matches"])
	}

	res = execute(t, NewGrepTool(d), map[string]any{"pattern": "marker", "include": "**/*.go"})
	if res.Metadata["total_matches"] != 1 {
		t.Errorf("grep total = %v", res.Metadata["total_matches"])
	}
	if !strings.Contains(res.Output, "/src/a.go:1:") {
		t.Errorf("grep output = %q", res.Output)
	}

	res = execute(t, NewSearchTool(d), map[string]any{"pattern": "**/*.txt"})
	if res.Metadata["total_matches"] != 1 {
		t.Errorf("search total = %v", res.Metadata["total_matches"])
	}
}

func TestSearchToolParams(t *testing.T) {
	d, _ := newDeps(t)
	execute(t, NewWriteTool(d), map[string]any{"path": "top.txt", "content": "marker\n"})
	execute(t, NewWriteTool(d), map[string]any{"path": "sub/deep.txt", "content": "marker\n"})

	res := execute(t, NewGlobTool(d), map[string]any{"pattern": "**/*.txt", "recursive": false})
	if res.Output != "/top.txt" {
		t.Errorf("non-recursive glob = %q, want only /top.txt", res.Output)
	}

	res = execute(t, NewGrepTool(d), map[string]any{"pattern": "marker", "recursive": false})
	if res.Metadata["total_matches"] != 1 || !strings.Contains(res.Output, "/top.txt:1:") {
		t.Errorf("non-recursive grep = %q (%v)", res.Output, res.Metadata["total_matches"])
	}

	res = execute(t, NewSearchTool(d), map[string]any{"pattern": "**/*.txt", "limit": float64(1)})
	if res.Metadata["total_matches"] != 2 || res.Metadata["truncated"] != true {
		t.Errorf("limited search metadata = %v", res.Metadata)
	}
	if len(strings.Split(strings.TrimSpace(res.Output), "\n")) != 1 {
		t.Errorf("limited search output = %q, want one row", res.Output)
	}

	if err := NewSearchTool(d).Validate(map[string]any{"limit": "ten"}); err == nil {
		t.Error("string limit should fail validation")
	}
}

func TestEditTools(t *testing.T) {
	d, root := newDeps(t)
	original := "alpha beta alpha\n"
	execute(t, NewWriteTool(d), map[string]any{"path": "f.txt", "content": original})

	res := execute(t, NewEditTool(d), map[string]any{
		"path": "f.txt", "old_text": "alpha", "new_text": "omega", "replace_all": true,
	})
	if res.Metadata["replacements"] != 2 {
		t.Errorf("replacements = %v", res.Metadata["replacements"])
	}

	execute(t, NewWriteTool(d), map[string]any{"path": "m.txt", "content": "one two three\n"})
	execute(t, NewMultiEditTool(d), map[string]any{
		"path": "m.txt",
		"edits": []any{
			map[string]any{"old_text": "one", "new_text": "1"},
			map[string]any{"old_text": "1 two", "new_text": "12"},
		},
	})
	data, err := os.ReadFile(filepath.Join(root, "m.txt"))
	if err != nil || string(data) != "12 three\n" {
		t.Errorf("m.txt = %q, %v", data, err)
	}

	// A failing batch leaves the file untouched.
	tool := NewMultiEditTool(d)
	_, err = tool.Execute(context.Background(), map[string]any{
		"path": "m.txt",
		"edits": []any{
			map[string]any{"old_text": "12", "new_text": "x"},
			map[string]any{"old_text": "gone", "new_text": "y"},
		},
	})
	var notFound *edit.TextNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want TextNotFoundError", err)
	}
	data, _ = os.ReadFile(filepath.Join(root, "m.txt"))
	if string(data) != "12 three\n" {
		t.Errorf("file changed on failed batch: %q", data)
	}

	if err := tool.Validate(map[string]any{"path": "m.txt", "edits": []any{}}); err == nil {
		t.Error("empty edits should fail validation")
	}
}

func TestTailTool(t *testing.T) {
	d, _ := newDeps(t)
	execute(t, NewWriteTool(d), map[string]any{"path": "log.txt", "content": "1\n2\n3\n4\n5\n"})

	res := execute(t, NewTailTool(d), map[string]any{"path": "log.txt", "lines": float64(2)})
	if res.Output != "4\n5" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Metadata["total_lines"] != 5 {
		t.Errorf("total_lines = %v", res.Metadata["total_lines"])
	}
}

func TestPwdAndChangeRoot(t *testing.T) {
	d, root := newDeps(t)

	res := execute(t, NewPwdTool(d), map[string]any{})
	if res.Output != root {
		t.Errorf("pwd = %q, want %q", res.Output, root)
	}

	other, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	execute(t, NewChangeRootTool(d), map[string]any{"path": other})
	if d.Resolver.Root() != other {
		t.Errorf("root = %q, want %q", d.Resolver.Root(), other)
	}

	tool := NewChangeRootTool(d)
	if _, err := tool.Execute(context.Background(), map[string]any{"path": filepath.Join(other, "missing")}); err == nil {
		t.Error("changing root to a missing directory should fail")
	}
}

func TestEscapesAreDenied(t *testing.T) {
	d, _ := newDeps(t)

	cases := []struct {
		tool   tools.Tool
		params map[string]any
	}{
		{NewReadTool(d), map[string]any{"path": "../../etc/passwd"}},
		{NewWriteTool(d), map[string]any{"path": "/etc/shadow", "content": "x"}},
		{NewDeleteTool(d), map[string]any{"path": "../victim"}},
		{NewListTool(d), map[string]any{"path": "../.."}},
	}
	for _, tc := range cases {
		t.Run(tc.tool.Name(), func(t *testing.T) {
			_, err := tc.tool.Execute(context.Background(), tc.params)
			if !errors.Is(err, confine.ErrAccessDenied) {
				t.Errorf("err = %v, want ErrAccessDenied", err)
			}
		})
	}
}
