package fstool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/sanduku/internal/tools"
)

// ---- ListTool ----

// ListTool lists directory entries inside the sandbox.
type ListTool struct {
	deps Deps
}

func NewListTool(d Deps) *ListTool { return &ListTool{deps: d} }

func (t *ListTool) Name() string { return "fs_list" }
func (t *ListTool) Description() string {
	return "List the entries of a directory inside the sandbox"
}
func (t *ListTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory to list, relative to the sandbox root. Defaults to the root"},
		},
	}
}
func (t *ListTool) ReadOnly() bool { return true }

func (t *ListTool) Validate(params map[string]any) error {
	return checkOptionalString(params, "path")
}

func (t *ListTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path := optionalString(params, "path", ".")
	entries, err := t.deps.Ops.List(path)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	rows := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "%-4s %10d  %s\n", e.Kind, e.Size, e.Name)
		rows = append(rows, map[string]any{
			"name":     e.Name,
			"path":     e.Path,
			"kind":     e.Kind,
			"size":     e.Size,
			"mod_time": e.ModTime,
		})
	}

	t.deps.Logger.InfoContext(ctx, "fs_list executed",
		slog.String("path", path),
		slog.Int("entries", len(entries)),
	)
	return &tools.Result{
		Output:   b.String(),
		Success:  true,
		Metadata: map[string]any{"entries": rows, "count": len(entries)},
	}, nil
}

// ---- ReadTool ----

// ReadTool reads a line window of a file.
type ReadTool struct {
	deps Deps
}

func NewReadTool(d Deps) *ReadTool { return &ReadTool{deps: d} }

func (t *ReadTool) Name() string { return "fs_read" }
func (t *ReadTool) Description() string {
	return "Read file contents, optionally a line window given by offset and limit"
}
func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string", "description": "File to read"},
			"offset": map[string]any{"type": "integer", "description": "1-based first line to return. Defaults to 1"},
			"limit":  map[string]any{"type": "integer", "description": "Maximum number of lines to return. Defaults to all"},
		},
		"required": []string{"path"},
	}
}
func (t *ReadTool) ReadOnly() bool { return true }

func (t *ReadTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "path"); err != nil {
		return err
	}
	if offset, err := optionalInt(params, "offset", 0); err != nil {
		return err
	} else if offset < 0 {
		return fmt.Errorf("offset must not be negative")
	}
	if limit, err := optionalInt(params, "limit", 0); err != nil {
		return err
	} else if limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	offset, _ := optionalInt(params, "offset", 0)
	limit, _ := optionalInt(params, "limit", 0)

	res, err := t.deps.Ops.Read(path, offset, limit)
	if err != nil {
		return nil, err
	}

	t.deps.Logger.InfoContext(ctx, "fs_read executed",
		slog.String("path", res.Path),
		slog.Int("lines", res.EndLine-res.StartLine+1),
	)
	return &tools.Result{
		Output:  tools.TruncateOutput(res.Content, tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":        res.Path,
			"total_lines": res.TotalLines,
			"start_line":  res.StartLine,
			"end_line":    res.EndLine,
		},
	}, nil
}

// ---- WriteTool ----

// WriteTool writes file contents, creating parents as needed.
type WriteTool struct {
	deps Deps
}

func NewWriteTool(d Deps) *WriteTool { return &WriteTool{deps: d} }

func (t *WriteTool) Name() string { return "fs_write" }
func (t *WriteTool) Description() string {
	return "Write content to a file inside the sandbox, creating parent directories as needed"
}
func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "File to write"},
			"content": map[string]any{"type": "string", "description": "Full file content"},
		},
		"required": []string{"path", "content"},
	}
}
func (t *WriteTool) ReadOnly() bool { return false }

func (t *WriteTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "path"); err != nil {
		return err
	}
	if _, ok := params["content"]; !ok {
		return fmt.Errorf("missing required parameter: content")
	}
	if _, ok := params["content"].(string); !ok {
		return fmt.Errorf("parameter content must be a string, got %T", params["content"])
	}
	return nil
}

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	content, _ := params["content"].(string)

	if err := t.deps.Ops.Write(path, content); err != nil {
		return nil, err
	}
	return &tools.Result{
		Output:   fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		Success:  true,
		Metadata: map[string]any{"path": path, "bytes": len(content)},
	}, nil
}

// ---- MkdirTool ----

// MkdirTool creates directories.
type MkdirTool struct {
	deps Deps
}

func NewMkdirTool(d Deps) *MkdirTool { return &MkdirTool{deps: d} }

func (t *MkdirTool) Name() string { return "fs_mkdir" }
func (t *MkdirTool) Description() string {
	return "Create a directory and any missing parents inside the sandbox"
}
func (t *MkdirTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory to create"},
		},
		"required": []string{"path"},
	}
}
func (t *MkdirTool) ReadOnly() bool { return false }

func (t *MkdirTool) Validate(params map[string]any) error {
	_, err := requireString(params, "path")
	return err
}

func (t *MkdirTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	if err := t.deps.Ops.Mkdir(path); err != nil {
		return nil, err
	}
	return &tools.Result{
		Output:   "created " + path,
		Success:  true,
		Metadata: map[string]any{"path": path},
	}, nil
}

// ---- StatTool ----

// StatTool reports file metadata.
type StatTool struct {
	deps Deps
}

func NewStatTool(d Deps) *StatTool { return &StatTool{deps: d} }

func (t *StatTool) Name() string { return "fs_stat" }
func (t *StatTool) Description() string {
	return "Report metadata (kind, size, mode, modification time) for a path"
}
func (t *StatTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path to inspect"},
		},
		"required": []string{"path"},
	}
}
func (t *StatTool) ReadOnly() bool { return true }

func (t *StatTool) Validate(params map[string]any) error {
	_, err := requireString(params, "path")
	return err
}

func (t *StatTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	info, err := t.deps.Ops.Stat(path)
	if err != nil {
		return nil, err
	}
	return &tools.Result{
		Output:  fmt.Sprintf("%s %s %d %s %s", info.Kind, info.Mode, info.Size, info.ModTime.Format("2006-01-02T15:04:05Z07:00"), info.Path),
		Success: true,
		Metadata: map[string]any{
			"path":     info.Path,
			"name":     info.Name,
			"kind":     info.Kind,
			"size":     info.Size,
			"mode":     info.Mode,
			"mod_time": info.ModTime,
			"created":  info.Created,
			"accessed": info.Accessed,
		},
	}, nil
}

// ---- PwdTool ----

// PwdTool reports the sandbox root.
type PwdTool struct {
	deps Deps
}

func NewPwdTool(d Deps) *PwdTool { return &PwdTool{deps: d} }

func (t *PwdTool) Name() string { return "fs_pwd" }
func (t *PwdTool) Description() string {
	return "Report the current sandbox root directory"
}
func (t *PwdTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t *PwdTool) ReadOnly() bool { return true }

func (t *PwdTool) Validate(map[string]any) error { return nil }

func (t *PwdTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	root := t.deps.Resolver.Root()
	return &tools.Result{
		Output:   root,
		Success:  true,
		Metadata: map[string]any{"root": root},
	}, nil
}
