package fstool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/sanduku/internal/tools"
)

// ---- DeleteTool ----

// DeleteTool removes files and directories.
type DeleteTool struct {
	deps Deps
}

func NewDeleteTool(d Deps) *DeleteTool { return &DeleteTool{deps: d} }

func (t *DeleteTool) Name() string { return "fs_delete" }
func (t *DeleteTool) Description() string {
	return "Delete a file, or a directory when recursive is set"
}
func (t *DeleteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "Path to delete"},
			"recursive": map[string]any{"type": "boolean", "description": "Delete directories and their contents. Defaults to false"},
		},
		"required": []string{"path"},
	}
}
func (t *DeleteTool) ReadOnly() bool { return false }

func (t *DeleteTool) Validate(params map[string]any) error {
	_, err := requireString(params, "path")
	return err
}

func (t *DeleteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	recursive := optionalBool(params, "recursive", false)

	if err := t.deps.Ops.Delete(path, recursive); err != nil {
		return nil, err
	}
	t.deps.Logger.InfoContext(ctx, "fs_delete executed",
		slog.String("path", path),
		slog.Bool("recursive", recursive),
	)
	return &tools.Result{
		Output:   "deleted " + path,
		Success:  true,
		Metadata: map[string]any{"path": path, "recursive": recursive},
	}, nil
}

// ---- RenameTool ----

// RenameTool moves files and directories inside the sandbox.
type RenameTool struct {
	deps Deps
}

func NewRenameTool(d Deps) *RenameTool { return &RenameTool{deps: d} }

func (t *RenameTool) Name() string { return "fs_rename" }
func (t *RenameTool) Description() string {
	return "Move or rename a file or directory; the destination must not exist"
}
func (t *RenameTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source":      map[string]any{"type": "string", "description": "Existing path"},
			"destination": map[string]any{"type": "string", "description": "New path"},
		},
		"required": []string{"source", "destination"},
	}
}
func (t *RenameTool) ReadOnly() bool { return false }

func (t *RenameTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "source"); err != nil {
		return err
	}
	_, err := requireString(params, "destination")
	return err
}

func (t *RenameTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	source, _ := requireString(params, "source")
	destination, _ := requireString(params, "destination")

	if err := t.deps.Ops.Rename(source, destination); err != nil {
		return nil, err
	}
	return &tools.Result{
		Output:   fmt.Sprintf("renamed %s to %s", source, destination),
		Success:  true,
		Metadata: map[string]any{"source": source, "destination": destination},
	}, nil
}

// ---- CopyTool ----

// CopyTool duplicates files and trees inside the sandbox.
type CopyTool struct {
	deps Deps
}

func NewCopyTool(d Deps) *CopyTool { return &CopyTool{deps: d} }

func (t *CopyTool) Name() string { return "fs_copy" }
func (t *CopyTool) Description() string {
	return "Copy a file, or a directory tree when recursive is set; the destination must not exist"
}
func (t *CopyTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source":      map[string]any{"type": "string", "description": "Existing path"},
			"destination": map[string]any{"type": "string", "description": "Copy target"},
			"recursive":   map[string]any{"type": "boolean", "description": "Copy directories recursively. Defaults to false"},
		},
		"required": []string{"source", "destination"},
	}
}
func (t *CopyTool) ReadOnly() bool { return false }

func (t *CopyTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "source"); err != nil {
		return err
	}
	_, err := requireString(params, "destination")
	return err
}

func (t *CopyTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	source, _ := requireString(params, "source")
	destination, _ := requireString(params, "destination")
	recursive := optionalBool(params, "recursive", false)

	if err := t.deps.Ops.Copy(source, destination, recursive); err != nil {
		return nil, err
	}
	return &tools.Result{
		Output:   fmt.Sprintf("copied %s to %s", source, destination),
		Success:  true,
		Metadata: map[string]any{"source": source, "destination": destination, "recursive": recursive},
	}, nil
}

// ---- ChangeRootTool ----

// ChangeRootTool swaps the sandbox root. Registered only when enabled in
// configuration; in-flight operations keep the root they started with.
type ChangeRootTool struct {
	deps Deps
}

func NewChangeRootTool(d Deps) *ChangeRootTool { return &ChangeRootTool{deps: d} }

func (t *ChangeRootTool) Name() string { return "fs_change_root" }
func (t *ChangeRootTool) Description() string {
	return "Change the sandbox root to another directory on the host"
}
func (t *ChangeRootTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Absolute host path of the new sandbox root"},
		},
		"required": []string{"path"},
	}
}
func (t *ChangeRootTool) ReadOnly() bool { return false }

func (t *ChangeRootTool) Validate(params map[string]any) error {
	_, err := requireString(params, "path")
	return err
}

func (t *ChangeRootTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	if err := t.deps.Resolver.ChangeRoot(path); err != nil {
		return nil, err
	}
	root := t.deps.Resolver.Root()
	t.deps.Logger.WarnContext(ctx, "sandbox root changed", slog.String("root", root))
	return &tools.Result{
		Output:   "sandbox root is now " + root,
		Success:  true,
		Metadata: map[string]any{"root": root},
	}, nil
}
