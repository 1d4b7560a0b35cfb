package fstool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/sanduku/internal/edit"
	"github.com/jkaninda/sanduku/internal/tools"
)

// ---- EditTool ----

// EditTool replaces exact text in one file.
type EditTool struct {
	deps Deps
}

func NewEditTool(d Deps) *EditTool { return &EditTool{deps: d} }

func (t *EditTool) Name() string { return "fs_edit" }
func (t *EditTool) Description() string {
	return "Replace exact text in a file: the first occurrence, or every occurrence when replace_all is set"
}
func (t *EditTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":        map[string]any{"type": "string", "description": "File to edit"},
			"old_text":    map[string]any{"type": "string", "description": "Exact text to find"},
			"new_text":    map[string]any{"type": "string", "description": "Replacement text"},
			"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence. Defaults to false"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}
func (t *EditTool) ReadOnly() bool { return false }

func (t *EditTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "path"); err != nil {
		return err
	}
	if _, err := requireString(params, "old_text"); err != nil {
		return err
	}
	if _, ok := params["new_text"].(string); !ok {
		return fmt.Errorf("parameter new_text must be a string")
	}
	return nil
}

func (t *EditTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	oldText, _ := requireString(params, "old_text")
	newText, _ := params["new_text"].(string)
	all := optionalBool(params, "replace_all", false)

	counts, err := t.deps.Edit.Apply(path, []edit.Op{{Old: oldText, New: newText, All: all}})
	if err != nil {
		return nil, err
	}

	t.deps.Logger.InfoContext(ctx, "fs_edit executed",
		slog.String("path", path),
		slog.Int("replacements", counts[0]),
	)
	return &tools.Result{
		Output:   fmt.Sprintf("replaced %d occurrence(s) in %s", counts[0], path),
		Success:  true,
		Metadata: map[string]any{"path": path, "replacements": counts[0]},
	}, nil
}

// ---- MultiEditTool ----

// MultiEditTool applies a batch of edits to one file atomically.
type MultiEditTool struct {
	deps Deps
}

func NewMultiEditTool(d Deps) *MultiEditTool { return &MultiEditTool{deps: d} }

func (t *MultiEditTool) Name() string { return "fs_multi_edit" }
func (t *MultiEditTool) Description() string {
	return "Apply several exact-text edits to one file in order; the whole batch succeeds or the file is untouched"
}
func (t *MultiEditTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "File to edit"},
			"edits": map[string]any{
				"type":        "array",
				"description": "Edits applied in order, each against the result of its predecessors",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"old_text":    map[string]any{"type": "string", "description": "Exact text to find"},
						"new_text":    map[string]any{"type": "string", "description": "Replacement text"},
						"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence. Defaults to false"},
					},
					"required": []string{"old_text", "new_text"},
				},
			},
		},
		"required": []string{"path", "edits"},
	}
}
func (t *MultiEditTool) ReadOnly() bool { return false }

func (t *MultiEditTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "path"); err != nil {
		return err
	}
	_, err := editsParam(params)
	return err
}

func (t *MultiEditTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	ops, err := editsParam(params)
	if err != nil {
		return nil, err
	}

	counts, err := t.deps.Edit.Apply(path, ops)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	t.deps.Logger.InfoContext(ctx, "fs_multi_edit executed",
		slog.String("path", path),
		slog.Int("operations", len(ops)),
		slog.Int("replacements", total),
	)
	return &tools.Result{
		Output:   fmt.Sprintf("applied %d edit(s), %d replacement(s) in %s", len(ops), total, path),
		Success:  true,
		Metadata: map[string]any{"path": path, "counts": counts, "replacements": total},
	}, nil
}

// editsParam decodes the edits array into edit operations.
func editsParam(params map[string]any) ([]edit.Op, error) {
	raw, ok := params["edits"]
	if !ok {
		return nil, fmt.Errorf("missing required parameter: edits")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter edits must be an array, got %T", raw)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("parameter edits must not be empty")
	}

	ops := make([]edit.Op, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("edits[%d] must be an object, got %T", i, item)
		}
		oldText, ok := m["old_text"].(string)
		if !ok || oldText == "" {
			return nil, fmt.Errorf("edits[%d].old_text must be a non-empty string", i)
		}
		newText, ok := m["new_text"].(string)
		if !ok {
			return nil, fmt.Errorf("edits[%d].new_text must be a string", i)
		}
		all, _ := m["replace_all"].(bool)
		ops = append(ops, edit.Op{Old: oldText, New: newText, All: all})
	}
	return ops, nil
}
