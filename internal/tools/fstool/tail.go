package fstool

import (
	"context"
	"fmt"
	"strings"

	"github.com/jkaninda/sanduku/internal/tools"
)

// TailTool returns the last lines of a file, one-shot. Live tailing is
// the stream engine's job; this tool exists for quick log checks.
type TailTool struct {
	deps Deps
}

func NewTailTool(d Deps) *TailTool { return &TailTool{deps: d} }

func (t *TailTool) Name() string { return "fs_tail" }
func (t *TailTool) Description() string {
	return "Return the last N lines of a file"
}
func (t *TailTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":  map[string]any{"type": "string", "description": "File to tail"},
			"lines": map[string]any{"type": "integer", "description": "Number of lines. Defaults to 10"},
		},
		"required": []string{"path"},
	}
}
func (t *TailTool) ReadOnly() bool { return true }

func (t *TailTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "path"); err != nil {
		return err
	}
	if n, err := optionalInt(params, "lines", 10); err != nil {
		return err
	} else if n < 0 {
		return fmt.Errorf("lines must not be negative")
	}
	return nil
}

func (t *TailTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	n, _ := optionalInt(params, "lines", 10)

	res, err := t.deps.Ops.Tail(path, n)
	if err != nil {
		return nil, err
	}
	return &tools.Result{
		Output:  strings.Join(res.Lines, "\n"),
		Success: true,
		Metadata: map[string]any{
			"path":        res.Path,
			"lines":       res.Lines,
			"total_lines": res.TotalLines,
		},
	}, nil
}
