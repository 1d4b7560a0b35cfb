package fstool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/sanduku/internal/tools"
)

// ---- GlobTool ----

// GlobTool matches file names against glob patterns.
type GlobTool struct {
	deps Deps
}

func NewGlobTool(d Deps) *GlobTool { return &GlobTool{deps: d} }

func (t *GlobTool) Name() string { return "fs_glob" }
func (t *GlobTool) Description() string {
	return "Find paths matching a glob pattern (*, ?, ** across directories); capped result set"
}
func (t *GlobTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern":   map[string]any{"type": "string", "description": "Glob pattern, e.g. **/*.go"},
			"path":      map[string]any{"type": "string", "description": "Directory to search under. Defaults to the sandbox root"},
			"recursive": map[string]any{"type": "boolean", "description": "Descend into subdirectories. Defaults to true"},
		},
		"required": []string{"pattern"},
	}
}
func (t *GlobTool) ReadOnly() bool { return true }

func (t *GlobTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "pattern"); err != nil {
		return err
	}
	return checkOptionalString(params, "path")
}

func (t *GlobTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	pattern, _ := requireString(params, "pattern")
	path := optionalString(params, "path", ".")
	recursive := optionalBool(params, "recursive", true)

	res, err := t.deps.Search.Glob(ctx, path, pattern, recursive)
	if err != nil {
		return nil, err
	}

	t.deps.Logger.InfoContext(ctx, "fs_glob executed",
		slog.String("pattern", pattern),
		slog.Int("total_matches", res.TotalMatches),
	)
	return &tools.Result{
		Output:  strings.Join(res.Matches, "\n"),
		Success: true,
		Metadata: map[string]any{
			"matches":       res.Matches,
			"total_matches": res.TotalMatches,
			"truncated":     res.Truncated,
		},
	}, nil
}

// ---- GrepTool ----

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	deps Deps
}

func NewGrepTool(d Deps) *GrepTool { return &GrepTool{deps: d} }

func (t *GrepTool) Name() string { return "fs_grep" }
func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression; binary files skipped, capped result set"
}
func (t *GrepTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern":          map[string]any{"type": "string", "description": "Regular expression to search for"},
			"path":             map[string]any{"type": "string", "description": "Directory to search under. Defaults to the sandbox root"},
			"include":          map[string]any{"type": "string", "description": "Glob restricting which files are scanned, e.g. **/*.go"},
			"case_insensitive": map[string]any{"type": "boolean", "description": "Match case-insensitively. Defaults to false"},
			"recursive":        map[string]any{"type": "boolean", "description": "Descend into subdirectories. Defaults to true"},
		},
		"required": []string{"pattern"},
	}
}
func (t *GrepTool) ReadOnly() bool { return true }

func (t *GrepTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "pattern"); err != nil {
		return err
	}
	if err := checkOptionalString(params, "path"); err != nil {
		return err
	}
	return checkOptionalString(params, "include")
}

func (t *GrepTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	pattern, _ := requireString(params, "pattern")
	path := optionalString(params, "path", ".")
	include := optionalString(params, "include", "")
	caseInsensitive := optionalBool(params, "case_insensitive", false)
	recursive := optionalBool(params, "recursive", true)

	res, err := t.deps.Search.Grep(ctx, path, pattern, caseInsensitive, include, recursive)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	matches := make([]map[string]any, 0, len(res.Matches))
	for _, m := range res.Matches {
		fmt.Fprintf(&b, "%s:%d:%s\n", m.Path, m.Line, m.Text)
		matches = append(matches, map[string]any{"path": m.Path, "line": m.Line, "text": m.Text})
	}

	t.deps.Logger.InfoContext(ctx, "fs_grep executed",
		slog.String("pattern", pattern),
		slog.Int("total_matches", res.TotalMatches),
		slog.Int("files_scanned", res.FilesScanned),
	)
	return &tools.Result{
		Output:  tools.TruncateOutput(b.String(), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"matches":       matches,
			"total_matches": res.TotalMatches,
			"files_scanned": res.FilesScanned,
			"truncated":     res.Truncated,
		},
	}, nil
}

// ---- SearchTool ----

// SearchTool lists matching files ordered by modification time.
type SearchTool struct {
	deps Deps
}

func NewSearchTool(d Deps) *SearchTool { return &SearchTool{deps: d} }

func (t *SearchTool) Name() string { return "fs_search" }
func (t *SearchTool) Description() string {
	return "Find files matching a glob pattern, newest modification first; capped result set"
}
func (t *SearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern. Defaults to every file"},
			"path":    map[string]any{"type": "string", "description": "Directory to search under. Defaults to the sandbox root"},
			"limit":   map[string]any{"type": "integer", "description": "Maximum results, capped at 100. Defaults to 100"},
		},
	}
}
func (t *SearchTool) ReadOnly() bool { return true }

func (t *SearchTool) Validate(params map[string]any) error {
	if err := checkOptionalString(params, "pattern"); err != nil {
		return err
	}
	if err := checkOptionalString(params, "path"); err != nil {
		return err
	}
	if _, err := optionalInt(params, "limit", 0); err != nil {
		return err
	}
	return nil
}

func (t *SearchTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	pattern := optionalString(params, "pattern", "**")
	path := optionalString(params, "path", ".")
	limit, _ := optionalInt(params, "limit", 0)

	res, err := t.deps.Search.Recent(ctx, path, pattern, limit)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	matches := make([]map[string]any, 0, len(res.Matches))
	for _, m := range res.Matches {
		fmt.Fprintf(&b, "%s  %10d  %s\n", m.ModTime.Format("2006-01-02 15:04:05"), m.Size, m.Path)
		matches = append(matches, map[string]any{"path": m.Path, "size": m.Size, "mod_time": m.ModTime})
	}
	return &tools.Result{
		Output:  b.String(),
		Success: true,
		Metadata: map[string]any{
			"matches":       matches,
			"total_matches": res.TotalMatches,
			"truncated":     res.Truncated,
		},
	}, nil
}
