// Package fstool implements the filesystem tool surface: listing,
// reading, writing, searching and editing files inside the sandbox.
// Every tool delegates path handling to the confinement resolver via the
// operations layer; no tool touches the filesystem directly.
package fstool

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/jkaninda/sanduku/internal/confine"
	"github.com/jkaninda/sanduku/internal/edit"
	"github.com/jkaninda/sanduku/internal/fsops"
	"github.com/jkaninda/sanduku/internal/search"
	"github.com/jkaninda/sanduku/internal/tools"
)

// Deps carries the shared components every fs tool builds on.
type Deps struct {
	Resolver *confine.Resolver
	Ops      *fsops.Ops
	Search   *search.Engine
	Edit     *edit.Transactor
	Logger   *slog.Logger

	// AllowChangeRoot gates the fs_change_root tool.
	AllowChangeRoot bool
}

// Register adds the filesystem tool set to a registry.
func Register(reg *tools.Registry, d Deps) {
	reg.Register(NewListTool(d))
	reg.Register(NewReadTool(d))
	reg.Register(NewWriteTool(d))
	reg.Register(NewMkdirTool(d))
	reg.Register(NewDeleteTool(d))
	reg.Register(NewRenameTool(d))
	reg.Register(NewCopyTool(d))
	reg.Register(NewStatTool(d))
	reg.Register(NewGlobTool(d))
	reg.Register(NewGrepTool(d))
	reg.Register(NewSearchTool(d))
	reg.Register(NewEditTool(d))
	reg.Register(NewMultiEditTool(d))
	reg.Register(NewTailTool(d))
	reg.Register(NewPwdTool(d))
	if d.AllowChangeRoot {
		reg.Register(NewChangeRootTool(d))
	}
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

// optionalString extracts a string param, or def when absent.
func optionalString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

// optionalBool extracts a bool param, or def when absent.
func optionalBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// optionalInt extracts an integer param. JSON numbers decode as float64,
// so both forms are accepted; fractional values are rejected.
func optionalInt(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("parameter %s must be an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %s must be a number, got %T", key, v)
	}
}

// checkOptionalString rejects a present-but-non-string param, for
// Validate methods that only need type checks.
func checkOptionalString(params map[string]any, key string) error {
	if v, ok := params[key]; ok {
		if _, isString := v.(string); !isString {
			return fmt.Errorf("parameter %s must be a string, got %T", key, v)
		}
	}
	return nil
}
