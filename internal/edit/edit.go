// Package edit applies exact-text replacements to files atomically: every
// operation in a batch is validated against the in-memory buffer before a
// single write-back, so a failing operation leaves the file untouched.
package edit

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/jkaninda/sanduku/internal/confine"
	"github.com/jkaninda/sanduku/internal/fsops"
)

// ErrEmptyOldText reports an operation with nothing to search for.
var ErrEmptyOldText = errors.New("old text must not be empty")

// TextNotFoundError reports which operation in a batch failed to match.
// Index is zero-based and refers to the buffer state produced by the
// preceding operations, not the original file.
type TextNotFoundError struct {
	Index int
	Old   string
}

func (e *TextNotFoundError) Error() string {
	excerpt := e.Old
	if len(excerpt) > 80 {
		excerpt = excerpt[:80] + "..."
	}
	return fmt.Sprintf("edit %d: text not found: %q", e.Index, excerpt)
}

// Op is one exact-text replacement.
type Op struct {
	Old string `json:"old_text"`
	New string `json:"new_text"`
	All bool   `json:"replace_all"`
}

// Transactor reads, edits and writes files through the confined
// operations layer.
type Transactor struct {
	resolver *confine.Resolver
	ops      *fsops.Ops
	logger   *slog.Logger
}

// New creates a Transactor.
func New(resolver *confine.Resolver, ops *fsops.Ops, logger *slog.Logger) *Transactor {
	return &Transactor{resolver: resolver, ops: ops, logger: logger}
}

// Apply runs a batch of edits against one file. Operations are validated
// and applied in order, each against the buffer its predecessors produced.
// The counts slice reports replacements per operation. On any error the
// file on disk is unchanged.
func (t *Transactor) Apply(path string, ops []Op) ([]int, error) {
	if len(ops) == 0 {
		return nil, errors.New("no edit operations given")
	}
	for i, op := range ops {
		if op.Old == "" {
			return nil, fmt.Errorf("edit %d: %w", i, ErrEmptyOldText)
		}
	}

	// Raw read: line-window reads normalize trailing newlines, and an edit
	// must be byte-exact about everything it does not replace.
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("edit %s: %w", path, fsops.ErrNotFound)
		}
		return nil, fmt.Errorf("edit %s: %w", path, err)
	}
	buffer := string(data)

	counts := make([]int, len(ops))
	for i, op := range ops {
		n := strings.Count(buffer, op.Old)
		if n == 0 {
			return nil, &TextNotFoundError{Index: i, Old: op.Old}
		}
		if op.All {
			buffer = strings.ReplaceAll(buffer, op.Old, op.New)
			counts[i] = n
		} else {
			buffer = strings.Replace(buffer, op.Old, op.New, 1)
			counts[i] = 1
		}
	}

	if err := t.ops.Write(path, buffer); err != nil {
		return nil, err
	}
	if t.logger != nil {
		total := 0
		for _, c := range counts {
			total += c
		}
		t.logger.Info("file edited",
			slog.String("path", path),
			slog.Int("operations", len(ops)),
			slog.Int("replacements", total),
		)
	}
	return counts, nil
}
