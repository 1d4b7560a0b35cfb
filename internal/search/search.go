// Package search implements bounded traversal of the sandbox: glob
// matching, content grep and recency search. All three share one
// traversal primitive driven by an explicit work queue with a hard depth
// cap, so deep or cyclic trees cannot exhaust the stack or run unbounded.
package search

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jkaninda/sanduku/internal/confine"
	"golang.org/x/sync/errgroup"
)

const (
	maxDepth           = 10
	maxGlobResults     = 100
	maxGrepResults     = 200
	maxRecentResults   = 100
	defaultParallelism = 16
	maxLineBytes       = 1 << 20
	binarySniffBytes   = 512
)

// GlobResult lists paths whose sandbox-relative name matched a pattern.
type GlobResult struct {
	Matches      []string `json:"matches"`
	TotalMatches int      `json:"total_matches"`
	Truncated    bool     `json:"truncated"`
}

// GrepMatch is one matching line.
type GrepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// GrepResult lists content matches across the traversed files.
type GrepResult struct {
	Matches      []GrepMatch `json:"matches"`
	TotalMatches int         `json:"total_matches"`
	FilesScanned int         `json:"files_scanned"`
	Truncated    bool        `json:"truncated"`
}

// RecentEntry is one file in a recency listing.
type RecentEntry struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// RecentResult lists matched files ordered by modification time, newest
// first.
type RecentResult struct {
	Matches      []RecentEntry `json:"matches"`
	TotalMatches int           `json:"total_matches"`
	Truncated    bool          `json:"truncated"`
}

// Engine performs bounded searches under the sandbox root.
type Engine struct {
	resolver    *confine.Resolver
	parallelism int
	logger      *slog.Logger
}

// New creates an Engine. parallelism <= 0 selects the default fan-out.
func New(resolver *confine.Resolver, parallelism int, logger *slog.Logger) *Engine {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Engine{resolver: resolver, parallelism: parallelism, logger: logger}
}

// Glob returns paths under dir whose path relative to dir matches the
// doublestar pattern. recursive false restricts the walk to dir's direct
// entries. Matches are sorted; at most 100 are returned and TotalMatches
// counts the full set.
func (e *Engine) Glob(ctx context.Context, dir, pattern string, recursive bool) (*GlobResult, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	start, err := e.resolver.Resolve(dir)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		matches []string
	)
	err = e.walk(ctx, start, depthCap(recursive), func(path string, d fs.DirEntry, depth int) {
		rel := relSlash(start, path)
		if rel == "." {
			return
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			mu.Lock()
			matches = append(matches, e.resolver.Display(path))
			mu.Unlock()
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)
	total := len(matches)
	truncated := total > maxGlobResults
	if truncated {
		matches = matches[:maxGlobResults]
	}
	return &GlobResult{Matches: matches, TotalMatches: total, Truncated: truncated}, nil
}

// Grep scans file contents under dir for a regular expression. include,
// when non-empty, is a doublestar pattern restricting which files are
// scanned; recursive false restricts the scan to dir's direct entries.
// Binary and unreadable files are skipped. At most 200 matches are
// returned; TotalMatches counts every match found.
func (e *Engine) Grep(ctx context.Context, dir, pattern string, caseInsensitive bool, include string, recursive bool) (*GrepResult, error) {
	if caseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression: %w", err)
	}
	if include != "" && !doublestar.ValidatePattern(include) {
		return nil, fmt.Errorf("invalid include pattern %q", include)
	}
	start, err := e.resolver.Resolve(dir)
	if err != nil {
		return nil, err
	}

	var (
		filesMu sync.Mutex
		files   []string
	)
	err = e.walk(ctx, start, depthCap(recursive), func(path string, d fs.DirEntry, depth int) {
		if d.IsDir() || !d.Type().IsRegular() {
			return
		}
		if include != "" {
			if ok, _ := doublestar.Match(include, relSlash(start, path)); !ok {
				return
			}
		}
		filesMu.Lock()
		files = append(files, path)
		filesMu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		matches []GrepMatch
		scanned int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for _, file := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			fileMatches, ok := e.grepFile(file, re)
			if !ok {
				return nil
			}
			mu.Lock()
			scanned++
			matches = append(matches, fileMatches...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Path != matches[j].Path {
			return matches[i].Path < matches[j].Path
		}
		return matches[i].Line < matches[j].Line
	})
	total := len(matches)
	truncated := total > maxGrepResults
	if truncated {
		matches = matches[:maxGrepResults]
	}
	return &GrepResult{Matches: matches, TotalMatches: total, FilesScanned: scanned, Truncated: truncated}, nil
}

// Recent returns files under dir matching the doublestar pattern, newest
// modification first. limit caps the returned set; values outside
// (0, 100] fall back to the 100 cap. The whole match set is ordered
// before the cap is applied, so truncation never hides a newer file
// behind an older one.
func (e *Engine) Recent(ctx context.Context, dir, pattern string, limit int) (*RecentResult, error) {
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	if limit <= 0 || limit > maxRecentResults {
		limit = maxRecentResults
	}
	start, err := e.resolver.Resolve(dir)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		entries []RecentEntry
	)
	err = e.walk(ctx, start, maxDepth, func(path string, d fs.DirEntry, depth int) {
		if d.IsDir() || !d.Type().IsRegular() {
			return
		}
		if ok, _ := doublestar.Match(pattern, relSlash(start, path)); !ok {
			return
		}
		info, err := d.Info()
		if err != nil {
			return
		}
		mu.Lock()
		entries = append(entries, RecentEntry{
			Path:    e.resolver.Display(path),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.After(entries[j].ModTime)
		}
		return entries[i].Path < entries[j].Path
	})
	total := len(entries)
	truncated := total > limit
	if truncated {
		entries = entries[:limit]
	}
	return &RecentResult{Matches: entries, TotalMatches: total, Truncated: truncated}, nil
}

// depthCap maps a recursion flag to the walk depth: the full cap, or the
// start directory's direct entries only.
func depthCap(recursive bool) int {
	if recursive {
		return maxDepth
	}
	return 1
}

// walk visits every entry under start breadth-first, invoking fn for each
// file and directory. Directories are expanded level by level with a
// bounded errgroup; entries deeper than depth are not visited.
// Unreadable directories are skipped, not fatal. fn is called from
// multiple goroutines and must synchronize its own state.
func (e *Engine) walk(ctx context.Context, start string, depth int, fn func(path string, d fs.DirEntry, depth int)) error {
	type item struct {
		dir   string
		depth int
	}
	level := []item{{dir: start, depth: 0}}

	for len(level) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			mu   sync.Mutex
			next []item
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.parallelism)
		for _, it := range level {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				entries, err := os.ReadDir(it.dir)
				if err != nil {
					if e.logger != nil {
						e.logger.Debug("skipping unreadable directory", slog.String("dir", it.dir))
					}
					return nil
				}
				for _, d := range entries {
					path := filepath.Join(it.dir, d.Name())
					fn(path, d, it.depth+1)
					// Symlinked directories are not followed; the entry
					// itself is still reported above.
					if d.IsDir() && it.depth+1 < depth {
						mu.Lock()
						next = append(next, item{dir: path, depth: it.depth + 1})
						mu.Unlock()
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		level = next
	}
	return nil
}

// grepFile scans one file. ok is false when the file was skipped as
// binary or unreadable.
func (e *Engine) grepFile(path string, re *regexp.Regexp) (matches []GrepMatch, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	sniff := make([]byte, binarySniffBytes)
	n, err := f.Read(sniff)
	if err != nil && n == 0 {
		return nil, false
	}
	if bytes.IndexByte(sniff[:n], 0) >= 0 {
		return nil, false
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, false
	}

	display := e.resolver.Display(path)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if text := scanner.Text(); re.MatchString(text) {
			matches = append(matches, GrepMatch{Path: display, Line: line, Text: text})
		}
	}
	if err := scanner.Err(); err != nil {
		// Partial matches from a file with an overlong line still count.
		return matches, true
	}
	return matches, true
}

// relSlash is the forward-slash path of target relative to base.
func relSlash(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}
