// Package stream exposes live filesystem subscriptions: tailing a file as
// it grows and watching a path for change events. Each subscription is a
// Session with its own fsnotify watcher and producer goroutine; events
// flow through a bounded channel, so a slow consumer applies backpressure
// to its own session only.
package stream

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/jkaninda/sanduku/internal/confine"
)

const (
	eventBuffer      = 64
	initialTailLines = 10
)

// Event types.
const (
	TypeSnapshot = "snapshot"
	TypeAppend   = "append"
	TypeChange   = "change"
)

// Event is one message on a session's channel.
type Event struct {
	Type string `json:"type"`
	Path string `json:"path"`

	// Change fields.
	Op string `json:"op,omitempty"` // create, write, remove, rename, chmod

	// Tail fields.
	Lines      []string `json:"lines,omitempty"`
	TotalLines int      `json:"total_lines,omitempty"`

	// Snapshot fields.
	Exists  bool      `json:"exists"`
	Kind    string    `json:"kind,omitempty"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"mod_time,omitempty"`
}

// Session is one live subscription. Events is closed when the session
// ends, whether by Close, context cancellation or engine shutdown.
type Session struct {
	ID     string
	Events <-chan Event

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close terminates the session and waits for its producer to exit.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Engine creates and tracks stream sessions.
type Engine struct {
	resolver *confine.Resolver
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewEngine creates an Engine.
func NewEngine(resolver *confine.Resolver, logger *slog.Logger) *Engine {
	return &Engine{
		resolver: resolver,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// ActiveSessions reports the number of live sessions.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// CloseAll terminates every live session. Used at shutdown.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	open := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		open = append(open, s)
	}
	e.mu.Unlock()
	for _, s := range open {
		s.Close()
	}
}

// Tail streams a growing file. The first event carries the last 10 lines
// and the total line count; subsequent events carry only the appended
// lines. A file that shrinks (truncation, rotation) produces no event;
// the next growth is measured from the new, smaller size.
func (e *Engine) Tail(ctx context.Context, path string) (*Session, error) {
	resolved, err := e.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("tail %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("tail %s: is a directory", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tail %s: %w", path, err)
	}
	// Watch the parent so rotation (remove + recreate) keeps delivering
	// events for the file name.
	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("tail %s: %w", path, err)
	}

	display := e.resolver.Display(resolved)
	lines, total, size, err := readTailState(resolved)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("tail %s: %w", path, err)
	}

	session, ch, sctx := e.newSession(ctx)
	go func() {
		defer e.finish(session, watcher, ch)

		if !send(sctx, ch, Event{
			Type:       TypeSnapshot,
			Path:       display,
			Exists:     true,
			Kind:       "file",
			Size:       size,
			ModTime:    info.ModTime(),
			Lines:      lines,
			TotalLines: total,
		}) {
			return
		}

		lastSize := size
		for {
			select {
			case <-sctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != resolved || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cur, err := os.Stat(resolved)
				if err != nil {
					continue
				}
				if cur.Size() < lastSize {
					// Shrink: silently rebase. Documented gap.
					lastSize = cur.Size()
					continue
				}
				if cur.Size() == lastSize {
					continue
				}
				delta, err := readRange(resolved, lastSize, cur.Size())
				if err != nil {
					continue
				}
				lastSize = cur.Size()
				appended := splitLines(delta)
				if len(appended) == 0 {
					continue
				}
				if !send(sctx, ch, Event{
					Type:  TypeAppend,
					Path:  display,
					Lines: appended,
					Size:  lastSize,
				}) {
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	e.track(session)
	return session, nil
}

// Watch streams change events for a file or directory tree. The first
// event is a snapshot of the path's current state; directories are
// watched recursively, with new subdirectories added as they appear.
func (e *Engine) Watch(ctx context.Context, path string) (*Session, error) {
	resolved, err := e.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	info, statErr := os.Stat(resolved)
	snapshot := Event{Type: TypeSnapshot, Path: e.resolver.Display(resolved)}
	switch {
	case statErr == nil && info.IsDir():
		snapshot.Exists = true
		snapshot.Kind = "dir"
		snapshot.ModTime = info.ModTime()
		if err := addRecursive(watcher, resolved); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	case statErr == nil:
		snapshot.Exists = true
		snapshot.Kind = "file"
		snapshot.Size = info.Size()
		snapshot.ModTime = info.ModTime()
		// Parent watch survives remove/recreate of the file itself.
		if err := watcher.Add(filepath.Dir(resolved)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	default:
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, statErr)
	}

	watchingDir := statErr == nil && info.IsDir()
	session, ch, sctx := e.newSession(ctx)
	go func() {
		defer e.finish(session, watcher, ch)

		if !send(sctx, ch, snapshot) {
			return
		}
		for {
			select {
			case <-sctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watchingDir && ev.Name != resolved {
					continue
				}
				if watchingDir && ev.Has(fsnotify.Create) {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = watcher.Add(ev.Name)
					}
				}
				if !send(sctx, ch, Event{
					Type: TypeChange,
					Path: e.resolver.Display(ev.Name),
					Op:   opString(ev.Op),
				}) {
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	e.track(session)
	return session, nil
}

func (e *Engine) newSession(ctx context.Context) (*Session, chan Event, context.Context) {
	sctx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, eventBuffer)
	session := &Session{
		ID:     uuid.NewString(),
		Events: ch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return session, ch, sctx
}

func (e *Engine) track(s *Session) {
	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Info("stream session opened", slog.String("session_id", s.ID))
	}
}

// finish tears a session down: watcher closed, channel closed, session
// deregistered. Runs exactly once, from the producer goroutine.
func (e *Engine) finish(s *Session, watcher *fsnotify.Watcher, ch chan Event) {
	watcher.Close()
	close(ch)
	e.mu.Lock()
	delete(e.sessions, s.ID)
	e.mu.Unlock()
	close(s.done)
	if e.logger != nil {
		e.logger.Info("stream session closed", slog.String("session_id", s.ID))
	}
}

// send delivers an event unless the session context ends first.
func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- ev:
		return true
	}
}

// readTailState reads the last N lines, the total line count and the
// current size of a file. Unlike the delta reads, the snapshot keeps
// blank lines, so total counts every line of the file.
func readTailState(path string) (lines []string, total int, size int64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}
	all := splitAllLines(string(data))
	total = len(all)
	lines = all
	if total > initialTailLines {
		lines = all[total-initialTailLines:]
	}
	return lines, total, int64(len(data)), nil
}

// readRange reads the byte range [from, to) of a file.
func readRange(path string, from, to int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return "", err
	}
	buf := make([]byte, to-from)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", err
	}
	return string(buf[:n]), nil
}

// splitAllLines breaks text on newlines, keeping blank lines but
// dropping the phantom element a trailing newline produces.
func splitAllLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// splitLines breaks text on newlines, dropping empty lines. Used for
// append deltas only.
func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// opString maps an fsnotify op bitmask to its dominant name.
func opString(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Chmod):
		return "chmod"
	default:
		return "unknown"
	}
}

// addRecursive registers a directory and every subdirectory beneath it.
// Unreadable subtrees are skipped.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return fs.SkipDir
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil && path == root {
				return err
			}
		}
		return nil
	})
}
