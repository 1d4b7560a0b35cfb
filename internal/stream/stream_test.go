package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/sanduku/internal/confine"
)

func newEngine(t *testing.T) (*Engine, string) {
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
	return NewEngine(resolver, logger), root
}

// nextEvent waits for one event, failing the test on timeout.
func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// nextEventOfType drains events until one of the wanted type arrives.
// fsnotify may coalesce or interleave ops, so unrelated events are skipped.
func nextEventOfType(t *testing.T, s *Session, typ string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events:
			if !ok {
				t.Fatalf("channel closed while waiting for %q", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", typ)
		}
	}
}

func TestTailInitialSnapshot(t *testing.T) {
	e, root := newEngine(t)

	var b strings.Builder
	for i := 1; i <= 25; i++ {
		b.WriteString(strings.Repeat("x", i) + "\n")
	}
	path := filepath.Join(root, "app.log")
	if err := os.WriteFile(path, []byte(b.String()), 0640); err != nil {
		t.Fatal(err)
	}

	s, err := e.Tail(context.Background(), "app.log")
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	defer s.Close()

	ev := nextEvent(t, s)
	if ev.Type != TypeSnapshot {
		t.Fatalf("first event type = %q, want snapshot", ev.Type)
	}
	if len(ev.Lines) != 10 || ev.TotalLines != 25 {
		t.Errorf("snapshot = %d lines of %d, want 10 of 25", len(ev.Lines), ev.TotalLines)
	}
	if ev.Lines[9] != strings.Repeat("x", 25) {
		t.Errorf("last snapshot line = %q", ev.Lines[9])
	}
	if ev.Path != "/app.log" {
		t.Errorf("Path = %q", ev.Path)
	}
}

func TestTailSnapshotKeepsBlankLines(t *testing.T) {
	e, root := newEngine(t)

	path := filepath.Join(root, "spaced.log")
	if err := os.WriteFile(path, []byte("one\n\ntwo\n\n"), 0640); err != nil {
		t.Fatal(err)
	}

	s, err := e.Tail(context.Background(), "spaced.log")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ev := nextEvent(t, s)
	if ev.TotalLines != 4 {
		t.Errorf("TotalLines = %d, want 4", ev.TotalLines)
	}
	if strings.Join(ev.Lines, ",") != "one,,two," {
		t.Errorf("snapshot lines = %q, want blanks preserved", ev.Lines)
	}
}

func TestTailAppend(t *testing.T) {
	e, root := newEngine(t)

	path := filepath.Join(root, "app.log")
	if err := os.WriteFile(path, []byte("one\ntwo\n"), 0640); err != nil {
		t.Fatal(err)
	}

	s, err := e.Tail(context.Background(), "app.log")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	nextEvent(t, s) // snapshot

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("three\nfour\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	ev := nextEventOfType(t, s, TypeAppend)
	joined := strings.Join(ev.Lines, ",")
	if !strings.Contains(joined, "three") || !strings.Contains(joined, "four") {
		t.Errorf("append lines = %v, want three and four", ev.Lines)
	}
}

func TestTailShrinkThenGrow(t *testing.T) {
	e, root := newEngine(t)

	path := filepath.Join(root, "rotate.log")
	if err := os.WriteFile(path, []byte("old-a\nold-b\n"), 0640); err != nil {
		t.Fatal(err)
	}

	s, err := e.Tail(context.Background(), "rotate.log")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	nextEvent(t, s) // snapshot

	// Truncate (rotation) then write fresh content. The shrink itself is
	// silent; the next growth is measured from the new size.
	if err := os.WriteFile(path, []byte(""), 0640); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("fresh\n"), 0640); err != nil {
		t.Fatal(err)
	}

	ev := nextEventOfType(t, s, TypeAppend)
	if strings.Join(ev.Lines, ",") != "fresh" {
		t.Errorf("post-rotation lines = %v, want [fresh]", ev.Lines)
	}
}

func TestTailErrors(t *testing.T) {
	e, root := newEngine(t)

	if _, err := e.Tail(context.Background(), "missing.log"); err == nil {
		t.Error("tailing a missing file should fail")
	}
	if _, err := e.Tail(context.Background(), "../escape.log"); !errors.Is(err, confine.ErrAccessDenied) {
		t.Errorf("escape: %v, want ErrAccessDenied", err)
	}
	if err := os.Mkdir(filepath.Join(root, "d"), 0750); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Tail(context.Background(), "d"); err == nil {
		t.Error("tailing a directory should fail")
	}
}

func TestWatchDirectory(t *testing.T) {
	e, root := newEngine(t)

	if err := os.MkdirAll(filepath.Join(root, "proj", "sub"), 0750); err != nil {
		t.Fatal(err)
	}

	s, err := e.Watch(context.Background(), "proj")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ev := nextEvent(t, s)
	if ev.Type != TypeSnapshot || !ev.Exists || ev.Kind != "dir" {
		t.Fatalf("snapshot = %+v", ev)
	}

	// A change under a pre-existing subdirectory proves the recursive add.
	if err := os.WriteFile(filepath.Join(root, "proj", "sub", "new.txt"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}
	ev = nextEventOfType(t, s, TypeChange)
	if ev.Path != "/proj/sub/new.txt" {
		t.Errorf("change path = %q", ev.Path)
	}
	if ev.Op != "create" && ev.Op != "write" {
		t.Errorf("change op = %q", ev.Op)
	}
}

func TestWatchFile(t *testing.T) {
	e, root := newEngine(t)

	path := filepath.Join(root, "watched.txt")
	if err := os.WriteFile(path, []byte("v1"), 0640); err != nil {
		t.Fatal(err)
	}

	s, err := e.Watch(context.Background(), "watched.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ev := nextEvent(t, s)
	if ev.Type != TypeSnapshot || ev.Kind != "file" || ev.Size != 2 {
		t.Fatalf("snapshot = %+v", ev)
	}

	// A sibling file must not leak into a single-file watch.
	if err := os.WriteFile(filepath.Join(root, "other.txt"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("v2!"), 0640); err != nil {
		t.Fatal(err)
	}

	ev = nextEventOfType(t, s, TypeChange)
	if ev.Path != "/watched.txt" {
		t.Errorf("change path = %q, want /watched.txt", ev.Path)
	}
}

func TestSessionClose(t *testing.T) {
	e, root := newEngine(t)

	if err := os.WriteFile(filepath.Join(root, "f.log"), []byte("x\n"), 0640); err != nil {
		t.Fatal(err)
	}
	s, err := e.Tail(context.Background(), "f.log")
	if err != nil {
		t.Fatal(err)
	}
	if e.ActiveSessions() != 1 {
		t.Errorf("ActiveSessions = %d, want 1", e.ActiveSessions())
	}
	if s.ID == "" {
		t.Error("session has no ID")
	}

	s.Close()
	s.Close() // idempotent

	// The channel drains any buffered events and then closes.
	for range s.Events {
	}
	if e.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions after close = %d, want 0", e.ActiveSessions())
	}
}

func TestCloseAll(t *testing.T) {
	e, root := newEngine(t)

	for _, name := range []string{"a.log", "b.log"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x\n"), 0640); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Tail(context.Background(), name); err != nil {
			t.Fatal(err)
		}
	}
	if e.ActiveSessions() != 2 {
		t.Fatalf("ActiveSessions = %d, want 2", e.ActiveSessions())
	}

	e.CloseAll()
	if e.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions after CloseAll = %d, want 0", e.ActiveSessions())
	}
}

func TestContextCancellationEndsSession(t *testing.T) {
	e, root := newEngine(t)

	if err := os.WriteFile(filepath.Join(root, "f.log"), []byte("x\n"), 0640); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s, err := e.Tail(ctx, "f.log")
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-s.Events:
			if !ok {
				return // closed, as expected
			}
		case <-deadline:
			t.Fatal("channel did not close after context cancellation")
		}
	}
}
