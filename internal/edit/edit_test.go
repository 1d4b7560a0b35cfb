package edit

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/sanduku/internal/confine"
	"github.com/jkaninda/sanduku/internal/fsops"
)

func newTransactor(t *testing.T) (*Transactor, string) {
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
	ops := fsops.New(fsops.Config{}, resolver, logger)
	return New(resolver, ops, logger), root
}

func writeFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestApplySingle(t *testing.T) {
	tr, root := newTransactor(t)
	path := writeFile(t, root, "f.txt", "hello world\nhello again\n")

	counts, err := tr.Apply("f.txt", []Op{{Old: "hello", New: "goodbye"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(counts) != 1 || counts[0] != 1 {
		t.Errorf("counts = %v, want [1]", counts)
	}
	if got := readFile(t, path); got != "goodbye world\nhello again\n" {
		t.Errorf("file = %q", got)
	}
}

func TestApplyReplaceAll(t *testing.T) {
	tr, root := newTransactor(t)
	path := writeFile(t, root, "f.txt", "a b a b a\n")

	counts, err := tr.Apply("f.txt", []Op{{Old: "a", New: "z", All: true}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if counts[0] != 3 {
		t.Errorf("counts[0] = %d, want 3", counts[0])
	}
	if got := readFile(t, path); got != "z b z b z\n" {
		t.Errorf("file = %q", got)
	}
}

func TestApplyChain(t *testing.T) {
	tr, root := newTransactor(t)
	path := writeFile(t, root, "f.txt", "step one\n")

	// The second op matches text the first op produced.
	counts, err := tr.Apply("f.txt", []Op{
		{Old: "one", New: "two"},
		{Old: "step two", New: "step three"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("counts = %v", counts)
	}
	if got := readFile(t, path); got != "step three\n" {
		t.Errorf("file = %q", got)
	}
}

func TestApplyAtomicOnFailure(t *testing.T) {
	tr, root := newTransactor(t)
	original := "alpha\nbeta\n"
	path := writeFile(t, root, "f.txt", original)

	_, err := tr.Apply("f.txt", []Op{
		{Old: "alpha", New: "ALPHA"},
		{Old: "does-not-exist", New: "x"},
	})
	var notFound *TextNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want *TextNotFoundError", err)
	}
	if notFound.Index != 1 {
		t.Errorf("Index = %d, want 1", notFound.Index)
	}
	// The file must be byte-identical: the first op's success is rolled
	// back with the batch.
	if got := readFile(t, path); got != original {
		t.Errorf("file changed on failed batch: %q", got)
	}
}

func TestApplyChainConsumesMatch(t *testing.T) {
	tr, root := newTransactor(t)
	original := "target\n"
	path := writeFile(t, root, "f.txt", original)

	// The first op removes the text the second op still expects.
	_, err := tr.Apply("f.txt", []Op{
		{Old: "target", New: "done"},
		{Old: "target", New: "again"},
	})
	var notFound *TextNotFoundError
	if !errors.As(err, &notFound) || notFound.Index != 1 {
		t.Fatalf("err = %v, want TextNotFoundError at index 1", err)
	}
	if got := readFile(t, path); got != original {
		t.Errorf("file changed on failed batch: %q", got)
	}
}

func TestApplyValidation(t *testing.T) {
	tr, root := newTransactor(t)
	writeFile(t, root, "f.txt", "content\n")

	if _, err := tr.Apply("f.txt", nil); err == nil {
		t.Error("empty batch should fail")
	}
	if _, err := tr.Apply("f.txt", []Op{{Old: "", New: "x"}}); !errors.Is(err, ErrEmptyOldText) {
		t.Errorf("empty old text: %v, want ErrEmptyOldText", err)
	}
	if _, err := tr.Apply("missing.txt", []Op{{Old: "a", New: "b"}}); !errors.Is(err, fsops.ErrNotFound) {
		t.Errorf("missing file: %v, want ErrNotFound", err)
	}
	if _, err := tr.Apply("../../etc/passwd", []Op{{Old: "root", New: "x"}}); !errors.Is(err, confine.ErrAccessDenied) {
		t.Errorf("escape: %v, want ErrAccessDenied", err)
	}
}

func TestApplyIdenticalOldNew(t *testing.T) {
	tr, root := newTransactor(t)
	path := writeFile(t, root, "f.txt", "same same\n")

	counts, err := tr.Apply("f.txt", []Op{{Old: "same", New: "same", All: true}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if counts[0] != 2 {
		t.Errorf("counts[0] = %d, want 2", counts[0])
	}
	if got := readFile(t, path); got != "same same\n" {
		t.Errorf("file = %q", got)
	}
}

func TestApplyPreservesNoTrailingNewline(t *testing.T) {
	tr, root := newTransactor(t)
	path := writeFile(t, root, "f.txt", "no newline at end")

	if _, err := tr.Apply("f.txt", []Op{{Old: "newline", New: "terminator"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := readFile(t, path); got != "no terminator at end" {
		t.Errorf("file = %q", got)
	}
}
