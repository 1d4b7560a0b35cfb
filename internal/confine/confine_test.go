package confine

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// newResolver creates a resolver over a fresh temp root.
// t.TempDir may live under a symlink (e.g. /tmp on macOS), so the expected
// canonical root is recomputed the same way the resolver does.
func newResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r, err := New(root)
	if err != nil {
		t.Fatalf("New(%q): %v", root, err)
	}
	return r, root
}

func TestResolveInside(t *testing.T) {
	r, root := newResolver(t)

	if err := os.MkdirAll(filepath.Join(root, "sub", "deep"), 0750); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		request string
		want    string
	}{
		{"empty is root", "", root},
		{"dot is root", ".", root},
		{"relative", "sub", filepath.Join(root, "sub")},
		{"relative nested", "sub/deep", filepath.Join(root, "sub", "deep")},
		{"absolute inside", filepath.Join(root, "sub"), filepath.Join(root, "sub")},
		{"dotdot that stays inside", "sub/deep/../deep", filepath.Join(root, "sub", "deep")},
		{"not yet existing file", "sub/new.txt", filepath.Join(root, "sub", "new.txt")},
		{"not yet existing tree", "a/b/c.txt", filepath.Join(root, "a", "b", "c.txt")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(tc.request)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tc.request, err)
			}
			if got != tc.want {
				t.Errorf("Resolve(%q) = %q, want %q", tc.request, got, tc.want)
			}
		})
	}
}

func TestResolveEscapes(t *testing.T) {
	r, root := newResolver(t)

	tests := []struct {
		name    string
		request string
	}{
		{"dotdot escape", "../../etc/passwd"},
		{"absolute escape", "/etc/passwd"},
		{"sneaky dotdot", "sub/../../outside"},
		{"sibling prefix", root + "-evil/file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.request)
			if !errors.Is(err, ErrAccessDenied) {
				t.Fatalf("Resolve(%q) = %v, want ErrAccessDenied", tc.request, err)
			}
			var denied *AccessDeniedError
			if !errors.As(err, &denied) {
				t.Fatalf("error is not *AccessDeniedError: %v", err)
			}
			if denied.Root != root {
				t.Errorf("AccessDeniedError.Root = %q, want %q", denied.Root, root)
			}
		})
	}
}

func TestResolveSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on windows")
	}
	r, root := newResolver(t)

	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	// The link itself lives inside the root, but its target does not.
	if _, err := r.Resolve("escape"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Resolve through symlink = %v, want ErrAccessDenied", err)
	}
	// Same for a file underneath the link target.
	if _, err := r.Resolve("escape/file.txt"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Resolve under symlink = %v, want ErrAccessDenied", err)
	}
}

func TestResolveSymlinkInside(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on windows")
	}
	r, root := newResolver(t)

	target := filepath.Join(root, "real")
	if err := os.MkdirAll(target, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(root, "alias")); err != nil {
		t.Fatal(err)
	}

	got, err := r.Resolve("alias")
	if err != nil {
		t.Fatalf("Resolve(alias): %v", err)
	}
	if got != target {
		t.Errorf("Resolve(alias) = %q, want %q", got, target)
	}
}

func TestNewRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}

	if _, err := New(file); err == nil {
		t.Fatal("New on a regular file should fail")
	}
	if _, err := New(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("New on a missing directory should fail")
	}
	if _, err := New(""); err == nil {
		t.Fatal("New on an empty root should fail")
	}
}

func TestChangeRoot(t *testing.T) {
	r, oldRoot := newResolver(t)

	newRoot, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ChangeRoot(newRoot); err != nil {
		t.Fatalf("ChangeRoot: %v", err)
	}
	if r.Root() != newRoot {
		t.Errorf("Root() = %q, want %q", r.Root(), newRoot)
	}

	// The old root is now outside the sandbox.
	if _, err := r.Resolve(filepath.Join(oldRoot, "x")); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("old root should be denied after ChangeRoot, got %v", err)
	}
}

func TestDisplay(t *testing.T) {
	r, root := newResolver(t)

	tests := []struct {
		resolved string
		want     string
	}{
		{root, "/"},
		{filepath.Join(root, "a"), "/a"},
		{filepath.Join(root, "a", "b.txt"), "/a/b.txt"},
	}
	for _, tc := range tests {
		if got := r.Display(tc.resolved); got != tc.want {
			t.Errorf("Display(%q) = %q, want %q", tc.resolved, got, tc.want)
		}
	}
}
