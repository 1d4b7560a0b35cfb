// Package confine resolves untrusted, caller-supplied path strings to
// absolute paths guaranteed to live inside a single sandbox root.
//
// Every filesystem-touching component routes its path arguments through a
// Resolver; nothing else in the codebase is allowed to turn a request
// string into a path it then opens. Resolution canonicalizes the path
// (".." segments, "." segments, and symlinks) before the containment
// check, because a symlink inside the sandbox can point anywhere.
package confine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// ErrAccessDenied is the sentinel all confinement failures match via errors.Is.
var ErrAccessDenied = errors.New("access denied: path is outside the sandbox root")

// AccessDeniedError reports a path that escaped the sandbox root.
type AccessDeniedError struct {
	Path string // The requested (raw) path.
	Root string // The sandbox root it escaped.
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %q resolves outside sandbox root %q", e.Path, e.Root)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// Resolver validates paths against a sandbox root.
//
// The root is held behind an atomic pointer so that ChangeRoot can swap it
// while operations are in flight. Readers snapshot the root once at the
// start of each call and never re-read it mid-operation.
type Resolver struct {
	root atomic.Pointer[string]
}

// New creates a Resolver rooted at the given directory.
// The root itself is canonicalized (absolute, symlinks resolved) and must
// exist and be a directory.
func New(root string) (*Resolver, error) {
	canonical, err := canonicalizeRoot(root)
	if err != nil {
		return nil, err
	}
	r := &Resolver{}
	r.root.Store(&canonical)
	return r, nil
}

// Root returns the current canonicalized sandbox root.
func (r *Resolver) Root() string {
	return *r.root.Load()
}

// ChangeRoot atomically replaces the sandbox root.
// In-flight operations keep the root they snapshotted; new operations see
// the new root.
func (r *Resolver) ChangeRoot(root string) error {
	canonical, err := canonicalizeRoot(root)
	if err != nil {
		return err
	}
	r.root.Store(&canonical)
	return nil
}

// Resolve turns an untrusted request path into an absolute path inside the
// sandbox root, or fails with an *AccessDeniedError.
//
// Relative requests are joined onto the root; absolute requests are taken
// as-is; a leading "~" expands to the user home directory. The result is
// canonicalized before the containment check. Paths that do not exist yet
// (write targets) are resolved through their nearest existing ancestor so
// that a symlinked parent cannot smuggle the leaf outside the root.
func (r *Resolver) Resolve(request string) (string, error) {
	root := r.Root() // Snapshot once; see ChangeRoot.

	if request == "" || request == "." {
		return root, nil
	}

	expanded, err := expandHome(request)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", request, err)
	}

	abs := expanded
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := evalSymlinksLenient(abs)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", request, err)
	}

	if !within(root, resolved) {
		return "", &AccessDeniedError{Path: request, Root: root}
	}
	return resolved, nil
}

// within reports whether path equals root or is a descendant of it,
// comparing whole path segments. A raw string prefix check would let
// "/sandbox-evil" pass for a root of "/sandbox".
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// canonicalizeRoot makes the root absolute and symlink-free.
func canonicalizeRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("sandbox root must not be empty")
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", fmt.Errorf("resolving sandbox root %q: %w", root, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolving sandbox root %q: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolving sandbox root %q: %w", root, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return "", fmt.Errorf("sandbox root %q: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("sandbox root %q is not a directory", root)
	}
	return canonical, nil
}

// evalSymlinksLenient canonicalizes a path that may not exist yet.
// Missing trailing components are re-joined onto the deepest existing
// ancestor after that ancestor has been canonicalized.
func evalSymlinksLenient(abs string) (string, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	// Walk up until an existing ancestor is found, collecting the missing
	// suffix. filepath.Dir eventually returns the volume root, which exists.
	var missing []string
	cur := abs
	for {
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err // Hit the root without finding anything; surface original error.
		}
		missing = append(missing, filepath.Base(cur))
		resolved, rErr := filepath.EvalSymlinks(parent)
		if rErr == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(rErr) {
			return "", rErr
		}
		cur = parent
	}
}

// expandHome replaces a leading ~ with the user home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

// Display normalizes a resolved path for caller-facing output: the path is
// reported relative to the sandbox root with forward slashes, so results
// are stable across platforms.
func (r *Resolver) Display(resolved string) string {
	root := r.Root()
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}
