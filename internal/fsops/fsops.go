// Package fsops implements the filesystem operations behind the fs_* tools.
// Every path argument is resolved through the confinement resolver before
// it is touched, and results report sandbox-relative display paths.
package fsops

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jkaninda/sanduku/internal/confine"
)

const defaultMaxFileSize = 10 << 20 // 10 MB

var (
	// ErrNotFound reports a path that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotADirectory reports a directory operation on a regular file.
	ErrNotADirectory = errors.New("not a directory")
	// ErrIsDirectory reports a file operation on a directory.
	ErrIsDirectory = errors.New("is a directory")
	// ErrExists reports a destination that already exists.
	ErrExists = errors.New("already exists")
	// ErrTooLarge reports a file or payload over the configured size cap.
	ErrTooLarge = errors.New("exceeds maximum file size")
)

// Config tunes the operations layer.
type Config struct {
	// MaxFileSizeBytes caps reads, writes and copies. 0 = 10 MB default.
	MaxFileSizeBytes int64
}

// Entry is one directory listing row.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Kind    string    `json:"kind"` // "file", "dir" or "symlink"
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Info is the result of a stat. Created and Accessed are best-effort:
// zero when the platform does not expose them.
type Info struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Size     int64     `json:"size"`
	Mode     string    `json:"mode"`
	ModTime  time.Time `json:"mod_time"`
	Created  time.Time `json:"created"`
	Accessed time.Time `json:"accessed"`
}

// ReadResult is a line window of a text file.
type ReadResult struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	TotalLines int    `json:"total_lines"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
}

// TailResult is the last N lines of a file.
type TailResult struct {
	Path       string   `json:"path"`
	Lines      []string `json:"lines"`
	TotalLines int      `json:"total_lines"`
}

// Ops performs confined filesystem operations.
type Ops struct {
	resolver *confine.Resolver
	maxSize  int64
	logger   *slog.Logger
}

// New creates an Ops bound to the given resolver.
func New(cfg Config, resolver *confine.Resolver, logger *slog.Logger) *Ops {
	maxSize := cfg.MaxFileSizeBytes
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}
	return &Ops{resolver: resolver, maxSize: maxSize, logger: logger}
}

// List returns the entries of a directory, sorted by name.
func (o *Ops) List(path string) ([]Entry, error) {
	resolved, err := o.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, o.wrap("list", path, err)
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue // Removed between ReadDir and Info.
		}
		out = append(out, Entry{
			Name:    e.Name(),
			Path:    o.resolver.Display(filepath.Join(resolved, e.Name())),
			Kind:    kindOf(info.Mode()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// Read returns a line window of a file. offset is the 1-based first line
// (0 means 1); limit caps the number of lines (0 means all remaining).
func (o *Ops) Read(path string, offset, limit int) (*ReadResult, error) {
	resolved, err := o.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := o.readCapped(path, resolved)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	// A trailing newline yields one phantom empty element.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)

	start := offset
	if start < 1 {
		start = 1
	}
	if start > total {
		return &ReadResult{Path: o.resolver.Display(resolved), TotalLines: total, StartLine: start, EndLine: start - 1}, nil
	}
	end := total
	if limit > 0 && start-1+limit < end {
		end = start - 1 + limit
	}

	return &ReadResult{
		Path:       o.resolver.Display(resolved),
		Content:    strings.Join(lines[start-1:end], "\n"),
		TotalLines: total,
		StartLine:  start,
		EndLine:    end,
	}, nil
}

// Write stores content at path, creating parent directories as needed.
func (o *Ops) Write(path, content string) error {
	resolved, err := o.resolver.Resolve(path)
	if err != nil {
		return err
	}
	if int64(len(content)) > o.maxSize {
		return fmt.Errorf("write %s: %w (%d > %d bytes)", path, ErrTooLarge, len(content), o.maxSize)
	}
	if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		return fmt.Errorf("write %s: %w", path, ErrIsDirectory)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return o.wrap("write", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0640); err != nil {
		return o.wrap("write", path, err)
	}
	if o.logger != nil {
		o.logger.Info("file written",
			slog.String("path", o.resolver.Display(resolved)),
			slog.Int("bytes", len(content)),
		)
	}
	return nil
}

// Mkdir creates a directory and any missing parents.
func (o *Ops) Mkdir(path string) error {
	resolved, err := o.resolver.Resolve(path)
	if err != nil {
		return err
	}
	if info, err := os.Stat(resolved); err == nil && !info.IsDir() {
		return fmt.Errorf("mkdir %s: %w", path, ErrNotADirectory)
	}
	if err := os.MkdirAll(resolved, 0750); err != nil {
		return o.wrap("mkdir", path, err)
	}
	return nil
}

// Delete removes a file, or a directory when recursive is set. Deleting
// the sandbox root itself is refused.
func (o *Ops) Delete(path string, recursive bool) error {
	resolved, err := o.resolver.Resolve(path)
	if err != nil {
		return err
	}
	if resolved == o.resolver.Root() {
		return fmt.Errorf("delete %s: refusing to remove the sandbox root", path)
	}
	info, err := os.Lstat(resolved)
	if err != nil {
		return o.wrap("delete", path, err)
	}
	if info.IsDir() && recursive {
		if err := os.RemoveAll(resolved); err != nil {
			return o.wrap("delete", path, err)
		}
		return nil
	}
	if err := os.Remove(resolved); err != nil {
		return o.wrap("delete", path, err)
	}
	return nil
}

// Rename moves a file or directory inside the sandbox. The destination
// must not already exist.
func (o *Ops) Rename(oldPath, newPath string) error {
	oldResolved, err := o.resolver.Resolve(oldPath)
	if err != nil {
		return err
	}
	newResolved, err := o.resolver.Resolve(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(newResolved); err == nil {
		return fmt.Errorf("rename to %s: %w", newPath, ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(newResolved), 0750); err != nil {
		return o.wrap("rename", newPath, err)
	}
	if err := os.Rename(oldResolved, newResolved); err != nil {
		return o.wrap("rename", oldPath, err)
	}
	return nil
}

// Copy duplicates a file, or a whole tree when recursive is set. The
// destination must not already exist.
func (o *Ops) Copy(srcPath, dstPath string, recursive bool) error {
	src, err := o.resolver.Resolve(srcPath)
	if err != nil {
		return err
	}
	dst, err := o.resolver.Resolve(dstPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("copy to %s: %w", dstPath, ErrExists)
	}

	info, err := os.Stat(src)
	if err != nil {
		return o.wrap("copy", srcPath, err)
	}
	if info.IsDir() {
		if !recursive {
			return fmt.Errorf("copy %s: %w (use recursive for directories)", srcPath, ErrIsDirectory)
		}
		if within(src, dst) {
			return fmt.Errorf("copy %s: destination is inside the source tree", srcPath)
		}
		return o.copyTree(src, dst)
	}
	return o.copyFile(src, dst, info.Mode())
}

// Stat returns metadata for a file or directory.
func (o *Ops) Stat(path string) (*Info, error) {
	resolved, err := o.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, o.wrap("stat", path, err)
	}
	created, accessed := fileTimes(info)
	return &Info{
		Path:     o.resolver.Display(resolved),
		Name:     info.Name(),
		Kind:     kindOf(info.Mode()),
		Size:     info.Size(),
		Mode:     info.Mode().String(),
		ModTime:  info.ModTime(),
		Created:  created,
		Accessed: accessed,
	}, nil
}

// Tail returns the last n non-phantom lines of a file (n <= 0 means 10).
func (o *Ops) Tail(path string, n int) (*TailResult, error) {
	resolved, err := o.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := o.readCapped(path, resolved)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 10
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)
	if total > n {
		lines = lines[total-n:]
	}
	return &TailResult{Path: o.resolver.Display(resolved), Lines: lines, TotalLines: total}, nil
}

// readCapped reads a regular file, enforcing the size cap before the read.
func (o *Ops) readCapped(path, resolved string) ([]byte, error) {
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, o.wrap("read", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read %s: %w", path, ErrIsDirectory)
	}
	if info.Size() > o.maxSize {
		return nil, fmt.Errorf("read %s: %w (%d > %d bytes)", path, ErrTooLarge, info.Size(), o.maxSize)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, o.wrap("read", path, err)
	}
	return data, nil
}

func (o *Ops) copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode.Perm())
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	// The cap plus one detects oversized sources without reading them whole.
	n, err := io.Copy(out, io.LimitReader(in, o.maxSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	if n > o.maxSize {
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, ErrTooLarge)
	}
	return nil
}

func (o *Ops) copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0750)
		}
		if !d.Type().IsRegular() {
			return nil // Symlinks and specials are not copied.
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return o.copyFile(path, target, info.Mode())
	})
}

// wrap translates os errors into the package's sentinels, keeping the
// sandbox-relative path in the message.
func (o *Ops) wrap(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%s %s: %w", op, path, ErrExists)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%s %s: %w", op, path, ErrNotADirectory)
	default:
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
}

func kindOf(mode fs.FileMode) string {
	switch {
	case mode.IsDir():
		return "dir"
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	case mode.IsRegular():
		return "file"
	default:
		return "other"
	}
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
