// Package runner executes classified shell commands inside the sandbox.
//
// Guarantees:
//   - The safety classifier is consulted before any process is spawned
//   - The working directory is confined to the sandbox root
//   - The child runs in its own process group, killed whole on timeout
//   - No environment inheritance; only a minimal safe set is passed
//   - Resource limits enforced via ulimit
//   - stdout/stderr capped to prevent OOM from chatty commands
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/jkaninda/sanduku/internal/confine"
	"github.com/jkaninda/sanduku/internal/safety"
)

const (
	maxOutputBytes = 1 << 20 // 1 MB per stream

	defaultTimeout    = 30 * time.Second
	maxTimeout        = 5 * time.Minute
	defaultCPUSeconds = 60
	defaultMemoryMB   = 512

	// timedOutExitCode is the sentinel for executions killed by the
	// timeout, distinct from any real 0-255 process exit code.
	timedOutExitCode = -1
)

// ErrCommandBlocked is the sentinel all classifier rejections match.
var ErrCommandBlocked = errors.New("command blocked by safety policy")

// BlockedError carries the classifier's reason for refusing a command.
type BlockedError struct {
	Command string
	Reason  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("command blocked: %s", e.Reason)
}

func (e *BlockedError) Unwrap() error { return ErrCommandBlocked }

// Request describes one execution.
type Request struct {
	Command    string
	WorkingDir string        // Sandbox-relative; empty means the root.
	Timeout    time.Duration // 0 means the configured default.
	Env        map[string]string
}

// Result is the outcome of one execution. A non-zero exit code is a
// result, not an error.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Config tunes the runner.
type Config struct {
	DefaultTimeout time.Duration
	MaxCPUSeconds  int
	MaxMemoryMB    int
}

// Runner executes shell commands confined to the sandbox.
type Runner struct {
	resolver   *confine.Resolver
	classifier *safety.Classifier
	timeout    time.Duration
	cpuSeconds int
	memoryMB   int
	logger     *slog.Logger
}

// New creates a Runner.
func New(cfg Config, resolver *confine.Resolver, classifier *safety.Classifier, logger *slog.Logger) *Runner {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cpu := cfg.MaxCPUSeconds
	if cpu <= 0 {
		cpu = defaultCPUSeconds
	}
	mem := cfg.MaxMemoryMB
	if mem <= 0 {
		mem = defaultMemoryMB
	}
	return &Runner{
		resolver:   resolver,
		classifier: classifier,
		timeout:    timeout,
		cpuSeconds: cpu,
		memoryMB:   mem,
		logger:     logger,
	}
}

// Run classifies and executes one command.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("empty command")
	}

	// Classification happens before anything is spawned.
	if verdict := r.classifier.Classify(req.Command, req.WorkingDir); !verdict.Allowed {
		return nil, &BlockedError{Command: req.Command, Reason: verdict.Reason}
	}

	workDir, err := r.resolver.Resolve(req.WorkingDir)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// ulimit enforcement wraps the command string; the command itself is
	// shell syntax on purpose (pipes and conditionals were already vetted
	// segment by segment by the classifier).
	memKB := r.memoryMB * 1024
	script := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; %s",
		memKB, r.cpuSeconds, req.Command,
	)
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	cmd.Dir = workDir

	// Process group isolation: children spawned by the command die with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	cmd.Env = r.buildEnv(workDir, req.Env)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	r.logger.Info("executing command",
		slog.String("command", req.Command),
		slog.String("dir", r.resolver.Display(workDir)),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil && ctx.Err() != nil {
		r.logger.Warn("command timed out",
			slog.String("command", req.Command),
			slog.Duration("timeout", timeout),
		)
		return &Result{
			Stdout:   stdoutBuf.String(),
			Stderr:   stderrBuf.String(),
			ExitCode: timedOutExitCode,
			TimedOut: true,
			Duration: duration,
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
	}

	r.logger.Info("command completed",
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)

	return &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// buildEnv constructs a minimal environment. The host environment is
// never inherited, so credentials cannot leak into commands.
func (r *Runner) buildEnv(workDir string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// limitedWriter stops writing after a byte limit. Excess data is silently
// discarded, not an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
