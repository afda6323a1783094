package rtkpost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultStderrLimit is the amount of a tool's stderr kept by default.
const DefaultStderrLimit = 16 * 1024

// waitDelay bounds the wait for a killed tool's output to close, in case a
// child of the tool is still holding it open.
const waitDelay = 2 * time.Second

// ExternalToolError reports a tool that failed: it exited non-zero, it
// could not be started or it ran out of time.
type ExternalToolError struct {
	Tool string
	// ExitCode is -1 if the tool didn't exit normally.
	ExitCode int
	// Stderr is the tail of the tool's error output.
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *ExternalToolError) Error() string {
	var detail string
	switch {
	case e.TimedOut:
		detail = "timed out"
	case e.ExitCode >= 0:
		detail = fmt.Sprintf("exit code %d", e.ExitCode)
	default:
		detail = e.Err.Error()
	}
	tail := lastLine(e.Stderr)
	if tail == "" {
		return fmt.Sprintf("%s failed - %s", e.Tool, detail)
	}
	return fmt.Sprintf("%s failed - %s: %s", e.Tool, detail, tail)
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// Runner runs a command in a directory.
type Runner interface {
	Run(ctx context.Context, dir string, c Command) error
}

// ExecRunner runs commands as child processes.
//
// An external tool is not stopped part way through when the caller's
// context is cancelled.  Only the timeout stops it.  The caller checks for
// cancellation between stages.
type ExecRunner struct {
	// Timeout bounds each run.  Zero means no limit.
	Timeout time.Duration
	// StderrLimit is the number of bytes of stderr kept.  Zero means
	// DefaultStderrLimit.
	StderrLimit int
	Logger      *slog.Logger
}

// Run runs the command and waits for it.  Any failure is an
// *ExternalToolError.
func (r *ExecRunner) Run(ctx context.Context, dir string, c Command) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limit := r.StderrLimit
	if limit <= 0 {
		limit = DefaultStderrLimit
	}

	runCtx := context.WithoutCancel(ctx)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path(), c.Args()...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	stderr := newTailBuffer(limit)
	stdout := newTailBuffer(limit)
	cmd.Stderr = stderr
	cmd.Stdout = stdout

	logger.Debug("running", "command", CommandLine(c), "dir", dir)
	start := time.Now()
	err := cmd.Run()
	logger.Debug("finished", "tool", c.Tool(), "elapsed", time.Since(start), "error", err)
	if err == nil {
		return nil
	}

	toolErr := ExternalToolError{Tool: c.Tool(), ExitCode: -1, Stderr: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		toolErr.TimedOut = true
	case errors.As(err, &exitErr):
		toolErr.ExitCode = exitErr.ExitCode()
	}
	if out := stdout.String(); out != "" {
		logger.Debug("tool output", "tool", c.Tool(), "stdout", out)
	}
	return &toolErr
}

// tailBuffer is a writer that keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if len(p) >= t.limit {
		p = p[len(p)-t.limit:]
		t.buf = append(t.buf[:0], p...)
		return n, nil
	}
	t.buf = append(t.buf, p...)
	if excess := len(t.buf) - t.limit; excess > 0 {
		t.buf = append(t.buf[:0], t.buf[excess:]...)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
