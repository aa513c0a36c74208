// Package engine runs the external ISCE2 programs: topsApp.py for the
// interferometric chain and dem.py for DEM stitching.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// Command is one external invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	LogPath string // output is appended here when set
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result describes a finished invocation.
type Result struct {
	ExitCode int
	Duration time.Duration
	Tail     []string
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Exec runs commands as subprocesses in their own process group, teeing
// combined output to the log file and keeping the last lines for diagnostics.
type Exec struct {
	tailLines int
	logger    *slog.Logger
	lookPath  func(string) (string, error)
}

// NewExec creates a runner that keeps tailLines lines of output.
func NewExec(tailLines int, logger *slog.Logger) *Exec {
	return &Exec{tailLines: max(tailLines, 1), logger: logger, lookPath: exec.LookPath}
}

// Run starts cmd and waits for it. A missing binary, a timeout, cancellation
// and a non-zero exit are all KindEngine errors; the tail is returned in every
// case where the process started.
func (e *Exec) Run(ctx context.Context, c Command) (Result, error) {
	const op = "run"
	bin, err := e.lookPath(c.Name)
	if err != nil {
		return Result{}, insar.E(insar.KindEngine, op, fmt.Errorf("%s not found in PATH: %w", c.Name, err))
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, c.Args...)
	cmd.Dir = c.Dir
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	tail := newTailBuffer(e.tailLines)
	var sinks []io.Writer
	sinks = append(sinks, tail)
	if c.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
			return Result{}, insar.E(insar.KindEngine, op, err)
		}
		logFile, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return Result{}, insar.E(insar.KindEngine, op, fmt.Errorf("open log: %w", err))
		}
		defer logFile.Close()
		fmt.Fprintf(logFile, "$ %s\n", c)
		sinks = append(sinks, logFile)
	}
	out := io.MultiWriter(sinks...)
	cmd.Stdout = out
	cmd.Stderr = out

	e.logger.Info("starting external command",
		slog.String("command", c.String()),
		slog.String("dir", c.Dir),
		slog.Duration("timeout", c.Timeout),
	)
	start := time.Now()
	runErr := cmd.Run()
	res := Result{Duration: time.Since(start), Tail: tail.Lines()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case runErr == nil:
		return res, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return res, insar.E(insar.KindEngine, op, &Failure{
			Err:  fmt.Errorf("%w after %s: %s", insar.ErrEngineTimeout, c.Timeout, c.Name),
			Tail: res.Tail,
		})
	case ctx.Err() != nil:
		return res, insar.E(insar.KindEngine, op, &Failure{
			Err:  fmt.Errorf("%s interrupted: %w", c.Name, ctx.Err()),
			Tail: res.Tail,
		})
	default:
		return res, insar.E(insar.KindEngine, op, &ExitError{Command: c.Name, Code: res.ExitCode, Tail: res.Tail, Err: runErr})
	}
}

// ExitError is a command that ran and failed.
type ExitError struct {
	Command string
	Code    int
	Tail    []string
	Err     error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	if len(e.Tail) > 0 {
		msg += ":\n" + strings.Join(e.Tail, "\n")
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Failure is an engine failure other than a non-zero exit, such as a timeout
// or a clean exit without usable output, with the last lines the command
// printed.
type Failure struct {
	Err  error
	Tail []string
}

func (f *Failure) Error() string {
	msg := f.Err.Error()
	if len(f.Tail) > 0 {
		msg += "\nlast output:\n" + strings.Join(f.Tail, "\n")
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// tailBuffer keeps the last n complete lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	n       int
	lines   []string
	partial strings.Builder
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n, lines: make([]string, 0, n)}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sc := bufio.NewScanner(strings.NewReader(t.partial.String() + string(p)))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	t.partial.Reset()
	complete := len(p) > 0 && p[len(p)-1] == '\n'
	var pending []string
	for sc.Scan() {
		pending = append(pending, sc.Text())
	}
	if !complete && len(pending) > 0 {
		t.partial.WriteString(pending[len(pending)-1])
		pending = pending[:len(pending)-1]
	}
	for _, line := range pending {
		t.push(line)
	}
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	if len(t.lines) == t.n {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.n-1]
	}
	t.lines = append(t.lines, line)
}

// Lines returns the retained lines, including a trailing partial line.
func (t *tailBuffer) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]string(nil), t.lines...)
	if t.partial.Len() > 0 {
		out = append(out, t.partial.String())
		if len(out) > t.n {
			out = out[len(out)-t.n:]
		}
	}
	return out
}
