// Package console implements the execution console: two append-only output
// logs, the running flag, and the run and install commands that feed them.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/runtime"
)

// Runtime is the part of runtime.Controller the console needs.
type Runtime interface {
	Acquire(ctx context.Context) (*runtime.Lease, error)
}

// ExecutionError reports that the delegated interpreter failed a run or an
// install. The failure text has already been appended to stderr.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Snapshot is a copy of the console state.
type Snapshot struct {
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Running bool   `json:"running"`
}

// Console accumulates output for one session.
type Console struct {
	mu      sync.Mutex
	stdout  strings.Builder
	stderr  strings.Builder
	running bool

	sessionID string
	runtime   Runtime
	notifier  domain.Notifier
}

// New returns an empty console. runtime may be set later with SetRuntime
// when the controller itself needs the console to report to.
func New(sessionID string, rt Runtime, notifier domain.Notifier) *Console {
	return &Console{sessionID: sessionID, runtime: rt, notifier: notifier}
}

// SetRuntime wires the runtime after construction.
func (c *Console) SetRuntime(rt Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtime = rt
}

// Snapshot returns the current buffers and running flag.
func (c *Console) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Stdout:  c.stdout.String(),
		Stderr:  c.stderr.String(),
		Running: c.running,
	}
}

// Running reports whether a run is in progress.
func (c *Console) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// AppendStdout appends text to the stdout log.
func (c *Console) AppendStdout(ctx context.Context, text string) {
	c.append(ctx, domain.StreamStdout, text)
}

// AppendStderr appends text to the stderr log.
func (c *Console) AppendStderr(ctx context.Context, text string) {
	c.append(ctx, domain.StreamStderr, text)
}

func (c *Console) append(ctx context.Context, stream domain.Stream, text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if stream == domain.StreamStderr {
		c.stderr.WriteString(text)
	} else {
		c.stdout.WriteString(text)
	}
	c.notify(ctx, domain.ConsoleEvent{Kind: domain.EventAppend, Stream: stream, Text: text, Running: c.running})
}

// Clear empties both logs.
func (c *Console) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout.Reset()
	c.stderr.Reset()
	c.notify(ctx, domain.ConsoleEvent{Kind: domain.EventClear, Running: c.running})
}

// NotifyReadiness forwards a runtime state change to viewers.
func (c *Console) NotifyReadiness(ctx context.Context, r domain.Readiness) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify(ctx, domain.ConsoleEvent{Kind: domain.EventState, Readiness: r, Running: c.running})
}

func (c *Console) setRunning(ctx context.Context, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
	c.notify(ctx, domain.ConsoleEvent{Kind: domain.EventState, Running: running})
}

// notify must be called with mu held so viewers see events in buffer order.
func (c *Console) notify(ctx context.Context, ev domain.ConsoleEvent) {
	if c.notifier == nil {
		return
	}
	ev.SessionID = c.sessionID
	c.notifier.Notify(ctx, ev)
}

func (c *Console) rt() Runtime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runtime
}

// Run executes file on the runtime and appends what it printed.
//
// When the runtime is not Ready (or busy) Run returns ErrNotReady (ErrBusy)
// before touching the logs or the running flag. A failure inside the
// interpreter is appended to stderr and returned as an *ExecutionError.
// The running flag is always false again when Run returns.
func (c *Console) Run(ctx context.Context, file domain.TextFile) error {
	lease, err := c.rt().Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	c.setRunning(ctx, true)
	defer c.setRunning(ctx, false)

	c.AppendStdout(ctx, fmt.Sprintf("\n--- running %s ---\n", file.Name))
	slog.Debug("Running file", "sessionID", c.sessionID, "file", file.Name)

	out, err := lease.Handle.Execute(lease.Context(), file.Content)
	if err != nil {
		slog.Info("Execution failed", "sessionID", c.sessionID, "file", file.Name, "error", err)
		c.AppendStderr(ctx, "\n"+err.Error())
		return &ExecutionError{Op: "run " + file.Name, Err: err}
	}

	c.AppendStdout(ctx, out.Stdout)
	c.AppendStderr(ctx, out.Stderr)
	return nil
}

// Install asks the runtime to install a package. An empty name is ignored
// without any console output. Failures go to stderr and are returned as an
// *ExecutionError.
func (c *Console) Install(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}

	lease, err := c.rt().Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	c.AppendStdout(ctx, fmt.Sprintf("\n[installing package: %s ...]\n", name))
	slog.Info("Installing package", "sessionID", c.sessionID, "package", name)

	if err := lease.Handle.InstallPackage(lease.Context(), name); err != nil {
		slog.Warn("Package install failed", "sessionID", c.sessionID, "package", name, "error", err)
		c.AppendStderr(ctx, fmt.Sprintf("\n[install %s failed] %v", name, err))
		return &ExecutionError{Op: "install " + name, Err: err}
	}

	c.AppendStdout(ctx, fmt.Sprintf("[installed %s]\n", name))
	return nil
}
