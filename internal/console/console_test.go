package console

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/platform/starlarkvm"
	"github.com/dontdude/pystudio/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []domain.ConsoleEvent
}

func (l *eventLog) Notify(_ context.Context, ev domain.ConsoleEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []domain.ConsoleEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ConsoleEvent(nil), l.events...)
}

// stubHandle records calls and returns canned results.
type stubHandle struct {
	out        domain.Output
	execErr    error
	installErr error
	executed   []string
	installed  []string
}

func (h *stubHandle) Execute(_ context.Context, source string) (domain.Output, error) {
	h.executed = append(h.executed, source)
	return h.out, h.execErr
}

func (h *stubHandle) InstallPackage(_ context.Context, name string) error {
	h.installed = append(h.installed, name)
	return h.installErr
}

type stubLoader struct{ handle domain.RuntimeHandle }

func (l *stubLoader) Name() string { return "stub" }

func (l *stubLoader) Loaded() bool { return true }

func (l *stubLoader) Bootstrap(context.Context) error { return nil }

func (l *stubLoader) Unload() {}

func (l *stubLoader) Construct(context.Context, domain.RuntimeConfig) (domain.RuntimeHandle, error) {
	return l.handle, nil
}

func newConsole(t *testing.T, loader domain.Loader, ready bool) (*Console, *runtime.Controller, *eventLog) {
	t.Helper()
	events := &eventLog{}
	c := New("s1", nil, events)
	ctrl := runtime.NewController(runtime.Options{Loader: loader, Console: c})
	c.SetRuntime(ctrl)
	if ready {
		require.NoError(t, ctrl.Initialize(context.Background()))
	}
	return c, ctrl, events
}

func TestRunDefaultMainOnStarlark(t *testing.T) {
	c, _, _ := newConsole(t, starlarkvm.NewLoader(), true)

	err := c.Run(context.Background(), domain.DefaultFiles()[0])
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Contains(t, snap.Stdout, "--- running main.py ---")
	assert.Contains(t, snap.Stdout, "fib(10)= 55")
	assert.Empty(t, snap.Stderr)
	assert.False(t, snap.Running)
}

func TestRunDivisionByZero(t *testing.T) {
	c, _, _ := newConsole(t, starlarkvm.NewLoader(), true)
	c.AppendStdout(context.Background(), "earlier output\n")

	err := c.Run(context.Background(), domain.TextFile{Name: "bad.py", Content: "1/0"})

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	snap := c.Snapshot()
	assert.Contains(t, snap.Stderr, "division by zero")
	assert.Equal(t, "earlier output\n\n--- running bad.py ---\n", snap.Stdout)
	assert.False(t, snap.Running)
}

func TestRunNotReadyHasNoSideEffects(t *testing.T) {
	h := &stubHandle{}
	c, _, events := newConsole(t, &stubLoader{handle: h}, false)

	err := c.Run(context.Background(), domain.DefaultFiles()[0])
	assert.ErrorIs(t, err, domain.ErrNotReady)

	assert.Equal(t, Snapshot{}, c.Snapshot())
	assert.Empty(t, h.executed)
	assert.Empty(t, events.all())
}

func TestRunWhileBusy(t *testing.T) {
	h := &stubHandle{}
	c, ctrl, _ := newConsole(t, &stubLoader{handle: h}, true)

	lease, err := ctrl.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	err = c.Run(context.Background(), domain.DefaultFiles()[0])
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Equal(t, Snapshot{}, c.Snapshot())
	assert.Empty(t, h.executed)
}

func TestRunAppendsBothStreams(t *testing.T) {
	h := &stubHandle{out: domain.Output{Stdout: "out\n", Stderr: "warn\n"}}
	c, _, events := newConsole(t, &stubLoader{handle: h}, true)

	require.NoError(t, c.Run(context.Background(), domain.TextFile{Name: "a.py", Content: "src"}))

	assert.Equal(t, []string{"src"}, h.executed)
	snap := c.Snapshot()
	assert.True(t, strings.HasSuffix(snap.Stdout, "out\n"))
	assert.Equal(t, "warn\n", snap.Stderr)

	// running flag events bracket the run
	evs := events.all()
	var states []bool
	for _, ev := range evs {
		if ev.Kind == domain.EventState && ev.Readiness == "" {
			states = append(states, ev.Running)
		}
		assert.Equal(t, "s1", ev.SessionID)
	}
	assert.Equal(t, []bool{true, false}, states)
}

func TestRunFailureIsReportedOnStderr(t *testing.T) {
	h := &stubHandle{execErr: errors.New("SyntaxError: invalid syntax")}
	c, ctrl, _ := newConsole(t, &stubLoader{handle: h}, true)

	err := c.Run(context.Background(), domain.TextFile{Name: "a.py"})
	require.Error(t, err)
	assert.Equal(t, "\nSyntaxError: invalid syntax", c.Snapshot().Stderr)
	assert.False(t, c.Running())
	assert.Equal(t, domain.ReadinessReady, ctrl.State(), "execution failures do not affect readiness")
	assert.False(t, ctrl.Busy())
}

func TestClear(t *testing.T) {
	c, _, events := newConsole(t, starlarkvm.NewLoader(), true)
	c.AppendStdout(context.Background(), "a")
	c.AppendStderr(context.Background(), "b")

	c.Clear(context.Background())
	assert.Equal(t, "", c.Snapshot().Stdout)
	assert.Equal(t, "", c.Snapshot().Stderr)

	evs := events.all()
	assert.Equal(t, domain.EventClear, evs[len(evs)-1].Kind)

	// clearing an empty console is fine
	c.Clear(context.Background())
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestInstallEmptyNameIsNoop(t *testing.T) {
	h := &stubHandle{}
	c, _, events := newConsole(t, &stubLoader{handle: h}, true)

	require.NoError(t, c.Install(context.Background(), ""))
	assert.Empty(t, h.installed)
	assert.Equal(t, Snapshot{}, c.Snapshot())
	assert.Empty(t, events.all())
}

func TestInstallNotReady(t *testing.T) {
	h := &stubHandle{}
	c, _, _ := newConsole(t, &stubLoader{handle: h}, false)

	assert.ErrorIs(t, c.Install(context.Background(), "rich"), domain.ErrNotReady)
	assert.Empty(t, h.installed)
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestInstall(t *testing.T) {
	h := &stubHandle{}
	c, _, _ := newConsole(t, &stubLoader{handle: h}, true)

	require.NoError(t, c.Install(context.Background(), "rich"))
	assert.Equal(t, []string{"rich"}, h.installed)
	assert.Equal(t, "\n[installing package: rich ...]\n[installed rich]\n", c.Snapshot().Stdout)
	assert.Empty(t, c.Snapshot().Stderr)
}

func TestInstallFailure(t *testing.T) {
	h := &stubHandle{installErr: errors.New("no matching distribution")}
	c, ctrl, _ := newConsole(t, &stubLoader{handle: h}, true)

	err := c.Install(context.Background(), "nope")
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "\n[installing package: nope ...]\n", c.Snapshot().Stdout)
	assert.Equal(t, "\n[install nope failed] no matching distribution", c.Snapshot().Stderr)
	assert.False(t, ctrl.Busy())
}

func TestInstallOnStarlark(t *testing.T) {
	c, _, _ := newConsole(t, starlarkvm.NewLoader(), true)

	require.NoError(t, c.Install(context.Background(), "math"))
	require.NoError(t, c.Run(context.Background(), domain.TextFile{Name: "m.py", Content: "print(math.floor(2.5))"}))
	assert.Contains(t, c.Snapshot().Stdout, "2\n")
}
