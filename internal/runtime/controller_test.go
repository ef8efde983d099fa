package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id     int
	closed atomic.Bool
}

func (h *fakeHandle) Execute(ctx context.Context, _ string) (domain.Output, error) {
	<-ctx.Done()
	return domain.Output{}, ctx.Err()
}

func (h *fakeHandle) InstallPackage(context.Context, string) error { return nil }

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type fakeLoader struct {
	mu           sync.Mutex
	loaded       bool
	bootstraps   int
	unloads      int
	constructed  []*fakeHandle
	bootstrapErr error
	constructErr error
	gate         chan struct{}
}

func (l *fakeLoader) Name() string { return "fake" }

func (l *fakeLoader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

func (l *fakeLoader) Bootstrap(ctx context.Context) error {
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bootstraps++
	if l.bootstrapErr != nil {
		return l.bootstrapErr
	}
	l.loaded = true
	return nil
}

func (l *fakeLoader) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unloads++
	l.loaded = false
}

func (l *fakeLoader) Construct(context.Context, domain.RuntimeConfig) (domain.RuntimeHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.constructErr != nil {
		return nil, l.constructErr
	}
	h := &fakeHandle{id: len(l.constructed) + 1}
	l.constructed = append(l.constructed, h)
	return h, nil
}

type recordingConsole struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
}

func (c *recordingConsole) AppendStdout(_ context.Context, s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout.WriteString(s)
}

func (c *recordingConsole) AppendStderr(_ context.Context, s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stderr.WriteString(s)
}

func (c *recordingConsole) Stdout() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String()
}

func (c *recordingConsole) Stderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stderr.String()
}

type stateRecorder struct {
	mu     sync.Mutex
	states []domain.Readiness
}

func (r *stateRecorder) record(s domain.Readiness) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []domain.Readiness {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Readiness(nil), r.states...)
}

var yes = domain.ConfirmFunc(func(context.Context, string) bool { return true })

func newTestController(loader *fakeLoader, confirm domain.Confirmer) (*Controller, *recordingConsole, *stateRecorder) {
	console := &recordingConsole{}
	rec := &stateRecorder{}
	c := NewController(Options{
		Loader:  loader,
		Console: console,
		Confirm: confirm,
		OnState: rec.record,
	})
	return c, console, rec
}

func TestInitialize(t *testing.T) {
	loader := &fakeLoader{}
	c, console, rec := newTestController(loader, yes)
	assert.Equal(t, domain.ReadinessAbsent, c.State())

	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, domain.ReadinessReady, c.State())
	assert.Equal(t, []domain.Readiness{domain.ReadinessLoading, domain.ReadinessReady}, rec.all())
	assert.Empty(t, console.Stdout())

	// idempotent
	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, 1, loader.bootstraps)
	assert.Len(t, loader.constructed, 1)
}

func TestInitializeSkipsBootstrapWhenLoaded(t *testing.T) {
	loader := &fakeLoader{loaded: true}
	c, _, _ := newTestController(loader, yes)

	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, 0, loader.bootstraps)
	assert.Len(t, loader.constructed, 1)
}

func TestInitializeFailure(t *testing.T) {
	loader := &fakeLoader{bootstrapErr: errors.New("cdn unreachable")}
	c, console, rec := newTestController(loader, yes)

	err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ReadinessFailed, c.State())
	assert.ErrorContains(t, c.LastError(), "cdn unreachable")
	assert.Contains(t, console.Stdout(), "[runtime load failed]")
	assert.Contains(t, console.Stdout(), "cdn unreachable")
	assert.Equal(t, []domain.Readiness{domain.ReadinessLoading, domain.ReadinessFailed}, rec.all())

	_, err = c.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotReady)

	// Failed is not terminal: a later initialize may succeed.
	loader.bootstrapErr = nil
	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, domain.ReadinessReady, c.State())
	assert.NoError(t, c.LastError())
}

func TestAcquire(t *testing.T) {
	c, _, _ := newTestController(&fakeLoader{}, yes)

	_, err := c.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotReady)

	require.NoError(t, c.Initialize(context.Background()))

	lease, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Busy())

	_, err = c.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrBusy)

	lease.Release()
	lease.Release()
	assert.False(t, c.Busy())
	assert.Error(t, lease.Context().Err())

	lease, err = c.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
}

func TestResetReplacesHandle(t *testing.T) {
	loader := &fakeLoader{}
	c, console, rec := newTestController(loader, yes)
	require.NoError(t, c.Initialize(context.Background()))

	lease, err := c.Acquire(context.Background())
	require.NoError(t, err)
	oldHandle := lease.Handle
	lease.Release()

	require.NoError(t, c.Reset(context.Background()))

	assert.Equal(t, domain.ReadinessReady, c.State())
	assert.Equal(t, []domain.Readiness{
		domain.ReadinessLoading, domain.ReadinessReady,
		domain.ReadinessLoading, domain.ReadinessReady,
	}, rec.all())
	assert.Equal(t, 1, strings.Count(console.Stdout(), "[runtime reset complete]"))
	assert.Contains(t, console.Stdout(), "[resetting runtime...]")
	assert.Equal(t, 1, loader.unloads)
	assert.Equal(t, 2, loader.bootstraps)

	lease, err = c.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()
	assert.NotSame(t, oldHandle, lease.Handle)

	assert.Eventually(t, func() bool {
		return oldHandle.(*fakeHandle).closed.Load()
	}, time.Second, 5*time.Millisecond)
}

func TestResetRequiresConfirmation(t *testing.T) {
	no := domain.ConfirmFunc(func(context.Context, string) bool { return false })
	loader := &fakeLoader{}
	c, console, _ := newTestController(loader, no)
	require.NoError(t, c.Initialize(context.Background()))

	assert.ErrorIs(t, c.Reset(context.Background()), domain.ErrNotConfirmed)
	assert.Equal(t, domain.ReadinessReady, c.State())
	assert.Empty(t, console.Stdout())
	assert.Len(t, loader.constructed, 1)
}

func TestResetAbandonsRunningExecution(t *testing.T) {
	c, _, _ := newTestController(&fakeLoader{}, yes)
	require.NoError(t, c.Initialize(context.Background()))

	lease, err := c.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := lease.Handle.Execute(lease.Context(), "while True: pass")
		done <- err
	}()

	require.NoError(t, c.Reset(context.Background()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("abandoned execution was not cancelled")
	}

	// The new handle is available even before the stale lease is released.
	next, err := c.Acquire(context.Background())
	require.NoError(t, err)

	// A late release of the stale lease must not free the new one.
	lease.Release()
	assert.True(t, c.Busy())
	next.Release()
}

func TestResetFailure(t *testing.T) {
	loader := &fakeLoader{}
	c, console, _ := newTestController(loader, yes)
	require.NoError(t, c.Initialize(context.Background()))

	loader.constructErr = errors.New("no memory")
	err := c.Reset(context.Background())
	require.Error(t, err)

	assert.Equal(t, domain.ReadinessFailed, c.State())
	assert.Contains(t, console.Stderr(), "no memory")
	assert.NotContains(t, console.Stdout(), "[runtime reset complete]")
}

func TestConcurrentResetIsBusy(t *testing.T) {
	loader := &fakeLoader{}
	c, _, _ := newTestController(loader, yes)
	require.NoError(t, c.Initialize(context.Background()))

	loader.gate = make(chan struct{})
	first := make(chan error, 1)
	go func() { first <- c.Reset(context.Background()) }()

	assert.Eventually(t, func() bool {
		return c.State() == domain.ReadinessLoading
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Reset(context.Background()), domain.ErrBusy)

	close(loader.gate)
	require.NoError(t, <-first)
	assert.Equal(t, domain.ReadinessReady, c.State())
}

func TestInitializeSupersededByReset(t *testing.T) {
	loader := &fakeLoader{gate: make(chan struct{})}
	c, _, _ := newTestController(loader, yes)

	initDone := make(chan error, 1)
	go func() { initDone <- c.Initialize(context.Background()) }()
	assert.Eventually(t, func() bool {
		return c.State() == domain.ReadinessLoading
	}, time.Second, time.Millisecond)

	resetDone := make(chan error, 1)
	go func() { resetDone <- c.Reset(context.Background()) }()

	close(loader.gate)
	require.NoError(t, <-initDone)
	require.NoError(t, <-resetDone)
	assert.Equal(t, domain.ReadinessReady, c.State())

	lease, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	require.Len(t, loader.constructed, 2)
	current := lease.Handle.(*fakeHandle)
	var stale *fakeHandle
	for _, h := range loader.constructed {
		if h != current {
			stale = h
		}
	}
	require.NotNil(t, stale)
	assert.Eventually(t, stale.closed.Load, time.Second, 5*time.Millisecond)
	assert.False(t, current.closed.Load())
}

func TestClose(t *testing.T) {
	loader := &fakeLoader{}
	c, _, _ := newTestController(loader, yes)
	require.NoError(t, c.Initialize(context.Background()))

	c.Close()
	assert.Equal(t, domain.ReadinessAbsent, c.State())
	assert.Eventually(t, func() bool {
		return loader.constructed[0].closed.Load()
	}, time.Second, 5*time.Millisecond)
}
