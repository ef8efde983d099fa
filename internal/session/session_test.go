package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/platform/kv"
	"github.com/dontdude/pystudio/internal/platform/starlarkvm"
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

func (l *eventLog) readiness() []domain.Readiness {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Readiness
	for _, ev := range l.events {
		if ev.Kind == domain.EventState && ev.Readiness != "" {
			out = append(out, ev.Readiness)
		}
	}
	return out
}

type fakeClipboard struct{ text string }

func (c *fakeClipboard) WriteAll(text string) error {
	c.text = text
	return nil
}

var yes = domain.ConfirmFunc(func(context.Context, string) bool { return true })

func newSession(t *testing.T, store domain.KV, ready bool) (*Session, *eventLog) {
	t.Helper()
	if store == nil {
		store = kv.NewMemory()
	}
	events := &eventLog{}
	s := New(context.Background(), Options{
		ID:        "s1",
		KV:        store,
		Loader:    starlarkvm.NewLoader(),
		Confirm:   yes,
		Clipboard: &fakeClipboard{},
		Notifier:  events,
	})
	t.Cleanup(s.Close)
	if ready {
		require.NoError(t, s.Initialize(context.Background()))
	}
	return s, events
}

func TestRunDefaultMain(t *testing.T) {
	s, _ := newSession(t, nil, true)

	require.NoError(t, s.Run(context.Background()))
	con := s.Console()
	assert.Contains(t, con.Stdout, "fib(10)= 55")
	assert.Empty(t, con.Stderr)
	assert.False(t, con.Running)
}

func TestRunDivisionByZero(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t, nil, true)

	created, err := s.NewFile(ctx, "bad.py")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, s.Edit(ctx, "1/0\n"))

	before := s.Console().Stdout
	err = s.Run(ctx)
	require.Error(t, err)

	con := s.Console()
	assert.Contains(t, con.Stderr, "division by zero")
	assert.Equal(t, before+"\n--- running bad.py ---\n", con.Stdout)
	assert.False(t, con.Running)
	assert.Equal(t, domain.ReadinessReady, s.Readiness())
}

func TestRunBeforeReadyChangesNothing(t *testing.T) {
	s, _ := newSession(t, nil, false)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotReady)
	assert.Equal(t, domain.ReadinessAbsent, s.Readiness())
	con := s.Console()
	assert.Empty(t, con.Stdout)
	assert.Empty(t, con.Stderr)
	assert.False(t, con.Running)
}

func TestClearConsole(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t, nil, true)
	require.NoError(t, s.Run(ctx))

	s.ClearConsole(ctx)
	con := s.Console()
	assert.Empty(t, con.Stdout)
	assert.Empty(t, con.Stderr)
}

func TestInstallWithEmptyInput(t *testing.T) {
	s, _ := newSession(t, nil, true)

	require.NoError(t, s.Install(context.Background()))
	assert.Empty(t, s.PackageInput())
	assert.Empty(t, s.Console().Stdout)
}

func TestInstallNotReadyKeepsInput(t *testing.T) {
	s, _ := newSession(t, nil, false)
	s.SetPackageInput("math")

	err := s.Install(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotReady)
	assert.Equal(t, "math", s.PackageInput())
	assert.Empty(t, s.Console().Stdout)
}

func TestInstallClearsInput(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t, nil, true)

	require.NoError(t, s.InstallPackage(ctx, "math"))
	assert.Empty(t, s.PackageInput())
	assert.Contains(t, s.Console().Stdout, "[installed math]\n")

	err := s.InstallPackage(ctx, "numpy")
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotReady))
	assert.Empty(t, s.PackageInput())
	assert.Contains(t, s.Console().Stderr, "[install numpy failed]")
}

func TestResetReplacesRuntime(t *testing.T) {
	ctx := context.Background()
	s, events := newSession(t, nil, true)

	// Globals of the old interpreter must be gone after the reset.
	require.NoError(t, s.Edit(ctx, "leftover = 1\n"))
	require.NoError(t, s.Run(ctx))

	require.NoError(t, s.ResetRuntime(ctx))
	assert.Equal(t, domain.ReadinessReady, s.Readiness())
	assert.Equal(t, []domain.Readiness{
		domain.ReadinessLoading, domain.ReadinessReady,
		domain.ReadinessLoading, domain.ReadinessReady,
	}, events.readiness())
	assert.Equal(t, 1, strings.Count(s.Console().Stdout, "[runtime reset complete]"))

	require.NoError(t, s.Edit(ctx, "print(leftover)\n"))
	assert.Error(t, s.Run(ctx))
}

func TestResetDeclined(t *testing.T) {
	s := New(context.Background(), Options{
		ID:      "s1",
		KV:      kv.NewMemory(),
		Loader:  starlarkvm.NewLoader(),
		Confirm: domain.ConfirmFunc(func(context.Context, string) bool { return false }),
	})
	defer s.Close()
	require.NoError(t, s.Initialize(context.Background()))

	assert.ErrorIs(t, s.ResetRuntime(context.Background()), domain.ErrNotConfirmed)
	assert.Equal(t, domain.ReadinessReady, s.Readiness())
	assert.NotContains(t, s.Console().Stdout, "resetting")
}

func TestStatePersistsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	s, _ := newSession(t, store, false)

	dark, err := s.ToggleTheme(ctx)
	require.NoError(t, err)
	_, err = s.NewFile(ctx, "kept.py")
	require.NoError(t, err)

	again, _ := newSession(t, store, false)
	assert.Equal(t, dark, again.Dark())
	assert.Equal(t, s.Files().Files(), again.Files().Files())
	assert.Equal(t, 2, again.Files().SelectedIndex())

	require.NoError(t, s.SelectFile(ctx, 1))
	again, _ = newSession(t, store, false)
	assert.Equal(t, "example_loop.py", again.Files().Selected().Name)
}

func TestCopyAndExport(t *testing.T) {
	ctx := context.Background()
	clip := &fakeClipboard{}
	s := New(ctx, Options{ID: "s1", KV: kv.NewMemory(), Loader: starlarkvm.NewLoader(), Clipboard: clip})
	defer s.Close()

	require.NoError(t, s.CopyCode())
	assert.Equal(t, domain.DefaultFiles()[0].Content, clip.text)

	name, content := s.Export()
	assert.Equal(t, "main.py", name)
	assert.Equal(t, domain.DefaultFiles()[0].Content, content)

	noClip := New(ctx, Options{ID: "s2", KV: kv.NewMemory(), Loader: starlarkvm.NewLoader()})
	defer noClip.Close()
	assert.ErrorIs(t, noClip.CopyCode(), ErrNoClipboard)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t, nil, true)
	s.SetPackageInput("json")
	require.NoError(t, s.SelectFile(ctx, 1))

	snap := s.Snapshot()
	assert.Equal(t, "s1", snap.ID)
	assert.Equal(t, starlarkvm.Name, snap.Backend)
	assert.Equal(t, domain.ReadinessReady, snap.Readiness)
	assert.Equal(t, 1, snap.Selected)
	assert.Equal(t, "example_loop.py", snap.Current.Name)
	assert.Len(t, snap.Files, 2)
	assert.True(t, snap.Files[1].Selected)
	assert.Equal(t, "json", snap.PackageInput)
	assert.Empty(t, snap.LastError)

	require.NoError(t, s.DeleteFile(ctx, 1))
	assert.Equal(t, 0, s.Snapshot().Selected)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	r := NewRegistry(RegistryOptions{
		KV:             store,
		NewLoader:      func() domain.Loader { return starlarkvm.NewLoader() },
		Confirm:        yes,
		AutoInitialize: true,
	})
	defer r.CloseAll()

	a := r.Create(ctx)
	b := r.Create(ctx)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Same(t, a, r.Open(ctx, a.ID()))

	got, err := r.Get(b.ID())
	require.NoError(t, err)
	assert.Same(t, b, got)

	// Sessions sharing a store are namespaced apart.
	_, err = a.NewFile(ctx, "only_in_a.py")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Files().Len())
	assert.Equal(t, 2, b.Files().Len())

	assert.Eventually(t, func() bool {
		return a.Readiness() == domain.ReadinessReady
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Close(a.ID()))
	_, err = r.Get(a.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, r.Close(a.ID()), domain.ErrSessionNotFound)
	assert.Equal(t, []string{b.ID()}, r.IDs())

	// Reopening the id picks the files back up from the store.
	reopened := r.Open(ctx, a.ID())
	assert.Equal(t, 3, reopened.Files().Len())
}

func TestRegistryResume(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	opts := RegistryOptions{
		KV:        store,
		NewLoader: func() domain.Loader { return starlarkvm.NewLoader() },
		Confirm:   yes,
	}

	first := NewRegistry(opts)
	fresh := first.Create(ctx)
	edited := first.Create(ctx)
	_, err := edited.NewFile(ctx, "kept.py")
	require.NoError(t, err)
	first.CloseAll()

	// A second registry on the same store, as after a restart.
	second := NewRegistry(opts)
	defer second.CloseAll()

	got, err := second.Resume(ctx, edited.ID())
	require.NoError(t, err)
	assert.Equal(t, "kept.py", got.Files().Selected().Name)
	assert.Equal(t, 3, got.Files().Len())

	again, err := second.Resume(ctx, edited.ID())
	require.NoError(t, err)
	assert.Same(t, got, again)

	// Untouched sessions are stored at creation and resume too.
	_, err = second.Resume(ctx, fresh.ID())
	require.NoError(t, err)

	_, err = second.Resume(ctx, "never-created")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = second.Resume(ctx, "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Len(t, second.IDs(), 2)
}
