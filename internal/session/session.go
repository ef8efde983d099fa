// Package session ties a file collection, a runtime controller and a console
// into one editing session, and exposes every user-facing control of the studio.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dontdude/pystudio/internal/console"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/files"
	"github.com/dontdude/pystudio/internal/runtime"
	"github.com/dontdude/pystudio/internal/store"
)

// ErrNoClipboard is returned by CopyCode when no clipboard is configured.
var ErrNoClipboard = errors.New("clipboard unavailable")

// Options configures a Session.
type Options struct {
	ID            string
	KV            domain.KV
	Loader        domain.Loader
	RuntimeConfig domain.RuntimeConfig
	Confirm       domain.Confirmer
	Clipboard     domain.Clipboard
	Notifier      domain.Notifier
}

// Session is one studio: files, runtime, console, theme and the pending
// package name typed into the install field.
type Session struct {
	id        string
	store     *store.Adapter
	files     *files.Manager
	runtime   *runtime.Controller
	console   *console.Console
	clipboard domain.Clipboard

	mu           sync.Mutex
	dark         bool
	packageInput string
}

// New loads the persisted state of a session. The runtime starts Absent;
// call Initialize to load it.
func New(ctx context.Context, opts Options) *Session {
	st := store.New(opts.KV, store.Namespace(opts.ID))
	con := console.New(opts.ID, nil, opts.Notifier)
	ctrl := runtime.NewController(runtime.Options{
		Loader:  opts.Loader,
		Config:  opts.RuntimeConfig,
		Console: con,
		Confirm: opts.Confirm,
		OnState: func(r domain.Readiness) {
			con.NotifyReadiness(context.Background(), r)
		},
	})
	con.SetRuntime(ctrl)

	return &Session{
		id:        opts.ID,
		store:     st,
		files:     files.NewManager(ctx, st, opts.Confirm),
		runtime:   ctrl,
		console:   con,
		clipboard: opts.Clipboard,
		dark:      st.LoadTheme(ctx),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Files exposes the file collection for read access.
func (s *Session) Files() *files.Manager { return s.files }

// Readiness returns the runtime state.
func (s *Session) Readiness() domain.Readiness { return s.runtime.State() }

// Console returns a copy of the console state.
func (s *Session) Console() console.Snapshot { return s.console.Snapshot() }

// Initialize loads the runtime. See runtime.Controller.Initialize.
func (s *Session) Initialize(ctx context.Context) error {
	return s.runtime.Initialize(ctx)
}

// NewFile creates a file from the template and selects it.
// An empty name is ignored.
func (s *Session) NewFile(ctx context.Context, name string) (bool, error) {
	return s.files.Create(ctx, name)
}

// DeleteFile removes a file after confirmation.
func (s *Session) DeleteFile(ctx context.Context, index int) error {
	return s.files.Delete(ctx, index)
}

// SelectFile changes the selected file.
func (s *Session) SelectFile(ctx context.Context, index int) error {
	return s.files.Select(ctx, index)
}

// UpdateFile merges delta into the file at index.
func (s *Session) UpdateFile(ctx context.Context, index int, delta domain.FileDelta) error {
	return s.files.Update(ctx, index, delta)
}

// Edit replaces the content of the selected file.
func (s *Session) Edit(ctx context.Context, content string) error {
	return s.files.UpdateSelected(ctx, domain.FileDelta{Content: &content})
}

// ImportExample appends a catalog example and selects it.
func (s *Session) ImportExample(ctx context.Context, templateIndex int) error {
	return s.files.ImportExample(ctx, templateIndex)
}

// Run executes the selected file.
func (s *Session) Run(ctx context.Context) error {
	return s.console.Run(ctx, s.files.Selected())
}

// ClearConsole empties both output logs.
func (s *Session) ClearConsole(ctx context.Context) {
	s.console.Clear(ctx)
}

// SetPackageInput records what is typed in the install field.
func (s *Session) SetPackageInput(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packageInput = name
}

// PackageInput returns the pending package name.
func (s *Session) PackageInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packageInput
}

// Install installs the pending package. An empty input does nothing and a
// runtime that is not Ready (or busy) leaves the input untouched; once the
// install was attempted the input is cleared whatever the outcome.
func (s *Session) Install(ctx context.Context) error {
	name := s.PackageInput()
	if name == "" {
		return nil
	}

	err := s.console.Install(ctx, name)
	if errors.Is(err, domain.ErrNotReady) || errors.Is(err, domain.ErrBusy) {
		return err
	}
	s.SetPackageInput("")
	return err
}

// InstallPackage sets the input to name and installs it.
func (s *Session) InstallPackage(ctx context.Context, name string) error {
	s.SetPackageInput(name)
	return s.Install(ctx)
}

// ResetRuntime replaces the runtime after confirmation.
func (s *Session) ResetRuntime(ctx context.Context) error {
	return s.runtime.Reset(ctx)
}

// Dark reports the theme flag.
func (s *Session) Dark() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dark
}

// ToggleTheme flips between dark and light and persists the choice.
func (s *Session) ToggleTheme(ctx context.Context) (bool, error) {
	s.mu.Lock()
	s.dark = !s.dark
	dark := s.dark
	s.mu.Unlock()

	return dark, s.store.SaveTheme(ctx, dark)
}

// CopyCode puts the selected file's content on the clipboard.
func (s *Session) CopyCode() error {
	if s.clipboard == nil {
		return ErrNoClipboard
	}
	return s.clipboard.WriteAll(s.files.Selected().Content)
}

// Export returns the download name and content of the selected file.
func (s *Session) Export() (string, string) {
	f := s.files.Selected()
	name := f.Name
	if name == "" {
		name = domain.DefaultFileName
	}
	return name, f.Content
}

// Snapshot is everything a view needs to render a session.
type Snapshot struct {
	ID           string           `json:"id"`
	Backend      string           `json:"backend"`
	Readiness    domain.Readiness `json:"readiness"`
	LastError    string           `json:"last_error,omitempty"`
	Busy         bool             `json:"busy"`
	Dark         bool             `json:"dark"`
	Files        []files.Summary  `json:"files"`
	Selected     int              `json:"selected"`
	Current      domain.TextFile  `json:"current"`
	PackageInput string           `json:"package_input"`
	Console      console.Snapshot `json:"console"`
}

// Snapshot captures the session state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		Backend:      s.runtime.Backend(),
		Readiness:    s.runtime.State(),
		Busy:         s.runtime.Busy(),
		Dark:         s.Dark(),
		Files:        s.files.Summaries(),
		Selected:     s.files.SelectedIndex(),
		Current:      s.files.Selected(),
		PackageInput: s.PackageInput(),
		Console:      s.console.Snapshot(),
	}
	if err := s.runtime.LastError(); err != nil {
		snap.LastError = err.Error()
	}
	return snap
}

// Close releases the runtime.
func (s *Session) Close() {
	slog.Debug("Closing session", "sessionID", s.id)
	s.runtime.Close()
}
