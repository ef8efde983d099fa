// Package pyproc runs files with a CPython interpreter installed on the host.
// Each handle gets its own package directory, so installs in one session do
// not leak into another.
package pyproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/pywrap"
)

// Name is the backend identifier used in configuration.
const Name = "python"

// Loader locates the interpreter binary.
type Loader struct {
	mu        sync.Mutex
	candidate string
	path      string
}

var _ domain.Loader = (*Loader)(nil)

// NewLoader returns a Loader for the given interpreter (a name looked up in
// PATH or an absolute path). Empty means python3.
func NewLoader(interpreter string) *Loader {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &Loader{candidate: interpreter}
}

func (l *Loader) Name() string { return Name }

func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path != ""
}

// Bootstrap resolves the interpreter and checks that it starts.
func (l *Loader) Bootstrap(ctx context.Context) error {
	path, err := exec.LookPath(l.candidate)
	if err != nil {
		return fmt.Errorf("python interpreter %q not found: %w", l.candidate, err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("python interpreter %s failed to start: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	slog.Info("Python interpreter found", "path", path, "version", strings.TrimSpace(string(out)))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = path
	return nil
}

func (l *Loader) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = ""
}

// Construct creates a handle with a fresh package directory.
func (l *Loader) Construct(_ context.Context, cfg domain.RuntimeConfig) (domain.RuntimeHandle, error) {
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()
	if path == "" {
		return nil, errors.New("python interpreter not bootstrapped")
	}

	dir, err := os.MkdirTemp("", "studio-site-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create package dir: %w", err)
	}
	return &Handle{python: path, siteDir: dir, indexURL: cfg.IndexURL}, nil
}

// Handle runs each execution in a new interpreter process.
type Handle struct {
	python   string
	siteDir  string
	indexURL string
}

var _ domain.RuntimeHandle = (*Handle)(nil)

// Execute runs source through the capture wrapper.
func (h *Handle) Execute(ctx context.Context, source string) (domain.Output, error) {
	stdout, stderr, err := h.command(ctx, "-c", pywrap.Wrap(source, "main.py"))
	if err != nil {
		return domain.Output{}, processError(err, stderr)
	}

	out, _, err := pywrap.ExtractOutput(stdout)
	if err != nil {
		return domain.Output{}, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
	}
	return out, nil
}

// InstallPackage pip-installs name into the handle's package directory.
func (h *Handle) InstallPackage(ctx context.Context, name string) error {
	_, stderr, err := h.command(ctx, pywrap.PipInstallArgs(name, h.indexURL, h.siteDir)...)
	if err != nil {
		return processError(err, stderr)
	}
	return nil
}

// Close removes the handle's package directory.
func (h *Handle) Close() error {
	return os.RemoveAll(h.siteDir)
}

func (h *Handle) command(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.python, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "PYTHONPATH="+h.siteDir, "PYTHONIOENCODING=utf-8")
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.String(), stderr.String(), ctxErr
	}
	return stdout.String(), stderr.String(), err
}

// processError prefers the interpreter's own report (a traceback) over the
// bare exit status.
func processError(err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return errors.New(msg)
		}
	}
	return err
}
