// Package gojavm runs JavaScript files in an embedded goja runtime.
package gojavm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dop251/goja"
)

// Name is the backend identifier used in configuration.
const Name = "javascript"

// Loader constructs goja handles.
type Loader struct {
	mu     sync.Mutex
	loaded bool
}

var _ domain.Loader = (*Loader)(nil)

// NewLoader returns a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

func (l *Loader) Name() string { return Name }

func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

func (l *Loader) Bootstrap(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = true
	return nil
}

func (l *Loader) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
}

func (l *Loader) Construct(ctx context.Context, _ domain.RuntimeConfig) (domain.RuntimeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := &Handle{vm: goja.New()}
	if err := h.setupConsole(); err != nil {
		return nil, fmt.Errorf("failed to setup console: %w", err)
	}
	return h, nil
}

// Handle owns one goja runtime; top-level bindings survive between runs.
type Handle struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	stdout *strings.Builder
	stderr *strings.Builder
}

var _ domain.RuntimeHandle = (*Handle)(nil)

func (h *Handle) setupConsole() error {
	write := func(target func() *strings.Builder) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.String()
			}
			if b := target(); b != nil {
				b.WriteString(strings.Join(args, " "))
				b.WriteString("\n")
			}
			return goja.Undefined()
		}
	}
	out := write(func() *strings.Builder { return h.stdout })
	errOut := write(func() *strings.Builder { return h.stderr })

	console := h.vm.NewObject()
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"log":   out,
		"info":  out,
		"warn":  errOut,
		"error": errOut,
	} {
		if err := console.Set(name, fn); err != nil {
			return err
		}
	}
	if err := h.vm.Set("console", console); err != nil {
		return err
	}
	return h.vm.Set("print", out)
}

// Execute runs source. console.log/info write to stdout, console.warn/error
// to stderr.
func (h *Handle) Execute(ctx context.Context, source string) (domain.Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stdout, stderr strings.Builder
	h.stdout, h.stderr = &stdout, &stderr
	defer func() { h.stdout, h.stderr = nil, nil }()

	// The watcher must be gone before the next run clears the interrupt flag.
	h.vm.ClearInterrupt()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			h.vm.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	_, err := h.vm.RunString(source)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			h.vm.ClearInterrupt()
			return domain.Output{}, fmt.Errorf("execution interrupted: %v", interrupted.Value())
		}
		return domain.Output{}, err
	}
	return domain.Output{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// InstallPackage is not supported: goja has no package manager.
func (h *Handle) InstallPackage(context.Context, string) error {
	return domain.ErrPackagesUnsupported
}
