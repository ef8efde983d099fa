// Package starlarkvm runs files in an embedded Starlark interpreter, a
// Python dialect that needs nothing outside the process.
package starlarkvm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dontdude/pystudio/internal/domain"
	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// Name is the backend identifier used in configuration.
const Name = "starlark"

// fileOptions enables the Python constructs Starlark leaves off by default,
// recursion in particular (the default main.py is a recursive fib).
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// packages are the modules InstallPackage can expose.
var packages = map[string]*starlarkstruct.Module{
	"json": starjson.Module,
	"math": starmath.Module,
	"time": startime.Module,
}

// Packages lists the installable package names.
func Packages() []string {
	names := make([]string, 0, len(packages))
	for n := range packages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Loader constructs Starlark handles. Bootstrap has nothing to fetch.
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
	return &Handle{
		globals:   starlark.StringDict{},
		installed: starlark.StringDict{},
	}, nil
}

// Handle is one interpreter session. Globals defined by a run stay visible
// to later runs of the same handle.
type Handle struct {
	mu        sync.Mutex
	globals   starlark.StringDict
	installed starlark.StringDict
	runs      int
}

var _ domain.RuntimeHandle = (*Handle)(nil)

// Execute runs source. print writes to stdout and eprint to stderr; both are
// captured only for the duration of the call.
func (h *Handle) Execute(ctx context.Context, source string) (domain.Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stdout, stderr strings.Builder
	thread := &starlark.Thread{
		Name: "studio",
		Print: func(_ *starlark.Thread, msg string) {
			stdout.WriteString(msg)
			stdout.WriteByte('\n')
		},
	}

	// Starlark checks the cancel flag between steps, which also stops
	// infinite loops.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	h.runs++
	filename := fmt.Sprintf("<run %d>", h.runs)
	globals, err := starlark.ExecFileOptions(fileOptions, thread, filename, source, h.predeclared(&stderr))
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return domain.Output{}, errors.New(evalErr.Backtrace())
		}
		return domain.Output{}, err
	}

	for k, v := range globals {
		h.globals[k] = v
	}
	return domain.Output{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// InstallPackage exposes one of the bundled modules as a global.
func (h *Handle) InstallPackage(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mod, ok := packages[name]
	if !ok {
		return fmt.Errorf("no package %q (available: %s)", name, strings.Join(Packages(), ", "))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.installed[name] = mod
	return nil
}

func (h *Handle) predeclared(stderr *strings.Builder) starlark.StringDict {
	env := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"eprint": starlark.NewBuiltin("eprint", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("eprint: unexpected keyword arguments")
			}
			parts := make([]string, len(args))
			for i, a := range args {
				if s, ok := starlark.AsString(a); ok {
					parts[i] = s
				} else {
					parts[i] = a.String()
				}
			}
			stderr.WriteString(strings.Join(parts, " "))
			stderr.WriteByte('\n')
			return starlark.None, nil
		}),
	}
	for k, v := range h.installed {
		env[k] = v
	}
	for k, v := range h.globals {
		env[k] = v
	}
	return env
}
