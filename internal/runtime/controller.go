// Package runtime owns the lifecycle of a session's delegated interpreter:
// bootstrapping it, handing it out to one run or install at a time, and
// replacing it on reset.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dontdude/pystudio/internal/domain"
)

const resetPrompt = "This restarts the interpreter. Continue?"

// Console is where the controller reports lifecycle lines.
type Console interface {
	AppendStdout(ctx context.Context, text string)
	AppendStderr(ctx context.Context, text string)
}

// Options configures a Controller.
type Options struct {
	Loader  domain.Loader
	Config  domain.RuntimeConfig
	Console Console
	Confirm domain.Confirmer

	// OnState is called after every readiness transition, outside the lock.
	OnState func(domain.Readiness)
}

// Controller is a small state machine:
//
//	Absent/Failed -> Loading -> Ready | Failed
//	Ready         -> Loading -> Ready | Failed   (reset)
//
// Runs and installs go through Acquire, which hands the handle to at most
// one caller at a time.
type Controller struct {
	mu sync.Mutex

	loader  domain.Loader
	cfg     domain.RuntimeConfig
	console Console
	confirm domain.Confirmer
	onState func(domain.Readiness)

	state   domain.Readiness
	handle  domain.RuntimeHandle
	lastErr error

	// generation changes on every reset so a bootstrap that finishes after
	// being superseded can recognise itself as stale.
	generation uint64
	resetting  bool

	busy     bool
	opID     uint64
	cancelOp context.CancelFunc
}

// NewController returns a controller in the Absent state.
func NewController(opts Options) *Controller {
	return &Controller{
		loader:  opts.Loader,
		cfg:     opts.Config,
		console: opts.Console,
		confirm: opts.Confirm,
		onState: opts.OnState,
		state:   domain.ReadinessAbsent,
	}
}

// State returns the current readiness.
func (c *Controller) State() domain.Readiness {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that put the controller in the Failed state.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Busy reports whether a run or install currently holds the runtime.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Backend names the loader in use.
func (c *Controller) Backend() string {
	return c.loader.Name()
}

// Initialize bootstraps the runtime. It is a no-op while Loading or Ready.
// A failure is reported on the console's stdout and leaves the controller
// Failed; there is no automatic retry.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.ReadinessLoading || c.state == domain.ReadinessReady {
		c.mu.Unlock()
		return nil
	}
	c.state = domain.ReadinessLoading
	gen := c.generation
	c.mu.Unlock()
	c.notifyState(domain.ReadinessLoading)

	slog.Info("Loading runtime", "backend", c.loader.Name())
	h, err := c.load(ctx, false)

	c.mu.Lock()
	if gen != c.generation {
		// A reset took over while we were loading.
		c.mu.Unlock()
		abandon(h)
		return nil
	}
	if err != nil {
		c.state = domain.ReadinessFailed
		c.lastErr = err
		c.mu.Unlock()

		slog.Error("Runtime failed to load", "backend", c.loader.Name(), "error", err)
		c.console.AppendStdout(ctx, "\n[runtime load failed] "+err.Error())
		c.notifyState(domain.ReadinessFailed)
		return err
	}
	c.handle = h
	c.state = domain.ReadinessReady
	c.lastErr = nil
	c.mu.Unlock()

	slog.Info("Runtime ready", "backend", c.loader.Name())
	c.notifyState(domain.ReadinessReady)
	return nil
}

// Reset discards the current handle and builds a new one from a fresh
// bootstrap, after the user confirms. Any run or install still holding the
// old handle has its context cancelled and is abandoned.
// Only one reset may be in flight; a second one gets ErrBusy.
func (c *Controller) Reset(ctx context.Context) error {
	if c.confirm != nil && !c.confirm.Confirm(ctx, resetPrompt) {
		return domain.ErrNotConfirmed
	}

	c.mu.Lock()
	if c.resetting {
		c.mu.Unlock()
		return domain.ErrBusy
	}
	c.resetting = true
	c.generation++
	old := c.handle
	c.handle = nil
	c.state = domain.ReadinessLoading
	c.lastErr = nil
	if c.cancelOp != nil {
		c.cancelOp()
		c.cancelOp = nil
	}
	c.busy = false
	c.opID++
	c.mu.Unlock()

	c.notifyState(domain.ReadinessLoading)
	c.console.AppendStdout(ctx, "\n[resetting runtime...]\n")
	slog.Info("Resetting runtime", "backend", c.loader.Name())

	abandon(old)
	c.loader.Unload()
	h, err := c.load(ctx, true)

	c.mu.Lock()
	c.resetting = false
	if err != nil {
		c.state = domain.ReadinessFailed
		c.lastErr = err
		c.mu.Unlock()

		slog.Error("Runtime reset failed", "backend", c.loader.Name(), "error", err)
		c.console.AppendStderr(ctx, "\n"+err.Error())
		c.notifyState(domain.ReadinessFailed)
		return err
	}
	c.handle = h
	c.state = domain.ReadinessReady
	c.mu.Unlock()

	c.console.AppendStdout(ctx, "[runtime reset complete]\n")
	c.notifyState(domain.ReadinessReady)
	return nil
}

// Lease grants exclusive use of the runtime handle until Release is called.
type Lease struct {
	Handle domain.RuntimeHandle

	ctx     context.Context
	release func()
}

// Context is cancelled when the lease is released or a reset abandons it.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Release returns the runtime. It is safe to call more than once.
func (l *Lease) Release() {
	l.release()
}

// Acquire checks readiness and takes the busy flag in one step.
// It returns ErrNotReady unless the runtime is Ready and ErrBusy when
// another run or install holds it.
func (c *Controller) Acquire(ctx context.Context) (*Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.ReadinessReady || c.handle == nil {
		return nil, domain.ErrNotReady
	}
	if c.busy {
		return nil, domain.ErrBusy
	}

	opCtx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.opID++
	id := c.opID
	c.cancelOp = cancel

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			if c.opID == id {
				c.busy = false
				c.cancelOp = nil
			}
			c.mu.Unlock()
			cancel()
		})
	}

	return &Lease{Handle: c.handle, ctx: opCtx, release: release}, nil
}

func (c *Controller) load(ctx context.Context, force bool) (domain.RuntimeHandle, error) {
	if force || !c.loader.Loaded() {
		if err := c.loader.Bootstrap(ctx); err != nil {
			return nil, fmt.Errorf("failed to bootstrap %s runtime: %w", c.loader.Name(), err)
		}
	}
	h, err := c.loader.Construct(ctx, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s runtime: %w", c.loader.Name(), err)
	}
	return h, nil
}

func (c *Controller) notifyState(s domain.Readiness) {
	if c.onState != nil {
		c.onState(s)
	}
}

// Close abandons the current handle. The controller goes back to Absent.
func (c *Controller) Close() {
	c.mu.Lock()
	old := c.handle
	c.handle = nil
	c.state = domain.ReadinessAbsent
	c.generation++
	if c.cancelOp != nil {
		c.cancelOp()
		c.cancelOp = nil
	}
	c.busy = false
	c.opID++
	c.mu.Unlock()

	abandon(old)
}

// abandon drops a handle. Handles that can be closed are closed in the
// background; the others are left for the garbage collector.
func abandon(h domain.RuntimeHandle) {
	closer, ok := h.(io.Closer)
	if !ok {
		return
	}
	go func() {
		if err := closer.Close(); err != nil {
			slog.Warn("Failed to close abandoned runtime", "error", err)
		}
	}()
}
