package domain

import "context"

// Readiness describes whether the delegated runtime can serve run/install requests.
type Readiness string

const (
	// ReadinessAbsent means no runtime has been requested yet.
	ReadinessAbsent Readiness = "absent"
	// ReadinessLoading means a bootstrap or reset is in progress.
	ReadinessLoading Readiness = "loading"
	// ReadinessReady means a live RuntimeHandle is available.
	ReadinessReady Readiness = "ready"
	// ReadinessFailed means the last bootstrap attempt failed.
	// Unlike Absent it carries an error (see runtime.Controller.LastError).
	ReadinessFailed Readiness = "failed"
)

// RuntimeConfig is passed to Loader.Construct.
type RuntimeConfig struct {
	// IndexURL is the package index packages are installed from.
	// Empty means the backend default.
	IndexURL string
}

// Output holds the two captured streams of a single execution.
// The streams are captured independently; their interleaving is not preserved.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// RuntimeHandle is a live interpreter session.
// Implementations may also implement io.Closer; the controller closes
// abandoned handles in the background when they do.
type RuntimeHandle interface {
	// Execute runs source with stdout and stderr redirected for the duration
	// of the call and returns both captured buffers.
	// A non-nil error means the execution itself failed (syntax error,
	// uncaught exception, cancelled context).
	Execute(ctx context.Context, source string) (Output, error)

	// InstallPackage makes the named package importable in this handle.
	InstallPackage(ctx context.Context, name string) error
}

// Loader bootstraps an interpreter backend and constructs handles from it.
type Loader interface {
	// Name identifies the backend in logs and snapshots.
	Name() string

	// Loaded reports whether Bootstrap already completed.
	Loaded() bool

	// Bootstrap prepares the backend (pulls images, locates binaries...).
	Bootstrap(ctx context.Context) error

	// Unload forgets a previous Bootstrap so the next one starts from scratch.
	Unload()

	// Construct creates a fresh handle. Handles never share interpreter state.
	Construct(ctx context.Context, cfg RuntimeConfig) (RuntimeHandle, error)
}
