package domain

import "errors"

// Sentinel errors shared by the session, its components and the transports.
// Callers match them with errors.Is.
var (
	// ErrNotReady is returned when run or install is attempted while the
	// runtime is not Ready. It is a precondition failure: nothing was changed.
	ErrNotReady = errors.New("runtime not ready")

	// ErrBusy is returned when another run, install or reset already holds the runtime.
	ErrBusy = errors.New("runtime busy")

	// ErrNotConfirmed is returned when the user declined a confirm-gated action.
	ErrNotConfirmed = errors.New("action not confirmed")

	// ErrIndexOutOfRange is returned for a file index outside the collection.
	ErrIndexOutOfRange = errors.New("file index out of range")

	// ErrFileChanged is returned when the file a delete was confirmed for
	// moved or changed before the delete could be applied.
	ErrFileChanged = errors.New("file changed while waiting for confirmation")

	// ErrUnknownExample is returned for an index outside the example catalog.
	ErrUnknownExample = errors.New("unknown example")

	// ErrPackagesUnsupported is returned by runtimes that cannot install packages.
	ErrPackagesUnsupported = errors.New("package installation not supported by this runtime")

	// ErrSessionNotFound is returned when a session id is not registered.
	ErrSessionNotFound = errors.New("session not found")
)
