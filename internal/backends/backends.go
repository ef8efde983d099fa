// Package backends turns a configured backend name into loaders.
package backends

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dontdude/pystudio/internal/config"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/platform/docker"
	"github.com/dontdude/pystudio/internal/platform/gojavm"
	"github.com/dontdude/pystudio/internal/platform/pyproc"
	"github.com/dontdude/pystudio/internal/platform/remote"
	"github.com/dontdude/pystudio/internal/platform/starlarkvm"
)

// ErrNoQueue is returned when the remote backend is requested without a queue.
var ErrNoQueue = errors.New("remote backend needs a job queue")

// Remote carries what the remote backend publishes to and reads results from.
type Remote struct {
	Queue  remote.Publisher
	Router *remote.Router
}

// Factory builds a fresh loader per session.
type Factory func() domain.Loader

// New returns a factory for backend and a cleanup func releasing whatever
// the backends share (the Docker client). The Docker client is created
// eagerly and panics when the daemon is unreachable.
func New(backend string, cfg *config.Config, rem Remote) (Factory, func(), error) {
	noop := func() {}

	switch backend {
	case config.BackendStarlark:
		return func() domain.Loader { return starlarkvm.NewLoader() }, noop, nil

	case config.BackendJavaScript:
		return func() domain.Loader { return gojavm.NewLoader() }, noop, nil

	case config.BackendPython:
		return func() domain.Loader { return pyproc.NewLoader(cfg.Runtime.Python) }, noop, nil

	case config.BackendDocker:
		client := docker.MustNewClient(docker.Options{
			Image:       cfg.Runtime.Image,
			MemoryBytes: cfg.Runtime.MemoryMB << 20,
		})
		cleanup := func() {
			if err := client.Close(); err != nil {
				slog.Warn("Failed to close docker client", "error", err)
			}
		}
		return func() domain.Loader { return docker.NewLoader(client) }, cleanup, nil

	case config.BackendRemote:
		if rem.Queue == nil || rem.Router == nil {
			return nil, noop, ErrNoQueue
		}
		return func() domain.Loader { return remote.NewLoader(rem.Queue, rem.Router) }, noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown runtime backend %q", backend)
	}
}
