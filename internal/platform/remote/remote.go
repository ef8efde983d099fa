// Package remote runs interpreter sessions on queue workers. A handle is an
// id shared with the worker that owns the real interpreter; every run and
// install is a job on the queue, answered on the results channel.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/google/uuid"
)

// Name identifies the backend.
const Name = "remote"

const releaseTimeout = 5 * time.Second

// Publisher enqueues jobs for the workers.
type Publisher interface {
	Publish(ctx context.Context, job domain.Job) error
}

// Router hands job results to whoever is waiting for them.
type Router struct {
	mu      sync.Mutex
	waiters map[string]chan domain.JobResult
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{waiters: make(map[string]chan domain.JobResult)}
}

// Run dispatches results until the channel closes or ctx is done.
// Results nobody waits for (other instances' jobs) are dropped.
func (r *Router) Run(ctx context.Context, results <-chan domain.JobResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			r.deliver(res)
		}
	}
}

func (r *Router) deliver(res domain.JobResult) {
	r.mu.Lock()
	ch, ok := r.waiters[res.JobID]
	delete(r.waiters, res.JobID)
	r.mu.Unlock()
	if ok {
		// Buffered with room for exactly one result.
		ch <- res
	}
}

// await registers interest in jobID. The returned cancel func must be
// called when the caller stops waiting.
func (r *Router) await(jobID string) (<-chan domain.JobResult, func()) {
	ch := make(chan domain.JobResult, 1)
	r.mu.Lock()
	r.waiters[jobID] = ch
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		delete(r.waiters, jobID)
		r.mu.Unlock()
	}
}

// Pending reports how many jobs are still waiting for a result.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Loader constructs remote handles.
type Loader struct {
	queue  Publisher
	router *Router

	mu     sync.Mutex
	loaded bool
}

var _ domain.Loader = (*Loader)(nil)

// NewLoader returns a loader publishing to queue and reading results from router.
func NewLoader(queue Publisher, router *Router) *Loader {
	return &Loader{queue: queue, router: router}
}

func (l *Loader) Name() string { return Name }

func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Bootstrap has nothing to prepare locally; workers bootstrap on their first job.
func (l *Loader) Bootstrap(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()
	return nil
}

func (l *Loader) Unload() {
	l.mu.Lock()
	l.loaded = false
	l.mu.Unlock()
}

// Construct allocates a new handle id. The worker builds the interpreter
// lazily when the first job for it arrives.
func (l *Loader) Construct(ctx context.Context, cfg domain.RuntimeConfig) (domain.RuntimeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Handle{
		id:       uuid.NewString(),
		indexURL: cfg.IndexURL,
		queue:    l.queue,
		router:   l.router,
	}, nil
}

// Handle forwards runs and installs to the worker owning id.
type Handle struct {
	id       string
	indexURL string
	queue    Publisher
	router   *Router
}

var _ domain.RuntimeHandle = (*Handle)(nil)

// ID is the handle id workers key their interpreters by.
func (h *Handle) ID() string { return h.id }

func (h *Handle) Execute(ctx context.Context, source string) (domain.Output, error) {
	res, err := h.call(ctx, domain.Job{Kind: domain.JobRun, Code: source})
	if err != nil {
		return domain.Output{}, err
	}
	if res.Error != "" {
		return domain.Output{}, errors.New(res.Error)
	}
	return domain.Output{Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

func (h *Handle) InstallPackage(ctx context.Context, name string) error {
	res, err := h.call(ctx, domain.Job{Kind: domain.JobInstall, Package: name})
	if err != nil {
		return err
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return nil
}

// Close asks the worker to drop the interpreter. It does not wait for an answer.
func (h *Handle) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	job := domain.Job{ID: uuid.NewString(), HandleID: h.id, Kind: domain.JobRelease}
	if err := h.queue.Publish(ctx, job); err != nil {
		return fmt.Errorf("failed to release remote runtime %s: %w", h.id, err)
	}
	return nil
}

func (h *Handle) call(ctx context.Context, job domain.Job) (domain.JobResult, error) {
	job.ID = uuid.NewString()
	job.HandleID = h.id
	job.IndexURL = h.indexURL

	// Register before publishing so a fast worker cannot beat us.
	resCh, stop := h.router.await(job.ID)
	defer stop()

	slog.Debug("Publishing runtime job", "jobID", job.ID, "kind", job.Kind, "handleID", h.id)
	if err := h.queue.Publish(ctx, job); err != nil {
		return domain.JobResult{}, fmt.Errorf("failed to publish %s job: %w", job.Kind, err)
	}

	select {
	case res := <-resCh:
		return res, nil
	case <-ctx.Done():
		return domain.JobResult{}, ctx.Err()
	}
}
