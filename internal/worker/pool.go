package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dontdude/pystudio/internal/domain"
)

// Pool implements a fixed-size worker pool pattern.
// Jobs name the interpreter they belong to through HandleID; the pool keeps
// one local handle per id so successive runs see the same globals and
// installed packages.
type Pool struct {
	// workerCount determines how many jobs can execute concurrently.
	workerCount int
	// tasksCh is the queue for incoming jobs.
	tasksCh chan domain.Job
	// wg tracks active workers to ensure graceful shutdown.
	wg sync.WaitGroup

	loader domain.Loader
	// bootMu serialises Bootstrap so concurrent first jobs bootstrap once.
	bootMu sync.Mutex

	mu      sync.Mutex
	handles map[string]*entry
}

// entry is a handle plus the lock that keeps its jobs in order.
type entry struct {
	mu     sync.Mutex
	handle domain.RuntimeHandle
	// ctx is cancelled when the handle is released, which aborts a job
	// still running on it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool initializes the worker pool with a fixed concurrency limit.
func NewPool(concurrency int, loader domain.Loader) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		workerCount: concurrency,
		// Buffer the channel to allow non-blocking submission up to a certain point.
		tasksCh: make(chan domain.Job, concurrency),
		loader:  loader,
		handles: make(map[string]*entry),
	}
}

// Start spawns the fixed number of worker goroutines.
// It returns immediately.
func (p *Pool) Start() {
	slog.Info("Starting worker pool", "concurrency", p.workerCount, "backend", p.loader.Name())

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop initiates a graceful shutdown.
// It closes the jobs channel, waits for the workers to drain it and then
// releases every handle still alive.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool, waiting for tasks to drain...")
	close(p.tasksCh)
	p.wg.Wait()

	p.mu.Lock()
	ids := make([]string, 0, len(p.handles))
	for id := range p.handles {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.release(id)
	}
	slog.Info("Worker pool stopped")
}

// Submit adds a job to the queue.
// It blocks if the queue (and workers) are fully saturated.
func (p *Pool) Submit(job domain.Job) {
	p.tasksCh <- job
}

// Handles reports how many interpreter handles are alive.
func (p *Pool) Handles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// worker is the core logic that runs inside a goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	slog.Info("Worker started", "workerId", id)

	// Range over the channel continuously reads jobs until the channel is closed.
	for job := range p.tasksCh {
		slog.Debug("Processing job", "workerId", id, "jobID", job.ID, "kind", job.Kind, "handleID", job.HandleID)

		result := p.process(job)

		// Report result
		if job.ResultCh != nil {
			job.ResultCh <- result
		}
	}

	slog.Info("Worker stopped", "workerID", id)
}

// process executes a single job and turns its outcome into a JobResult.
func (p *Pool) process(job domain.Job) domain.JobResult {
	res := domain.JobResult{JobID: job.ID}

	if job.Kind == domain.JobRelease {
		p.release(job.HandleID)
		return res
	}

	e, err := p.entryFor(job)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch job.Kind {
	case domain.JobRun:
		out, err := e.handle.Execute(e.ctx, job.Code)
		res.Stdout, res.Stderr = out.Stdout, out.Stderr
		if err != nil {
			res.Error = err.Error()
		}
	case domain.JobInstall:
		if err := e.handle.InstallPackage(e.ctx, job.Package); err != nil {
			res.Error = err.Error()
		}
	default:
		res.Error = fmt.Sprintf("unknown job kind %q", job.Kind)
	}
	return res
}

// entryFor returns the handle for job.HandleID, constructing it on first use.
func (p *Pool) entryFor(job domain.Job) (*entry, error) {
	if job.HandleID == "" {
		return nil, fmt.Errorf("job %s has no handle id", job.ID)
	}

	p.mu.Lock()
	e, ok := p.handles[job.HandleID]
	p.mu.Unlock()
	if ok {
		return e, nil
	}

	ctx := context.Background()

	p.bootMu.Lock()
	if !p.loader.Loaded() {
		slog.Info("Bootstrapping runtime", "backend", p.loader.Name())
		if err := p.loader.Bootstrap(ctx); err != nil {
			p.bootMu.Unlock()
			return nil, fmt.Errorf("failed to bootstrap %s runtime: %w", p.loader.Name(), err)
		}
	}
	p.bootMu.Unlock()

	h, err := p.loader.Construct(ctx, domain.RuntimeConfig{IndexURL: job.IndexURL})
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s runtime: %w", p.loader.Name(), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Double-check: another worker may have built one meanwhile.
	if existing, ok := p.handles[job.HandleID]; ok {
		go closeHandle(h)
		return existing, nil
	}
	hctx, cancel := context.WithCancel(context.Background())
	e = &entry{handle: h, ctx: hctx, cancel: cancel}
	p.handles[job.HandleID] = e
	slog.Info("Runtime handle created", "handleID", job.HandleID)
	return e, nil
}

// release drops a handle, aborting any job still running on it.
func (p *Pool) release(handleID string) {
	p.mu.Lock()
	e, ok := p.handles[handleID]
	delete(p.handles, handleID)
	p.mu.Unlock()
	if !ok {
		return
	}

	e.cancel()
	slog.Info("Runtime handle released", "handleID", handleID)
	go func() {
		// Wait for the job that was running to notice the cancellation.
		e.mu.Lock()
		defer e.mu.Unlock()
		closeHandle(e.handle)
	}()
}

func closeHandle(h domain.RuntimeHandle) {
	if c, ok := h.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close runtime handle", "error", err)
		}
	}
}
