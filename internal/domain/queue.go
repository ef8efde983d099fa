package domain

import "context"

// JobKind selects what a queued runtime job does.
type JobKind string

const (
	JobRun     JobKind = "run"
	JobInstall JobKind = "install"
	JobRelease JobKind = "release"
)

// Job represents a unit of runtime work shipped to a worker.
// HandleID ties successive jobs to the same interpreter state on the worker.
type Job struct {
	ID       string  `json:"id"`
	HandleID string  `json:"handle_id"`
	Kind     JobKind `json:"kind"`
	Code     string  `json:"code,omitempty"`
	Package  string  `json:"package,omitempty"`
	IndexURL string  `json:"index_url,omitempty"`

	// RawID is the internal Stream ID from Redis (e.g. 1700000-0).
	// We need this to Acknowledge the message later.
	RawID string `json:"-"`

	// ResultCh is where the worker sends the execution result.
	// It is a send only channel (chan<-) to ensure the worker cannot read from it.
	ResultCh chan<- JobResult `json:"-"`
}

// JobResult encapsulates the result of a job execution.
// Error is the text of the failure, empty on success.
type JobResult struct {
	JobID  string `json:"job_id"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}

// JobQueue defines the contract for a distributed job queue.
// It decouples the application from the underlying message broker (Redis, RabbitMQ, etc.).
type JobQueue interface {
	// Publish enqueues a job for processing.
	Publish(ctx context.Context, job Job) error

	// Subscribe returns a read-only channel that streams jobs from the queue.
	// It handles the details of consumer groups and acknowledgments internally.
	Subscribe(ctx context.Context) (<-chan Job, error)

	// Acknowledge confirms that a job has been successfully processed.
	// This removes it from the Pending Entry list (PEL).
	Acknowledge(ctx context.Context, rawID string) error

	// Broadcast publishes the job execution result to the Pub/Sub channel.
	Broadcast(ctx context.Context, result JobResult) error

	// SubscribeResults returns a channel that streams execution results from all workers.
	SubscribeResults(ctx context.Context) (<-chan JobResult, error)
}
