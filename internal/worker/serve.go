package worker

import (
	"context"
	"log/slog"

	"github.com/dontdude/pystudio/internal/domain"
)

// Serve feeds jobs from q into the pool until ctx is done or the queue
// subscription ends. Each result is broadcast before the job is acknowledged,
// so a worker dying mid-job leaves it pending for the recovery routine.
func Serve(ctx context.Context, q domain.JobQueue, p *Pool) error {
	jobs, err := q.Subscribe(ctx)
	if err != nil {
		return err
	}

	slog.Info("Worker listening for jobs")
	for job := range jobs {
		resultCh := make(chan domain.JobResult, 1)
		job.ResultCh = resultCh
		p.Submit(job)

		go func(job domain.Job) {
			res := <-resultCh
			// The caller may have gone; the result and ack must still land.
			bg := context.WithoutCancel(ctx)
			if err := q.Broadcast(bg, res); err != nil {
				slog.Error("Failed to broadcast result", "jobID", job.ID, "error", err)
				return
			}
			if err := q.Acknowledge(bg, job.RawID); err != nil {
				slog.Error("Failed to acknowledge job", "jobID", job.ID, "error", err)
			}
		}(job)
	}
	return ctx.Err()
}
