package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/redis/go-redis/v9"
)

// StartRecoveryRoutine polls the PEL for stale jobs and reclaims them.
// A stale job belongs to a worker that died mid-execution; its caller has
// long given up waiting, so the job is reported as failed and acknowledged
// rather than re-run.
func (r *RedisQueue) StartRecoveryRoutine(ctx context.Context, interval time.Duration, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Unique consumer ID for the recovery agent
	consumerName := "recovery-agent"

	slog.Info("Starting Redis Recovery Routine", "interval", interval, "maxAge", maxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.recoverOnce(ctx, consumerName, maxAge)
		}
	}
}

// recoverOnce runs a single XAUTOCLAIM sweep and returns how many jobs it reclaimed.
func (r *RedisQueue) recoverOnce(ctx context.Context, consumerName string, maxAge time.Duration) int {
	// XAUTOCLAIM: Finds messages pending for > maxAge
	// and claims them to this consumer to be processed.
	start := "-" // Start from beginning of stream
	recovered := 0

	for {
		// We claim batches of 10
		messages, nextStart, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.names.Stream,
			Group:    r.names.Group,
			MinIdle:  maxAge,
			Start:    start,
			Count:    10,
			Consumer: consumerName,
		}).Result()

		if err != nil {
			slog.Error("Recovery routine failed", "error", err)
			return recovered
		}

		if len(messages) == 0 {
			return recovered // No more stale messages
		}

		slog.Info("Recovered stale jobs", "count", len(messages))

		for _, msg := range messages {
			slog.Warn("Stale job claimed by recovery agent", "msgID", msg.ID)

			if job, err := decodeJob(msg); err == nil {
				r.Broadcast(ctx, staleResult(job.ID))
			}
			r.client.XAck(ctx, r.names.Stream, r.names.Group, msg.ID)
			recovered++
		}

		start = nextStart
		if start == "0-0" {
			return recovered
		}
	}
}

func staleResult(jobID string) domain.JobResult {
	return domain.JobResult{
		JobID: jobID,
		Error: "worker stopped before finishing the job",
	}
}
