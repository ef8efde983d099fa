package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, Names{}), mr
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}

func TestNamesDefaults(t *testing.T) {
	n := Names{Stream: "custom"}.withDefaults()
	assert.Equal(t, "custom", n.Stream)
	assert.Equal(t, DefaultGroup, n.Group)
	assert.Equal(t, DefaultResultsChannel, n.ResultsChannel)
	assert.Equal(t, DefaultConsoleChannel, n.ConsoleChannel)
}

func TestPublishSubscribeAcknowledge(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs, err := q.Subscribe(ctx)
	require.NoError(t, err)

	want := domain.Job{ID: "j1", HandleID: "h1", Kind: domain.JobRun, Code: "print(1)"}
	require.NoError(t, q.Publish(ctx, want))

	got := receive(t, jobs)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.HandleID, got.HandleID)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.Code, got.Code)
	assert.NotEmpty(t, got.RawID)

	require.NoError(t, q.Acknowledge(ctx, got.RawID))
	pending, err := q.client.XPending(ctx, DefaultStream, DefaultGroup).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureGroup(context.Background()))
	require.NoError(t, q.EnsureGroup(context.Background()))
}

func TestBroadcastResults(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := q.SubscribeResults(ctx)
	require.NoError(t, err)

	want := domain.JobResult{JobID: "j1", Stdout: "out", Stderr: "err", Error: "boom"}
	require.NoError(t, q.Broadcast(ctx, want))
	assert.Equal(t, want, receive(t, results))
}

func TestConsoleFanOut(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := q.SubscribeConsole(ctx)
	require.NoError(t, err)

	want := domain.ConsoleEvent{SessionID: "s1", Kind: domain.EventAppend, Stream: domain.StreamStdout, Text: "hi"}
	q.Notify(ctx, want)
	assert.Equal(t, want, receive(t, events))
}

func TestRecoverOnceReportsStaleJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := q.SubscribeResults(ctx)
	require.NoError(t, err)

	subCtx, stopSub := context.WithCancel(ctx)
	jobs, err := q.Subscribe(subCtx)
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, domain.Job{ID: "lost", Kind: domain.JobRun}))
	receive(t, jobs) // delivered, never acknowledged
	stopSub()

	assert.Equal(t, 1, q.recoverOnce(ctx, "recovery-agent", 0))

	res := receive(t, results)
	assert.Equal(t, "lost", res.JobID)
	assert.NotEmpty(t, res.Error)

	assert.Equal(t, 0, q.recoverOnce(ctx, "recovery-agent", 0))
}
