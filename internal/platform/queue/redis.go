package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Default stream, group and channel names.
const (
	DefaultStream         = "studio:jobs"
	DefaultGroup          = "studio:workers"
	DefaultResultsChannel = "studio:results"
	DefaultConsoleChannel = "studio:console"
)

// Names groups the Redis keys a RedisQueue uses.
type Names struct {
	Stream         string
	Group          string
	ResultsChannel string
	ConsoleChannel string
}

func (n Names) withDefaults() Names {
	if n.Stream == "" {
		n.Stream = DefaultStream
	}
	if n.Group == "" {
		n.Group = DefaultGroup
	}
	if n.ResultsChannel == "" {
		n.ResultsChannel = DefaultResultsChannel
	}
	if n.ConsoleChannel == "" {
		n.ConsoleChannel = DefaultConsoleChannel
	}
	return n
}

// RedisQueue implements domain.JobQueue using Redis Streams, and carries
// console events between server instances over Pub/Sub.
type RedisQueue struct {
	client *redis.Client
	names  Names
}

// Ensure RedisQueue satisfies the interface
var _ domain.JobQueue = (*RedisQueue)(nil)

// MustConnect returns a client for addr after a fail-fast ping check.
func MustConnect(addr string) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("failed to connect to redis: %v", err))
	}
	return rdb
}

// NewRedisQueue returns a new Redis-backed queue adapter.
func NewRedisQueue(client *redis.Client, names Names) *RedisQueue {
	return &RedisQueue{
		client: client,
		names:  names.withDefaults(),
	}
}

// Client exposes the underlying client so other adapters can share the connection pool.
func (r *RedisQueue) Client() *redis.Client {
	return r.client
}

// Publish enqueues a job to the Redis stream using XADD (Producer)
func (r *RedisQueue) Publish(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// XADD appends to the stream.
	// We use "*" Id to let Redis generate a timestamp-based ID.
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.names.Stream,
		Values: map[string]interface{}{
			"job": data,
		},
	}).Err()

	if err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (r *RedisQueue) EnsureGroup(ctx context.Context) error {
	// MkStream guarantees the stream exists even if empty.
	err := r.client.XGroupCreateMkStream(ctx, r.names.Stream, r.names.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Subscribe returns a channel of jobs using the XREADGROUP (Consumer).
func (r *RedisQueue) Subscribe(ctx context.Context) (<-chan domain.Job, error) {
	// 1. Ensure the Consumer Group exists
	if err := r.EnsureGroup(ctx); err != nil {
		return nil, err
	}

	// 2. Spawn a background listener
	outCh := make(chan domain.Job)

	// Generate a unique consumer name (e.g: hostname-pid)
	consumerID, _ := os.Hostname()
	consumerID = fmt.Sprintf("%s-%d", consumerID, os.Getpid())

	go func() {
		defer close(outCh)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				// XREADGROUP blocks until a message is available (we use 2s to check context)
				streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
					Group:    r.names.Group,
					Consumer: consumerID,
					Streams:  []string{r.names.Stream, ">"}, // ">" means new messages
					Count:    1,
					Block:    2 * time.Second,
				}).Result()
				if err != nil {
					if err == redis.Nil {
						continue // Timeout, retry
					}
					// Check if context canceled during blocking call
					if ctx.Err() != nil {
						return
					}
					slog.Error("Redis read error", "error", err)
					time.Sleep(1 * time.Second) // Backoff
					continue
				}
				// Process Messages
				for _, stream := range streams {
					for _, msg := range stream.Messages {
						job, err := decodeJob(msg)
						if err != nil {
							slog.Error("Invalid job message", "msgID", msg.ID, "error", err)
							// Poison messages would otherwise sit in the PEL forever.
							r.client.XAck(ctx, r.names.Stream, r.names.Group, msg.ID)
							continue
						}

						select {
						case outCh <- job:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()
	return outCh, nil
}

func decodeJob(msg redis.XMessage) (domain.Job, error) {
	val, ok := msg.Values["job"].(string)
	if !ok {
		return domain.Job{}, fmt.Errorf("missing job field")
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	// Capture the Redis Stream ID so we can ACK later
	job.RawID = msg.ID
	return job, nil
}

// Acknowledge confirms processing using XACK.
func (r *RedisQueue) Acknowledge(ctx context.Context, rawID string) error {
	return r.client.XAck(ctx, r.names.Stream, r.names.Group, rawID).Err()
}

// Broadcast publishes the execution result to the results channel.
func (r *RedisQueue) Broadcast(ctx context.Context, result domain.JobResult) error {
	return r.publishJSON(ctx, r.names.ResultsChannel, result)
}

// SubscribeResults subscribes to the results channel and streams results to a Go channel.
func (r *RedisQueue) SubscribeResults(ctx context.Context) (<-chan domain.JobResult, error) {
	return subscribeJSON[domain.JobResult](ctx, r.client, r.names.ResultsChannel)
}

// Notify publishes a console event so every server instance can forward it
// to its websocket clients. It implements domain.Notifier.
func (r *RedisQueue) Notify(ctx context.Context, ev domain.ConsoleEvent) {
	if err := r.publishJSON(context.WithoutCancel(ctx), r.names.ConsoleChannel, ev); err != nil {
		slog.Error("Failed to publish console event", "sessionID", ev.SessionID, "error", err)
	}
}

// SubscribeConsole streams console events published by any instance.
func (r *RedisQueue) SubscribeConsole(ctx context.Context) (<-chan domain.ConsoleEvent, error) {
	return subscribeJSON[domain.ConsoleEvent](ctx, r.client, r.names.ConsoleChannel)
}

func (r *RedisQueue) publishJSON(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

func subscribeJSON[T any](ctx context.Context, client *redis.Client, channel string) (<-chan T, error) {
	// Create the PubSub connection
	pubsub := client.Subscribe(ctx, channel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	// Create output channel
	outCh := make(chan T)

	// Spawn background listener
	go func() {
		defer close(outCh)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var v T
				if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
					slog.Error("Failed to unmarshal message", "channel", channel, "error", err)
					continue
				}

				select {
				case outCh <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}
