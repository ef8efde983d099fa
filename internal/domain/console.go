package domain

import "context"

// Stream names a console buffer.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// EventKind classifies a ConsoleEvent.
type EventKind string

const (
	// EventAppend carries text appended to one of the console buffers.
	EventAppend EventKind = "append"
	// EventClear means both buffers were emptied.
	EventClear EventKind = "clear"
	// EventState carries a readiness or running-flag change.
	EventState EventKind = "state"
)

// ConsoleEvent is a single change of a session's console, streamed to viewers.
type ConsoleEvent struct {
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Stream    Stream    `json:"stream,omitempty"`
	Text      string    `json:"text,omitempty"`
	Readiness Readiness `json:"readiness,omitempty"`
	Running   bool      `json:"running"`
}

// Notifier receives console events. Implementations must not block for long;
// they are called while the console holds its lock.
type Notifier interface {
	Notify(ctx context.Context, ev ConsoleEvent)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev ConsoleEvent)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev ConsoleEvent) {
	f(ctx, ev)
}
