// Package queue implements the durable dispatch queue decoupling ingress
// from message processing. It is a store-and-forward buffer with
// visibility-timeout retry semantics: a received message becomes
// invisible for a window and reappears automatically if not acknowledged,
// which is the sole retry mechanism in the pipeline.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/nekrassov01/instancebot/internal/bus"
)

// ErrEmpty is returned by Receive when no message is currently visible.
var ErrEmpty = errors.New("queue: no visible messages")

// DeadLetter is a message abandoned after repeated processing failures,
// kept for manual inspection.
type DeadLetter struct {
	Message  bus.QueuedMessage
	Reason   string
	FailedAt time.Time
}

// Queue is the dispatch buffer contract shared by the ingress adapter
// (producer) and the consumer workers.
type Queue interface {
	// Enqueue stores the event. Duplicate event IDs are dropped; the
	// return value reports whether a new message was created.
	Enqueue(ctx context.Context, event bus.InboundEvent) (bool, error)

	// Receive returns up to max messages that are not in flight and
	// marks them invisible for the visibility window, incrementing each
	// message's delivery attempt counter. Returns ErrEmpty when nothing
	// is visible.
	Receive(ctx context.Context, max int) ([]bus.QueuedMessage, error)

	// Ack permanently removes a message after successful processing.
	Ack(ctx context.Context, id string) error

	// Bury moves a message to the dead-letter store so it is no longer
	// receivable. Used by consumers for poison messages.
	Bury(ctx context.Context, id, reason string) error

	// DeadLetters lists buried messages, newest first.
	DeadLetters(ctx context.Context) ([]DeadLetter, error)
}
