// Package bus defines the message types flowing between the ingress
// adapter, the dispatch queue, and the consumer.
package bus

import "time"

// InboundEvent is the canonical form of a chat event accepted at ingress.
// Immutable once validated; one InboundEvent produces at most one queue entry.
type InboundEvent struct {
	EventID  string `json:"eventId"`
	Channel  string `json:"channel"`
	SenderID string `json:"sender"`
	Text     string `json:"text"`
	ThreadTS string `json:"timestamp"` // Slack thread timestamp; session identity

	// Placeholder message posted at ingress ("preparing an answer"),
	// deleted by the consumer when the real reply lands.
	PlaceholderChannel string `json:"placeholderChannel,omitempty"`
	PlaceholderTS      string `json:"placeholderTs,omitempty"`

	ReceivedAt time.Time `json:"receivedAt"`
}

// QueuedMessage wraps an InboundEvent while it sits in the dispatch queue.
// DeliveryAttempt counts how many times the message has been received,
// including the current delivery; consumers use it for poison detection.
type QueuedMessage struct {
	ID              string       `json:"id"`
	Event           InboundEvent `json:"event"`
	EnqueuedAt      time.Time    `json:"enqueuedAt"`
	DeliveryAttempt int          `json:"deliveryAttempt"`
}

// Reply is the terminal artifact delivered back to the chat channel.
type Reply struct {
	Channel  string `json:"channel"`
	ThreadTS string `json:"timestamp"`
	Text     string `json:"text"`
}
