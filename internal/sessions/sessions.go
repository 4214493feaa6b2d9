package sessions

import (
	"time"

	"github.com/nekrassov01/instancebot/internal/providers"
)

// Session stores conversation history for one Slack thread.
type Session struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
	// Replies maps processed event IDs to the reply that was sent.
	// Redelivered events are answered from here without re-running
	// the model.
	Replies map[string]string `json:"replies,omitempty"`
	Created time.Time         `json:"created"`
	Updated time.Time         `json:"updated"`

	InputTokens  int64 `json:"inputTokens,omitempty"`
	OutputTokens int64 `json:"outputTokens,omitempty"`
}

// Store is the session persistence backend. The file backend is the
// default; Postgres is selected when a DSN is configured.
type Store interface {
	// History returns a copy of the message history for a session.
	History(key string) []providers.Message

	// Append adds messages to a session and persists the result.
	// The whole batch lands or none of it does, so a failed agent
	// run never leaves a half-written exchange behind.
	Append(key string, msgs ...providers.Message) error

	// ReplyFor reports whether an event was already processed in
	// this session, and if so the reply that was sent for it.
	ReplyFor(key, eventID string) (string, bool)

	// RecordReply marks an event as processed with its reply text.
	RecordReply(key, eventID, reply string) error

	// AccumulateTokens adds usage counters to a session.
	AccumulateTokens(key string, inputTokens, outputTokens int64)

	// Sweep drops sessions idle for longer than ttl and returns the
	// number removed.
	Sweep(ttl time.Duration) int

	Close() error
}
