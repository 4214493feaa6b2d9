// Package sessions stores per-thread conversation state.
//
// Session keys follow the canonical format:
//
//	slack:{channel}:{threadTS}
//
// Every message in a Slack thread maps to the same session, so
// follow-up questions see the earlier exchange. Messages outside a
// thread use their own timestamp as the thread root, which gives each
// top-level mention a fresh session.
package sessions

import (
	"fmt"
	"strings"
)

// Key builds the canonical session key for a Slack conversation.
func Key(channel, threadTS string) string {
	return fmt.Sprintf("slack:%s:%s", channel, threadTS)
}

// ParseKey extracts the channel and thread from a session key.
// Returns ("", "") if the key is not in the expected format.
func ParseKey(key string) (channel, threadTS string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "slack" {
		return "", ""
	}
	return parts[1], parts[2]
}

// sanitizeFilename makes a session key safe for use as a file name.
func sanitizeFilename(key string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_")
	return replacer.Replace(key)
}
