// Package chat implements a realtime chat session: a persistent websocket
// channel to the chat server with token authentication, reconnection with
// exponential backoff, an outbound queue for sends attempted while offline,
// and reconciliation of locally-echoed messages against server copies.
package chat

import (
	"github.com/google/uuid"
)

// Author tags who a message originated from.
type Author string

const (
	// AuthorSelf marks messages originated by the local user.
	AuthorSelf Author = "self"
	// AuthorRemote marks messages from any other participant.
	AuthorRemote Author = "remote"
	// AuthorSystem marks messages synthesized locally, e.g. error notices.
	AuthorSystem Author = "system"
)

// Message is a single visible transcript entry.
type Message struct {
	ID            string
	Author        Author
	Text          string
	Address       string
	CorrelationID string
	Timestamp     int64 // unix milliseconds, 0 when unset; advisory only
	Error         string
}

func newMessageID() string {
	return uuid.NewString()
}

// Server error codes carried in the "text" field of error frames.
const (
	errCodeRateLimited  = "rate_limited"
	errCodeEmptyMessage = "empty_message"
	errCodeAuthRequired = "auth_required"
)

// errorText maps a server error code to user-facing text. Unknown codes are
// shown verbatim with a prefix.
func errorText(code string) string {
	switch code {
	case errCodeRateLimited:
		return "You are sending messages too quickly. Please wait."
	case errCodeEmptyMessage:
		return "Your message was empty."
	case errCodeAuthRequired:
		return "You must sign in before chatting."
	default:
		return "Error: " + code
	}
}
