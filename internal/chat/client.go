// Package chat is the workspace messaging layer: a small client interface
// over the Slack Web API, read via polling and write via chat.postMessage.
// Real user accounts (xoxp tokens) are used, so Socket Mode and webhooks
// are unavailable; polling is the transport.
package chat

import (
	"context"
	"fmt"
	"time"
)

// Message is one channel message as returned by the history API.
// TS is the Slack message timestamp: a unix-epoch string, unique per
// channel and lexicographically sortable.
type Message struct {
	TS       string
	User     string
	Text     string
	Subtype  string
	ThreadTS string
	Channel  string
}

// AuthInfo identifies the account behind a token.
type AuthInfo struct {
	UserID string
	User   string
	Team   string
}

// RateLimitedError signals the API asked us to back off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("chat API rate limited, retry after %v", e.RetryAfter)
}

// Client is the read/post surface of the chat workspace.
type Client interface {
	// History returns messages strictly newer than oldestTS, newest first.
	History(ctx context.Context, channelID, oldestTS string, limit int) ([]Message, error)

	// PostMessage posts text to a channel, optionally inside a thread.
	// Returns the TS of the posted message.
	PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error)

	// AuthTest verifies the token and returns the account identity.
	AuthTest(ctx context.Context) (AuthInfo, error)
}
