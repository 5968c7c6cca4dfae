package memory

import (
	"context"
	"log/slog"
	"slices"

	"github.com/nextlevelbuilder/ian/internal/providers"
	"github.com/nextlevelbuilder/ian/internal/store"
)

// History builds token-bounded context windows over a session's stored
// turns. The newest message is always kept; oldest messages are dropped
// first when the window fills up.
type History struct {
	sessions  *store.SessionStore
	maxTokens int
	count     func(string) int
}

func NewHistory(sessions *store.SessionStore, maxTokens int) *History {
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	return &History{sessions: sessions, maxTokens: maxTokens, count: CountTokens}
}

// Window returns the trimmed message list for a session in chronological
// order, within the token budget.
func (h *History) Window(ctx context.Context, sessionID string) ([]providers.Message, error) {
	rows, err := h.sessions.MessagesNewestFirst(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var window []providers.Message
	total := 0
	for _, row := range rows {
		tokens := h.count(row.Content)
		// Would exceed the budget: stop, dropping everything older.
		// The newest message is always admitted even if oversized.
		if total+tokens > h.maxTokens && len(window) > 0 {
			break
		}
		window = append(window, providers.Message{Role: row.Role, Content: row.Content})
		total += tokens
	}

	slices.Reverse(window)
	slog.Debug("history window", "session_id", sessionID, "messages", len(window), "tokens", total)
	return window, nil
}
