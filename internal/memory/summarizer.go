package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/ian/internal/providers"
	"github.com/nextlevelbuilder/ian/internal/store"
)

const summaryPrompt = `You are a memory compressor. Summarise the conversation below into a concise
paragraph (max 150 words) that captures:
- The main topics discussed
- Any decisions made or tasks completed
- Outstanding action items or follow-ups
- Key facts learned about the user's projects or preferences

Output ONLY the summary paragraph. No preamble, no formatting.`

const summaryMaxTokens = 300

// Summarizer compresses long sessions into a short summary so the context
// window stays lean. After rotation the new session starts with ~200
// tokens of summary instead of the full history.
type Summarizer struct {
	sessions   *store.SessionStore
	history    *History
	provider   providers.Provider
	model      string
	afterTurns int
}

// NewSummarizer wires the summarizer. model should be the cheap default
// model; summarization is a mechanical task.
func NewSummarizer(sessions *store.SessionStore, history *History, provider providers.Provider, model string, afterTurns int) *Summarizer {
	if afterTurns <= 0 {
		afterTurns = 20
	}
	return &Summarizer{
		sessions:   sessions,
		history:    history,
		provider:   provider,
		model:      model,
		afterTurns: afterTurns,
	}
}

// ShouldSummarize reports whether the session has exceeded the turn limit.
func (s *Summarizer) ShouldSummarize(ctx context.Context, sessionID string) (bool, error) {
	turns, err := s.sessions.TurnCount(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return turns >= s.afterTurns, nil
}

// SummarizeAndRotate compresses the current session, ends it, and returns
// a fresh session seeded with the summary. A failed model call degrades to
// a placeholder summary; rotation still happens.
func (s *Summarizer) SummarizeAndRotate(ctx context.Context, sessionID, channelID string) (string, error) {
	slog.Info("summarizer start", "session_id", sessionID)

	messages, err := s.history.Window(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load session for summary: %w", err)
	}
	if len(messages) == 0 {
		slog.Warn("summarizer: no messages in session", "session_id", sessionID)
		if err := s.sessions.End(ctx, sessionID); err != nil {
			return "", err
		}
		return s.sessions.GetOrCreate(ctx, channelID)
	}

	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strings.ToUpper(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}

	summary := s.callModel(ctx, sb.String())
	if summary == "" {
		summary = fmt.Sprintf("[Summary unavailable — session had %d messages]", len(messages))
	}
	slog.Info("summarizer summary", "preview", preview(summary, 80))

	if err := s.sessions.SaveSummary(ctx, sessionID, summary); err != nil {
		return "", err
	}
	if err := s.sessions.End(ctx, sessionID); err != nil {
		return "", err
	}

	newID, err := s.sessions.GetOrCreate(ctx, channelID)
	if err != nil {
		return "", err
	}
	if err := s.sessions.AddMessage(ctx, store.StoredMessage{
		SessionID: newID, Role: "user",
		Content: "[Previous conversation summary]\n" + summary,
	}); err != nil {
		return "", err
	}
	if err := s.sessions.AddMessage(ctx, store.StoredMessage{
		SessionID: newID, Role: "assistant",
		Content: "Understood. I have the context from our previous conversation.",
	}); err != nil {
		return "", err
	}

	slog.Info("summarizer rotate", "old", sessionID, "new", newID)
	return newID, nil
}

func (s *Summarizer) callModel(ctx context.Context, conversation string) string {
	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{
			Role:    "user",
			Content: summaryPrompt + "\n\nCONVERSATION:\n" + conversation,
		}},
		Model:     s.model,
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		slog.Error("summarizer model call failed, using placeholder", "error", err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
