package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// StoredMessage is one persisted conversation turn.
type StoredMessage struct {
	ID           int64
	SessionID    string
	Role         string
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	CacheWritten int
	CacheRead    int
	CreatedAt    string
}

// SessionStore persists conversation sessions and their turn history.
// A channel has at most one active session (ended_at IS NULL).
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// GetOrCreate returns the active session ID for a channel, creating a new
// session when none is active.
func (s *SessionStore) GetOrCreate(ctx context.Context, channelID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM sessions
		WHERE channel_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1`, channelID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("lookup session: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, channel_id) VALUES (?, ?)`, id, channelID); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	slog.Info("new session", "session_id", id, "channel", channelID)
	return id, nil
}

// End marks a session as ended. The next message on the channel starts a
// fresh session.
func (s *SessionStore) End(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = datetime('now') WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// TurnCount returns the assistant turn counter for a session.
func (s *SessionStore) TurnCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT turn_count FROM sessions WHERE id = ?`, sessionID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("turn count: %w", err)
	}
	return n, nil
}

// AddMessage persists a turn. Assistant turns increment the session
// turn counter; user turns do not.
func (s *SessionStore) AddMessage(ctx context.Context, msg StoredMessage) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(session_id, role, content, model,
			 input_tokens, output_tokens, cache_written, cache_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, msg.Model,
		msg.InputTokens, msg.OutputTokens, msg.CacheWritten, msg.CacheRead); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if msg.Role == "assistant" {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET turn_count = turn_count + 1 WHERE id = ?`, msg.SessionID); err != nil {
			return fmt.Errorf("bump turn count: %w", err)
		}
	}
	return nil
}

// MessagesNewestFirst returns all turns for a session ordered newest first.
// Token windowing happens in the memory package; the store just feeds rows.
func (s *SessionStore) MessagesNewestFirst(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, COALESCE(model, ''),
		       input_tokens, output_tokens, cache_written, cache_read, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Model,
			&m.InputTokens, &m.OutputTokens, &m.CacheWritten, &m.CacheRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveSummary stores a compressed summary on the session row.
func (s *SessionStore) SaveSummary(ctx context.Context, sessionID, summary string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ? WHERE id = ?`, summary, sessionID); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// Metadata returns the persona state map for a session. A NULL column or
// unparseable JSON yields an empty map so persona routing degrades to no
// persona instead of failing the message.
func (s *SessionStore) Metadata(ctx context.Context, sessionID string) (map[string]string, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_metadata FROM sessions WHERE id = ?`, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session metadata: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return map[string]string{}, nil
	}

	meta := map[string]string{}
	if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
		slog.Warn("unparseable session metadata, resetting", "session_id", sessionID, "error", err)
		return map[string]string{}, nil
	}
	return meta, nil
}

// SetMetadata replaces the persona state map for a session.
func (s *SessionStore) SetMetadata(ctx context.Context, sessionID string, meta map[string]string) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET session_metadata = ? WHERE id = ?`, string(raw), sessionID); err != nil {
		return fmt.Errorf("save session metadata: %w", err)
	}
	return nil
}
