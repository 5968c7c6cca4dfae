package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Note is a persistent memory fact indexed for full-text search.
type Note struct {
	Key     string
	Content string
	Tags    string
}

// NoteStore is the FTS5-backed fact store. Search is keyword-based via the
// porter stemmer and never touches the model API.
type NoteStore struct {
	db *sql.DB
}

func NewNoteStore(db *sql.DB) *NoteStore {
	return &NoteStore{db: db}
}

// Save upserts a note by key. FTS5 tables have no UPDATE, so this deletes
// any previous note under the key and inserts the new one atomically.
func (s *NoteStore) Save(ctx context.Context, key, content, tags string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin note upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_notes WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete old note: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_notes (key, content, tags) VALUES (?, ?, ?)`,
		key, content, tags); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return tx.Commit()
}

// Search runs a full-text query ranked by FTS5 relevance.
func (s *NoteStore) Search(ctx context.Context, query string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, content, tags
		FROM memory_notes
		WHERE memory_notes MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.Key, &n.Content, &n.Tags); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Get returns a single note by exact key.
func (s *NoteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM memory_notes WHERE key = ?`, key).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get note: %w", err)
	}
	return content, true, nil
}

// Delete removes a note by key and reports whether it existed.
func (s *NoteStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_notes WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListKeys returns all note keys, optionally filtered by a tag substring.
func (s *NoteStore) ListKeys(ctx context.Context, tagFilter string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if tagFilter != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT key FROM memory_notes WHERE tags LIKE ?`, "%"+tagFilter+"%")
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT key FROM memory_notes`)
	}
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Count returns the total number of stored notes.
func (s *NoteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}
