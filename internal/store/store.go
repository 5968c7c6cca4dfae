package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Stores is the top-level container for all storage backends.
// Everything lives in one SQLite file: sessions, messages, FTS5 notes,
// budget events, and backlog tickets.
type Stores struct {
	DB       *sql.DB
	Sessions *SessionStore
	Notes    *NoteStore
	Budget   *BudgetStore
	Backlog  *BacklogStore
}

// Open opens (creating if needed) the SQLite database at path with WAL,
// foreign key enforcement, and a busy timeout, then wires all typed stores.
// Callers must run Migrate before using the stores.
func Open(path string) (*Stores, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Stores{
		DB:       db,
		Sessions: NewSessionStore(db),
		Notes:    NewNoteStore(db),
		Budget:   NewBudgetStore(db),
		Backlog:  NewBacklogStore(db),
	}, nil
}

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	return s.DB.Close()
}
