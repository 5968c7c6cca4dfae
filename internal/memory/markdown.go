package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Markdown is the file side of agent memory: human-readable, git-friendly
// notes under the memory directory. Search never reads these directly;
// the FTS5 note store is the searchable layer.
type Markdown struct {
	root string
	now  func() time.Time
}

func NewMarkdown(root string) (*Markdown, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Markdown{root: root, now: time.Now}, nil
}

// ReadFile reads a markdown file relative to the memory directory.
func (m *Markdown) ReadFile(filename string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(m.root, filename))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", filename, err)
	}
	return string(data), true, nil
}

// WriteFile writes or overwrites a markdown file, creating parents.
func (m *Markdown) WriteFile(filename, content string) error {
	path := filepath.Join(m.root, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filename, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

// AppendToDaily appends a timestamped entry to today's daily note,
// creating the file if needed. Returns the filename written.
func (m *Markdown) AppendToDaily(text string) (string, error) {
	now := m.now().UTC()
	filename := filepath.Join("daily", now.Format("2006-01-02")+".md")
	path := filepath.Join(m.root, filename)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create daily dir: %w", err)
	}

	entry := fmt.Sprintf("\n## %s UTC\n%s\n", now.Format("15:04"), text)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open daily note: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return "", fmt.Errorf("append daily note: %w", err)
	}
	return filename, nil
}

// TodayNote returns today's daily note content if it exists.
func (m *Markdown) TodayNote() (string, bool, error) {
	filename := filepath.Join("daily", m.now().UTC().Format("2006-01-02")+".md")
	return m.ReadFile(filename)
}

// Root returns the memory directory path.
func (m *Markdown) Root() string { return m.root }
