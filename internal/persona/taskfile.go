package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TicketFields are the normalized values parsed from a SYNTHESIS reply's
// TASK DEFINITION block. Every field carries a fallback so a malformed
// model reply still yields a usable ticket.
type TicketFields struct {
	Title    string
	Problem  string
	Solution string
	Benefits string
	Success  string
	Effort   string
	Risks    string
}

const (
	maxTitleLen = 80
	maxFieldLen = 400
	maxSlugLen  = 48
)

var validEfforts = map[string]string{
	"small": "Small", "medium": "Medium", "large": "Large",
}

// ExtractTicketFields parses the bold-labeled TASK DEFINITION fields out of
// the synthesis text. rawIdea and refinedIdea feed the fallbacks.
func ExtractTicketFields(rawIdea, refinedIdea, synthesisText string) TicketFields {
	f := TicketFields{
		Title:    normalizeField(extractField(synthesisText, "Title"), maxTitleLen),
		Problem:  normalizeField(extractField(synthesisText, "The Problem"), maxFieldLen),
		Solution: normalizeField(extractField(synthesisText, "The Solution"), maxFieldLen),
		Benefits: normalizeField(extractField(synthesisText, "Who Benefits"), maxFieldLen),
		Success:  normalizeField(extractField(synthesisText, "What Success Looks Like"), maxFieldLen),
		Risks:    normalizeField(extractField(synthesisText, "Key Risks"), maxFieldLen),
	}

	if f.Title == "" {
		f.Title = truncateChars(strings.TrimSpace(rawIdea), maxTitleLen)
	}
	if f.Problem == "" {
		f.Problem = truncateChars(strings.TrimSpace(refinedIdea), 200)
	}
	if f.Solution == "" {
		f.Solution = "(see brainstorm transcript)"
	}
	if f.Benefits == "" {
		f.Benefits = "(not specified)"
	}
	if f.Success == "" {
		f.Success = "(not specified)"
	}
	if f.Risks == "" {
		f.Risks = "(none captured)"
	}

	effort := strings.ToLower(normalizeField(extractField(synthesisText, "Estimated Effort"), 20))
	if canon, ok := validEfforts[effort]; ok {
		f.Effort = canon
	} else {
		f.Effort = "Medium"
	}
	return f
}

// extractField pulls the value after a `**Label**:` marker up to end of line.
func extractField(text, label string) string {
	marker := fmt.Sprintf("**%s**:", label)
	idx := strings.Index(text, marker)
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(marker):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}

var fieldSpaceRe = regexp.MustCompile(`\s+`)

// normalizeField collapses whitespace, rejects placeholder-looking values
// (template parentheticals, TBD), and caps the length.
func normalizeField(value string, maxLen int) string {
	v := fieldSpaceRe.ReplaceAllString(strings.TrimSpace(value), " ")
	if v == "" {
		return ""
	}
	lower := strings.ToLower(v)
	if lower == "tbd" || lower == "n/a" || lower == "todo" || lower == "..." {
		return ""
	}
	// A value that is nothing but a parenthetical is the template copied back.
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		return ""
	}
	return truncateChars(v, maxLen)
}

var slugRe = regexp.MustCompile(`[^A-Z0-9]+`)

// Slugify turns a ticket title into the TASK_<SLUG>.md filename component:
// uppercase, runs of non-alphanumerics collapsed to single underscores.
func Slugify(title string) string {
	s := strings.ToUpper(strings.TrimSpace(title))
	s = slugRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "_")
	}
	if s == "" {
		return "UNTITLED"
	}
	return s
}

// requiredTaskSections are the headings every written task file must carry.
var requiredTaskSections = []string{
	"## The Problem",
	"## The Solution",
	"## What Success Looks Like",
}

// BuildTaskFile renders the pending-task markdown document for an approved
// brainstorm.
func BuildTaskFile(f TicketFields, sessionID string, createdAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# TASK: %s\n\n", f.Title)
	fmt.Fprintf(&b, "> Created by IAN Brainstormer on %s (session %s)\n\n",
		createdAt.UTC().Format(time.RFC3339), sessionID)
	fmt.Fprintf(&b, "## The Problem\n%s\n\n", f.Problem)
	fmt.Fprintf(&b, "## The Solution\n%s\n\n", f.Solution)
	fmt.Fprintf(&b, "## Who Benefits\n%s\n\n", f.Benefits)
	fmt.Fprintf(&b, "## What Success Looks Like\n%s\n\n", f.Success)
	fmt.Fprintf(&b, "## Estimated Effort\n%s\n\n", f.Effort)
	fmt.Fprintf(&b, "## Key Risks\n%s\n\n", f.Risks)
	b.WriteString("---\nStatus: pending · Handoff: planner\n")
	return b.String()
}

// ValidateTaskFile checks a task document for the required sections.
// Returns ok plus the list of missing headings.
func ValidateTaskFile(content string) (bool, []string) {
	var missing []string
	for _, h := range requiredTaskSections {
		if !strings.Contains(content, h) {
			missing = append(missing, h)
		}
	}
	return len(missing) == 0, missing
}

// WriteTaskFile persists the task document under tasks/pending/ and returns
// its repo-relative path.
func WriteTaskFile(root string, f TicketFields, sessionID string, createdAt time.Time) (string, error) {
	rel := filepath.Join("tasks", "pending", "TASK_"+Slugify(f.Title)+".md")
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create tasks dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(BuildTaskFile(f, sessionID, createdAt)), 0o644); err != nil {
		return "", fmt.Errorf("write task file: %w", err)
	}
	return rel, nil
}

var (
	chatLinkRe      = regexp.MustCompile(`<([^>|]+)\|([^>]+)>`)
	urlRe           = regexp.MustCompile(`https?://\S+`)
	commandPrefixRe = regexp.MustCompile(`(?i)^!(plan|brainstorm|sonnet)\s+`)
	headlinePrefix  = regexp.MustCompile(`(?i)^(i want|i need|please|can you|could you)\s+`)
	trailingConnRe  = regexp.MustCompile(`(?i):\s*(in|on)\s*$`)
)

// CleanRequestHeadline condenses free-form chat text into a short ticket
// headline: link markup unwrapped, URLs dropped, command and polite lead-ins
// stripped.
func CleanRequestHeadline(text, fallback string) string {
	if text == "" {
		return fallback
	}
	cleaned := chatLinkRe.ReplaceAllString(text, "$2")
	cleaned = urlRe.ReplaceAllString(cleaned, "")
	cleaned = strings.Trim(fieldSpaceRe.ReplaceAllString(cleaned, " "), " -:\n\t")
	cleaned = strings.TrimSpace(commandPrefixRe.ReplaceAllString(cleaned, ""))
	cleaned = strings.TrimSpace(headlinePrefix.ReplaceAllString(cleaned, ""))
	cleaned = strings.TrimSpace(trailingConnRe.ReplaceAllString(cleaned, ""))
	cleaned = strings.TrimRight(cleaned, ":;,- ")
	if cleaned == "" {
		return fallback
	}
	return truncateChars(cleaned, 120)
}
