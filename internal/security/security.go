// Package security holds the ingestion-time input checks: prompt injection
// detection, secret redaction for logs, and path traversal guards for tool
// inputs.
package security

import (
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Input longer than this is truncated before reaching the model.
const maxInputLen = 4000

// Patterns that suggest prompt injection attempts.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all |previous )?instructions`),
	regexp.MustCompile(`(?i)you are now`),
	regexp.MustCompile(`(?i)system prompt`),
	regexp.MustCompile(`<\|.*?\|>`),
	regexp.MustCompile(`\[INST\]|\[/INST\]`),
}

// Patterns that look like credentials. Redacted from anything we log.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{10,}`),
	regexp.MustCompile(`xoxp-[0-9]+-[0-9]+-[0-9]+-[a-f0-9]+`),
	regexp.MustCompile(`xoxb-[0-9]+-[A-Za-z0-9]+`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
}

// SanitizeInput lightly cleans user input before it is processed.
// Strips null bytes, trims whitespace, and caps the length. Injection
// patterns are logged but not blocked: the model is robust to them and
// blocking would frustrate legitimate messages.
func SanitizeInput(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\x00", ""))
	text = truncate(text, maxInputLen)

	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			slog.Warn("possible injection pattern detected", "pattern", p.String())
		}
	}
	return text
}

// RedactSecrets replaces detected credentials with [REDACTED] so the
// string is safe to log or audit.
func RedactSecrets(text string) string {
	for _, p := range secretPatterns {
		text = p.ReplaceAllString(text, "[REDACTED]")
	}
	return text
}

// CheckPathTraversal reports whether a tool-supplied path contains
// traversal sequences, including percent-encoded dots.
func CheckPathTraversal(path string) bool {
	decoded := strings.ReplaceAll(path, "%2e", ".")
	decoded = strings.ReplaceAll(decoded, "%2E", ".")
	return strings.Contains(decoded, "..") || strings.HasPrefix(decoded, "~")
}

// RotationReminderDays returns the days until secret rotation is due and
// true when the reminder window (two weeks before the threshold) has been
// reached. Outside the window it returns (0, false).
func RotationReminderDays(createdAt time.Time, thresholdDays int) (int, bool) {
	ageDays := int(time.Since(createdAt).Hours() / 24)
	remaining := thresholdDays - ageDays
	if remaining > 14 {
		return 0, false
	}
	return remaining, true
}

// truncate caps s at max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
