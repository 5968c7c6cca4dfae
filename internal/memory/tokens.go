// Package memory owns conversation context: token-aware history windows,
// session summarization, and the markdown workspace files.
package memory

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

// CountTokens estimates the token count of a string using cl100k_base.
// The provider's tokenizer differs slightly, but this is accurate enough
// for windowing and costs nothing. Falls back to a rune-based estimate
// when the encoding cannot be loaded.
func CountTokens(text string) int {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using rune estimate", "error", err)
			return
		}
		encoder = enc
	})
	if encoder == nil {
		return utf8.RuneCountInString(text) / 3
	}
	return len(encoder.Encode(text, nil, nil))
}
