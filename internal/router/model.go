package router

import (
	"fmt"
	"strings"
)

// Keywords that signal complex reasoning where the heavy model earns its
// cost. Includes the Planner persona triggers, which always route heavy.
var heavyKeywords = []string{
	"architecture", "refactor", "review this code", "code review",
	"security", "vulnerability", "audit", "debug", "production deploy",
	"breaking change", "migration", "performance", "optimize",
	"strategic", "multi-project",
	"plan", "blueprint", "spec", "specification",
	"implementation plan", "design plan", "build plan",
}

// SelectModel picks the model before any API call is made — this avoids the
// double-billing trap of paying one model to decide whether another is
// needed. Returns (modelID, reason).
func SelectModel(text, modelDefault, modelHeavy string) (string, string) {
	lower := strings.ToLower(strings.TrimSpace(text))

	if strings.HasPrefix(lower, "!sonnet") || strings.HasPrefix(lower, "!plan") {
		return modelHeavy, "explicit Sonnet/Planner override"
	}
	if strings.HasPrefix(lower, "!brainstorm") {
		return modelDefault, "explicit Brainstormer override (Haiku)"
	}

	for _, keyword := range heavyKeywords {
		if strings.Contains(lower, keyword) {
			return modelHeavy, fmt.Sprintf("keyword match: '%s'", keyword)
		}
	}

	return modelDefault, "default (haiku)"
}

// StripModelPrefix removes a leading "!sonnet", "!plan" or "!brainstorm"
// override from the prompt before it is sent to the model.
func StripModelPrefix(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "!brainstorm"):
		trimmed = trimmed[len("!brainstorm"):]
	case strings.HasPrefix(lower, "!sonnet"):
		trimmed = trimmed[len("!sonnet"):]
	case strings.HasPrefix(lower, "!plan"):
		trimmed = trimmed[len("!plan"):]
	default:
		return trimmed
	}
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return "Hello"
	}
	return trimmed
}
