// Package router holds the three deterministic pre-classifiers that run
// before any model call: intent (policy gate), persona (workflow selection),
// and model (Haiku/Sonnet tiering). All three are pure functions — no API
// calls, no DB access — so routing never costs tokens.
package router

import (
	"fmt"
	"strings"
)

// Intent is one of the fixed intents the agent is allowed to serve.
type Intent string

const (
	IntentFAQAnswer          Intent = "faq_answer"
	IntentStatusLookup       Intent = "status_lookup"
	IntentRunbookGuidance    Intent = "runbook_guidance"
	IntentLightTriage        Intent = "light_triage"
	IntentRequestCapture     Intent = "request_capture"
	IntentDevHandoff         Intent = "dev_handoff"
	IntentNeedsClarification Intent = "needs_clarification"
	IntentOutOfScope         Intent = "out_of_scope"
)

// Ticket-only markers for workflow-created backlog entries. Classify never
// returns these.
const (
	IntentIdeaBrainstorm Intent = "idea_brainstorm"
	IntentPlanDesign     Intent = "plan_design"
)

// MinConfidenceDefault is the gate below which classification degrades to
// needs_clarification.
const MinConfidenceDefault = 0.60

// Development requests are always a hard handoff, never executed here.
var devKeywords = []string{
	"implement", "fix bug", "deploy", "migration", "schema", "refactor",
	"write code", "build feature", "create endpoint", "api route",
	"pull request", "merge branch", "release", "rollback", "restart api",
}

// intentKeywords is scored per intent; order fixes tie-breaking and keeps
// classification deterministic.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentFAQAnswer, []string{
		"what is", "how does", "can i", "faq", "feature",
		"price", "pricing", "billing", "account",
	}},
	{IntentStatusLookup, []string{
		"status", "uptime", "is it down", "progress", "update on",
		"where are we", "eta", "health",
	}},
	{IntentRunbookGuidance, []string{
		"runbook", "checklist", "step by step", "how to", "guide me",
		"procedure", "playbook",
	}},
	{IntentLightTriage, []string{
		"not working", "broken", "issue", "problem", "error",
		"fails", "failed", "cannot", "can't",
	}},
	{IntentRequestCapture, []string{
		"feature request", "request", "would like", "please add",
		"could you add", "suggestion",
	}},
}

// contractions maps spoken forms onto the keyword table's spelling so
// "what's the time" still reads as a question.
var contractions = strings.NewReplacer(
	"what's", "what is",
	"how's", "how is",
	"where's", "where is",
	"who's", "who is",
)

// Decision is the outcome of intent classification.
type Decision struct {
	Intent     Intent
	Confidence float64
	Reason     string
}

// InScope reports whether the agent may answer directly.
func (d Decision) InScope() bool {
	switch d.Intent {
	case IntentFAQAnswer, IntentStatusLookup, IntentRunbookGuidance,
		IntentLightTriage, IntentRequestCapture:
		return true
	}
	return false
}

func (d Decision) IsDevHandoff() bool { return d.Intent == IntentDevHandoff }

func (d Decision) NeedsClarification() bool { return d.Intent == IntentNeedsClarification }

// Classify maps a message to the fixed intent set. Confidence grows with
// keyword hits: min(0.95, 0.45 + 0.20·score). Below minConfidence the
// decision degrades to needs_clarification so the agent asks instead of
// guessing.
func Classify(text string, minConfidence float64) Decision {
	lower := contractions.Replace(strings.ToLower(strings.TrimSpace(text)))
	if lower == "" {
		return Decision{IntentNeedsClarification, 0.0, "empty message"}
	}

	for _, kw := range devKeywords {
		if strings.Contains(lower, kw) {
			return Decision{IntentDevHandoff, 0.99, "development keyword match"}
		}
	}

	bestIntent := Intent("")
	bestScore, secondScore := 0, 0
	for _, entry := range intentKeywords {
		score := 0
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			secondScore = bestScore
			bestScore = score
			bestIntent = entry.intent
		} else if score > secondScore {
			secondScore = score
		}
	}

	if bestScore <= 0 {
		return Decision{IntentOutOfScope, 0.25, "no intent keyword match"}
	}
	if bestScore == secondScore {
		return Decision{IntentNeedsClarification, 0.45, "ambiguous intent tie"}
	}

	confidence := 0.45 + 0.20*float64(bestScore)
	if confidence > 0.95 {
		confidence = 0.95
	}
	if confidence < minConfidence {
		return Decision{IntentNeedsClarification, confidence, "confidence below threshold"}
	}
	return Decision{bestIntent, confidence, fmt.Sprintf("keyword score=%d", bestScore)}
}

// AllowedTools returns the tool names an intent may call. Access is
// intentionally narrow: nothing destructive is reachable from chat intents.
func AllowedTools(intent Intent) map[string]bool {
	switch intent {
	case IntentStatusLookup:
		return map[string]bool{
			"filesystem_read": true, "filesystem_list": true, "web_search": true,
		}
	case IntentFAQAnswer, IntentRunbookGuidance, IntentLightTriage:
		return map[string]bool{
			"filesystem_read": true, "web_search": true,
		}
	default:
		return map[string]bool{}
	}
}

