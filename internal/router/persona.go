package router

import (
	"fmt"
	"regexp"
	"strings"
)

// Persona is a workflow layered on top of model selection.
type Persona string

const (
	PersonaBrainstormer Persona = "brainstormer"
	PersonaPlanner      Persona = "planner"
	PersonaGeneral      Persona = "general"
)

// Session metadata keys the persona router reads. The dispatcher owns the
// writes; the router only inspects them for continuity.
const (
	MetaPersona         = "persona"
	MetaBrainstormState = "brainstorm_state"
	MetaPlannerState    = "planner_state"
)

// Terminal states where a workflow is complete and new routing can begin.
var (
	brainstormerTerminalStates = map[string]bool{"TICKET_CREATED": true}
	plannerTerminalStates      = map[string]bool{"PLAN_CREATED": true}
)

var brainstormerKeywords = []string{
	"idea", "brainstorm", "concept", "thinking about", "what if", "explore",
	"could we", "imagine", "feature idea", "new feature", "wild idea",
	"what about", "consider", "how about", "i want to", "i'm thinking",
}

var plannerKeywords = []string{
	"plan", "blueprint", "spec", "specification", "implementation plan",
	"design plan", "build plan", "how to build", "plan this", "plan for",
	"plan out", "technical design", "architect",
}

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	optionReplyRe = regexp.MustCompile(`^option\s*[12]\s*$`)
)

// Short replies that continue an in-flight workflow even when the session
// metadata was lost; routed to the Planner so they never hit the intent gate
// as out_of_scope.
var shortApprovalReplies = map[string]bool{
	"option 1": true, "option 2": true, "1": true, "2": true,
	"yes": true, "no": true, "first": true, "second": true, "approve": true,
}

// SelectPersona returns the persona and reason for a message.
//
// Priority order:
//  1. Active Brainstormer session (not terminal) — continuity
//  2. Active Planner session (not terminal) — continuity
//  3. Explicit "!brainstorm" prefix
//  4. Explicit "!plan" prefix
//  5. Brainstormer keyword match
//  6. Planner keyword match
//  7. Short approval/choice reply fallback
//  8. General
func SelectPersona(text string, meta map[string]string) (Persona, string) {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch Persona(meta[MetaPersona]) {
	case PersonaBrainstormer:
		state := meta[MetaBrainstormState]
		if state == "" {
			state = "IDEATION"
		}
		if !brainstormerTerminalStates[state] {
			return PersonaBrainstormer, fmt.Sprintf("session continuity (state=%s)", state)
		}
	case PersonaPlanner:
		state := meta[MetaPlannerState]
		if state == "" {
			state = "PLANNING"
		}
		if !plannerTerminalStates[state] {
			return PersonaPlanner, fmt.Sprintf("session continuity (state=%s)", state)
		}
	}

	if strings.HasPrefix(lower, "!brainstorm") {
		return PersonaBrainstormer, "explicit !brainstorm prefix"
	}
	if strings.HasPrefix(lower, "!plan") {
		return PersonaPlanner, "explicit !plan prefix"
	}

	for _, kw := range brainstormerKeywords {
		if strings.Contains(lower, kw) {
			return PersonaBrainstormer, fmt.Sprintf("brainstormer keyword: '%s'", kw)
		}
	}
	for _, kw := range plannerKeywords {
		if strings.Contains(lower, kw) {
			return PersonaPlanner, fmt.Sprintf("planner keyword: '%s'", kw)
		}
	}

	normalized := whitespaceRe.ReplaceAllString(lower, " ")
	if len(normalized) <= 50 &&
		(shortApprovalReplies[normalized] ||
			optionReplyRe.MatchString(normalized) ||
			strings.Contains(normalized, "approve")) {
		return PersonaPlanner, "short approval/choice reply"
	}

	return PersonaGeneral, "no persona match"
}
