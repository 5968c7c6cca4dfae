package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectPersonaContinuityBrainstormer(t *testing.T) {
	meta := map[string]string{
		MetaPersona:         "brainstormer",
		MetaBrainstormState: "REFINEMENT",
	}
	p, reason := SelectPersona("whatever text", meta)
	assert.Equal(t, PersonaBrainstormer, p)
	assert.Equal(t, "session continuity (state=REFINEMENT)", reason)
}

func TestSelectPersonaContinuityDefaultsState(t *testing.T) {
	// Persona set but no state recorded yet: continuity still holds.
	p, reason := SelectPersona("hello", map[string]string{MetaPersona: "brainstormer"})
	assert.Equal(t, PersonaBrainstormer, p)
	assert.Equal(t, "session continuity (state=IDEATION)", reason)

	p, reason = SelectPersona("hello", map[string]string{MetaPersona: "planner"})
	assert.Equal(t, PersonaPlanner, p)
	assert.Equal(t, "session continuity (state=PLANNING)", reason)
}

func TestSelectPersonaTerminalStateReleasesContinuity(t *testing.T) {
	meta := map[string]string{
		MetaPersona:         "brainstormer",
		MetaBrainstormState: "TICKET_CREATED",
	}
	p, _ := SelectPersona("hello there", meta)
	assert.Equal(t, PersonaGeneral, p)

	meta = map[string]string{
		MetaPersona:      "planner",
		MetaPlannerState: "PLAN_CREATED",
	}
	p, _ = SelectPersona("hello there", meta)
	assert.Equal(t, PersonaGeneral, p)
}

func TestSelectPersonaExplicitPrefixes(t *testing.T) {
	p, reason := SelectPersona("!brainstorm a new landing page", nil)
	assert.Equal(t, PersonaBrainstormer, p)
	assert.Equal(t, "explicit !brainstorm prefix", reason)

	p, reason = SelectPersona("!plan the migration", nil)
	assert.Equal(t, PersonaPlanner, p)
	assert.Equal(t, "explicit !plan prefix", reason)
}

func TestSelectPersonaKeywords(t *testing.T) {
	p, reason := SelectPersona("I have an idea for the dashboard", nil)
	assert.Equal(t, PersonaBrainstormer, p)
	assert.Equal(t, "brainstormer keyword: 'idea'", reason)

	p, reason = SelectPersona("need a blueprint for checkout", nil)
	assert.Equal(t, PersonaPlanner, p)
	assert.Equal(t, "planner keyword: 'blueprint'", reason)
}

func TestSelectPersonaBrainstormerBeatsPlannerKeywords(t *testing.T) {
	// Both keyword families present: brainstormer checks first.
	p, _ := SelectPersona("brainstorm a plan", nil)
	assert.Equal(t, PersonaBrainstormer, p)
}

func TestSelectPersonaShortApprovalFallback(t *testing.T) {
	for _, text := range []string{
		"option 1", "Option 2", "option2", "1", "2", "yes", "no",
		"first", "second", "approve", "I approve", "Approved!",
	} {
		p, reason := SelectPersona(text, nil)
		assert.Equal(t, PersonaPlanner, p, fmt.Sprintf("text=%q", text))
		assert.Equal(t, "short approval/choice reply", reason, fmt.Sprintf("text=%q", text))
	}
}

func TestSelectPersonaLongApprovalTextNotFallback(t *testing.T) {
	long := "I think we should approve budget increases for every team in the org this year"
	p, _ := SelectPersona(long, nil)
	assert.Equal(t, PersonaGeneral, p)
}

func TestSelectPersonaGeneralDefault(t *testing.T) {
	p, reason := SelectPersona("good morning", nil)
	assert.Equal(t, PersonaGeneral, p)
	assert.Equal(t, "no persona match", reason)
}
