package persona

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/ian/internal/agent"
	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/router"
	"github.com/nextlevelbuilder/ian/internal/store"
)

// PlanSentinel ends a completed Planner deliverable. Stripped before
// publishing.
const PlanSentinel = "[PLAN:READY]"

// Planner states.
const (
	StatePlanning    = "PLANNING"
	StatePlanCreated = "PLAN_CREATED"
)

// Sonnet pricing, baked in so the Planner instruction and the cost helper
// agree on one source.
const (
	sonnetInPricePerM  = 3.00
	sonnetOutPricePerM = 15.00
	userCostMultiplier = 20
)

const plannerLoadingMsg = "_Planner loading full project context..._"

// plannerTools is the fixed read-only allow-list for Planner turns.
var plannerTools = map[string]bool{
	"filesystem_read": true,
	"filesystem_list": true,
}

// plannerInstruction is the fixed persona block appended after the full
// document context. The {N}/{M}/{X}/{Y} placeholders are for the model to
// fill, not for us.
var plannerInstruction = fmt.Sprintf(`

=== PLANNER PERSONA ===
You are the Planner. Your sole purpose is to design a comprehensive, production-ready implementation plan for the given task.

REQUIRED OUTPUT STRUCTURE (include all 10 sections):
1. Technical Approach
2. Files to Modify
3. New Files to Create
4. Database Changes
5. API Changes
6. UI Changes
7. Testing Approach
8. Deployment Steps
9. Timeline Estimate
10. Complexity Assessment: Low / Medium / High / Very High

SEPARATE APPLICATION RULE: If complexity is Very High or requires new infrastructure (new domain, new server), specify it as a standalone application at api.[domain] with a full build specification.

COST ESTIMATE (required last section):
## Cost Estimate
- Estimated input tokens for implementation run: ~{N}
- Estimated output tokens: ~{M}
- API cost (Sonnet @ $%.0f/1M in, $%.0f/1M out): ~${X:.4f}
- Your cost (×%d real-world rate): ~${Y:.2f}

End your reply with: %s`,
	sonnetInPricePerM, sonnetOutPricePerM, userCostMultiplier, PlanSentinel)

// CostEstimate is the development-cost projection attached to every plan.
type CostEstimate struct {
	InputTokens  int
	OutputTokens int
	APICostUSD   float64
	UserCostUSD  float64
}

// EstimateCost projects the cost of implementing a plan: raw Sonnet API
// spend plus the user-facing figure at the real-world multiplier.
func EstimateCost(inputTokens, outputTokens int) CostEstimate {
	api := float64(inputTokens)/1e6*sonnetInPricePerM + float64(outputTokens)/1e6*sonnetOutPricePerM
	return CostEstimate{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		APICostUSD:   api,
		UserCostUSD:  api * userCostMultiplier,
	}
}

// Formatted renders the estimate as the markdown block plans embed.
func (e CostEstimate) Formatted() string {
	return fmt.Sprintf(
		"## Cost Estimate\n"+
			"- Estimated input tokens for implementation: ~%s\n"+
			"- Estimated output tokens: ~%s\n"+
			"- API cost (Sonnet @ $%.0f/1M in, $%.0f/1M out): ~$%.4f\n"+
			"- **Your cost (×%d real-world rate): ~$%.2f**",
		groupThousands(e.InputTokens), groupThousands(e.OutputTokens),
		sonnetInPricePerM, sonnetOutPricePerM, e.APICostUSD,
		userCostMultiplier, e.UserCostUSD)
}

func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// StripPlanSentinel removes the plan sentinel before publishing.
func StripPlanSentinel(reply string) string {
	return strings.TrimRight(strings.ReplaceAll(reply, PlanSentinel, ""), " \t\n")
}

// Planner designs implementation plans on the heavy model with read-only
// filesystem access.
type Planner struct {
	deps Deps
}

func NewPlanner(deps Deps) *Planner {
	return &Planner{deps: deps}
}

// Handle runs one Planner turn: announce the context load, inject the full
// documentation payload, call the heavy model, and on the ready sentinel
// create the plan ticket.
func (p *Planner) Handle(ctx context.Context, msg chat.Message, sessionID, text string) error {
	d := p.deps

	meta, err := d.Sessions.Metadata(ctx, sessionID)
	if err != nil {
		return err
	}
	if meta[router.MetaPersona] != string(router.PersonaPlanner) {
		// A title hint left by an approved brainstorm beats re-deriving one
		// from the synthesized prompt.
		hint := meta[metaTaskTitle]
		if hint == "" {
			hint = CleanRequestHeadline(text, "Planner task")
		}
		meta = map[string]string{
			router.MetaPersona:      string(router.PersonaPlanner),
			router.MetaPlannerState: StatePlanning,
			metaTaskDesc:            text,
			metaTaskTitle:           hint,
		}
	}

	d.post(ctx, d.Haiku, msg.Channel, plannerLoadingMsg, msg.ThreadTS)

	extra := d.Docs.LoadAll() + plannerInstruction

	if err := d.Sessions.AddMessage(ctx, store.StoredMessage{
		SessionID: sessionID, Role: "user", Content: text,
	}); err != nil {
		return err
	}
	window, err := d.History.Window(ctx, sessionID)
	if err != nil {
		return err
	}

	reply, usage, err := d.Loop.Run(ctx, agent.Request{
		Model:        d.Cfg.Anthropic.ModelHeavy,
		MaxTokens:    d.Cfg.Anthropic.MaxTokens,
		System:       d.systemWith(extra),
		Messages:     window,
		AllowedTools: plannerTools,
	})
	if err != nil {
		slog.Error("planner model call failed", "error", err)
		if d.Audit != nil {
			d.Audit.Error("planner model call failed", err)
		}
		d.post(ctx, d.Haiku, msg.Channel, ":red_circle: Planner error. Try again.", msg.ThreadTS)
		return nil
	}
	if usage == nil {
		d.post(ctx, d.Haiku, msg.Channel, reply, msg.ThreadTS)
		return nil
	}

	if strings.Contains(reply, PlanSentinel) && meta[router.MetaPlannerState] != StatePlanCreated {
		hint := meta[metaTaskTitle]
		if hint == "" {
			hint = CleanRequestHeadline(meta[metaTaskDesc], "Planner task")
		}
		summary := truncateChars(text, 500)

		ticket, err := d.Backlog.Create(ctx, store.Ticket{
			Title:            "Plan: " + hint,
			Requester:        msg.User,
			Channel:          msg.Channel,
			Summary:          summary,
			RequestedOutcome: summary,
			Impact:           "triage pending",
			HandoffTarget:    "human",
			Status:           "plans",
			Intent:           string(router.IntentPlanDesign),
		})
		if err != nil {
			return fmt.Errorf("create plan ticket: %w", err)
		}
		meta[router.MetaPlannerState] = StatePlanCreated
		meta[metaTicketID] = ticket.TicketID
		slog.Info("plan created", "ticket_id", ticket.TicketID, "title", ticket.Title)
	}

	if err := d.Sessions.SetMetadata(ctx, sessionID, meta); err != nil {
		return err
	}
	d.recordAssistantTurn(ctx, sessionID, d.Cfg.Anthropic.ModelHeavy, reply, usage)
	d.post(ctx, d.Sonnet, msg.Channel, StripPlanSentinel(reply), msg.ThreadTS)
	return nil
}
