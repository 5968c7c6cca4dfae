package persona

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/ian/internal/agent"
	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/router"
	"github.com/nextlevelbuilder/ian/internal/store"
)

// ApprovalSentinel ends the model reply that confirms a user-approved task.
// It is stripped before publishing.
const ApprovalSentinel = "[BRAINSTORM:APPROVED]"

// Brainstormer states. IDEATION and REFINEMENT advance unconditionally per
// turn; SYNTHESIS holds until the user approves and the model confirms.
const (
	StateIdeation      = "IDEATION"
	StateRefinement    = "REFINEMENT"
	StateSynthesis     = "SYNTHESIS"
	StateApproved      = "APPROVED"
	StateTicketCreated = "TICKET_CREATED"
)

const productSummaryMaxChars = 2000

// approvalSignals mark a user message as approving the task definition.
var approvalSignals = []string{
	"yes", "approve", "approved", "looks good", "go ahead", "create it",
	"make it", "perfect", "great", "let's do it", "let's go", "do it",
	"create task", "create the task", "add to kanban",
}

// DetectUserApproval reports whether the user's message signals approval of
// the presented task definition. Case-insensitive substring test.
func DetectUserApproval(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, signal := range approvalSignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}

// DetectApprovalSignal reports whether the model emitted the sentinel.
func DetectApprovalSignal(reply string) bool {
	return strings.Contains(reply, ApprovalSentinel)
}

// AdvanceState computes the next Brainstormer state after a model turn.
func AdvanceState(current, reply string) string {
	switch current {
	case StateIdeation:
		return StateRefinement
	case StateRefinement:
		return StateSynthesis
	case StateSynthesis:
		if DetectApprovalSignal(reply) {
			return StateApproved
		}
		return StateSynthesis
	default:
		// APPROVED and TICKET_CREATED are handler-managed.
		return current
	}
}

// StripSentinel removes the approval sentinel before publishing.
func StripSentinel(reply string) string {
	return strings.TrimRight(strings.ReplaceAll(reply, ApprovalSentinel, ""), " \t\n")
}

const ideationInstruction = `You are in the IDEATION state. The user has just shared a raw idea. Your job is to:
1. Acknowledge the idea briefly (1 sentence)
2. Ask exactly 2-3 targeted clarifying questions to understand scope, target users, and success criteria
3. NEVER suggest the idea is ready or propose creating a task yet
4. Be a critical thinker — probe for weak spots`

const refinementInstruction = `You are in the REFINEMENT state. The user has answered your clarifying questions. Your job is to:
1. Synthesize what you've learned
2. Suggest at least ONE world-class improvement or upgrade to the idea
3. Ask 1-2 deeper questions about constraints, edge cases, or risks
4. Still do NOT create a task — keep refining`

const synthesisInstruction = `You are in the SYNTHESIS state. You have enough information. Your job is to present a complete structured brief:

**TASK DEFINITION**
- **Title**: (concise, action-oriented)
- **The Problem**: (what pain does this solve?)
- **The Solution**: (refined from dialogue)
- **Who Benefits**: (target users)
- **What Success Looks Like**: (how do we know it worked?)
- **Estimated Effort**: Small / Medium / Large
- **Key Risks**: (1-3 key risks)

End with: 'Shall I create a Kanban task for this idea? Reply **yes** to approve.'`

// approvalInstruction replaces the synthesis instruction on the turn where
// the user has approved; only then may the model emit the sentinel.
const approvalInstruction = `The user has just approved the task definition. Acknowledge briefly (1 sentence), do not repeat the full brief, and end your reply with: ` + ApprovalSentinel

func stateInstruction(state string, approvalPending bool) string {
	switch state {
	case StateIdeation:
		return ideationInstruction
	case StateRefinement:
		return refinementInstruction
	case StateSynthesis:
		if approvalPending {
			return approvalInstruction
		}
		return synthesisInstruction
	default:
		return ""
	}
}

// BuildStatePrompt assembles the state-specific system context prepended to
// the agent's base prompt for one Brainstormer turn.
func BuildStatePrompt(state, rawIdea, refinedIdea, workflowDoc string, approvalPending bool) string {
	lines := []string{
		"=== BRAINSTORMER PERSONA ===",
		workflowDoc,
		"",
		"=== CURRENT STATE: " + state + " ===",
		stateInstruction(state, approvalPending),
	}
	if rawIdea != "" {
		lines = append(lines, "", "=== ORIGINAL IDEA ===", rawIdea)
	}
	if refinedIdea != "" {
		lines = append(lines, "", "=== REFINED IDEA SO FAR ===", refinedIdea)
	}
	return strings.Join(lines, "\n")
}

func productBlock(summary string) string {
	if summary == "" {
		return ""
	}
	return "=== PRODUCT CONTEXT (background reference — never expose details to user) ===\n" +
		summary + "\n\n"
}

// Brainstormer drives the idea-refinement workflow. Always the cheap model,
// never any tools.
type Brainstormer struct {
	deps        Deps
	workflowDoc string
}

func NewBrainstormer(deps Deps) *Brainstormer {
	return &Brainstormer{deps: deps, workflowDoc: deps.Docs.WorkflowDoc()}
}

// Handle runs one Brainstormer turn: build the state prompt, call the model,
// advance the state machine, and on approval create the ticket + task file
// and hand off to the Planner.
func (b *Brainstormer) Handle(ctx context.Context, msg chat.Message, sessionID, text string) error {
	d := b.deps

	meta, err := d.Sessions.Metadata(ctx, sessionID)
	if err != nil {
		return err
	}
	if meta[router.MetaPersona] != string(router.PersonaBrainstormer) {
		meta = map[string]string{
			router.MetaPersona:         string(router.PersonaBrainstormer),
			router.MetaBrainstormState: StateIdeation,
			metaRawIdea:                text,
		}
	}

	state := meta[router.MetaBrainstormState]
	if state == "" {
		state = StateIdeation
	}
	rawIdea := meta[metaRawIdea]
	if rawIdea == "" {
		rawIdea = text
	}
	refined := meta[metaRefinedIdea]
	userApproving := state == StateSynthesis && DetectUserApproval(text)

	extra := productBlock(d.Docs.ProductSummary(productSummaryMaxChars)) +
		BuildStatePrompt(state, rawIdea, refined, b.workflowDoc, userApproving)

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
		Model:        d.Cfg.Anthropic.ModelDefault,
		MaxTokens:    d.Cfg.Anthropic.MaxTokens,
		System:       d.systemWith(extra),
		Messages:     window,
		AllowedTools: map[string]bool{},
	})
	if err != nil {
		slog.Error("brainstormer model call failed", "error", err)
		if d.Audit != nil {
			d.Audit.Error("brainstormer model call failed", err)
		}
		d.post(ctx, d.Haiku, msg.Channel, ":red_circle: Brainstormer error. Try again.", msg.ThreadTS)
		return nil
	}
	if usage == nil {
		// Round budget exhausted: no state advance, no cost.
		d.post(ctx, d.Haiku, msg.Channel, reply, msg.ThreadTS)
		return nil
	}

	meta[router.MetaBrainstormState] = AdvanceState(state, reply)
	if state == StateSynthesis && !userApproving {
		meta[metaSynthesisText] = reply
	}
	if state == StateRefinement {
		meta[metaRefinedIdea] = text
	}

	approved := DetectApprovalSignal(reply)
	var (
		fields   TicketFields
		fileNote string
	)
	if approved {
		refinedOrRaw := refined
		if refinedOrRaw == "" {
			refinedOrRaw = rawIdea
		}
		fields = ExtractTicketFields(rawIdea, refinedOrRaw, meta[metaSynthesisText])

		ticket, err := d.Backlog.Create(ctx, store.Ticket{
			Title:            fields.Title,
			Requester:        msg.User,
			Channel:          msg.Channel,
			Summary:          fields.Problem,
			RequestedOutcome: fields.Success,
			Impact:           fields.Solution,
			HandoffTarget:    "planner",
			Status:           "ideas",
			Intent:           string(router.IntentIdeaBrainstorm),
		})
		if err != nil {
			return fmt.Errorf("create brainstorm ticket: %w", err)
		}
		meta[router.MetaBrainstormState] = StateTicketCreated
		meta[metaTicketID] = ticket.TicketID
		meta[metaTaskTitle] = fields.Title
		slog.Info("brainstorm ticket created", "ticket_id", ticket.TicketID, "title", fields.Title)

		if rel, werr := WriteTaskFile(d.Cfg.Projects.Root, fields, sessionID, time.Now()); werr != nil {
			slog.Warn("task file write failed", "error", werr)
			fileNote = "(file save failed — check logs)"
		} else {
			fileNote = fmt.Sprintf("📄 `%s`", filepath.ToSlash(rel))
		}
	}

	if err := d.Sessions.SetMetadata(ctx, sessionID, meta); err != nil {
		return err
	}
	d.recordAssistantTurn(ctx, sessionID, d.Cfg.Anthropic.ModelDefault, reply, usage)
	d.post(ctx, d.Haiku, msg.Channel, StripSentinel(reply), msg.ThreadTS)

	if approved {
		d.post(ctx, d.Haiku, msg.Channel, fmt.Sprintf(
			"✅ *Task saved to Kanban → Ideas*\n%s\n\nPlanner is starting automatically to draft the implementation plan + estimate.",
			fileNote), msg.ThreadTS)
		b.triggerPlanner(ctx, msg, fields)
	}
	return nil
}

// triggerPlanner enqueues a synthesized "!plan" message on the channel's own
// worker queue. Queueing instead of calling the Planner inline keeps the
// one-worker-per-channel ordering intact.
func (b *Brainstormer) triggerPlanner(ctx context.Context, msg chat.Message, fields TicketFields) {
	if b.deps.Enqueue == nil {
		b.deps.post(ctx, b.deps.Haiku, msg.Channel,
			":warning: Automatic Planner run unavailable. Send `!plan` to run it manually.", msg.ThreadTS)
		return
	}

	prompt := fmt.Sprintf(
		"!plan Create a full implementation plan for this approved task.\n"+
			"Title: %s\n"+
			"Problem: %s\n"+
			"Solution: %s\n"+
			"Success criteria: %s\n"+
			"Task file: tasks/pending/TASK_%s.md\n"+
			"Return full planner output including development cost estimate.",
		fields.Title, fields.Problem, fields.Solution, fields.Success, Slugify(fields.Title))

	b.deps.Enqueue(chat.Message{
		TS:       msg.TS,
		User:     msg.User,
		Text:     prompt,
		Channel:  msg.Channel,
		ThreadTS: msg.ThreadTS,
	})
	slog.Info("planner auto-trigger enqueued", "channel", msg.Channel, "title", fields.Title)
}
