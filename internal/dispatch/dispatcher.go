// Package dispatch turns one polled channel message into at most one agent
// action: admin command, policy-gated reply, persona workflow turn, or a
// model call through the tool loop. The pipeline order is fixed — sanitize,
// admin, runtime gate, session, budget, persona, intent gate, model — and
// every early exit posts its own reply.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/ian/internal/agent"
	"github.com/nextlevelbuilder/ian/internal/audit"
	"github.com/nextlevelbuilder/ian/internal/budget"
	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/config"
	"github.com/nextlevelbuilder/ian/internal/handoff"
	"github.com/nextlevelbuilder/ian/internal/mcp"
	"github.com/nextlevelbuilder/ian/internal/memory"
	"github.com/nextlevelbuilder/ian/internal/persona"
	"github.com/nextlevelbuilder/ian/internal/projects"
	"github.com/nextlevelbuilder/ian/internal/providers"
	"github.com/nextlevelbuilder/ian/internal/router"
	"github.com/nextlevelbuilder/ian/internal/security"
	"github.com/nextlevelbuilder/ian/internal/store"
	"github.com/nextlevelbuilder/ian/internal/tools"
)

const (
	gateOffMsg     = ":red_circle: IAN is currently turned off from Master dashboard. No assignments are being processed."
	compressingMsg = "_Compressing conversation history..._"
	modelErrMsg    = ":red_circle: Error calling Claude. Check logs."
	internalErrMsg = ":red_circle: Internal error handling that message. Check logs."

	// clientProductFile is always injected in client channels, independent of
	// keyword detection.
	clientProductFile = "lavprishjemmeside.md"
)

const clientSupportContext = `You are IAN, an AI support assistant for lavprishjemmeside.dk — a Danish CMS product for building affordable websites. You are responding to a client in their dedicated support channel.

Role:
- Answer product questions clearly and helpfully
- Help with website, account, billing, and feature questions
- Always respond in the same language the client writes in (Danish or English)
- Be professional, warm, and concise — clients are typically small business owners
- If an issue cannot be resolved here, direct them to email support@lavprishjemmeside.dk

Do NOT reveal internal tooling, owner information, or pricing margins.
`

const ticketSummaryMaxChars = 500

// mentionRe strips the leading @-mention Slack prepends when the agent user
// is addressed directly.
var mentionRe = regexp.MustCompile(`^<@[A-Z0-9]+>\s*`)

// RuntimeGate reports whether the master dashboard currently allows the
// agent to take assignments.
type RuntimeGate interface {
	Enabled() bool
}

// PersonaHandler runs one multi-turn workflow step.
type PersonaHandler interface {
	Handle(ctx context.Context, msg chat.Message, sessionID, text string) error
}

// Deps bundles the dispatcher's collaborators; cmd/serve builds one.
type Deps struct {
	Cfg        *config.Config
	DB         *sql.DB
	Loop       *agent.Loop
	Sessions   *store.SessionStore
	Notes      *store.NoteStore
	Backlog    *store.BacklogStore
	History    *memory.History
	Summarizer *memory.Summarizer
	Budget     *budget.Tracker
	Audit      *audit.Logger
	Registry   *tools.Registry
	Projects   *projects.Router
	Gate       RuntimeGate

	// Haiku posts everything routine; Sonnet only publishes replies the
	// heavy model produced, so the sender identity encodes the model tier.
	Haiku  chat.Client
	Sonnet chat.Client

	Brainstormer PersonaHandler
	Planner      PersonaHandler

	// BaseSystem is the cached startup context; dynamic per-message context
	// is appended as an uncached block.
	BaseSystem []providers.SystemBlock
}

// Dispatcher owns the per-message pipeline. One instance serves every
// channel; per-channel ordering comes from the ingest workers.
type Dispatcher struct {
	deps      Deps
	startedAt time.Time
	tracer    trace.Tracer

	// baseSystem is swapped wholesale by !reload, so reads take the lock.
	mu         sync.RWMutex
	baseSystem []providers.SystemBlock
}

func New(deps Deps) *Dispatcher {
	return &Dispatcher{
		deps:       deps,
		startedAt:  time.Now(),
		tracer:     otel.Tracer("ian/dispatch"),
		baseSystem: deps.BaseSystem,
	}
}

// Dispatch runs the pipeline for one message. It never returns an error and
// never panics: failures are posted as a :red_circle: reply and audited, so
// a poisoned message cannot take the channel worker down.
func (d *Dispatcher) Dispatch(ctx context.Context, msg chat.Message) {
	ctx, span := d.tracer.Start(ctx, "dispatch.message",
		trace.WithAttributes(attribute.String("chat.channel", msg.Channel)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch panic", "channel", msg.Channel, "panic", r)
			d.deps.Audit.Error("dispatch panic", fmt.Errorf("%v", r))
			d.post(ctx, d.deps.Haiku, msg.Channel, internalErrMsg, msg.ThreadTS)
		}
	}()

	if err := d.handle(ctx, msg); err != nil {
		slog.Error("dispatch failed", "channel", msg.Channel, "error", err)
		d.deps.Audit.Error("message handling failed", err)
		d.post(ctx, d.deps.Haiku, msg.Channel, internalErrMsg, msg.ThreadTS)
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg chat.Message) error {
	text := security.SanitizeInput(mentionRe.ReplaceAllString(msg.Text, ""))
	if text == "" {
		return nil
	}
	d.deps.Audit.UserMessage(msg.User, text, msg.Channel)

	// Admin commands are owner tooling; they never run in client channels
	// and they work even while the runtime gate is off.
	isClient := d.deps.Cfg.Slack.IsClientChannel(msg.Channel)
	if !isClient && d.adminCommand(ctx, msg, text) {
		return nil
	}

	if !d.deps.Gate.Enabled() {
		d.post(ctx, d.deps.Haiku, msg.Channel, gateOffMsg, msg.ThreadTS)
		return nil
	}

	sessionID, err := d.deps.Sessions.GetOrCreate(ctx, msg.Channel)
	if err != nil {
		return fmt.Errorf("session lookup: %w", err)
	}
	rotate, err := d.deps.Summarizer.ShouldSummarize(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("summarize check: %w", err)
	}
	if rotate {
		d.post(ctx, d.deps.Haiku, msg.Channel, compressingMsg, msg.ThreadTS)
		if sessionID, err = d.deps.Summarizer.SummarizeAndRotate(ctx, sessionID, msg.Channel); err != nil {
			return fmt.Errorf("summarize and rotate: %w", err)
		}
	}

	status, err := d.deps.Budget.Check(ctx)
	if err != nil {
		return fmt.Errorf("budget check: %w", err)
	}
	if status.Blocked() {
		d.post(ctx, d.deps.Haiku, msg.Channel, ":no_entry: "+status.Summary(), msg.ThreadTS)
		return nil
	}
	if status.Warned() {
		d.post(ctx, d.deps.Haiku, msg.Channel, ":warning: "+status.Summary(), msg.ThreadTS)
	}

	meta, err := d.deps.Sessions.Metadata(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session metadata: %w", err)
	}
	p, personaReason := router.SelectPersona(text, meta)
	slog.Info("persona routed", "persona", string(p), "reason", personaReason)
	switch p {
	case router.PersonaBrainstormer:
		return d.deps.Brainstormer.Handle(ctx, msg, sessionID, text)
	case router.PersonaPlanner:
		return d.deps.Planner.Handle(ctx, msg, sessionID, text)
	}

	decision := router.Classify(text, router.MinConfidenceDefault)
	slog.Info("intent classified",
		"intent", string(decision.Intent),
		"confidence", decision.Confidence,
		"reason", decision.Reason)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("ian.intent", string(decision.Intent)),
		attribute.Float64("ian.confidence", decision.Confidence))

	if !decision.InScope() {
		return d.policyGate(ctx, msg, text, decision)
	}
	if decision.Intent == router.IntentRequestCapture {
		return d.captureRequest(ctx, msg, text, decision)
	}

	return d.converse(ctx, msg, sessionID, text, decision, isClient)
}

// converse is the in-scope path: route the model, build dynamic context, run
// the tool loop, book the cost, publish via the tier-matching identity.
func (d *Dispatcher) converse(ctx context.Context, msg chat.Message, sessionID, text string, decision router.Decision, isClient bool) error {
	model, modelReason := router.SelectModel(text,
		d.deps.Cfg.Anthropic.ModelDefault, d.deps.Cfg.Anthropic.ModelHeavy)
	slog.Info("model routed", "model", model, "reason", modelReason)
	d.deps.Audit.ModelSelected(model, modelReason, text)
	d.deps.Audit.PolicyDecision(string(decision.Intent), decision.Confidence,
		"in_scope_allowed", "", model, decision.Reason)

	prompt := router.StripModelPrefix(text)

	var dynamic string
	if isClient {
		dynamic = clientSupportContext
		if product, ok := d.deps.Projects.FileContent(clientProductFile); ok && product != "" {
			dynamic += "\n\n[Product Context]\n" + product
		}
	} else {
		dynamic = d.deps.Projects.Context(prompt)
	}
	dynamic += fmt.Sprintf(
		"\n\n[IAN Intent Policy]\nresolved_intent=%s\nconfidence=%.2f\nOperate only within this intent and do not expand scope.",
		decision.Intent, decision.Confidence)

	if err := d.deps.Sessions.AddMessage(ctx, store.StoredMessage{
		SessionID: sessionID, Role: "user", Content: prompt,
	}); err != nil {
		return fmt.Errorf("append user turn: %w", err)
	}
	window, err := d.deps.History.Window(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("history window: %w", err)
	}

	reply, usage, err := d.deps.Loop.Run(ctx, agent.Request{
		Model:        model,
		MaxTokens:    d.deps.Cfg.Anthropic.MaxTokens,
		System:       d.systemWith(dynamic),
		Messages:     window,
		AllowedTools: d.allowedTools(decision.Intent, isClient),
	})
	if err != nil {
		slog.Error("model call failed", "model", model, "error", err)
		d.deps.Audit.Error("model call failed in dispatcher", err)
		d.post(ctx, d.deps.Haiku, msg.Channel, modelErrMsg, msg.ThreadTS)
		return nil
	}
	if usage == nil {
		// Round budget exhausted: the reply explains, nothing is billed and
		// no assistant turn is stored.
		d.post(ctx, d.deps.Haiku, msg.Channel, reply, msg.ThreadTS)
		return nil
	}

	if _, err := d.deps.Budget.RecordUsage(ctx, model,
		usage.PromptTokens, usage.CompletionTokens,
		usage.CacheCreationTokens, usage.CacheReadTokens); err != nil {
		slog.Error("record usage failed", "model", model, "error", err)
	}
	if err := d.deps.Sessions.AddMessage(ctx, store.StoredMessage{
		SessionID:    sessionID,
		Role:         "assistant",
		Content:      reply,
		Model:        model,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		CacheWritten: usage.CacheCreationTokens,
		CacheRead:    usage.CacheReadTokens,
	}); err != nil {
		slog.Error("append assistant turn failed", "session_id", sessionID, "error", err)
	}
	d.deps.Audit.AgentReply(reply, model,
		usage.PromptTokens, usage.CompletionTokens,
		usage.CacheCreationTokens, usage.CacheReadTokens)
	d.deps.Audit.CostEvent(model,
		usage.PromptTokens, usage.CompletionTokens,
		usage.CacheCreationTokens, usage.CacheReadTokens)

	publisher := d.deps.Haiku
	if model == d.deps.Cfg.Anthropic.ModelHeavy {
		publisher = d.deps.Sonnet
	}
	d.post(ctx, publisher, msg.Channel, reply, msg.ThreadTS)
	return nil
}

// allowedTools widens the intent allow-list with MCP-mounted tools for owner
// traffic. Client channels never see mounted tools; every bridged tool still
// passes the approval gate before it runs.
func (d *Dispatcher) allowedTools(intent router.Intent, isClient bool) map[string]bool {
	allowed := router.AllowedTools(intent)
	if isClient {
		return allowed
	}
	for _, name := range d.deps.Registry.Names() {
		if strings.HasPrefix(name, mcp.ToolPrefix) {
			allowed[name] = true
		}
	}
	return allowed
}

// policyGate handles needs_clarification, out_of_scope and dev_handoff: an
// optional backlog ticket, an audited decision, a structured reply — never a
// model call.
func (d *Dispatcher) policyGate(ctx context.Context, msg chat.Message, text string, decision router.Decision) error {
	var (
		ticketID string
		linked   []string
	)
	action := "policy_blocked"

	switch decision.Intent {
	case router.IntentOutOfScope:
		var err error
		ticketID, linked, err = d.createTicket(ctx, msg, text, decision.Intent, "backlog_triage", "Out-of-scope request")
		if err != nil {
			return err
		}
		action = "out_of_scope_backlog_created"
	case router.IntentDevHandoff:
		var err error
		ticketID, linked, err = d.createTicket(ctx, msg, text, decision.Intent, handoff.Target, "Dev handoff request")
		if err != nil {
			return err
		}
		action = "dev_handoff_backlog_created"
	}

	d.deps.Audit.PolicyDecision(string(decision.Intent), decision.Confidence,
		action, ticketID, "none_policy_gate", decision.Reason)
	d.post(ctx, d.deps.Haiku, msg.Channel, policyReply(decision, ticketID, linked), msg.ThreadTS)
	return nil
}

// captureRequest books a request_capture message as a backlog ticket and
// acknowledges it; capture never spends model tokens.
func (d *Dispatcher) captureRequest(ctx context.Context, msg chat.Message, text string, decision router.Decision) error {
	ticketID, _, err := d.createTicket(ctx, msg, text, decision.Intent, "backlog_triage", "Captured request")
	if err != nil {
		return err
	}
	d.deps.Audit.PolicyDecision(string(decision.Intent), decision.Confidence,
		"request_captured_backlog_created", ticketID, "none_policy_gate", decision.Reason)

	reply := fmt.Sprintf(
		"*OUT_OF_SCOPE_BACKLOG_CREATED*\n"+
			"- intent: `%s`\n"+
			"- confidence: `%.2f`\n"+
			"- sources_used: `request text`\n"+
			"- ticket_id: `%s`\n"+
			"- action_taken: request captured as structured backlog item\n"+
			"- next_step: Triage and prioritize this ticket (SLA: within 1 business day).",
		decision.Intent, decision.Confidence, ticketID)
	d.post(ctx, d.deps.Haiku, msg.Channel, reply, msg.ThreadTS)
	return nil
}

// createTicket books one structured backlog entry. claude_code targets also
// get the handoff payload with linked plan files attached.
func (d *Dispatcher) createTicket(ctx context.Context, msg chat.Message, text string, intent router.Intent, target, titlePrefix string) (string, []string, error) {
	summary := clip(text, ticketSummaryMaxChars)

	var title string
	if intent == router.IntentIdeaBrainstorm || intent == router.IntentPlanDesign {
		title = persona.CleanRequestHeadline(titlePrefix, titlePrefix)
	} else {
		headline := persona.CleanRequestHeadline(summary, titlePrefix)
		title = titlePrefix
		if headline != "" {
			title = titlePrefix + ": " + headline
		}
	}

	sum := summary
	if sum == "" {
		sum = "(no summary)"
	}
	outcome := summary
	if outcome == "" {
		outcome = "(not provided)"
	}

	ticket, err := d.deps.Backlog.Create(ctx, store.Ticket{
		Title:            title,
		Requester:        msg.User,
		Channel:          msg.Channel,
		Summary:          sum,
		RequestedOutcome: outcome,
		Impact:           "triage pending",
		HandoffTarget:    target,
		Intent:           string(intent),
	})
	if err != nil {
		return "", nil, fmt.Errorf("create backlog ticket: %w", err)
	}

	linked := ticket.LinkedPlanFiles
	if target == handoff.Target {
		reqText := summary
		if reqText == "" {
			reqText = "(not provided)"
		}
		payload := handoff.Build(d.deps.Cfg.Projects.Root, ticket.TicketID, reqText)
		raw, err := payload.Marshal()
		if err != nil {
			return "", nil, err
		}
		if err := d.deps.Backlog.UpdateHandoff(ctx, ticket.TicketID, raw, payload.LinkedPlanFiles); err != nil {
			return "", nil, fmt.Errorf("attach handoff payload: %w", err)
		}
		linked = payload.LinkedPlanFiles
	}

	slog.Info("backlog ticket created", "ticket_id", ticket.TicketID, "intent", string(intent))
	return ticket.TicketID, linked, nil
}

// policyReply renders the structured block for a gated intent.
func policyReply(decision router.Decision, ticketID string, linked []string) string {
	if ticketID == "" {
		ticketID = "N/A"
	}
	plansLine := "`none found`"
	if len(linked) > 0 {
		quoted := make([]string, len(linked))
		for i, p := range linked {
			quoted[i] = "`" + p + "`"
		}
		plansLine = strings.Join(quoted, ", ")
	}

	switch {
	case decision.NeedsClarification():
		return fmt.Sprintf(
			"*NEEDS_CLARIFICATION*\n"+
				"- intent: `%s`\n"+
				"- confidence: `%.2f`\n"+
				"- sources_used: `none`\n"+
				"- action_taken: awaiting clarification\n"+
				"- next_step: Please clarify whether this is a FAQ, status lookup, runbook guidance, triage, or a request to capture.",
			decision.Intent, decision.Confidence)

	case decision.IsDevHandoff():
		return fmt.Sprintf(
			"*DEV_HANDOFF_TO_CLAUDE_CODE*\n"+
				"- intent: `%s`\n"+
				"- confidence: `%.2f`\n"+
				"- sources_used: `request text`\n"+
				"- ticket_id: `%s`\n"+
				"- linked_plan_files: %s\n"+
				"- action_taken: development task execution blocked in IAN\n"+
				"- next_step: Route this to Claude Code with relevant `tasks/**/*.md` plan context.",
			decision.Intent, decision.Confidence, ticketID, plansLine)

	default:
		return fmt.Sprintf(
			"*OUT_OF_SCOPE_BACKLOG_CREATED*\n"+
				"- intent: `%s`\n"+
				"- confidence: `%.2f`\n"+
				"- sources_used: `request text`\n"+
				"- ticket_id: `%s`\n"+
				"- action_taken: request marked out-of-scope for IAN fixed environment and backlog ticket created\n"+
				"- next_step: Triage ticket and assign owner (SLA: within 1 business day).",
			decision.Intent, decision.Confidence, ticketID)
	}
}

// systemWith appends one dynamic (uncached) block to the cached base prompt.
func (d *Dispatcher) systemWith(extra string) []providers.SystemBlock {
	d.mu.RLock()
	base := d.baseSystem
	d.mu.RUnlock()

	blocks := make([]providers.SystemBlock, len(base), len(base)+1)
	copy(blocks, base)
	if extra != "" {
		blocks = append(blocks, providers.SystemBlock{Text: extra})
	}
	return blocks
}

// post publishes best-effort: a failed send is logged, never propagated.
func (d *Dispatcher) post(ctx context.Context, client chat.Client, channel, text, threadTS string) {
	if _, err := client.PostMessage(ctx, channel, text, threadTS); err != nil {
		slog.Error("post message failed", "channel", channel, "error", err)
	}
}

// clip truncates to max runes.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
