// Package persona implements the two multi-turn workflows layered over
// general chat: the Brainstormer (raw idea → refined task definition →
// backlog ticket + task file) and the Planner (task → full implementation
// plan with a cost estimate). Both persist their state machine in session
// metadata and publish through the identity matching their model tier.
package persona

import (
	"context"
	"log/slog"
	"slices"

	"github.com/nextlevelbuilder/ian/internal/agent"
	"github.com/nextlevelbuilder/ian/internal/audit"
	"github.com/nextlevelbuilder/ian/internal/budget"
	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/config"
	"github.com/nextlevelbuilder/ian/internal/memory"
	"github.com/nextlevelbuilder/ian/internal/providers"
	"github.com/nextlevelbuilder/ian/internal/store"
)

// Session metadata keys owned by the persona handlers. The router package
// owns the persona/state keys; these carry per-workflow payloads.
const (
	metaRawIdea       = "raw_idea"
	metaRefinedIdea   = "refined_idea"
	metaSynthesisText = "synthesis_text"
	metaTicketID      = "ticket_id"
	metaTaskTitle     = "task_title_hint"
	metaTaskDesc      = "task_description"
)

// Deps bundles the collaborators both persona handlers share. Haiku and
// Sonnet are the two publishing identities; status and error messages always
// go out via Haiku, finished Planner deliverables via Sonnet.
type Deps struct {
	Cfg      *config.Config
	Loop     *agent.Loop
	Sessions *store.SessionStore
	History  *memory.History
	Budget   *budget.Tracker
	Backlog  *store.BacklogStore
	Audit    *audit.Logger
	Haiku    chat.Client
	Sonnet   chat.Client
	Docs     *ContextLoader

	// BaseSystem is the cached startup context (SOUL/USER/IDENTITY blocks);
	// persona prompts are appended as a dynamic, uncached block.
	BaseSystem []providers.SystemBlock

	// Enqueue injects a synthesized message into the channel's own worker
	// queue. Used by the Brainstormer to hand an approved task to the
	// Planner without reentrant dispatch.
	Enqueue func(chat.Message)
}

// post publishes best-effort: a failed send is logged, never propagated.
func (d Deps) post(ctx context.Context, client chat.Client, channel, text, threadTS string) {
	if _, err := client.PostMessage(ctx, channel, text, threadTS); err != nil {
		slog.Error("post message failed", "channel", channel, "error", err)
	}
}

// systemWith appends one dynamic (uncached) block to the shared base prompt.
func (d Deps) systemWith(extra string) []providers.SystemBlock {
	blocks := slices.Clone(d.BaseSystem)
	if extra != "" {
		blocks = append(blocks, providers.SystemBlock{Text: extra})
	}
	return blocks
}

// recordAssistantTurn books the cost, persists the assistant turn with its
// token counts, and audits the reply. Bookkeeping failures are logged and
// swallowed so the user still gets the reply.
func (d Deps) recordAssistantTurn(ctx context.Context, sessionID, model, reply string, usage *providers.Usage) {
	if _, err := d.Budget.RecordUsage(ctx, model,
		usage.PromptTokens, usage.CompletionTokens,
		usage.CacheCreationTokens, usage.CacheReadTokens); err != nil {
		slog.Error("record usage failed", "model", model, "error", err)
	}
	if err := d.Sessions.AddMessage(ctx, store.StoredMessage{
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
	if d.Audit != nil {
		d.Audit.AgentReply(reply, model,
			usage.PromptTokens, usage.CompletionTokens,
			usage.CacheCreationTokens, usage.CacheReadTokens)
	}
}
