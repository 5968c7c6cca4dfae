package persona

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/ian/internal/agent"
	"github.com/nextlevelbuilder/ian/internal/budget"
	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/config"
	"github.com/nextlevelbuilder/ian/internal/memory"
	"github.com/nextlevelbuilder/ian/internal/providers"
	"github.com/nextlevelbuilder/ian/internal/store"
	"github.com/nextlevelbuilder/ian/internal/tools"
)

// scriptedProvider returns canned responses in order, repeating the last
// one once the script runs out.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	requests  []providers.ChatRequest
	err       error
}

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	i := len(p.requests) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "scripted" }

func textReply(text string) *providers.ChatResponse {
	return &providers.ChatResponse{
		Content:      text,
		FinishReason: "stop",
		Usage:        &providers.Usage{PromptTokens: 120, CompletionTokens: 60},
	}
}

type recordedPost struct {
	Channel  string
	Text     string
	ThreadTS string
}

// postRecorder is a chat.Client that captures outbound messages.
type postRecorder struct {
	posts []recordedPost
}

func (r *postRecorder) History(context.Context, string, string, int) ([]chat.Message, error) {
	return nil, nil
}

func (r *postRecorder) PostMessage(_ context.Context, channelID, text, threadTS string) (string, error) {
	r.posts = append(r.posts, recordedPost{channelID, text, threadTS})
	return fmt.Sprintf("%d.000000", len(r.posts)), nil
}

func (r *postRecorder) AuthTest(context.Context) (chat.AuthInfo, error) {
	return chat.AuthInfo{UserID: "UBOT", User: "ian"}, nil
}

func (r *postRecorder) texts() []string {
	out := make([]string, len(r.posts))
	for i, p := range r.posts {
		out[i] = p.Text
	}
	return out
}

// personaHarness wires real stores against scripted model and chat fakes.
type personaHarness struct {
	deps     Deps
	provider *scriptedProvider
	haiku    *postRecorder
	sonnet   *postRecorder
	stores   *store.Stores
	enqueued []chat.Message
	root     string
}

func newPersonaHarness(t *testing.T) *personaHarness {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "ian.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	_, err = store.Migrate(st.DB)
	require.NoError(t, err)

	root := t.TempDir()
	cfg := &config.Config{}
	cfg.Anthropic.ModelDefault = "claude-haiku-test"
	cfg.Anthropic.ModelHeavy = "claude-sonnet-test"
	cfg.Anthropic.MaxTokens = 4096
	cfg.Projects.Root = root

	h := &personaHarness{
		provider: &scriptedProvider{},
		haiku:    &postRecorder{},
		sonnet:   &postRecorder{},
		stores:   st,
		root:     root,
	}
	h.deps = Deps{
		Cfg:      cfg,
		Loop:     agent.NewLoop(h.provider, tools.NewRegistry(), nil, nil),
		Sessions: st.Sessions,
		History:  memory.NewHistory(st.Sessions, 0),
		Budget: budget.NewTracker(st.Budget, config.BudgetConfig{
			DailyLimitUSD: 100, DailyWarnPct: 0.8,
			MonthlyLimitUSD: 1000, MonthlyWarnPct: 0.8,
		}),
		Backlog:    st.Backlog,
		Haiku:      h.haiku,
		Sonnet:     h.sonnet,
		Docs:       NewContextLoader(root),
		BaseSystem: []providers.SystemBlock{{Text: "IAN base prompt", Cache: true}},
		Enqueue:    func(m chat.Message) { h.enqueued = append(h.enqueued, m) },
	}
	return h
}

func (h *personaHarness) message(text string) chat.Message {
	return chat.Message{TS: "1700000000.000100", User: "UOWNER", Text: text, Channel: "C_PRODUCT"}
}

func (h *personaHarness) session(t *testing.T) string {
	t.Helper()
	id, err := h.stores.Sessions.GetOrCreate(context.Background(), "C_PRODUCT")
	require.NoError(t, err)
	return id
}

func (h *personaHarness) metadata(t *testing.T, sessionID string) map[string]string {
	t.Helper()
	meta, err := h.stores.Sessions.Metadata(context.Background(), sessionID)
	require.NoError(t, err)
	return meta
}
