package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/ian/internal/store"
	"github.com/nextlevelbuilder/ian/internal/tools"
)

type fakeTool struct {
	name     string
	approval bool
}

func (f *fakeTool) Name() string                       { return f.name }
func (f *fakeTool) Description() string                { return "test tool" }
func (f *fakeTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (f *fakeTool) RequiresApproval() bool             { return f.approval }
func (f *fakeTool) Execute(context.Context, map[string]interface{}) *tools.Result {
	return tools.NewResult("ok")
}

func (h *harness) lastPost(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, h.haiku.posts)
	return h.haiku.posts[len(h.haiku.posts)-1].Text
}

func TestAdminStatus(t *testing.T) {
	h := newHarness(t)
	h.d.Dispatch(context.Background(), ownerMsg("!status"))

	out := h.lastPost(t)
	assert.Contains(t, out, ":robot_face: *IAN — Agent Status*")
	assert.Contains(t, out, "*Status:* :green_circle: Online")
	assert.Contains(t, out, "*Uptime:*")
	assert.Contains(t, out, "*Session turns:* 0")
	assert.Contains(t, out, "*Default model:* `claude-haiku-test`")
	assert.Contains(t, out, "*Heavy model:* `claude-sonnet-test`")
	assert.Contains(t, out, "*Prompt cache:* enabled")
	assert.Contains(t, out, "*Heartbeat:* ping every 6h")
	assert.Contains(t, out, "*Daily budget:* $100.00")
	assert.Contains(t, out, "*Monthly budget:* $1000.00")
	assert.Contains(t, out, "Use `!help` to see all commands.")
}

func TestAdminCost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, ownerMsg("!cost"))
	assert.Equal(t, ":white_check_mark: No API calls today yet — $0.00 spent.", h.lastPost(t))

	_, err := h.deps.Budget.RecordUsage(ctx, "claude-haiku-test", 1000, 500, 200, 800)
	require.NoError(t, err)

	h.d.Dispatch(ctx, ownerMsg("!cost"))
	out := h.lastPost(t)
	assert.Contains(t, out, "*Today's API spend (")
	assert.Contains(t, out, "• `claude-haiku-test` — 1 calls")
	assert.Contains(t, out, "cache hit 80%")
	assert.Contains(t, out, "*Total: $")
}

func TestAdminBudget(t *testing.T) {
	h := newHarness(t)
	h.d.Dispatch(context.Background(), ownerMsg("!budget"))

	out := h.lastPost(t)
	assert.True(t, strings.HasPrefix(out, ":white_check_mark: *Budget Status*\n"), "got %q", out)
	assert.Contains(t, out, "Daily:")
	assert.Contains(t, out, "Monthly:")
}

func TestAdminMemory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, ownerMsg("!memory"))
	assert.Equal(t, "Usage: `!memory <search terms>`", h.lastPost(t))

	h.d.Dispatch(ctx, ownerMsg("!memory quarterly"))
	assert.Equal(t, "No memory notes matching `quarterly`.", h.lastPost(t))

	require.NoError(t, h.stores.Notes.Save(ctx, "cms-pricing", "Pro tier pricing is 99 DKK per month", "billing"))
	h.d.Dispatch(ctx, ownerMsg("!memory pricing"))
	out := h.lastPost(t)
	assert.Contains(t, out, "*Memory search: `pricing`*")
	assert.Contains(t, out, "• *cms-pricing* `billing`")
	assert.Contains(t, out, "Pro tier pricing is 99 DKK per month")
}

func TestAdminTools(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, ownerMsg("!tools"))
	assert.Equal(t, "No tools registered.", h.lastPost(t))

	require.NoError(t, h.deps.Registry.Register(&fakeTool{name: "shell_exec", approval: true}))
	require.NoError(t, h.deps.Registry.Register(&fakeTool{name: "filesystem_read"}))

	h.d.Dispatch(ctx, ownerMsg("!tools"))
	out := h.lastPost(t)
	assert.Contains(t, out, "*Registered Tools*")
	assert.Contains(t, out, "⚠ approval  shell_exec")
	assert.Contains(t, out, "      auto  filesystem_read")
	assert.Less(t, strings.Index(out, "filesystem_read"), strings.Index(out, "shell_exec"),
		"tool listing is sorted by name")
}

func TestAdminHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, ownerMsg("!history"))
	assert.Equal(t, "No conversation history in this session.", h.lastPost(t))

	sessionID, err := h.stores.Sessions.GetOrCreate(ctx, "C_OWNER")
	require.NoError(t, err)
	turns := []store.StoredMessage{
		{SessionID: sessionID, Role: "user", Content: "first question"},
		{SessionID: sessionID, Role: "assistant", Content: "first answer"},
		{SessionID: sessionID, Role: "user", Content: "second\nquestion"},
		{SessionID: sessionID, Role: "assistant", Content: "second answer"},
	}
	for _, m := range turns {
		require.NoError(t, h.stores.Sessions.AddMessage(ctx, m))
	}

	h.d.Dispatch(ctx, ownerMsg("!history 1"))
	out := h.lastPost(t)
	assert.Contains(t, out, "*Last 2 messages*")
	assert.Contains(t, out, "*You:* second question", "newlines are flattened")
	assert.Contains(t, out, "*IAN:* second answer")
	assert.NotContains(t, out, "first question")
}

func TestAdminHealthAllHealthy(t *testing.T) {
	h := newHarness(t)
	h.d.Dispatch(context.Background(), ownerMsg("!health"))

	out := h.lastPost(t)
	assert.Contains(t, out, "*IAN Health Check —")
	assert.Contains(t, out, ":white_check_mark: All systems healthy")
	assert.Contains(t, out, "@ian-haiku")
	assert.Contains(t, out, "(0 budget events)")
	assert.Contains(t, out, "$0.0000 / $100.00 today")
	assert.Contains(t, out, "\nOS: ")
}

func TestAdminHealthReportsFailures(t *testing.T) {
	h := newHarness(t)
	h.haiku.authErr = errors.New("invalid_auth")
	h.d.Dispatch(context.Background(), ownerMsg("!health"))

	out := h.lastPost(t)
	assert.Contains(t, out, ":red_circle: Issues detected")
	assert.Contains(t, out, "invalid_auth")
}

func TestAdminReload(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "SOUL.md"), []byte("You are IAN."), 0o644))

	h.d.Dispatch(context.Background(), ownerMsg("!reload"))

	out := h.lastPost(t)
	assert.Contains(t, out, "*Reloaded workspace files:*")
	assert.Contains(t, out, "• `SOUL.md` — 12 chars")
	assert.Contains(t, out, "• `USER.md` — :warning: not found")
	assert.Contains(t, out, "Total startup context: 12 chars (~3 tokens)")

	blocks := h.d.systemWith("")
	require.Len(t, blocks, 1)
	assert.Equal(t, "You are IAN.", blocks[0].Text)
	assert.True(t, blocks[0].Cache)
}

func TestAdminReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.stores.Sessions.GetOrCreate(ctx, "C_OWNER")
	require.NoError(t, err)

	h.d.Dispatch(ctx, ownerMsg("!reset"))
	assert.Equal(t, ":white_check_mark: Session reset. Starting fresh.", h.lastPost(t))

	second, err := h.stores.Sessions.GetOrCreate(ctx, "C_OWNER")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "0", groupThousands(0))
	assert.Equal(t, "999", groupThousands(999))
	assert.Equal(t, "1,000", groupThousands(1000))
	assert.Equal(t, "12,345", groupThousands(12345))
	assert.Equal(t, "1,234,567", groupThousands(1234567))
}
