package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/ian/internal/bootstrap"
	"github.com/nextlevelbuilder/ian/internal/chat"
)

const helpText = "*IAN — Available Commands*\n```\n" +
	"!status              Agent status, model, cache hit rate\n" +
	"!help                This message\n" +
	"!cost                Today's API spend by model\n" +
	"!budget              Daily/monthly budget status\n" +
	"!memory <query>      Search memory notes\n" +
	"!tools               List available tools\n" +
	"!history [n]         Show last N conversation turns (default 10)\n" +
	"!health              Check all subsystems\n" +
	"!reload              Reload workspace files from disk\n" +
	"!reset               End session and start fresh\n" +
	"!sonnet <prompt>     Force Sonnet for this message\n" +
	"```"

// adminCommand reports whether text was consumed as an owner command. These
// run before the runtime gate so the owner can always inspect a paused agent.
func (d *Dispatcher) adminCommand(ctx context.Context, msg chat.Message, text string) bool {
	lower := strings.ToLower(text)

	var reply string
	switch lower {
	case "!status":
		reply = d.cmdStatus(ctx, msg.Channel)
	case "!help":
		reply = helpText
	case "!cost":
		reply = d.cmdCost(ctx)
	case "!budget":
		reply = d.cmdBudget(ctx)
	case "!tools":
		reply = d.cmdTools()
	case "!health":
		reply = d.cmdHealth(ctx)
	case "!reload":
		reply = d.cmdReload()
	case "!reset":
		reply = d.cmdReset(ctx, msg.Channel)
	default:
		switch {
		case lower == "!memory" || strings.HasPrefix(lower, "!memory "):
			reply = d.cmdMemory(ctx, strings.TrimSpace(text[len("!memory"):]))
		case lower == "!history" || strings.HasPrefix(lower, "!history "):
			n := 10
			if parts := strings.Fields(text); len(parts) > 1 {
				if v, err := strconv.Atoi(parts[1]); err == nil && v > 0 {
					n = v
				}
			}
			reply = d.cmdHistory(ctx, msg.Channel, n)
		default:
			return false
		}
	}

	d.post(ctx, d.deps.Haiku, msg.Channel, reply, msg.ThreadTS)
	return true
}

func (d *Dispatcher) cmdStatus(ctx context.Context, channel string) string {
	turns := 0
	if sessionID, err := d.deps.Sessions.GetOrCreate(ctx, channel); err == nil {
		if n, err := d.deps.Sessions.TurnCount(ctx, sessionID); err == nil {
			turns = n
		}
	}
	cache := "disabled"
	if d.deps.Cfg.Anthropic.PromptCaching {
		cache = "enabled"
	}
	hb := "ping"
	if d.deps.Cfg.Heartbeat.UseModel {
		hb = "model"
	}

	return strings.Join([]string{
		":robot_face: *IAN — Agent Status*",
		"*Status:* :green_circle: Online",
		"*Time:* " + time.Now().UTC().Format("2006-01-02 15:04 UTC"),
		fmt.Sprintf("*Uptime:* %s", time.Since(d.startedAt).Round(time.Second)),
		fmt.Sprintf("*Session turns:* %d", turns),
		fmt.Sprintf("*Default model:* `%s`", d.deps.Cfg.Anthropic.ModelDefault),
		fmt.Sprintf("*Heavy model:* `%s`", d.deps.Cfg.Anthropic.ModelHeavy),
		"*Prompt cache:* " + cache,
		fmt.Sprintf("*Heartbeat:* %s every %dh", hb, d.deps.Cfg.Heartbeat.IntervalHours),
		fmt.Sprintf("*Daily budget:* $%.2f", d.deps.Cfg.Budget.DailyLimitUSD),
		fmt.Sprintf("*Monthly budget:* $%.2f", d.deps.Cfg.Budget.MonthlyLimitUSD),
		"Use `!help` to see all commands.",
	}, "\n")
}

func (d *Dispatcher) cmdCost(ctx context.Context) string {
	rows, err := d.deps.Budget.TodayByModel(ctx)
	if err != nil {
		slog.Error("cost query failed", "error", err)
		return ":red_circle: Could not read today's spend. Check logs."
	}
	if len(rows) == 0 {
		return ":white_check_mark: No API calls today yet — $0.00 spent."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Today's API spend (%s)*\n", time.Now().UTC().Format("2006-01-02"))
	var total float64
	for _, r := range rows {
		hit := 0.0
		if denom := r.CacheRead + r.CacheWritten; denom > 0 {
			hit = float64(r.CacheRead) / float64(denom) * 100
		}
		fmt.Fprintf(&b, "• `%s` — %d calls | $%.5f | cache hit %.0f%%\n", r.Model, r.Calls, r.CostUSD, hit)
		total += r.CostUSD
	}
	fmt.Fprintf(&b, "*Total: $%.5f*", total)
	return b.String()
}

func (d *Dispatcher) cmdBudget(ctx context.Context) string {
	status, err := d.deps.Budget.Check(ctx)
	if err != nil {
		slog.Error("budget query failed", "error", err)
		return ":red_circle: Could not read budget status. Check logs."
	}
	icon := ":white_check_mark:"
	switch {
	case status.Blocked():
		icon = ":no_entry:"
	case status.Warned():
		icon = ":warning:"
	}
	return icon + " *Budget Status*\n" + status.Summary()
}

func (d *Dispatcher) cmdMemory(ctx context.Context, query string) string {
	if query == "" {
		return "Usage: `!memory <search terms>`"
	}
	notes, err := d.deps.Notes.Search(ctx, query, 5)
	if err != nil {
		// FTS chokes on some operator characters; treat that as no matches.
		slog.Warn("memory search failed", "query", query, "error", err)
		notes = nil
	}
	if len(notes) == 0 {
		return fmt.Sprintf("No memory notes matching `%s`.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Memory search: `%s`*", query)
	for _, n := range notes {
		tags := ""
		if n.Tags != "" {
			tags = fmt.Sprintf(" `%s`", n.Tags)
		}
		fmt.Fprintf(&b, "\n• *%s*%s\n  %s", n.Key, tags, clip(n.Content, 150))
	}
	return b.String()
}

func (d *Dispatcher) cmdTools() string {
	names := d.deps.Registry.Names()
	if len(names) == 0 {
		return "No tools registered."
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("*Registered Tools*\n```\n")
	for _, name := range names {
		if d.deps.Registry.RequiresApproval(name) {
			fmt.Fprintf(&b, "⚠ approval  %s\n", name)
		} else {
			fmt.Fprintf(&b, "      auto  %s\n", name)
		}
	}
	b.WriteString("```")
	return b.String()
}

func (d *Dispatcher) cmdHistory(ctx context.Context, channel string, n int) string {
	sessionID, err := d.deps.Sessions.GetOrCreate(ctx, channel)
	if err != nil {
		slog.Error("history lookup failed", "channel", channel, "error", err)
		return ":red_circle: Could not load history. Check logs."
	}
	window, err := d.deps.History.Window(ctx, sessionID)
	if err != nil {
		slog.Error("history lookup failed", "session_id", sessionID, "error", err)
		return ":red_circle: Could not load history. Check logs."
	}
	if len(window) == 0 {
		return "No conversation history in this session."
	}

	if limit := n * 2; len(window) > limit {
		window = window[len(window)-limit:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Last %d messages*", len(window))
	for _, m := range window {
		speaker := "*IAN:*"
		if m.Role == "user" {
			speaker = "*You:*"
		}
		content := strings.ReplaceAll(m.Content, "\n", " ")
		fmt.Fprintf(&b, "\n%s %s", speaker, clip(content, 120))
	}
	return b.String()
}

type healthCheck struct {
	name   string
	ok     bool
	detail string
}

func (d *Dispatcher) cmdHealth(ctx context.Context) string {
	checks := make([]healthCheck, 0, 5)

	if info, err := d.deps.Haiku.AuthTest(ctx); err != nil {
		checks = append(checks, healthCheck{"Slack", false, clip(err.Error(), 80)})
	} else {
		checks = append(checks, healthCheck{"Slack", true, "@" + info.User})
	}

	var events int
	if err := d.deps.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM budget_events").Scan(&events); err != nil {
		checks = append(checks, healthCheck{"SQLite", false, clip(err.Error(), 80)})
	} else {
		checks = append(checks, healthCheck{"SQLite", true,
			fmt.Sprintf("%s (%d budget events)", filepath.Base(d.deps.Cfg.Memory.DBPath), events)})
	}

	if status, err := d.deps.Budget.Check(ctx); err != nil {
		checks = append(checks, healthCheck{"Budget", false, clip(err.Error(), 80)})
	} else {
		checks = append(checks, healthCheck{"Budget", !status.Blocked(),
			fmt.Sprintf("$%.4f / $%.2f today", status.DailySpent, status.DailyLimit)})
	}

	checks = append(checks, dirCheck("Memory", d.deps.Cfg.Memory.MarkdownPath))
	checks = append(checks, dirCheck("Audit", filepath.Join(d.deps.Cfg.Audit.LogPath, "transcripts")))

	header := ":white_check_mark: All systems healthy"
	for _, c := range checks {
		if !c.ok {
			header = ":red_circle: Issues detected"
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*IAN Health Check — %s UTC*\n%s", time.Now().UTC().Format("15:04"), header)
	for _, c := range checks {
		icon := ":white_check_mark:"
		if !c.ok {
			icon = ":red_circle:"
		}
		fmt.Fprintf(&b, "\n%s *%s*\n%s", icon, c.name, c.detail)
	}
	fmt.Fprintf(&b, "\nOS: %s/%s | %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
	return b.String()
}

func dirCheck(name, path string) healthCheck {
	fi, err := os.Stat(path)
	switch {
	case err != nil:
		return healthCheck{name, false, clip(err.Error(), 80)}
	case !fi.IsDir():
		return healthCheck{name, false, path + " is not a directory"}
	default:
		return healthCheck{name, true, path}
	}
}

// cmdReload rebuilds the cached system prompt from the workspace files and
// re-reads the project routing table.
func (d *Dispatcher) cmdReload() string {
	cfg := d.deps.Cfg
	blocks := bootstrap.LoadStartupContext(cfg.Projects.Root, cfg.Memory.StartupFiles, cfg.Anthropic.PromptCaching)
	d.mu.Lock()
	d.baseSystem = blocks
	d.mu.Unlock()
	d.deps.Projects.Reload()

	var b strings.Builder
	b.WriteString("*Reloaded workspace files:*")
	total := 0
	for _, name := range cfg.Memory.StartupFiles {
		raw, err := os.ReadFile(filepath.Join(cfg.Projects.Root, name))
		if err != nil {
			fmt.Fprintf(&b, "\n• `%s` — :warning: not found", name)
			continue
		}
		chars := utf8.RuneCount(raw)
		total += chars
		fmt.Fprintf(&b, "\n• `%s` — %s chars", name, groupThousands(chars))
	}
	fmt.Fprintf(&b, "\nTotal startup context: %s chars (~%s tokens)", groupThousands(total), groupThousands(total/4))
	return b.String()
}

func (d *Dispatcher) cmdReset(ctx context.Context, channel string) string {
	sessionID, err := d.deps.Sessions.GetOrCreate(ctx, channel)
	if err == nil {
		err = d.deps.Sessions.End(ctx, sessionID)
	}
	if err != nil {
		slog.Error("session reset failed", "channel", channel, "error", err)
		return ":red_circle: Could not reset the session. Check logs."
	}
	return ":white_check_mark: Session reset. Starting fresh."
}

// groupThousands renders 12345 as "12,345".
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
