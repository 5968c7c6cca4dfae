package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ian/internal/agent"
	"github.com/nextlevelbuilder/ian/internal/audit"
	"github.com/nextlevelbuilder/ian/internal/bootstrap"
	"github.com/nextlevelbuilder/ian/internal/budget"
	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/config"
	"github.com/nextlevelbuilder/ian/internal/dispatch"
	"github.com/nextlevelbuilder/ian/internal/ingest"
	"github.com/nextlevelbuilder/ian/internal/mcp"
	"github.com/nextlevelbuilder/ian/internal/memory"
	"github.com/nextlevelbuilder/ian/internal/obs"
	"github.com/nextlevelbuilder/ian/internal/persona"
	"github.com/nextlevelbuilder/ian/internal/projects"
	"github.com/nextlevelbuilder/ian/internal/providers"
	"github.com/nextlevelbuilder/ian/internal/runtime"
	"github.com/nextlevelbuilder/ian/internal/schedule"
	"github.com/nextlevelbuilder/ian/internal/store"
	"github.com/nextlevelbuilder/ian/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent (default when no command is given)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// fatal reports a startup failure and exits. Before the pool is running
// there is no channel to post errors to, so the process log is the surface.
func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fatal("load config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Memory.DBPath)
	if err != nil {
		fatal("open database", err)
	}
	defer st.Close()
	schemaVersion, err := store.Migrate(st.DB)
	if err != nil {
		fatal("migrate database", err)
	}
	slog.Info("database ready", "path", cfg.Memory.DBPath, "schema", schemaVersion)

	auditLog, err := audit.New(cfg.Audit.LogPath)
	if err != nil {
		fatal("open audit journal", err)
	}

	// Two publishing identities. Both must authenticate: the sender account
	// encodes the model tier, and self-filtering needs both user ids.
	haiku := chat.NewSlackClient(cfg.Slack.TokenHaiku, cfg.Slack.BaseURL)
	sonnet := chat.NewSlackClient(cfg.Slack.TokenSonnet, cfg.Slack.BaseURL)

	haikuInfo, err := haiku.AuthTest(ctx)
	if err != nil {
		fatal("haiku identity auth failed", err)
	}
	sonnetInfo, err := sonnet.AuthTest(ctx)
	if err != nil {
		fatal("sonnet identity auth failed", err)
	}
	slog.Info("chat identities verified",
		"haiku", haikuInfo.User,
		"sonnet", sonnetInfo.User,
		"team", haikuInfo.Team)
	selfIDs := []string{haikuInfo.UserID, sonnetInfo.UserID}

	shutdownTracing, err := obs.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing setup failed, continuing without", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	if created, err := bootstrap.EnsureWorkspaceFiles(cfg.Projects.Root); err != nil {
		slog.Warn("workspace seeding failed", "error", err)
	} else if len(created) > 0 {
		slog.Info("workspace files seeded", "files", created)
	}
	baseSystem := bootstrap.LoadStartupContext(cfg.Projects.Root, cfg.Memory.StartupFiles, cfg.Anthropic.PromptCaching)

	md, err := memory.NewMarkdown(cfg.Memory.MarkdownPath)
	if err != nil {
		fatal("open markdown memory", err)
	}

	provider := providers.NewAnthropicProvider(cfg.Anthropic.APIKey,
		providers.WithAnthropicModel(cfg.Anthropic.ModelDefault),
		providers.WithAnthropicBaseURL(cfg.Anthropic.BaseURL),
		providers.WithAnthropicMaxTokens(cfg.Anthropic.MaxTokens),
		providers.WithRequestsPerMinute(cfg.Anthropic.RequestsPerMinute))

	history := memory.NewHistory(st.Sessions, cfg.Memory.MaxConversationTokens)
	summarizer := memory.NewSummarizer(st.Sessions, history, provider,
		cfg.Anthropic.ModelDefault, cfg.Memory.SummarizeAfterTurns)
	tracker := budget.NewTracker(st.Budget, cfg.Budget)

	projRouter, err := projects.NewRouter(filepath.Join(cfg.Projects.Root, "projects"))
	if err != nil {
		fatal("open project context router", err)
	}
	defer projRouter.Close()

	registry := tools.NewRegistry()
	registerBuiltinTools(registry, cfg, st)

	mcpMgr := mcp.NewManager(registry, cfg.Mcp)
	if err := mcpMgr.Start(ctx); err != nil {
		slog.Warn("some mcp servers unavailable", "error", err)
	}
	defer mcpMgr.Stop()

	approvals := tools.NewGate(haiku, cfg.Slack.OwnerUserID, cfg.Slack.ControlChannelID, cfg.Approval)
	loop := agent.NewLoop(provider, registry, approvals, auditLog)

	gate := runtime.NewGate(cfg.Control)
	go gate.Run(ctx)

	// The brainstormer hands an approved task to the planner by enqueueing a
	// synthesized message. The pool is built after the dispatcher, so the
	// closure binds it late.
	var pool *ingest.Pool
	personaDeps := persona.Deps{
		Cfg:        cfg,
		Loop:       loop,
		Sessions:   st.Sessions,
		History:    history,
		Budget:     tracker,
		Backlog:    st.Backlog,
		Audit:      auditLog,
		Haiku:      haiku,
		Sonnet:     sonnet,
		Docs:       persona.NewContextLoader(cfg.Projects.Root),
		BaseSystem: baseSystem,
		Enqueue:    func(m chat.Message) { pool.Enqueue(m) },
	}

	dispatcher := dispatch.New(dispatch.Deps{
		Cfg:          cfg,
		DB:           st.DB,
		Loop:         loop,
		Sessions:     st.Sessions,
		Notes:        st.Notes,
		Backlog:      st.Backlog,
		History:      history,
		Summarizer:   summarizer,
		Budget:       tracker,
		Audit:        auditLog,
		Registry:     registry,
		Projects:     projRouter,
		Gate:         gate,
		Haiku:        haiku,
		Sonnet:       sonnet,
		Brainstormer: persona.NewBrainstormer(personaDeps),
		Planner:      persona.NewPlanner(personaDeps),
		BaseSystem:   baseSystem,
	})
	pool = ingest.New(cfg, haiku, dispatcher, selfIDs)

	sched := schedule.New(cfg, haiku, st.DB, provider, st.Notes, md, auditLog)
	go sched.Run(ctx)

	auditLog.Startup(Version, map[string]any{
		"model_default":   cfg.Anthropic.ModelDefault,
		"model_heavy":     cfg.Anthropic.ModelHeavy,
		"client_channels": len(cfg.Slack.ClientChannels),
	})
	slog.Info("ian started",
		"version", Version,
		"model_default", cfg.Anthropic.ModelDefault,
		"model_heavy", cfg.Anthropic.ModelHeavy,
		"poll_interval", cfg.Slack.PollInterval(),
		"client_channels", len(cfg.Slack.ClientChannels))

	if err := pool.Run(ctx); err != nil {
		slog.Error("ingest pool stopped with error", "error", err)
	}

	auditLog.Shutdown("signal")
	slog.Info("ian stopped")
}
