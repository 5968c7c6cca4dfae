package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			ModelDefault:      "claude-haiku-4-5-20251001",
			ModelHeavy:        "claude-sonnet-4-6",
			MaxTokens:         4096,
			PromptCaching:     true,
			RequestsPerMinute: 50,
		},
		Slack: SlackConfig{
			PollIntervalSeconds: 5,
		},
		Memory: MemoryConfig{
			DBPath:                "memory/ian.db",
			MarkdownPath:          "memory",
			MaxConversationTokens: 8000,
			SummarizeAfterTurns:   20,
			StartupFiles:          []string{"SOUL.md", "USER.md", "IDENTITY.md"},
		},
		Budget: BudgetConfig{
			DailyLimitUSD:   5.0,
			DailyWarnPct:    0.75,
			MonthlyLimitUSD: 200.0,
			MonthlyWarnPct:  0.75,
		},
		Heartbeat: HeartbeatConfig{
			IntervalHours: 6,
		},
		Tools: ToolsConfig{
			Filesystem: FilesystemToolConfig{
				SafeRoots:    []string{"."},
				DenyPatterns: []string{".env", ".git/config", "id_rsa"},
			},
			Shell: ShellToolConfig{
				Enabled:         true,
				RequireApproval: true,
				TimeoutSeconds:  30,
				BlockedCommands: []string{"rm -rf", "sudo rm", "pkill"},
			},
			Search: SearchToolConfig{
				Enabled:    true,
				MaxResults: 5,
			},
		},
		Audit: AuditConfig{
			LogPath:       "transcripts",
			RetentionDays: 90,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			DailyBriefingCron: "0 8 * * 1-5",
			WeeklyDigestCron:  "0 9 * * 1",
			NightlyBackupCron: "0 2 * * *",
		},
		Approval: ApprovalConfig{
			TimeoutSeconds: 120,
			PollSeconds:    3,
		},
		Control: ControlConfig{
			PollSeconds: 30,
		},
		Projects: ProjectsConfig{
			Root: ".",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "ian",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — env-only configuration is the common case.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	// Secrets: env only, never persisted in the config file.
	envStr("IAN_ANTHROPIC_API_KEY", &c.Anthropic.APIKey)
	envStr("IAN_SLACK_TOKEN_HAIKU", &c.Slack.TokenHaiku)
	envStr("IAN_SLACK_TOKEN_SONNET", &c.Slack.TokenSonnet)
	envStr("IAN_BRAVE_API_KEY", &c.Tools.Search.BraveAPIKey)
	envStr("IAN_CONTROL_API_KEY", &c.Control.APIKey)

	envStr("IAN_ANTHROPIC_BASE_URL", &c.Anthropic.BaseURL)
	envStr("IAN_MODEL_DEFAULT", &c.Anthropic.ModelDefault)
	envStr("IAN_MODEL_HEAVY", &c.Anthropic.ModelHeavy)
	envInt("IAN_MAX_TOKENS", &c.Anthropic.MaxTokens)
	envBool("IAN_PROMPT_CACHING", &c.Anthropic.PromptCaching)
	envFloat("IAN_ANTHROPIC_RPM", &c.Anthropic.RequestsPerMinute)

	envStr("IAN_SLACK_OWNER_USER_ID", &c.Slack.OwnerUserID)
	envStr("IAN_SLACK_CONTROL_CHANNEL_ID", &c.Slack.ControlChannelID)
	envList("IAN_SLACK_CLIENT_CHANNELS", &c.Slack.ClientChannels)
	envInt("IAN_POLL_INTERVAL_SECONDS", &c.Slack.PollIntervalSeconds)
	envStr("IAN_SLACK_BASE_URL", &c.Slack.BaseURL)

	envStr("IAN_DB_PATH", &c.Memory.DBPath)
	envStr("IAN_MARKDOWN_PATH", &c.Memory.MarkdownPath)
	envInt("IAN_MAX_CONVERSATION_TOKENS", &c.Memory.MaxConversationTokens)
	envInt("IAN_SUMMARIZE_AFTER_TURNS", &c.Memory.SummarizeAfterTurns)
	envList("IAN_STARTUP_FILES", &c.Memory.StartupFiles)

	envFloat("IAN_BUDGET_DAILY_LIMIT_USD", &c.Budget.DailyLimitUSD)
	envFloat("IAN_BUDGET_DAILY_WARN_PCT", &c.Budget.DailyWarnPct)
	envFloat("IAN_BUDGET_MONTHLY_LIMIT_USD", &c.Budget.MonthlyLimitUSD)
	envFloat("IAN_BUDGET_MONTHLY_WARN_PCT", &c.Budget.MonthlyWarnPct)

	envInt("IAN_HEARTBEAT_INTERVAL_HOURS", &c.Heartbeat.IntervalHours)
	envBool("IAN_HEARTBEAT_USE_MODEL", &c.Heartbeat.UseModel)

	envList("IAN_FS_SAFE_ROOTS", &c.Tools.Filesystem.SafeRoots)
	envList("IAN_FS_DENY_PATTERNS", &c.Tools.Filesystem.DenyPatterns)
	envBool("IAN_SHELL_ENABLED", &c.Tools.Shell.Enabled)
	envBool("IAN_SHELL_REQUIRE_APPROVAL", &c.Tools.Shell.RequireApproval)
	envInt("IAN_SHELL_TIMEOUT_SECONDS", &c.Tools.Shell.TimeoutSeconds)
	envList("IAN_SHELL_BLOCKED_COMMANDS", &c.Tools.Shell.BlockedCommands)
	envBool("IAN_SEARCH_ENABLED", &c.Tools.Search.Enabled)
	envInt("IAN_SEARCH_MAX_RESULTS", &c.Tools.Search.MaxResults)

	envStr("IAN_AUDIT_LOG_PATH", &c.Audit.LogPath)
	envInt("IAN_AUDIT_RETENTION_DAYS", &c.Audit.RetentionDays)

	envBool("IAN_SCHEDULER_ENABLED", &c.Scheduler.Enabled)
	envStr("IAN_DAILY_BRIEFING_CRON", &c.Scheduler.DailyBriefingCron)
	envStr("IAN_WEEKLY_DIGEST_CRON", &c.Scheduler.WeeklyDigestCron)
	envStr("IAN_NIGHTLY_BACKUP_CRON", &c.Scheduler.NightlyBackupCron)

	envInt("IAN_APPROVAL_TIMEOUT_SECONDS", &c.Approval.TimeoutSeconds)
	envInt("IAN_APPROVAL_POLL_SECONDS", &c.Approval.PollSeconds)

	envStr("IAN_CONTROL_API_URL", &c.Control.APIURL)
	envBool("IAN_CONTROL_SYNC_ENABLED", &c.Control.SyncEnabled)
	envInt("IAN_CONTROL_POLL_SECONDS", &c.Control.PollSeconds)

	envStr("IAN_PROJECT_ROOT", &c.Projects.Root)

	envBool("IAN_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("IAN_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("IAN_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("IAN_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("IAN_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}
