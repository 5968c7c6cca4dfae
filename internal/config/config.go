package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the IAN agent. It is loaded once at
// startup and passed explicitly to every constructor; nothing mutates it
// after Load returns.
type Config struct {
	Anthropic AnthropicConfig   `json:"anthropic"`
	Slack     SlackConfig       `json:"slack"`
	Memory    MemoryConfig      `json:"memory"`
	Budget    BudgetConfig      `json:"budget"`
	Heartbeat HeartbeatConfig   `json:"heartbeat"`
	Tools     ToolsConfig       `json:"tools"`
	Audit     AuditConfig       `json:"audit"`
	Scheduler SchedulerConfig   `json:"scheduler"`
	Approval  ApprovalConfig    `json:"approval"`
	Control   ControlConfig     `json:"control,omitempty"`
	Projects  ProjectsConfig    `json:"projects"`
	Telemetry TelemetryConfig   `json:"telemetry,omitempty"`
	Mcp       []McpServerConfig `json:"mcp,omitempty"`
}

// AnthropicConfig holds model ids and API behaviour.
// APIKey is never read from the config file — env IAN_ANTHROPIC_API_KEY only.
type AnthropicConfig struct {
	APIKey            string  `json:"-"`
	BaseURL           string  `json:"base_url,omitempty"`
	ModelDefault      string  `json:"model_default"`
	ModelHeavy        string  `json:"model_heavy"`
	MaxTokens         int     `json:"max_tokens"`
	PromptCaching     bool    `json:"prompt_caching"`
	RequestsPerMinute float64 `json:"requests_per_minute"`
}

// SlackConfig identifies the workspace surface: one owner, one control
// channel, optional client channels, and two publishing identities (one per
// model tier). Tokens come from env only.
type SlackConfig struct {
	OwnerUserID         string   `json:"owner_user_id"`
	ControlChannelID    string   `json:"control_channel_id"`
	TokenHaiku          string   `json:"-"`
	TokenSonnet         string   `json:"-"`
	ClientChannels      []string `json:"client_channels,omitempty"`
	PollIntervalSeconds int      `json:"poll_interval_seconds"`
	BaseURL             string   `json:"base_url,omitempty"`
}

// MemoryConfig configures the conversation store and markdown notes.
type MemoryConfig struct {
	DBPath                string   `json:"db_path"`
	MarkdownPath          string   `json:"markdown_path"`
	MaxConversationTokens int      `json:"max_conversation_tokens"`
	SummarizeAfterTurns   int      `json:"summarize_after_turns"`
	StartupFiles          []string `json:"startup_files"`
}

// BudgetConfig caps spend per UTC day and month.
type BudgetConfig struct {
	DailyLimitUSD   float64 `json:"daily_limit_usd"`
	DailyWarnPct    float64 `json:"daily_warn_pct"`
	MonthlyLimitUSD float64 `json:"monthly_limit_usd"`
	MonthlyWarnPct  float64 `json:"monthly_warn_pct"`
}

// HeartbeatConfig drives the periodic self-check.
type HeartbeatConfig struct {
	IntervalHours int  `json:"interval_hours"`
	UseModel      bool `json:"use_model"`
}

// ToolsConfig gathers per-tool settings and enable flags.
type ToolsConfig struct {
	Filesystem FilesystemToolConfig `json:"filesystem"`
	Shell      ShellToolConfig      `json:"shell"`
	Search     SearchToolConfig     `json:"search"`
}

// FilesystemToolConfig bounds filesystem tool access.
type FilesystemToolConfig struct {
	SafeRoots    []string `json:"safe_roots"`
	DenyPatterns []string `json:"deny_patterns"`
}

// ShellToolConfig bounds the shell_run tool.
type ShellToolConfig struct {
	Enabled         bool     `json:"enabled"`
	RequireApproval bool     `json:"require_approval"`
	TimeoutSeconds  int      `json:"timeout_seconds"`
	BlockedCommands []string `json:"blocked_commands"`
}

// SearchToolConfig configures web_search. BraveAPIKey from env only;
// without it the tool falls back to DuckDuckGo.
type SearchToolConfig struct {
	Enabled     bool   `json:"enabled"`
	BraveAPIKey string `json:"-"`
	MaxResults  int    `json:"max_results"`
}

// AuditConfig locates the per-day JSONL journal.
type AuditConfig struct {
	LogPath       string `json:"log_path"`
	RetentionDays int    `json:"retention_days"`
}

// SchedulerConfig holds cron lines for the periodic jobs.
type SchedulerConfig struct {
	Enabled           bool   `json:"enabled"`
	DailyBriefingCron string `json:"daily_briefing_cron"`
	WeeklyDigestCron  string `json:"weekly_digest_cron"`
	NightlyBackupCron string `json:"nightly_backup_cron"`
}

// ApprovalConfig tunes the human-in-the-loop gate.
type ApprovalConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
	PollSeconds    int `json:"poll_seconds"`
}

// ControlConfig points at the external runtime on/off endpoint.
// APIKey from env IAN_CONTROL_API_KEY only.
type ControlConfig struct {
	APIURL      string `json:"api_url,omitempty"`
	APIKey      string `json:"-"`
	SyncEnabled bool   `json:"sync_enabled"`
	PollSeconds int    `json:"poll_seconds"`
}

// ProjectsConfig locates the repo-root documents the Planner and the
// project-context injector read (PROJECT_CONTEXT.md, projects/, docs/, tasks/).
type ProjectsConfig struct {
	Root string `json:"root"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// McpServerConfig describes an external MCP tool server to mount.
// Either Command (stdio) or URL (streamable HTTP) is set.
type McpServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// PollInterval returns the poller sleep as a duration.
func (c *SlackConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// IsClientChannel reports whether the channel id is a configured client channel.
func (c *SlackConfig) IsClientChannel(channel string) bool {
	for _, id := range c.ClientChannels {
		if id == channel {
			return true
		}
	}
	return false
}

// ApprovalTimeout returns the gate timeout as a duration.
func (c *ApprovalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate fails fast, reporting every missing required key at once.
func (c *Config) Validate() error {
	var missing []string
	if c.Anthropic.APIKey == "" {
		missing = append(missing, "IAN_ANTHROPIC_API_KEY")
	}
	if c.Slack.OwnerUserID == "" {
		missing = append(missing, "IAN_SLACK_OWNER_USER_ID")
	}
	if c.Slack.ControlChannelID == "" {
		missing = append(missing, "IAN_SLACK_CONTROL_CHANNEL_ID")
	}
	if c.Slack.TokenHaiku == "" {
		missing = append(missing, "IAN_SLACK_TOKEN_HAIKU")
	}
	if c.Slack.TokenSonnet == "" {
		missing = append(missing, "IAN_SLACK_TOKEN_SONNET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Slack.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive, got %d", c.Slack.PollIntervalSeconds)
	}
	if c.Memory.MaxConversationTokens <= 0 {
		return fmt.Errorf("max_conversation_tokens must be positive, got %d", c.Memory.MaxConversationTokens)
	}
	return nil
}
