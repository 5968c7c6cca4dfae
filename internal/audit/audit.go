// Package audit writes per-day JSONL transcripts of everything the agent
// does: messages in and out, tool calls, model choices, policy decisions,
// and cost events.
//
// Design rules:
//   - One JSON object per line
//   - Writes never fail the caller; logging failure must not crash the agent
//   - Safe for concurrent use
//   - New file each UTC day automatically
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ian/internal/security"
)

// Event is an audit event kind. The set is closed so transcripts stay
// machine-greppable; unknown kinds are logged with a warning.
type Event string

const (
	EventUserMessage    Event = "user_message"
	EventAgentReply     Event = "agent_reply"
	EventToolCall       Event = "tool_call"
	EventToolResult     Event = "tool_result"
	EventModelSelected  Event = "model_selected"
	EventPolicyDecision Event = "policy_decision"
	EventCacheMetrics   Event = "cache_metrics"
	EventCostEvent      Event = "cost_event"
	EventHeartbeat      Event = "heartbeat"
	EventError          Event = "error"
	EventStartup        Event = "startup"
	EventShutdown       Event = "shutdown"
)

var knownEvents = map[Event]bool{
	EventUserMessage: true, EventAgentReply: true,
	EventToolCall: true, EventToolResult: true,
	EventModelSelected: true, EventPolicyDecision: true,
	EventCacheMetrics: true, EventCostEvent: true,
	EventHeartbeat: true, EventError: true,
	EventStartup: true, EventShutdown: true,
}

const (
	replyTruncateLen   = 500
	previewTruncateLen = 100
)

// Logger appends audit records to transcripts/YYYY-MM-DD.jsonl under the
// configured log path.
type Logger struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// New creates the transcripts directory and returns a ready logger.
func New(logPath string) (*Logger, error) {
	dir := filepath.Join(logPath, "transcripts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcripts dir: %w", err)
	}
	return &Logger{dir: dir, now: time.Now}, nil
}

func (l *Logger) todayPath() string {
	return filepath.Join(l.dir, l.now().UTC().Format("2006-01-02")+".jsonl")
}

// Log writes one event to today's transcript. It never returns an error.
func (l *Logger) Log(event Event, data map[string]any) {
	if !knownEvents[event] {
		slog.Warn("unknown audit event type", "event", string(event))
	}

	record := map[string]any{
		"ts":    l.now().UTC().Format(time.RFC3339),
		"event": string(event),
	}
	for k, v := range data {
		record[k] = v
	}

	line, err := json.Marshal(record)
	if err != nil {
		slog.Error("marshal audit record", "event", string(event), "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.todayPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("open transcript file", "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Error("write audit record", "error", err)
	}
}

// UserMessage records an incoming message. Text is redacted so tokens
// pasted into chat never land in transcripts.
func (l *Logger) UserMessage(userID, text, channel string) {
	l.Log(EventUserMessage, map[string]any{
		"user_id": userID,
		"channel": channel,
		"text":    security.RedactSecrets(text),
	})
}

// AgentReply records an outgoing model response, truncated for the log.
func (l *Logger) AgentReply(text, model string, inputTokens, outputTokens, cacheWritten, cacheRead int) {
	l.Log(EventAgentReply, map[string]any{
		"model":         model,
		"text":          security.RedactSecrets(truncate(text, replyTruncateLen)),
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
		"cache_written": cacheWritten,
		"cache_read":    cacheRead,
	})
}

// ToolCall records a tool execution request with its raw inputs.
func (l *Logger) ToolCall(toolName string, inputs map[string]any) {
	l.Log(EventToolCall, map[string]any{"tool": toolName, "inputs": inputs})
}

// ToolResult records the outcome of a tool execution, truncated.
func (l *Logger) ToolResult(toolName string, success bool, output string) {
	l.Log(EventToolResult, map[string]any{
		"tool":    toolName,
		"success": success,
		"output":  security.RedactSecrets(truncate(output, replyTruncateLen)),
	})
}

// ModelSelected records which model the router chose and why.
func (l *Logger) ModelSelected(model, reason, textPreview string) {
	l.Log(EventModelSelected, map[string]any{
		"model":        model,
		"reason":       reason,
		"text_preview": truncate(textPreview, previewTruncateLen),
	})
}

// PolicyDecision records an intent policy gate outcome.
func (l *Logger) PolicyDecision(intent string, confidence float64, decision, ticketID, modelUsed, reason string) {
	l.Log(EventPolicyDecision, map[string]any{
		"intent":          intent,
		"confidence":      confidence,
		"policy_decision": decision,
		"ticket_id":       ticketID,
		"model_used":      modelUsed,
		"reason":          reason,
	})
}

// CostEvent records token usage for one API call.
func (l *Logger) CostEvent(model string, inputTokens, outputTokens, cacheWritten, cacheRead int) {
	l.Log(EventCostEvent, map[string]any{
		"model":         model,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
		"cache_written": cacheWritten,
		"cache_read":    cacheRead,
	})
}

// Heartbeat records a periodic health check result.
func (l *Logger) Heartbeat(ok bool, details map[string]any) {
	data := map[string]any{"ok": ok}
	for k, v := range details {
		data[k] = v
	}
	l.Log(EventHeartbeat, data)
}

// Error records an error event.
func (l *Logger) Error(message string, err error) {
	data := map[string]any{"message": security.RedactSecrets(message)}
	if err != nil {
		data["detail"] = security.RedactSecrets(err.Error())
	}
	l.Log(EventError, data)
}

// Startup records process start.
func (l *Logger) Startup(version string, extra map[string]any) {
	data := map[string]any{"version": version}
	for k, v := range extra {
		data[k] = v
	}
	l.Log(EventStartup, data)
}

// Shutdown records process stop. Best-effort on the way out.
func (l *Logger) Shutdown(reason string) {
	l.Log(EventShutdown, map[string]any{"reason": reason})
}

// Prune deletes transcript files older than retentionDays. Returns the
// number of files removed.
func (l *Logger) Prune(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("read transcripts dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".jsonl" {
			continue
		}
		day := name[:len(name)-len(".jsonl")]
		// Per-day filenames sort lexicographically by date.
		if day < cutoff {
			if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
				slog.Warn("prune transcript failed", "file", name, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && (s[max]&0xC0) == 0x80 {
		max--
	}
	return s[:max]
}
