package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/config"
)

const (
	approvePrefix     = "approve"
	rejectPrefix      = "reject"
	inputsPreviewMax  = 300
	approvalPollLimit = 10
)

// Gate is the human-in-the-loop check for dangerous tool calls. It posts an
// approval request to the control channel, then polls channel history for
// the owner's "approve <id>" / "reject <id>" reply. Rejection and timeout
// both deny. The gate blocks the calling worker only; other channels keep
// processing.
type Gate struct {
	client  chat.Client
	ownerID string
	channel string
	timeout time.Duration
	poll    time.Duration
}

func NewGate(client chat.Client, ownerID, channelID string, cfg config.ApprovalConfig) *Gate {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	poll := time.Duration(cfg.PollSeconds) * time.Second
	if poll <= 0 {
		poll = 3 * time.Second
	}
	return &Gate{
		client:  client,
		ownerID: ownerID,
		channel: channelID,
		timeout: timeout,
		poll:    poll,
	}
}

// Request posts the approval prompt and blocks until the owner approves,
// rejects, or the timeout expires. Returns true only on approval.
func (g *Gate) Request(ctx context.Context, toolName string, inputs map[string]interface{}) bool {
	requestID := uuid.NewString()[:8]

	prompt := fmt.Sprintf(
		":warning: *Tool approval required*\n"+
			"*Tool:* `%s`\n"+
			"*Inputs:* ```%s```\n"+
			"*Request ID:* `%s`\n\n"+
			"Reply with:\n"+
			"• `%s %s` to allow\n"+
			"• `%s %s` to deny\n"+
			"_Timeout in %ds_",
		toolName, previewInputs(inputs), requestID,
		approvePrefix, requestID, rejectPrefix, requestID,
		int(g.timeout.Seconds()),
	)

	sentTS, err := g.client.PostMessage(ctx, g.channel, prompt, "")
	if err != nil {
		slog.Error("approval request post failed", "tool", toolName, "error", err)
		return false
	}
	slog.Info("approval requested", "tool", toolName, "request_id", requestID, "timeout", g.timeout)

	deadline := time.Now().Add(g.timeout)
	cursor := sentTS

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(g.poll):
		}

		msgs, err := g.client.History(ctx, g.channel, cursor, approvalPollLimit)
		if err != nil {
			slog.Warn("approval poll failed", "tool", toolName, "error", err)
			continue
		}

		// History is newest first; scan in arrival order.
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			if m.User != g.ownerID {
				continue
			}
			text := strings.ToLower(strings.TrimSpace(m.Text))
			switch {
			case strings.HasPrefix(text, approvePrefix) && strings.Contains(text, requestID):
				slog.Info("approval granted", "tool", toolName, "request_id", requestID)
				g.post(ctx, fmt.Sprintf(":white_check_mark: Approved — running `%s`", toolName))
				return true
			case strings.HasPrefix(text, rejectPrefix) && strings.Contains(text, requestID):
				slog.Info("approval rejected", "tool", toolName, "request_id", requestID)
				g.post(ctx, fmt.Sprintf(":x: Rejected — `%s` was not run.", toolName))
				return false
			}
		}
		if len(msgs) > 0 {
			cursor = msgs[0].TS
		}
	}

	slog.Warn("approval timed out", "tool", toolName, "request_id", requestID)
	g.post(ctx, fmt.Sprintf(":timer_clock: Approval timed out after %ds — `%s` was not run.",
		int(g.timeout.Seconds()), toolName))
	return false
}

func (g *Gate) post(ctx context.Context, text string) {
	if _, err := g.client.PostMessage(ctx, g.channel, text, ""); err != nil {
		slog.Warn("approval notice post failed", "error", err)
	}
}

func previewInputs(inputs map[string]interface{}) string {
	b, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Sprintf("%v", inputs)
	}
	s := string(b)
	if len(s) > inputsPreviewMax {
		s = s[:inputsPreviewMax]
	}
	return s
}
