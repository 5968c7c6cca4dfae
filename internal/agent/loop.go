// Package agent drives the model ↔ tool loop: call the model, execute any
// tool_use blocks it returns (through the policy allow-list and the owner
// approval gate), feed results back, repeat until the model answers in text
// or the round budget runs out.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nextlevelbuilder/ian/internal/audit"
	"github.com/nextlevelbuilder/ian/internal/providers"
	"github.com/nextlevelbuilder/ian/internal/tools"
)

// MaxToolRounds bounds how many model calls one message may trigger.
const MaxToolRounds = 8

const (
	blockedByPolicyMsg = "Tool blocked by IAN policy for this intent."
	rejectedByUserMsg  = "Tool rejected by user."
	maxRoundsMsg       = "(max tool rounds reached — please try again)"
)

// Approver gates dangerous tool calls on an owner decision.
type Approver interface {
	Request(ctx context.Context, toolName string, inputs map[string]interface{}) bool
}

// Loop runs bounded tool-use rounds against one provider.
type Loop struct {
	provider  providers.Provider
	registry  *tools.Registry
	gate      Approver
	audit     *audit.Logger
	maxRounds int
}

func NewLoop(provider providers.Provider, registry *tools.Registry, gate Approver, auditLog *audit.Logger) *Loop {
	return &Loop{
		provider:  provider,
		registry:  registry,
		gate:      gate,
		audit:     auditLog,
		maxRounds: MaxToolRounds,
	}
}

// Request is one complete agent invocation.
type Request struct {
	Model        string
	MaxTokens    int
	System       []providers.SystemBlock
	Messages     []providers.Message
	AllowedTools map[string]bool // nil = all registered tools
}

// Run executes the tool-use loop. The returned usage belongs to the final
// model call; nil usage means the round budget was exhausted and nothing
// should be billed for the reply.
//
// A failing tool never aborts the loop — its result text tells the model
// what went wrong. Context cancellation is honored between rounds, not
// mid-call.
func (l *Loop) Run(ctx context.Context, req Request) (string, *providers.Usage, error) {
	messages := slices.Clone(req.Messages)
	toolDefs := l.registry.ProviderDefs(req.AllowedTools)

	for round := 1; round <= l.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		resp, err := l.provider.Chat(ctx, providers.ChatRequest{
			Model:     req.Model,
			MaxTokens: req.MaxTokens,
			System:    req.System,
			Messages:  messages,
			Tools:     toolDefs,
		})
		if err != nil {
			return "", nil, fmt.Errorf("model call: %w", err)
		}

		if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
			return resp.Content, resp.Usage, nil
		}

		slog.Info("tool round",
			"round", round,
			"calls", len(resp.ToolCalls),
			"model", req.Model)

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			messages = append(messages, l.runToolCall(ctx, tc, req.AllowedTools))
		}
	}

	return maxRoundsMsg, nil, nil
}

// runToolCall resolves one tool_use block into its tool-result message,
// enforcing the intent allow-list and the approval gate.
func (l *Loop) runToolCall(ctx context.Context, tc providers.ToolCall, allowed map[string]bool) providers.Message {
	if l.audit != nil {
		l.audit.ToolCall(tc.Name, tc.Arguments)
	}

	var res *tools.Result
	switch {
	case allowed != nil && !allowed[tc.Name]:
		res = tools.ErrorResult(blockedByPolicyMsg)
		if l.audit != nil {
			l.audit.ToolResult(tc.Name, false, "blocked by policy")
		}

	case l.registry.RequiresApproval(tc.Name) && !l.approve(ctx, tc):
		res = tools.ErrorResult(rejectedByUserMsg)
		if l.audit != nil {
			l.audit.ToolResult(tc.Name, false, rejectedByUserMsg)
		}

	default:
		res = l.registry.Execute(ctx, tc.Name, tc.Arguments)
		if l.audit != nil {
			l.audit.ToolResult(tc.Name, !res.IsError, res.ForLLM)
		}
	}

	return providers.Message{
		Role:       "tool",
		ToolCallID: tc.ID,
		Content:    res.ForLLM,
		IsError:    res.IsError,
	}
}

func (l *Loop) approve(ctx context.Context, tc providers.ToolCall) bool {
	if l.gate == nil {
		return false
	}
	return l.gate.Request(ctx, tc.Name, tc.Arguments)
}
