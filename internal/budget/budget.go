// Package budget tracks API spend against daily and monthly limits.
//
// Flow: after each model call RecordUsage persists a cost event; before
// each call Check returns a Status with warn/block flags. Blocked means
// no more API calls until the window rolls over.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/ian/internal/config"
	"github.com/nextlevelbuilder/ian/internal/store"
)

// Pricing is USD per million tokens for one model.
type Pricing struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

var pricing = map[string]Pricing{
	"claude-haiku-4-5-20251001": {Input: 0.80, Output: 4.00, CacheWrite: 1.00, CacheRead: 0.08},
	"claude-sonnet-4-6":         {Input: 3.00, Output: 15.00, CacheWrite: 3.75, CacheRead: 0.30},
}

var defaultPricing = pricing["claude-haiku-4-5-20251001"]

// CostUSD computes the cost of one API call. Unknown models fall back to
// the default-model pricing.
func CostUSD(model string, inputTokens, outputTokens, cacheWritten, cacheRead int) float64 {
	p, ok := pricing[model]
	if !ok {
		p = defaultPricing
	}
	const million = 1_000_000
	return float64(inputTokens)*p.Input/million +
		float64(outputTokens)*p.Output/million +
		float64(cacheWritten)*p.CacheWrite/million +
		float64(cacheRead)*p.CacheRead/million
}

// Status is the current spend position against both limits.
type Status struct {
	DailySpent     float64
	DailyLimit     float64
	MonthlySpent   float64
	MonthlyLimit   float64
	DailyWarn      bool
	MonthlyWarn    bool
	DailyBlocked   bool
	MonthlyBlocked bool
}

// Blocked reports whether any limit has been reached.
func (s Status) Blocked() bool { return s.DailyBlocked || s.MonthlyBlocked }

// Warned reports whether any warn threshold has been crossed.
func (s Status) Warned() bool { return s.DailyWarn || s.MonthlyWarn }

// Summary renders the spend position for posting into chat.
func (s Status) Summary() string {
	out := fmt.Sprintf("Daily:   $%.4f / $%.2f\nMonthly: $%.4f / $%.2f",
		s.DailySpent, s.DailyLimit, s.MonthlySpent, s.MonthlyLimit)

	if s.DailyBlocked {
		out += "\n:no_entry: Daily limit reached — API calls blocked"
	} else if s.DailyWarn {
		out += fmt.Sprintf("\n:warning: Daily spend at %.0f%%", s.DailySpent/s.DailyLimit*100)
	}
	if s.MonthlyBlocked {
		out += "\n:no_entry: Monthly limit reached — API calls blocked"
	} else if s.MonthlyWarn {
		out += fmt.Sprintf("\n:warning: Monthly spend at %.0f%%", s.MonthlySpent/s.MonthlyLimit*100)
	}
	return out
}

// Tracker computes costs and enforces spend limits over the ledger.
type Tracker struct {
	ledger *store.BudgetStore
	cfg    config.BudgetConfig
	now    func() time.Time
}

func NewTracker(ledger *store.BudgetStore, cfg config.BudgetConfig) *Tracker {
	if cfg.DailyLimitUSD <= 0 {
		cfg.DailyLimitUSD = 5.0
	}
	if cfg.MonthlyLimitUSD <= 0 {
		cfg.MonthlyLimitUSD = 200.0
	}
	if cfg.DailyWarnPct <= 0 {
		cfg.DailyWarnPct = 0.75
	}
	if cfg.MonthlyWarnPct <= 0 {
		cfg.MonthlyWarnPct = 0.75
	}
	return &Tracker{ledger: ledger, cfg: cfg, now: time.Now}
}

// RecordUsage persists one API call's token usage and returns its cost.
// Cache efficiency is logged so caching savings stay visible.
func (t *Tracker) RecordUsage(ctx context.Context, model string, inputTokens, outputTokens, cacheWritten, cacheRead int) (float64, error) {
	cost := CostUSD(model, inputTokens, outputTokens, cacheWritten, cacheRead)

	err := t.ledger.Record(ctx, store.BudgetEvent{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CacheWritten: cacheWritten,
		CacheRead:    cacheRead,
		CostUSD:      cost,
	})
	if err != nil {
		return 0, err
	}

	totalInput := inputTokens + cacheWritten + cacheRead
	if totalInput > 0 {
		slog.Info("budget usage",
			"model", model,
			"cost_usd", fmt.Sprintf("%.5f", cost),
			"cache_hit_pct", fmt.Sprintf("%.1f", float64(cacheRead)/float64(totalInput)*100),
			"in", inputTokens, "out", outputTokens,
			"cache_write", cacheWritten, "cache_read", cacheRead)
	}
	return cost, nil
}

// Check returns the current spend position. Call before every API call.
func (t *Tracker) Check(ctx context.Context) (Status, error) {
	now := t.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	daily, err := t.ledger.SpendSince(ctx, dayStart)
	if err != nil {
		return Status{}, fmt.Errorf("daily spend: %w", err)
	}
	monthly, err := t.ledger.SpendSince(ctx, monthStart)
	if err != nil {
		return Status{}, fmt.Errorf("monthly spend: %w", err)
	}

	return Status{
		DailySpent:     daily,
		DailyLimit:     t.cfg.DailyLimitUSD,
		MonthlySpent:   monthly,
		MonthlyLimit:   t.cfg.MonthlyLimitUSD,
		DailyWarn:      daily >= t.cfg.DailyLimitUSD*t.cfg.DailyWarnPct,
		MonthlyWarn:    monthly >= t.cfg.MonthlyLimitUSD*t.cfg.MonthlyWarnPct,
		DailyBlocked:   daily >= t.cfg.DailyLimitUSD,
		MonthlyBlocked: monthly >= t.cfg.MonthlyLimitUSD,
	}, nil
}

// TodayByModel returns today's per-model aggregates for cost reporting.
func (t *Tracker) TodayByModel(ctx context.Context) ([]store.ModelUsage, error) {
	now := t.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return t.ledger.UsageByModelSince(ctx, dayStart)
}
