package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BudgetEvent is one recorded API call with its computed cost.
type BudgetEvent struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CacheWritten int
	CacheRead    int
	CostUSD      float64
}

// ModelUsage aggregates spend for one model over a reporting window.
type ModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int64
	OutputTokens int64
	CacheWritten int64
	CacheRead    int64
	CostUSD      float64
}

// BudgetStore is the append-only cost ledger backing daily and monthly
// spend limits.
type BudgetStore struct {
	db *sql.DB
}

func NewBudgetStore(db *sql.DB) *BudgetStore {
	return &BudgetStore{db: db}
}

// Record appends one cost event to the ledger.
func (s *BudgetStore) Record(ctx context.Context, ev BudgetEvent) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_events
			(model, input_tokens, output_tokens, cache_written, cache_read, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Model, ev.InputTokens, ev.OutputTokens,
		ev.CacheWritten, ev.CacheRead, ev.CostUSD); err != nil {
		return fmt.Errorf("record budget event: %w", err)
	}
	return nil
}

// SpendSince sums cost over events created at or after the given instant.
func (s *BudgetStore) SpendSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM budget_events
		WHERE created_at >= ?`, sqliteTime(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total, nil
}

// UsageByModelSince aggregates per-model token and cost totals since the
// given instant, most expensive model first.
func (s *BudgetStore) UsageByModelSince(ctx context.Context, since time.Time) ([]ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COUNT(*),
		       COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cache_written), 0), COALESCE(SUM(cache_read), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM budget_events
		WHERE created_at >= ?
		GROUP BY model
		ORDER BY SUM(cost_usd) DESC`, sqliteTime(since))
	if err != nil {
		return nil, fmt.Errorf("usage by model: %w", err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Model, &u.Calls, &u.InputTokens, &u.OutputTokens,
			&u.CacheWritten, &u.CacheRead, &u.CostUSD); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// sqliteTime formats a time the way datetime('now') stores it, so string
// comparison in WHERE clauses is correct.
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
