package governor

import (
	"context"
	"time"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/database"
)

// ModelSpend is one row of the per-model cost breakdown.
type ModelSpend struct {
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// CostData is the budget read API payload.
type CostData struct {
	Year              int          `json:"year"`
	Month             int          `json:"month"`
	CurrentMonthSpend float64      `json:"current_month_spend"`
	BudgetCeilingUSD  float64      `json:"budget_ceiling_usd"`
	SpendPercent      float64      `json:"spend_percent"`
	WarnThresholdHit  bool         `json:"warn_threshold_hit"`
	TotalRequests     int64        `json:"total_requests"`
	CappedRequests    int64        `json:"capped_requests"`
	ModelBreakdown    []ModelSpend `json:"model_breakdown"`
}

// CostData aggregates the given month's usage records. Zero year/month means
// the current month.
func (g *Governor) CostData(ctx context.Context, year int, month time.Month) (*CostData, error) {
	start, end := g.monthWindow(year, month)

	spend, err := g.MonthSpend(ctx, start.Year(), start.Month())
	if err != nil {
		return nil, err
	}

	var breakdown []ModelSpend
	err = g.db.WithContext(ctx).Model(&database.AiUsageRecord{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Select("model, COUNT(*) as requests, SUM(prompt_tokens) as prompt_tokens, " +
			"SUM(completion_tokens) as completion_tokens, SUM(estimated_cost_usd) as estimated_cost_usd").
		Group("model").
		Order("estimated_cost_usd DESC").
		Scan(&breakdown).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDB, err, "failed to aggregate model breakdown")
	}

	var total, capped int64
	if err := g.db.WithContext(ctx).Model(&database.AiUsageRecord{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Count(&total).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeDB, err, "failed to count usage records")
	}
	if err := g.db.WithContext(ctx).Model(&database.AiUsageRecord{}).
		Where("created_at >= ? AND created_at < ? AND capped = ?", start, end, true).
		Count(&capped).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeDB, err, "failed to count capped requests")
	}

	spendPercent := 0.0
	if g.cfg.BudgetCeilingUSD > 0 {
		spendPercent = spend / g.cfg.BudgetCeilingUSD * 100
	}

	return &CostData{
		Year:              start.Year(),
		Month:             int(start.Month()),
		CurrentMonthSpend: spend,
		BudgetCeilingUSD:  g.cfg.BudgetCeilingUSD,
		SpendPercent:      spendPercent,
		WarnThresholdHit:  g.cfg.BudgetCeilingUSD > 0 && spend >= g.cfg.BudgetCeilingUSD*g.cfg.BudgetWarnPercent,
		TotalRequests:     total,
		CappedRequests:    capped,
		ModelBreakdown:    breakdown,
	}, nil
}
