// Package governor enforces the three LLM consumption ceilings: the
// per-session token cap (the only rejecting one), the per-call completion cap
// (observed, not rejected) and the monthly cost ceiling (warn + notify).
package governor

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/correlation"
	"github.com/pulseboard/pulseboard/internal/database"
	"gorm.io/gorm"
)

// Clock supplies the current time so tests can pin it.
type Clock func() time.Time

// Config holds the ceiling values, normally sourced from envconfig.
type Config struct {
	SessionTokenCap   int
	MaxTokensPerCall  int
	BudgetCeilingUSD  float64
	BudgetWarnPercent float64
}

const budgetNotifyType = "ai_budget_warning"

type Governor struct {
	db    *gorm.DB
	clock Clock
	cfg   Config

	notifyCh chan string
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(db *gorm.DB, clock Clock, cfg Config) *Governor {
	if clock == nil {
		clock = time.Now
	}
	g := &Governor{
		db:       db,
		clock:    clock,
		cfg:      cfg,
		notifyCh: make(chan string, 16),
	}
	g.wg.Add(1)
	go g.dispatchNotifications()
	return g
}

// Stop drains pending notifications and shuts down the dispatcher.
func (g *Governor) Stop() {
	g.stopOnce.Do(func() {
		close(g.notifyCh)
		g.wg.Wait()
	})
}

// SessionCapExceeded is the hard per-session ceiling, checked before any tool
// does network or cache work.
func (g *Governor) SessionCapExceeded(sessionTokens int) bool {
	return sessionTokens >= g.cfg.SessionTokenCap
}

// SessionTokenCap exposes the configured cap for error messages.
func (g *Governor) SessionTokenCap() int {
	return g.cfg.SessionTokenCap
}

// EstimateTokenCost converts token counts to estimated USD using the pricing
// table. Unknown models cost zero rather than failing the calling request.
func (g *Governor) EstimateTokenCost(model string, promptTokens, completionTokens int64) float64 {
	if model == "" || (promptTokens == 0 && completionTokens == 0) {
		return 0
	}

	var pricing []database.ModelPricing
	g.db.Find(&pricing)

	// Overlapping patterns (gpt-4o vs gpt-4o-mini, o1 vs o1-mini) resolve to
	// the longest match.
	var best *database.ModelPricing
	for i := range pricing {
		p := &pricing[i]
		if strings.Contains(model, p.ModelPattern) {
			if best == nil || len(p.ModelPattern) > len(best.ModelPattern) {
				best = p
			}
		}
	}
	if best == nil {
		return 0
	}
	in := float64(promptTokens) * best.InputPerMillion / 1_000_000
	out := float64(completionTokens) * best.OutputPerMillion / 1_000_000
	return in + out
}

// RecordUsage persists one completed LLM call as an immutable usage record and
// then runs the best-effort budget threshold check.
func (g *Governor) RecordUsage(ctx context.Context, model, requestType string, promptTokens, completionTokens int64) (*database.AiUsageRecord, error) {
	rec := database.AiUsageRecord{
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		EstimatedCostUSD: g.EstimateTokenCost(model, promptTokens, completionTokens),
		RequestType:      requestType,
		Capped:           g.cfg.MaxTokensPerCall > 0 && completionTokens >= int64(g.cfg.MaxTokensPerCall),
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeDB, err, "failed to record AI usage")
	}

	g.checkBudget(ctx)
	return &rec, nil
}

// monthWindow returns [start, end) for the month containing now, or for an
// explicit year/month when both are non-zero.
func (g *Governor) monthWindow(year int, month time.Month) (time.Time, time.Time) {
	if year == 0 || month == 0 {
		now := g.clock().UTC()
		year, month = now.Year(), now.Month()
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// MonthSpend sums the estimated cost of the given month's usage records.
func (g *Governor) MonthSpend(ctx context.Context, year int, month time.Month) (float64, error) {
	start, end := g.monthWindow(year, month)
	var spend float64
	err := g.db.WithContext(ctx).Model(&database.AiUsageRecord{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Select("COALESCE(SUM(estimated_cost_usd), 0)").
		Scan(&spend).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDB, err, "failed to aggregate monthly spend")
	}
	return spend, nil
}

// checkBudget warns and queues an admin notification once the current month's
// spend crosses the configured fraction of the ceiling. Failures here never
// affect the calling request.
func (g *Governor) checkBudget(ctx context.Context) {
	if g.cfg.BudgetCeilingUSD <= 0 {
		return
	}

	spend, err := g.MonthSpend(ctx, 0, 0)
	if err != nil {
		log.Printf("[governor] budget check skipped: %v", err)
		return
	}

	threshold := g.cfg.BudgetCeilingUSD * g.cfg.BudgetWarnPercent
	if spend < threshold {
		return
	}

	corrID := correlation.FromContext(ctx)
	log.Printf("[governor] corr=%s monthly AI spend $%.2f crossed %.0f%% of $%.2f ceiling",
		corrID, spend, g.cfg.BudgetWarnPercent*100, g.cfg.BudgetCeilingUSD)

	msg := "AI spend has reached " +
		percentString(spend, g.cfg.BudgetCeilingUSD) + " of the monthly budget"
	select {
	case g.notifyCh <- msg:
	default:
		log.Printf("[governor] corr=%s notification queue full, dropping budget alert", corrID)
	}
}

// dispatchNotifications inserts at most one budget notification per calendar
// day. Duplicate suppression is best-effort: the existence check and insert
// are not atomic, and a cosmetic duplicate is acceptable.
func (g *Governor) dispatchNotifications() {
	defer g.wg.Done()
	for msg := range g.notifyCh {
		now := g.clock().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

		var count int64
		if err := g.db.Model(&database.AdminNotification{}).
			Where("notify_type = ? AND created_at >= ?", budgetNotifyType, dayStart).
			Count(&count).Error; err != nil {
			log.Printf("[governor] notification dedup check failed: %v", err)
			continue
		}
		if count > 0 {
			continue
		}

		n := database.AdminNotification{NotifyType: budgetNotifyType, Message: msg}
		if err := g.db.Create(&n).Error; err != nil {
			log.Printf("[governor] failed to insert budget notification: %v", err)
		}
	}
}

func percentString(spend, ceiling float64) string {
	if ceiling <= 0 {
		return "100%"
	}
	return strconv.Itoa(int(spend/ceiling*100)) + "%"
}
