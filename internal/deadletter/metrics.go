package deadletter

import (
	"context"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/database"
)

// WebhookMetrics is the ingestion health snapshot for the ops dashboard.
type WebhookMetrics struct {
	SuccessRate     float64 `json:"success_rate"`
	EventsToday     int64   `json:"events_today"`
	EventsYesterday int64   `json:"events_yesterday"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	DeadLetterDepth int64   `json:"dead_letter_depth"`
}

// Metrics aggregates delivery stats. The component queries are independent,
// so they run concurrently; the first error wins.
func (q *Queue) Metrics(ctx context.Context) (WebhookMetrics, error) {
	now := q.clock().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	var (
		m        WebhookMetrics
		total    int64
		success  int64
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	queries := []func(){
		func() {
			if err := q.db.WithContext(ctx).Model(&database.WebhookDelivery{}).Count(&total).Error; err != nil {
				fail(err)
			}
		},
		func() {
			if err := q.db.WithContext(ctx).Model(&database.WebhookDelivery{}).
				Where("success = ?", true).Count(&success).Error; err != nil {
				fail(err)
			}
		},
		func() {
			if err := q.db.WithContext(ctx).Model(&database.WebhookDelivery{}).
				Where("created_at >= ?", today).Count(&m.EventsToday).Error; err != nil {
				fail(err)
			}
		},
		func() {
			if err := q.db.WithContext(ctx).Model(&database.WebhookDelivery{}).
				Where("created_at >= ? AND created_at < ?", yesterday, today).
				Count(&m.EventsYesterday).Error; err != nil {
				fail(err)
			}
		},
		func() {
			if err := q.db.WithContext(ctx).Model(&database.WebhookDelivery{}).
				Select("COALESCE(AVG(duration_ms), 0)").
				Scan(&m.AvgLatencyMs).Error; err != nil {
				fail(err)
			}
		},
		func() {
			if err := q.db.WithContext(ctx).Model(&database.DeadLetterEvent{}).
				Count(&m.DeadLetterDepth).Error; err != nil {
				fail(err)
			}
		},
	}

	for _, fn := range queries {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			fn()
		}(fn)
	}
	wg.Wait()

	if firstErr != nil {
		return WebhookMetrics{}, apperr.Wrap(apperr.CodeDB, firstErr, "failed to aggregate webhook metrics")
	}

	if total > 0 {
		m.SuccessRate = float64(success) / float64(total)
	}
	return m, nil
}
