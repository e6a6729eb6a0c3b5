package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulseboard/pulseboard/internal/config"
)

// ListDeadLetters answers GET /api/v1/deadletter, newest first.
func (a *API) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	events, err := a.Queue.List(r.Context(), intQuery(r, "limit", 100))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	type item struct {
		ID            string     `json:"id"`
		Source        string     `json:"source"`
		EventType     string     `json:"event_type"`
		EventID       string     `json:"event_id"`
		Status        string     `json:"status"`
		Error         string     `json:"error"`
		RetryCount    int        `json:"retry_count"`
		LastRetryAt   *time.Time `json:"last_retry_at"`
		CorrelationID string     `json:"correlation_id"`
		CreatedAt     time.Time  `json:"created_at"`
	}
	out := make([]item, 0, len(events))
	for _, e := range events {
		out = append(out, item{
			ID:            e.ID,
			Source:        e.Source,
			EventType:     e.EventType,
			EventID:       e.EventID,
			Status:        e.Status(),
			Error:         e.Error,
			RetryCount:    e.RetryCount,
			LastRetryAt:   e.LastRetryAt,
			CorrelationID: e.CorrelationID,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

// RetryDeadLetter answers POST /api/v1/deadletter/{id}/retry.
func (a *API) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Queue.Retry(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"retried": true, "event_id": id})
}

// RetryAllDeadLetters answers POST /api/v1/deadletter/retry-all.
func (a *API) RetryAllDeadLetters(w http.ResponseWriter, r *http.Request) {
	result, err := a.Queue.BulkRetry(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetWebhookMetrics answers GET /api/v1/webhooks/metrics under the report
// deadline.
func (a *API) GetWebhookMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.ReportTimeoutDuration())
	defer cancel()

	m, err := a.Queue.Metrics(ctx)
	if err != nil {
		writeAppError(w, r, reportTimeout(err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}
