package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/correlation"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/logutil"
)

// BulkResult summarizes one bulk retry run.
type BulkResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Retry replays a single quarantined event. On success the row is deleted,
// the matching fallback cache entries are invalidated, and dashboards get a
// refresh signal. On failure the attempt is appended to the event's error
// history and its retry count bumped; the row stays for another attempt.
func (q *Queue) Retry(ctx context.Context, id string) error {
	ctx, corrID := correlation.Ensure(ctx)

	var event database.DeadLetterEvent
	err := q.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.CodeNotFound, "dead-letter event not found: %s", id)
		}
		return apperr.Wrap(apperr.CodeDB, err, "failed to load dead-letter event %s", id)
	}

	if retryErr := q.Apply(ctx, event.Source, event.EventType, event.Payload); retryErr != nil {
		q.recordFailure(ctx, &event, retryErr)
		log.Printf("[deadletter] corr=%s retry %d of event %s failed: %s",
			corrID, event.RetryCount, event.ID, logutil.Sanitize(retryErr.Error()))
		return apperr.Wrap(apperr.CodeRetryFailed, retryErr, "retry of event %s failed", event.ID)
	}

	if err := q.db.WithContext(ctx).Delete(&database.DeadLetterEvent{}, "id = ?", event.ID).Error; err != nil {
		return apperr.Wrap(apperr.CodeDB, err, "event %s reprocessed but could not be removed", event.ID)
	}

	q.store.Invalidate(event.Source)
	if q.notify != nil {
		q.notify.Broadcast(event.Source)
	}
	log.Printf("[deadletter] corr=%s event %s reprocessed and removed", corrID, event.ID)
	return nil
}

// BulkRetry replays pending events (never retried before) oldest-first, up to
// the configured cap. Attempts run sequentially so a burst of replays cannot
// hammer the database; individual failures do not stop the run.
func (q *Queue) BulkRetry(ctx context.Context) (BulkResult, error) {
	ctx, corrID := correlation.Ensure(ctx)

	var pending []database.DeadLetterEvent
	err := q.db.WithContext(ctx).
		Where("retry_count = 0").
		Order("created_at ASC").
		Limit(q.bulkLimit).
		Find(&pending).Error
	if err != nil {
		return BulkResult{}, apperr.Wrap(apperr.CodeDB, err, "failed to select pending dead-letter events")
	}

	result := BulkResult{Attempted: len(pending)}
	for i := range pending {
		if err := q.Retry(ctx, pending[i].ID); err != nil {
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	log.Printf("[deadletter] corr=%s bulk retry attempted=%d succeeded=%d failed=%d",
		corrID, result.Attempted, result.Succeeded, result.Failed)
	return result, nil
}

// Apply dispatches one delivery to its source-specific handler. Webhook
// receivers and retries share this path, so replaying an already-applied
// event converges instead of duplicating.
func (q *Queue) Apply(ctx context.Context, source, eventType, payload string) error {
	switch source {
	case "jira":
		issue, ok, err := parseJiraPayload(eventType, payload)
		if err != nil {
			return err
		}
		if !ok {
			// Unrecognized ticket event type: nothing to apply.
			return nil
		}
		return q.store.UpsertIssue(ctx, issue)
	case "github":
		pull, ok, err := parseGitHubPayload(eventType, payload)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return q.store.UpsertPullRequest(ctx, pull)
	default:
		return apperr.New(apperr.CodeValidation, "unsupported dead-letter source: %s", source)
	}
}

// recordFailure appends the attempt to the event's error history and bumps
// its counters. Persistence problems here are logged and swallowed; the
// caller already has the retry error to surface.
func (q *Queue) recordFailure(ctx context.Context, event *database.DeadLetterEvent, cause error) {
	now := q.clock().UTC()
	note := fmt.Sprintf("[%s] retry failed: %s", now.Format(time.RFC3339), logutil.Truncate(cause.Error(), 2000))

	event.Error = event.Error + "\n" + note
	event.RetryCount++
	event.LastRetryAt = &now

	err := q.db.WithContext(ctx).Model(&database.DeadLetterEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"error":         event.Error,
			"retry_count":   event.RetryCount,
			"last_retry_at": event.LastRetryAt,
		}).Error
	if err != nil {
		log.Printf("[deadletter] failed to record retry failure for event %s: %v", event.ID, err)
	}
}
