package deadletter

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/correlation"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/logutil"
	"github.com/pulseboard/pulseboard/internal/upstream"
)

// Clock supplies the current time, injectable for tests.
type Clock func() time.Time

// Upserter applies a reprocessed event to the local store.
type Upserter interface {
	UpsertIssue(ctx context.Context, data upstream.IssueData) error
	UpsertPullRequest(ctx context.Context, data upstream.PullData) error
	Invalidate(source string)
}

// Broadcaster pushes a refresh signal to connected dashboards. Delivery is
// best-effort; a retry never fails because nobody is listening.
type Broadcaster interface {
	Broadcast(source string)
}

// Queue quarantines failed webhook deliveries and replays them on demand.
type Queue struct {
	db        *gorm.DB
	clock     Clock
	store     Upserter
	notify    Broadcaster
	bulkLimit int
}

func New(db *gorm.DB, clock Clock, store Upserter, notify Broadcaster, bulkLimit int) *Queue {
	if clock == nil {
		clock = time.Now
	}
	if bulkLimit <= 0 {
		bulkLimit = 50
	}
	return &Queue{db: db, clock: clock, store: store, notify: notify, bulkLimit: bulkLimit}
}

// Capture quarantines a failed delivery so it can be retried later. The
// original payload is stored verbatim; cause becomes the first entry of the
// event's error history.
func (q *Queue) Capture(ctx context.Context, source, eventType, eventID, payload string, cause error) (*database.DeadLetterEvent, error) {
	ctx, corrID := correlation.Ensure(ctx)

	event := database.DeadLetterEvent{
		ID:            uuid.NewString(),
		Source:        source,
		EventType:     eventType,
		EventID:       eventID,
		Payload:       payload,
		Error:         logutil.Truncate(cause.Error(), 2000),
		CorrelationID: corrID,
		CreatedAt:     q.clock().UTC(),
	}
	if err := q.db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeDB, err, "failed to quarantine %s event", source)
	}

	log.Printf("[deadletter] corr=%s captured %s %s event %s: %s",
		corrID, source, eventType, event.ID, logutil.Sanitize(cause.Error()))
	return &event, nil
}

// List returns quarantined events, newest first.
func (q *Queue) List(ctx context.Context, limit int) ([]database.DeadLetterEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []database.DeadLetterEvent
	err := q.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDB, err, "failed to list dead-letter events")
	}
	return events, nil
}

// Depth reports how many events are currently quarantined.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.WithContext(ctx).Model(&database.DeadLetterEvent{}).Count(&n).Error; err != nil {
		return 0, apperr.Wrap(apperr.CodeDB, err, "failed to count dead-letter events")
	}
	return n, nil
}
