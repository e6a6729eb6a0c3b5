package database

import "time"

// Project is a Jira project known to the dashboard. Issues can only be
// upserted under a project that already exists.
type Project struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"uniqueIndex;not null" json:"key"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Issue is the cached copy of a Jira issue, keyed by its public issue key.
type Issue struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"uniqueIndex;not null" json:"key"`
	ProjectID uint      `gorm:"not null;index" json:"project_id"`
	Summary   string    `gorm:"not null" json:"summary"`
	Status    string    `gorm:"not null;index" json:"status"`
	IssueType string    `gorm:"not null" json:"issue_type"`
	Priority  string    `json:"priority"`
	Assignee  string    `gorm:"index" json:"assignee"`
	SyncedAt  time.Time `gorm:"not null" json:"synced_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Repository is a GitHub repository known to the dashboard.
type Repository struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FullName  string    `gorm:"uniqueIndex;not null" json:"full_name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PullRequest is the cached copy of a GitHub pull request, keyed by
// (repository, number).
type PullRequest struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RepositoryID uint      `gorm:"not null;uniqueIndex:idx_repo_number" json:"repository_id"`
	Number       int       `gorm:"not null;uniqueIndex:idx_repo_number" json:"number"`
	Title        string    `gorm:"not null" json:"title"`
	State        string    `gorm:"not null;index" json:"state"`
	Author       string    `gorm:"index" json:"author"`
	HeadRef      string    `json:"head_ref"`
	BaseRef      string    `json:"base_ref"`
	SyncedAt     time.Time `gorm:"not null" json:"synced_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DeadLetterEvent is a quarantined failed webhook delivery. Success deletes
// the row; a failed retry appends to Error and bumps RetryCount. No other
// component mutates these rows.
type DeadLetterEvent struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	Source        string     `gorm:"not null;index" json:"source"`
	EventType     string     `gorm:"not null" json:"event_type"`
	EventID       string     `json:"event_id"`
	Payload       string     `gorm:"not null" json:"payload"` // original delivery body, JSON text
	Error         string     `json:"error"`
	RetryCount    int        `gorm:"not null;default:0;index" json:"retry_count"`
	LastRetryAt   *time.Time `json:"last_retry_at"`
	CorrelationID string     `gorm:"not null" json:"correlation_id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// Status derives the display state: pending until the first retry attempt,
// retried after. A retried event may still be retried again; the label does
// not distinguish "failed once" from "abandoned".
func (e *DeadLetterEvent) Status() string {
	if e.RetryCount == 0 {
		return "pending"
	}
	return "retried"
}

// AiUsageRecord is one completed LLM call. Immutable after insert; monthly
// spend is computed by aggregation, never by mutation.
type AiUsageRecord struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Model            string    `gorm:"not null;index" json:"model"`
	PromptTokens     int64     `gorm:"not null;default:0" json:"prompt_tokens"`
	CompletionTokens int64     `gorm:"not null;default:0" json:"completion_tokens"`
	TotalTokens      int64     `gorm:"not null;default:0" json:"total_tokens"`
	EstimatedCostUSD float64   `gorm:"not null;default:0" json:"estimated_cost_usd"`
	RequestType      string    `gorm:"not null;index" json:"request_type"`
	Capped           bool      `gorm:"not null;default:false" json:"capped"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// AdminNotification is a dashboard-facing alert. The governor inserts at most
// one budget notification per calendar day.
type AdminNotification struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	NotifyType string    `gorm:"not null;index" json:"notify_type"`
	Message    string    `gorm:"not null" json:"message"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// WebhookDelivery is one inbound webhook delivery attempt, success or failure.
// These rows feed the derived webhook metrics.
type WebhookDelivery struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Source     string    `gorm:"not null;index" json:"source"`
	EventType  string    `gorm:"not null" json:"event_type"`
	Success    bool      `gorm:"not null;index" json:"success"`
	DurationMs int64     `gorm:"not null;default:0" json:"duration_ms"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// RateLimitState is best-effort telemetry about an upstream's rate limit,
// updated opportunistically by whichever component last called it.
type RateLimitState struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Source    string     `gorm:"uniqueIndex;not null" json:"source"`
	Limit     int        `gorm:"not null;default:0" json:"limit"`
	Remaining *int       `json:"remaining"`
	Last429At *time.Time `json:"last_429_at"`
	ResetAt   *time.Time `json:"reset_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ModelPricing holds USD-per-1M-token rates used for cost estimation.
// Matching is by substring pattern against the model name.
type ModelPricing struct {
	ID               uint    `gorm:"primaryKey;autoIncrement"`
	ModelPattern     string  `gorm:"uniqueIndex;not null"`
	InputPerMillion  float64 `gorm:"not null;default:0"`
	OutputPerMillion float64 `gorm:"not null;default:0"`
}
