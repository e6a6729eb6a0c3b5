package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/pulseboard.db"`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	AdminSecret  string `envconfig:"ADMIN_SECRET" default:""`

	// LLM cost controls
	SessionTokenCap   int     `envconfig:"SESSION_TOKEN_CAP" default:"8000"`
	MaxTokensPerCall  int     `envconfig:"MAX_TOKENS_PER_CALL" default:"2000"`
	BudgetCeilingUSD  float64 `envconfig:"AI_BUDGET_CEILING_USD" default:"50"`
	BudgetWarnPercent float64 `envconfig:"AI_BUDGET_WARN_PERCENT" default:"0.8"`

	// Upstream integrations
	JiraBaseURL         string `envconfig:"JIRA_BASE_URL" default:""`
	JiraToken           string `envconfig:"JIRA_TOKEN" default:""`
	GitHubBaseURL       string `envconfig:"GITHUB_BASE_URL" default:"https://api.github.com"`
	GitHubToken         string `envconfig:"GITHUB_TOKEN" default:""`
	GitHubWebhookSecret string `envconfig:"GITHUB_WEBHOOK_SECRET" default:""`

	// Query deadlines. UpstreamTimeout bounds live Jira/GitHub calls,
	// ReportTimeout bounds store-only aggregate queries.
	UpstreamTimeout string `envconfig:"UPSTREAM_QUERY_TIMEOUT" default:"5s"`
	ReportTimeout   string `envconfig:"REPORT_QUERY_TIMEOUT" default:"3s"`

	// Dead-letter retry
	BulkRetryLimit int    `envconfig:"BULK_RETRY_LIMIT" default:"50"`
	SweepSchedule  string `envconfig:"DEADLETTER_SWEEP_SCHEDULE" default:""`

	// Optional YAML file overriding the seeded model pricing table
	PricingPath string `envconfig:"PRICING_PATH" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("PULSEBOARD", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// UpstreamTimeoutDuration parses the upstream query deadline, falling back to
// 5s on a malformed value.
func UpstreamTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(Cfg.UpstreamTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// ReportTimeoutDuration parses the store-only query deadline, falling back to 3s.
func ReportTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(Cfg.ReportTimeout)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}
