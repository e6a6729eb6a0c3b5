package governor

import (
	"errors"
	"log"
	"time"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/database"
	"gorm.io/gorm"
)

// RateLimitInfo is advisory telemetry about one upstream's quota. No call is
// ever blocked because of it.
type RateLimitInfo struct {
	Limit       int        `json:"limit"`
	Remaining   *int       `json:"remaining"`
	Last429At   *time.Time `json:"last_429_at"`
	ResetAt     *time.Time `json:"reset_at"`
	UsedPercent float64    `json:"used_percent"`
}

// RateLimitStatus is the combined read API payload for both upstreams.
type RateLimitStatus struct {
	Jira              RateLimitInfo `json:"jira"`
	GitHub            RateLimitInfo `json:"github"`
	JiraUsedPercent   float64       `json:"jira_used_percent"`
	GitHubUsedPercent float64       `json:"github_used_percent"`
	Warning           string        `json:"warning,omitempty"`
}

// ObserveRateLimit records rate-limit metadata from an upstream response.
// Best-effort: persistence failures are logged and swallowed so telemetry
// never fails a live call.
func (g *Governor) ObserveRateLimit(source string, limit int, remaining *int, resetAt *time.Time, got429 bool) {
	state := database.RateLimitState{Source: source}
	assign := database.RateLimitState{
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if got429 {
		now := g.clock().UTC()
		assign.Last429At = &now
	}

	err := g.db.Where("source = ?", source).
		Assign(assign).
		FirstOrCreate(&state).Error
	if err != nil {
		log.Printf("[governor] failed to record rate limit state for %s: %v", source, err)
	}
}

// Status computes used-percent per upstream and raises an advisory warning
// once either crosses 50% consumption.
func (g *Governor) Status() (*RateLimitStatus, error) {
	jira, err := g.rateLimitInfo("jira")
	if err != nil {
		return nil, err
	}
	github, err := g.rateLimitInfo("github")
	if err != nil {
		return nil, err
	}

	st := &RateLimitStatus{
		Jira:              jira,
		GitHub:            github,
		JiraUsedPercent:   jira.UsedPercent,
		GitHubUsedPercent: github.UsedPercent,
	}

	switch {
	case jira.UsedPercent >= 50 && github.UsedPercent >= 50:
		st.Warning = "Jira and GitHub rate limits are above 50% consumption"
	case jira.UsedPercent >= 50:
		st.Warning = "Jira rate limit is above 50% consumption"
	case github.UsedPercent >= 50:
		st.Warning = "GitHub rate limit is above 50% consumption"
	}

	return st, nil
}

func (g *Governor) rateLimitInfo(source string) (RateLimitInfo, error) {
	var state database.RateLimitState
	err := g.db.Where("source = ?", source).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RateLimitInfo{}, nil
		}
		return RateLimitInfo{}, apperr.Wrap(apperr.CodeDB, err, "failed to read rate limit state for %s", source)
	}

	info := RateLimitInfo{
		Limit:     state.Limit,
		Remaining: state.Remaining,
		Last429At: state.Last429At,
		ResetAt:   state.ResetAt,
	}
	if state.Limit > 0 && state.Remaining != nil {
		used := state.Limit - *state.Remaining
		info.UsedPercent = float64(used) / float64(state.Limit) * 100
	}
	return info, nil
}
