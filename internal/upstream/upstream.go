// Package upstream holds the live Jira and GitHub API clients used by the
// fallback query gateway. Both report rate-limit headers to an observer and
// classify timeouts so callers can log them distinctly.
package upstream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// RateLimitObserver receives opportunistic quota telemetry from responses.
type RateLimitObserver interface {
	ObserveRateLimit(source string, limit int, remaining *int, resetAt *time.Time, got429 bool)
}

// IssueFilters narrows a Jira issue search. Zero values mean "any".
type IssueFilters struct {
	Project  string
	Status   string
	Assignee string
	Limit    int
}

// IssueData is one Jira issue as returned by a live search.
type IssueData struct {
	Key       string `json:"key"`
	Project   string `json:"project"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	IssueType string `json:"issue_type"`
	Priority  string `json:"priority"`
	Assignee  string `json:"assignee"`
}

// PullData is one GitHub pull request as returned by a live list.
type PullData struct {
	Repo    string `json:"repo"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	Author  string `json:"author"`
	HeadRef string `json:"head_ref"`
	BaseRef string `json:"base_ref"`
}

// IssueSearcher is the live Jira surface the gateway depends on.
type IssueSearcher interface {
	SearchIssues(ctx context.Context, f IssueFilters) ([]IssueData, error)
}

// PullLister is the live GitHub surface the gateway depends on.
type PullLister interface {
	ListPullRequests(ctx context.Context, repo, state string, limit int) ([]PullData, error)
}

// IsTimeout reports whether an upstream call failed on its deadline rather
// than on an upstream response.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// observeHeaders extracts standard rate-limit headers and forwards them.
// Both Jira Cloud and GitHub expose the X-RateLimit family.
func observeHeaders(obs RateLimitObserver, source string, resp *http.Response) {
	if obs == nil {
		return
	}

	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))

	var remaining *int
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remaining = &n
		}
	}

	var resetAt *time.Time
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts := time.Unix(unix, 0).UTC()
			resetAt = &ts
		}
	}

	if limit == 0 && remaining == nil && resp.StatusCode != http.StatusTooManyRequests {
		return
	}

	obs.ObserveRateLimit(source, limit, remaining, resetAt, resp.StatusCode == http.StatusTooManyRequests)
}
