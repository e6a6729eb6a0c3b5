// Package gateway answers dashboard queries against Jira and GitHub with a
// bounded time budget: a live call raced against a deadline, falling back to
// the locally cached copy in the store. Every result says where it came from.
package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/correlation"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/governor"
	"github.com/pulseboard/pulseboard/internal/upstream"
	"gorm.io/gorm"
)

// Clock supplies the current time so tests can pin citations.
type Clock func() time.Time

const (
	SourceLive   = "live"
	SourceCached = "cached"
)

// Result is the outcome of one upstream query attempt. Exactly one of Data
// and Error is set; Citation accompanies Data.
type Result struct {
	Data     interface{}   `json:"data"`
	Source   string        `json:"source,omitempty"`
	Citation string        `json:"citation,omitempty"`
	Error    *apperr.Error `json:"error,omitempty"`
}

type Gateway struct {
	db     *gorm.DB
	clock  Clock
	gov    *governor.Governor
	jira   upstream.IssueSearcher
	github upstream.PullLister

	upstreamTimeout time.Duration

	// Short-lived memo of fallback reads, keyed by query signature. Dropped
	// per source when a retry upserts fresh rows.
	fallbackCache sync.Map
}

type cacheEntry struct {
	data      interface{}
	fetchedAt time.Time
}

const fallbackCacheTTL = 30 * time.Second

func New(db *gorm.DB, clock Clock, gov *governor.Governor, jira upstream.IssueSearcher, github upstream.PullLister, upstreamTimeout time.Duration) *Gateway {
	if clock == nil {
		clock = time.Now
	}
	if upstreamTimeout <= 0 {
		upstreamTimeout = 5 * time.Second
	}
	return &Gateway{
		db:              db,
		clock:           clock,
		gov:             gov,
		jira:            jira,
		github:          github,
		upstreamTimeout: upstreamTimeout,
	}
}

func errResult(e *apperr.Error) Result {
	return Result{Error: e}
}

// sessionGate enforces the hard per-session token ceiling before any network
// or cache IO happens.
func (g *Gateway) sessionGate(sessionTokens int) *apperr.Error {
	if g.gov != nil && g.gov.SessionCapExceeded(sessionTokens) {
		return apperr.New(apperr.CodeSessionCapExceeded,
			"session token budget of %d exhausted; start a new session to continue", g.gov.SessionTokenCap())
	}
	return nil
}

// QueryIssues answers a Jira issue query: live search under the deadline,
// cache fallback from the store on failure.
func (g *Gateway) QueryIssues(ctx context.Context, f upstream.IssueFilters, sessionTokens int) Result {
	if e := g.sessionGate(sessionTokens); e != nil {
		return errResult(e)
	}

	ctx, corrID := correlation.Ensure(ctx)
	descriptor := jiraDescriptor(f)

	liveCtx, cancel := context.WithTimeout(ctx, g.upstreamTimeout)
	issues, err := g.jira.SearchIssues(liveCtx, f)
	cancel()
	if err == nil {
		return Result{
			Data:     issues,
			Source:   SourceLive,
			Citation: "Live query — " + descriptor,
		}
	}

	if upstream.IsTimeout(err) {
		log.Printf("[gateway] corr=%s Jira live query timed out after %s, falling back to cache", corrID, g.upstreamTimeout)
	} else {
		log.Printf("[gateway] corr=%s Jira live query failed, falling back to cache: %v", corrID, err)
	}

	data, cacheErr := g.cachedIssues(ctx, f)
	if cacheErr != nil {
		return errResult(apperr.Wrap(apperr.CodeJiraAPI, cacheErr,
			"Jira is unavailable and the cached copy could not be read: %v", cacheErr))
	}
	return Result{
		Data:     data,
		Source:   SourceCached,
		Citation: fmt.Sprintf("Cached data as of %s — %s", g.clock().UTC().Format(time.RFC3339), descriptor),
	}
}

// QueryPullRequests answers a GitHub pull request query for one repository.
// A repo identifier that does not decompose into owner/name skips the live
// attempt entirely rather than spending the deadline on a doomed call.
func (g *Gateway) QueryPullRequests(ctx context.Context, repo, state string, limit, sessionTokens int) Result {
	if e := g.sessionGate(sessionTokens); e != nil {
		return errResult(e)
	}

	ctx, corrID := correlation.Ensure(ctx)
	descriptor := githubDescriptor(repo, state)

	if validRepoName(repo) {
		liveCtx, cancel := context.WithTimeout(ctx, g.upstreamTimeout)
		pulls, err := g.github.ListPullRequests(liveCtx, repo, state, limit)
		cancel()
		if err == nil {
			return Result{
				Data:     pulls,
				Source:   SourceLive,
				Citation: "Live query — " + descriptor,
			}
		}
		if upstream.IsTimeout(err) {
			log.Printf("[gateway] corr=%s GitHub live query timed out after %s, falling back to cache", corrID, g.upstreamTimeout)
		} else {
			log.Printf("[gateway] corr=%s GitHub live query failed, falling back to cache: %v", corrID, err)
		}
	} else {
		log.Printf("[gateway] corr=%s repo identifier %q is not owner/name, skipping live query", corrID, repo)
	}

	data, cacheErr := g.cachedPulls(ctx, repo, state, limit)
	if cacheErr != nil {
		return errResult(apperr.Wrap(apperr.CodeGitHubAPI, cacheErr,
			"GitHub is unavailable and the cached copy could not be read: %v", cacheErr))
	}
	return Result{
		Data:     data,
		Source:   SourceCached,
		Citation: fmt.Sprintf("Cached data as of %s — %s", g.clock().UTC().Format(time.RFC3339), descriptor),
	}
}

// Invalidate drops memoized fallback reads for one source. Called after a
// retry upserts fresh rows so the next fallback sees them.
func (g *Gateway) Invalidate(source string) {
	prefix := source + ":"
	g.fallbackCache.Range(func(key, _ any) bool {
		if k, ok := key.(string); ok && strings.HasPrefix(k, prefix) {
			g.fallbackCache.Delete(key)
		}
		return true
	})
}

func (g *Gateway) memoGet(key string) (interface{}, bool) {
	if v, ok := g.fallbackCache.Load(key); ok {
		entry := v.(cacheEntry)
		if g.clock().Sub(entry.fetchedAt) < fallbackCacheTTL {
			return entry.data, true
		}
		g.fallbackCache.Delete(key)
	}
	return nil, false
}

func (g *Gateway) memoPut(key string, data interface{}) {
	g.fallbackCache.Store(key, cacheEntry{data: data, fetchedAt: g.clock()})
}

// cachedIssues reads the store copy with the same filters and limit the live
// call would have applied.
func (g *Gateway) cachedIssues(ctx context.Context, f upstream.IssueFilters) ([]upstream.IssueData, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	key := fmt.Sprintf("jira:%s:%s:%s:%d", f.Project, f.Status, f.Assignee, limit)
	if data, ok := g.memoGet(key); ok {
		return data.([]upstream.IssueData), nil
	}

	q := g.db.WithContext(ctx).Model(&database.Issue{}).
		Select("issues.*, projects.key AS project_key").
		Joins("JOIN projects ON projects.id = issues.project_id").
		Order("issues.updated_at DESC").
		Limit(limit)
	if f.Project != "" {
		q = q.Where("projects.key = ?", f.Project)
	}
	if f.Status != "" {
		q = q.Where("issues.status = ?", f.Status)
	}
	if f.Assignee != "" {
		q = q.Where("issues.assignee = ?", f.Assignee)
	}

	var rows []struct {
		database.Issue
		ProjectKey string
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	issues := make([]upstream.IssueData, 0, len(rows))
	for _, r := range rows {
		issues = append(issues, upstream.IssueData{
			Key:       r.Key,
			Project:   r.ProjectKey,
			Summary:   r.Summary,
			Status:    r.Status,
			IssueType: r.IssueType,
			Priority:  r.Priority,
			Assignee:  r.Assignee,
		})
	}

	g.memoPut(key, issues)
	return issues, nil
}

// cachedPulls reads the store copy of pull requests for one repository.
func (g *Gateway) cachedPulls(ctx context.Context, repo, state string, limit int) ([]upstream.PullData, error) {
	if limit <= 0 {
		limit = 50
	}
	key := fmt.Sprintf("github:%s:%s:%d", repo, state, limit)
	if data, ok := g.memoGet(key); ok {
		return data.([]upstream.PullData), nil
	}

	q := g.db.WithContext(ctx).Model(&database.PullRequest{}).
		Select("pull_requests.*, repositories.full_name AS repo_full_name").
		Joins("JOIN repositories ON repositories.id = pull_requests.repository_id").
		Order("pull_requests.updated_at DESC").
		Limit(limit)
	if repo != "" {
		q = q.Where("repositories.full_name = ?", repo)
	}
	if state != "" {
		q = q.Where("pull_requests.state = ?", state)
	}

	var rows []struct {
		database.PullRequest
		RepoFullName string
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	pulls := make([]upstream.PullData, 0, len(rows))
	for _, r := range rows {
		pulls = append(pulls, upstream.PullData{
			Repo:    r.RepoFullName,
			Number:  r.Number,
			Title:   r.Title,
			State:   r.State,
			Author:  r.Author,
			HeadRef: r.HeadRef,
			BaseRef: r.BaseRef,
		})
	}

	g.memoPut(key, pulls)
	return pulls, nil
}

func validRepoName(repo string) bool {
	owner, name, ok := strings.Cut(repo, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}

func jiraDescriptor(f upstream.IssueFilters) string {
	var parts []string
	if f.Project != "" {
		parts = append(parts, "project "+f.Project)
	}
	if f.Status != "" {
		parts = append(parts, "status "+f.Status)
	}
	if f.Assignee != "" {
		parts = append(parts, "assignee "+f.Assignee)
	}
	if len(parts) == 0 {
		return "Jira issues"
	}
	return "Jira issues, " + strings.Join(parts, ", ")
}

func githubDescriptor(repo, state string) string {
	d := "GitHub pull requests"
	if repo != "" {
		d += " for " + repo
	}
	if state != "" {
		d += " (" + state + ")"
	}
	return d
}
