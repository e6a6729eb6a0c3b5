package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pulseboard/pulseboard/internal/apperr"
)

type fakeObserver struct {
	mu        sync.Mutex
	source    string
	limit     int
	remaining *int
	got429    bool
	calls     int
}

func (f *fakeObserver) ObserveRateLimit(source string, limit int, remaining *int, resetAt *time.Time, got429 bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = source
	f.limit = limit
	f.remaining = remaining
	f.got429 = got429
	f.calls++
}

func TestJiraSearchIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("X-RateLimit-Limit", "100")
		w.Header().Set("X-RateLimit-Remaining", "42")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"issues":[{"key":"OPS-7","fields":{"summary":"Broken build","status":{"name":"Open"},"issuetype":{"name":"Bug"},"priority":{"name":"High"},"assignee":{"displayName":"Dana"},"project":{"key":"OPS"}}}]}`))
	}))
	defer srv.Close()

	obs := &fakeObserver{}
	c := NewJiraClient(srv.URL, "tok", obs)

	issues, err := c.SearchIssues(context.Background(), IssueFilters{Project: "OPS", Limit: 10})
	if err != nil {
		t.Fatalf("SearchIssues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	got := issues[0]
	if got.Key != "OPS-7" || got.Status != "Open" || got.Assignee != "Dana" || got.Project != "OPS" {
		t.Errorf("unexpected issue: %+v", got)
	}

	if obs.calls != 1 || obs.source != "jira" || obs.limit != 100 || obs.remaining == nil || *obs.remaining != 42 {
		t.Errorf("rate limit telemetry not observed: %+v", obs)
	}
}

func TestJiraSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded\nplease retry"))
	}))
	defer srv.Close()

	c := NewJiraClient(srv.URL, "", nil)
	_, err := c.SearchIssues(context.Background(), IssueFilters{})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTimeout(err) {
		t.Error("HTTP 503 must not classify as timeout")
	}
}

func TestJiraSearchTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewJiraClient(srv.URL, "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.SearchIssues(ctx, IssueFilters{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("expected timeout classification, got %v", err)
	}
}

func TestGitHubListPullRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/org/repo/pulls" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("state"); got != "open" {
			t.Errorf("state = %q", got)
		}
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("X-RateLimit-Reset", "1767225600")
		w.Write([]byte(`[{"number":42,"title":"Fix flaky test","state":"open","user":{"login":"dana"},"head":{"ref":"fix/flaky"},"base":{"ref":"main"}}]`))
	}))
	defer srv.Close()

	obs := &fakeObserver{}
	c := NewGitHubClient(srv.URL, "tok", obs)

	pulls, err := c.ListPullRequests(context.Background(), "org/repo", "", 10)
	if err != nil {
		t.Fatalf("ListPullRequests: %v", err)
	}
	if len(pulls) != 1 {
		t.Fatalf("got %d pulls, want 1", len(pulls))
	}
	p := pulls[0]
	if p.Number != 42 || p.Author != "dana" || p.Repo != "org/repo" || p.HeadRef != "fix/flaky" {
		t.Errorf("unexpected pull: %+v", p)
	}
	if obs.source != "github" || obs.limit != 5000 {
		t.Errorf("telemetry not observed: %+v", obs)
	}
}

func TestJiraGetIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/issue/OPS-7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"key":"OPS-7","fields":{"summary":"Broken build","status":{"name":"Open"},"issuetype":{"name":"Bug"},"priority":{"name":"High"},"assignee":{"displayName":"Dana"},"project":{"key":"OPS"}}}`))
	}))
	defer srv.Close()

	c := NewJiraClient(srv.URL, "tok", nil)
	issue, err := c.GetIssue(context.Background(), "OPS-7")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Key != "OPS-7" || issue.Project != "OPS" || issue.Summary != "Broken build" {
		t.Errorf("unexpected issue: %+v", issue)
	}
}

func TestJiraGetIssueNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewJiraClient(srv.URL, "", nil)
	_, err := c.GetIssue(context.Background(), "OPS-404")
	if err == nil {
		t.Fatal("expected error for missing issue")
	}
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Errorf("code = %q, want %q", apperr.CodeOf(err), apperr.CodeNotFound)
	}
}

func TestGitHubGetPullRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/org/repo/pulls/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"number":42,"title":"Fix flaky test","state":"open","user":{"login":"dana"},"head":{"ref":"fix/flaky"},"base":{"ref":"main"}}`))
	}))
	defer srv.Close()

	c := NewGitHubClient(srv.URL, "tok", nil)
	pull, err := c.GetPullRequest(context.Background(), "org/repo", 42)
	if err != nil {
		t.Fatalf("GetPullRequest: %v", err)
	}
	if pull.Number != 42 || pull.Repo != "org/repo" || pull.Author != "dana" {
		t.Errorf("unexpected pull: %+v", pull)
	}
}

func TestGitHubGetPullRequestMalformedRepo(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	c := NewGitHubClient(srv.URL, "", nil)
	for _, repo := range []string{"norepo", "owner/", "/name", "a/b/c"} {
		_, err := c.GetPullRequest(context.Background(), repo, 1)
		if apperr.CodeOf(err) != apperr.CodeValidation {
			t.Errorf("repo %q: code = %q, want %q", repo, apperr.CodeOf(err), apperr.CodeValidation)
		}
	}
	if _, err := c.GetPullRequest(context.Background(), "org/repo", 0); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Error("non-positive PR number should be rejected")
	}
	if requests != 0 {
		t.Errorf("malformed identifiers reached the network %d times", requests)
	}
}

func TestGitHub429Observed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	obs := &fakeObserver{}
	c := NewGitHubClient(srv.URL, "", obs)

	_, err := c.ListPullRequests(context.Background(), "org/repo", "open", 10)
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !obs.got429 {
		t.Error("429 should be reported to the observer")
	}
}
