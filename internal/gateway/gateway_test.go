package gateway

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/governor"
	"github.com/pulseboard/pulseboard/internal/upstream"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	// A second pool connection would get its own empty in-memory database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&database.Project{},
		&database.Issue{},
		&database.Repository{},
		&database.PullRequest{},
		&database.AiUsageRecord{},
		&database.AdminNotification{},
		&database.RateLimitState{},
		&database.ModelPricing{},
	); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

type fakeJira struct {
	calls  atomic.Int64
	issues []upstream.IssueData
	err    error
	block  bool
}

func (f *fakeJira) SearchIssues(ctx context.Context, _ upstream.IssueFilters) ([]upstream.IssueData, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.issues, nil
}

type fakeGitHub struct {
	calls atomic.Int64
	pulls []upstream.PullData
	err   error
	block bool
}

func (f *fakeGitHub) ListPullRequests(ctx context.Context, _, _ string, _ int) ([]upstream.PullData, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.pulls, nil
}

func newTestGovernor(t *testing.T, db *gorm.DB) *governor.Governor {
	t.Helper()
	g := governor.New(db, nil, governor.Config{
		SessionTokenCap:   8000,
		MaxTokensPerCall:  2000,
		BudgetCeilingUSD:  50,
		BudgetWarnPercent: 0.8,
	})
	t.Cleanup(g.Stop)
	return g
}

func TestSessionCapShortCircuit(t *testing.T) {
	db := setupTestDB(t)
	jira := &fakeJira{}
	github := &fakeGitHub{}
	g := New(db, nil, newTestGovernor(t, db), jira, github, time.Second)

	for _, tokens := range []int{8000, 8001} {
		res := g.QueryIssues(context.Background(), upstream.IssueFilters{}, tokens)
		if res.Error == nil || res.Error.Code != apperr.CodeSessionCapExceeded {
			t.Fatalf("tokens=%d: expected SESSION_CAP_EXCEEDED, got %+v", tokens, res)
		}
		if res.Data != nil {
			t.Error("capped result must carry no data")
		}
	}
	if got := jira.calls.Load(); got != 0 {
		t.Errorf("live upstream called %d times despite cap", got)
	}

	res := g.QueryPullRequests(context.Background(), "org/repo", "open", 10, 9000)
	if res.Error == nil || res.Error.Code != apperr.CodeSessionCapExceeded {
		t.Fatalf("expected SESSION_CAP_EXCEEDED, got %+v", res)
	}
	if got := github.calls.Load(); got != 0 {
		t.Errorf("GitHub called %d times despite cap", got)
	}
}

func TestLiveQuerySucceeds(t *testing.T) {
	db := setupTestDB(t)
	jira := &fakeJira{issues: []upstream.IssueData{{Key: "OPS-1", Project: "OPS", Summary: "s", Status: "Open"}}}
	g := New(db, nil, newTestGovernor(t, db), jira, &fakeGitHub{}, time.Second)

	res := g.QueryIssues(context.Background(), upstream.IssueFilters{Project: "OPS"}, 100)
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if res.Source != SourceLive {
		t.Errorf("Source = %q, want live", res.Source)
	}
	if !strings.HasPrefix(res.Citation, "Live query — ") {
		t.Errorf("Citation = %q", res.Citation)
	}
	if res.Data == nil {
		t.Error("expected data on live success")
	}
}

func TestTimeoutFallsBackToCache(t *testing.T) {
	db := setupTestDB(t)
	seedIssueCache(t, db)

	fixed := time.Date(2026, 8, 29, 9, 30, 0, 0, time.UTC)
	jira := &fakeJira{block: true} // never resolves before the deadline
	g := New(db, func() time.Time { return fixed }, newTestGovernor(t, db), jira, &fakeGitHub{}, 20*time.Millisecond)

	res := g.QueryIssues(context.Background(), upstream.IssueFilters{Project: "OPS"}, 100)
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if res.Source != SourceCached {
		t.Errorf("Source = %q, want cached", res.Source)
	}
	if !strings.HasPrefix(res.Citation, "Cached data as of ") {
		t.Errorf("Citation = %q", res.Citation)
	}
	if !strings.Contains(res.Citation, "2026-08-29T09:30:00Z") {
		t.Errorf("Citation missing pinned timestamp: %q", res.Citation)
	}
	issues := res.Data.([]upstream.IssueData)
	if len(issues) != 1 || issues[0].Key != "OPS-1" {
		t.Errorf("unexpected cached data: %+v", issues)
	}
}

func TestUpstreamErrorFallsBackToCache(t *testing.T) {
	db := setupTestDB(t)
	seedIssueCache(t, db)

	jira := &fakeJira{err: errors.New("boom")}
	g := New(db, nil, newTestGovernor(t, db), jira, &fakeGitHub{}, time.Second)

	res := g.QueryIssues(context.Background(), upstream.IssueFilters{Project: "OPS"}, 100)
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if res.Source != SourceCached {
		t.Errorf("Source = %q, want cached", res.Source)
	}
}

func TestMalformedRepoSkipsLive(t *testing.T) {
	db := setupTestDB(t)
	github := &fakeGitHub{}
	g := New(db, nil, newTestGovernor(t, db), &fakeJira{}, github, time.Second)

	res := g.QueryPullRequests(context.Background(), "not-a-repo", "open", 10, 100)
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if res.Source != SourceCached {
		t.Errorf("Source = %q, want cached", res.Source)
	}
	if got := github.calls.Load(); got != 0 {
		t.Errorf("live call issued %d times for malformed repo", got)
	}
}

func TestFilteredCacheRead(t *testing.T) {
	db := setupTestDB(t)
	proj := database.Project{Key: "OPS", Name: "Operations"}
	db.Create(&proj)
	other := database.Project{Key: "WEB", Name: "Web"}
	db.Create(&other)
	db.Create(&database.Issue{Key: "OPS-1", ProjectID: proj.ID, Summary: "a", Status: "Open", IssueType: "Bug", SyncedAt: time.Now()})
	db.Create(&database.Issue{Key: "OPS-2", ProjectID: proj.ID, Summary: "b", Status: "Done", IssueType: "Bug", SyncedAt: time.Now()})
	db.Create(&database.Issue{Key: "WEB-1", ProjectID: other.ID, Summary: "c", Status: "Open", IssueType: "Bug", SyncedAt: time.Now()})

	jira := &fakeJira{err: errors.New("down")}
	g := New(db, nil, newTestGovernor(t, db), jira, &fakeGitHub{}, time.Second)

	res := g.QueryIssues(context.Background(), upstream.IssueFilters{Project: "OPS", Status: "Open"}, 100)
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	issues := res.Data.([]upstream.IssueData)
	if len(issues) != 1 || issues[0].Key != "OPS-1" {
		t.Errorf("filters not applied to cache read: %+v", issues)
	}
}

func TestInvalidateDropsMemo(t *testing.T) {
	db := setupTestDB(t)
	seedIssueCache(t, db)

	jira := &fakeJira{err: errors.New("down")}
	g := New(db, nil, newTestGovernor(t, db), jira, &fakeGitHub{}, time.Second)

	res := g.QueryIssues(context.Background(), upstream.IssueFilters{Project: "OPS"}, 100)
	if len(res.Data.([]upstream.IssueData)) != 1 {
		t.Fatalf("expected 1 cached issue")
	}

	// New row lands (as a retry upsert would); memo still holds the old read.
	var proj database.Project
	db.Where("key = ?", "OPS").First(&proj)
	db.Create(&database.Issue{Key: "OPS-9", ProjectID: proj.ID, Summary: "new", Status: "Open", IssueType: "Bug", SyncedAt: time.Now()})

	res = g.QueryIssues(context.Background(), upstream.IssueFilters{Project: "OPS"}, 100)
	if len(res.Data.([]upstream.IssueData)) != 1 {
		t.Fatal("memo should still serve the old read inside the TTL")
	}

	g.Invalidate("jira")
	res = g.QueryIssues(context.Background(), upstream.IssueFilters{Project: "OPS"}, 100)
	if len(res.Data.([]upstream.IssueData)) != 2 {
		t.Error("invalidation should expose the fresh row")
	}
}

func seedIssueCache(t *testing.T, db *gorm.DB) {
	t.Helper()
	proj := database.Project{Key: "OPS", Name: "Operations"}
	if err := db.Create(&proj).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	issue := database.Issue{Key: "OPS-1", ProjectID: proj.ID, Summary: "Cached issue", Status: "Open", IssueType: "Bug", SyncedAt: time.Now()}
	if err := db.Create(&issue).Error; err != nil {
		t.Fatalf("seed issue: %v", err)
	}
}
