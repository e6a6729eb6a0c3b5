package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/logutil"
)

// JiraClient talks to the Jira Cloud REST search API.
type JiraClient struct {
	BaseURL  string
	Token    string
	HTTP     *http.Client
	Observer RateLimitObserver
}

func NewJiraClient(baseURL, token string, obs RateLimitObserver) *JiraClient {
	return &JiraClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		HTTP:     &http.Client{},
		Observer: obs,
	}
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name string `json:"name"`
		} `json:"status"`
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Priority struct {
			Name string `json:"name"`
		} `json:"priority"`
		Assignee struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
	} `json:"fields"`
}

func (it *jiraIssue) toIssueData() IssueData {
	return IssueData{
		Key:       it.Key,
		Project:   it.Fields.Project.Key,
		Summary:   it.Fields.Summary,
		Status:    it.Fields.Status.Name,
		IssueType: it.Fields.IssueType.Name,
		Priority:  it.Fields.Priority.Name,
		Assignee:  it.Fields.Assignee.DisplayName,
	}
}

type jiraSearchResponse struct {
	Issues []jiraIssue `json:"issues"`
}

// SearchIssues runs a bounded JQL search. The caller owns the deadline via ctx.
func (c *JiraClient) SearchIssues(ctx context.Context, f IssueFilters) ([]IssueData, error) {
	var clauses []string
	if f.Project != "" {
		clauses = append(clauses, fmt.Sprintf("project = %q", f.Project))
	}
	if f.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = %q", f.Status))
	}
	if f.Assignee != "" {
		clauses = append(clauses, fmt.Sprintf("assignee = %q", f.Assignee))
	}
	jql := strings.Join(clauses, " AND ")

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", strconv.Itoa(limit))
	q.Set("fields", "summary,status,issuetype,priority,assignee,project")

	reqURL := c.BaseURL + "/rest/api/3/search?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeJiraAPI, err, "failed to build Jira search request")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if IsTimeout(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("jira search: %w", context.DeadlineExceeded)
		}
		return nil, apperr.Wrap(apperr.CodeJiraAPI, err, "Jira search request failed")
	}
	defer resp.Body.Close()

	observeHeaders(c.Observer, "jira", resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, apperr.New(apperr.CodeJiraAPI, "Jira search returned HTTP %d: %s",
			resp.StatusCode, logutil.Truncate(logutil.Sanitize(string(body)), 200))
	}

	var parsed jiraSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.CodeJiraAPI, err, "failed to parse Jira search response")
	}

	issues := make([]IssueData, 0, len(parsed.Issues))
	for i := range parsed.Issues {
		issues = append(issues, parsed.Issues[i].toIssueData())
	}
	return issues, nil
}

// GetIssue fetches a single issue by its public key, e.g. "OPS-42".
func (c *JiraClient) GetIssue(ctx context.Context, key string) (IssueData, error) {
	if key == "" {
		return IssueData{}, apperr.New(apperr.CodeValidation, "issue key is required")
	}

	q := url.Values{}
	q.Set("fields", "summary,status,issuetype,priority,assignee,project")

	reqURL := c.BaseURL + "/rest/api/3/issue/" + url.PathEscape(key) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return IssueData{}, apperr.Wrap(apperr.CodeJiraAPI, err, "failed to build Jira issue request")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if IsTimeout(err) || ctx.Err() != nil {
			return IssueData{}, fmt.Errorf("jira issue: %w", context.DeadlineExceeded)
		}
		return IssueData{}, apperr.Wrap(apperr.CodeJiraAPI, err, "Jira issue request failed")
	}
	defer resp.Body.Close()

	observeHeaders(c.Observer, "jira", resp)

	if resp.StatusCode == http.StatusNotFound {
		return IssueData{}, apperr.New(apperr.CodeNotFound, "Jira issue not found: %s", key)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return IssueData{}, apperr.New(apperr.CodeJiraAPI, "Jira issue returned HTTP %d: %s",
			resp.StatusCode, logutil.Truncate(logutil.Sanitize(string(body)), 200))
	}

	var parsed jiraIssue
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return IssueData{}, apperr.Wrap(apperr.CodeJiraAPI, err, "failed to parse Jira issue response")
	}
	return parsed.toIssueData(), nil
}
