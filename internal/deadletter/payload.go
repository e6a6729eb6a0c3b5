package deadletter

import (
	"encoding/json"
	"strings"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/upstream"
)

// Payload shapes are validated at the boundary so reprocessors work on a
// closed set of variants instead of optimistic field access.

type jiraIssuePayload struct {
	Issue struct {
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
		} `json:"fields"`
	} `json:"issue"`
}

type githubPullPayload struct {
	PullRequest struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// jiraEventTypes are the deliveries the Jira reprocessor acts on. Anything
// else is acknowledged as a no-op.
var jiraEventTypes = map[string]bool{
	"jira:issue_created": true,
	"jira:issue_updated": true,
	"issue_created":      true,
	"issue_updated":      true,
}

// githubEventTypes are the deliveries the GitHub reprocessor acts on.
var githubEventTypes = map[string]bool{
	"pull_request": true,
}

// parseJiraPayload validates a ticket-event payload and extracts the issue.
// The second return is false for unrecognized event types (no-op).
func parseJiraPayload(eventType, payload string) (upstream.IssueData, bool, error) {
	if !jiraEventTypes[eventType] {
		return upstream.IssueData{}, false, nil
	}

	var p jiraIssuePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return upstream.IssueData{}, false, apperr.Wrap(apperr.CodeValidation, err, "malformed Jira payload")
	}
	if p.Issue.Key == "" {
		return upstream.IssueData{}, false, apperr.New(apperr.CodeValidation, "Jira payload missing issue.key")
	}

	project, _, found := strings.Cut(p.Issue.Key, "-")
	if !found || project == "" {
		return upstream.IssueData{}, false, apperr.New(apperr.CodeValidation, "Jira issue key %q has no project prefix", p.Issue.Key)
	}

	return upstream.IssueData{
		Key:       p.Issue.Key,
		Project:   project,
		Summary:   p.Issue.Fields.Summary,
		Status:    p.Issue.Fields.Status.Name,
		IssueType: p.Issue.Fields.IssueType.Name,
		Priority:  p.Issue.Fields.Priority.Name,
		Assignee:  p.Issue.Fields.Assignee.DisplayName,
	}, true, nil
}

// parseGitHubPayload validates a PR-event payload and extracts the pull
// request plus its repository natural key.
func parseGitHubPayload(eventType, payload string) (upstream.PullData, bool, error) {
	if !githubEventTypes[eventType] {
		return upstream.PullData{}, false, nil
	}

	var p githubPullPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return upstream.PullData{}, false, apperr.Wrap(apperr.CodeValidation, err, "malformed GitHub payload")
	}
	if p.Repository.FullName == "" {
		return upstream.PullData{}, false, apperr.New(apperr.CodeValidation, "GitHub payload missing repository.full_name")
	}
	if p.PullRequest.Number <= 0 {
		return upstream.PullData{}, false, apperr.New(apperr.CodeValidation, "GitHub payload missing pull_request.number")
	}

	return upstream.PullData{
		Repo:    p.Repository.FullName,
		Number:  p.PullRequest.Number,
		Title:   p.PullRequest.Title,
		State:   p.PullRequest.State,
		Author:  p.PullRequest.User.Login,
		HeadRef: p.PullRequest.Head.Ref,
		BaseRef: p.PullRequest.Base.Ref,
	}, true, nil
}
