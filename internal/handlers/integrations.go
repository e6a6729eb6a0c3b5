package handlers

import (
	"net/http"
	"strconv"

	"github.com/pulseboard/pulseboard/internal/upstream"
)

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// GetIssues answers GET /api/v1/integrations/jira/issues. Filters come from
// query params; session_tokens is the caller's running session total, checked
// against the cap before any IO.
func (a *API) GetIssues(w http.ResponseWriter, r *http.Request) {
	f := upstream.IssueFilters{
		Project:  r.URL.Query().Get("project"),
		Status:   r.URL.Query().Get("status"),
		Assignee: r.URL.Query().Get("assignee"),
		Limit:    intQuery(r, "limit", 50),
	}
	sessionTokens := intQuery(r, "session_tokens", 0)

	result := a.Gateway.QueryIssues(r.Context(), f, sessionTokens)
	if result.Error != nil {
		writeAppError(w, r, result.Error)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetPullRequests answers GET /api/v1/integrations/github/pulls.
func (a *API) GetPullRequests(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		writeError(w, http.StatusBadRequest, "repo query parameter is required")
		return
	}
	state := r.URL.Query().Get("state")
	limit := intQuery(r, "limit", 50)
	sessionTokens := intQuery(r, "session_tokens", 0)

	result := a.Gateway.QueryPullRequests(r.Context(), repo, state, limit, sessionTokens)
	if result.Error != nil {
		writeAppError(w, r, result.Error)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetRateLimits reports advisory upstream rate limit telemetry.
func (a *API) GetRateLimits(w http.ResponseWriter, r *http.Request) {
	status, err := a.Gov.Status()
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
