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

// GitHubClient talks to the GitHub REST pulls API.
type GitHubClient struct {
	BaseURL  string
	Token    string
	HTTP     *http.Client
	Observer RateLimitObserver
}

func NewGitHubClient(baseURL, token string, obs RateLimitObserver) *GitHubClient {
	return &GitHubClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		HTTP:     &http.Client{},
		Observer: obs,
	}
}

type githubPull struct {
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
}

func (p *githubPull) toPullData(repo string) PullData {
	return PullData{
		Repo:    repo,
		Number:  p.Number,
		Title:   p.Title,
		State:   p.State,
		Author:  p.User.Login,
		HeadRef: p.Head.Ref,
		BaseRef: p.Base.Ref,
	}
}

// ListPullRequests lists PRs for one repository ("owner/name"). The caller
// owns the deadline via ctx.
func (c *GitHubClient) ListPullRequests(ctx context.Context, repo, state string, limit int) ([]PullData, error) {
	if state == "" {
		state = "open"
	}
	if limit <= 0 {
		limit = 50
	}

	q := url.Values{}
	q.Set("state", state)
	q.Set("per_page", strconv.Itoa(limit))

	reqURL := fmt.Sprintf("%s/repos/%s/pulls?%s", c.BaseURL, repo, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeGitHubAPI, err, "failed to build GitHub pulls request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if IsTimeout(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("github pulls: %w", context.DeadlineExceeded)
		}
		return nil, apperr.Wrap(apperr.CodeGitHubAPI, err, "GitHub pulls request failed")
	}
	defer resp.Body.Close()

	observeHeaders(c.Observer, "github", resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, apperr.New(apperr.CodeGitHubAPI, "GitHub pulls returned HTTP %d: %s",
			resp.StatusCode, logutil.Truncate(logutil.Sanitize(string(body)), 200))
	}

	var parsed []githubPull
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.CodeGitHubAPI, err, "failed to parse GitHub pulls response")
	}

	pulls := make([]PullData, 0, len(parsed))
	for _, p := range parsed {
		pulls = append(pulls, p.toPullData(repo))
	}
	return pulls, nil
}

// GetPullRequest fetches a single pull request. The repo identifier must
// decompose into owner/name; anything else is rejected before any network IO.
func (c *GitHubClient) GetPullRequest(ctx context.Context, repo string, number int) (PullData, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return PullData{}, apperr.New(apperr.CodeValidation, "repo identifier %q is not owner/name", repo)
	}
	if number <= 0 {
		return PullData{}, apperr.New(apperr.CodeValidation, "pull request number must be positive")
	}

	reqURL := fmt.Sprintf("%s/repos/%s/pulls/%d", c.BaseURL, repo, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return PullData{}, apperr.Wrap(apperr.CodeGitHubAPI, err, "failed to build GitHub pull request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if IsTimeout(err) || ctx.Err() != nil {
			return PullData{}, fmt.Errorf("github pull: %w", context.DeadlineExceeded)
		}
		return PullData{}, apperr.Wrap(apperr.CodeGitHubAPI, err, "GitHub pull request failed")
	}
	defer resp.Body.Close()

	observeHeaders(c.Observer, "github", resp)

	if resp.StatusCode == http.StatusNotFound {
		return PullData{}, apperr.New(apperr.CodeNotFound, "GitHub pull request not found: %s#%d", repo, number)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return PullData{}, apperr.New(apperr.CodeGitHubAPI, "GitHub pull returned HTTP %d: %s",
			resp.StatusCode, logutil.Truncate(logutil.Sanitize(string(body)), 200))
	}

	var parsed githubPull
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return PullData{}, apperr.Wrap(apperr.CodeGitHubAPI, err, "failed to parse GitHub pull response")
	}
	return parsed.toPullData(repo), nil
}
