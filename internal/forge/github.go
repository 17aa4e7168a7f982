// Package forge reports build outcomes back to GitHub as commit statuses,
// using the google/go-github SDK the way the agent's original forge client
// did for issue and PR management — trimmed here to the one operation the
// build server needs.
package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v69/github"
)

// rateLimitWarningThreshold triggers a log warning when the remaining
// rate limit drops below this value.
const rateLimitWarningThreshold = 100

// State is a GitHub commit status state.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateError   State = "error"
)

// Reporter posts commit statuses to GitHub.com or GitHub Enterprise.
type Reporter struct {
	client  *github.Client
	owner   string
	repo    string
	context string
	logger  *slog.Logger
}

// NewReporter creates a Reporter. The httpClient may be http.DefaultClient
// or one wrapping retry/backoff; token authenticates via OAuth2 bearer.
// It always talks to the default GitHub API URL; newReporter takes a
// baseURL for Enterprise URLs (and test servers).
func NewReporter(httpClient *http.Client, token, owner, repo, statusContext string, logger *slog.Logger) (*Reporter, error) {
	return newReporter(httpClient, token, "", owner, repo, statusContext, logger)
}

func newReporter(httpClient *http.Client, token, baseURL, owner, repo, statusContext string, logger *slog.Logger) (*Reporter, error) {
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("forge: owner and repo are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := github.NewClient(httpClient).WithAuthToken(token)
	if baseURL != "" && baseURL != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configure enterprise url: %w", err)
		}
	}
	return &Reporter{client: client, owner: owner, repo: repo, context: statusContext, logger: logger}, nil
}

// Report sets sha's commit status on the configured repo. description is
// truncated to GitHub's 140-character limit; targetURL may be empty.
func (r *Reporter) Report(ctx context.Context, sha string, state State, description, targetURL string) error {
	stateStr := string(state)
	desc := truncate(description, 140)
	status := &github.RepoStatus{
		State:       &stateStr,
		Context:     &r.context,
		Description: &desc,
	}
	if targetURL != "" {
		status.TargetURL = &targetURL
	}

	_, resp, err := r.client.Repositories.CreateStatus(ctx, r.owner, r.repo, sha, status)
	if resp != nil {
		r.checkRate(resp)
	}
	if err != nil {
		return fmt.Errorf("create status for %s@%s/%s: %w", sha, r.owner, r.repo, err)
	}
	return nil
}

// checkRate logs a warning when the API rate limit is getting low.
func (r *Reporter) checkRate(resp *github.Response) {
	remaining := resp.Rate.Remaining
	if remaining > 0 && remaining < rateLimitWarningThreshold {
		r.logger.Warn("github rate limit low",
			"remaining", remaining,
			"limit", resp.Rate.Limit,
			"reset", resp.Rate.Reset.Format(time.RFC3339),
		)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.TrimSpace(s[:maxLen-len("…")]) + "…"
}
