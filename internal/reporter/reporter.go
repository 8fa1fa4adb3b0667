// Package reporter pushes commit statuses to the upstream SCM host.
// Reporter failures are logged by callers and never fail a build.
package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/zeus-ci/zeus/internal/models"
)

// State is an upstream commit-status value.
type State string

const (
	StateError   State = "error"
	StateFailure State = "failure"
	StatePending State = "pending"
	StateSuccess State = "success"
)

// statusContext identifies this CI in the upstream status list.
const statusContext = "zeus-ci"

var descriptions = map[State]string{
	StateError:   "Error encountered during build",
	StateFailure: "Build failed",
	StatePending: "Build is currently running",
	StateSuccess: "Build succeeded!",
}

// StatusReporter updates the upstream status of a build's commit.
type StatusReporter interface {
	UpdateStatus(ctx context.Context, build models.Build, state State) error
}

// Factory builds a reporter authenticated as the repo owner; the token is
// per-user and resolved by the caller.
type Factory func(token string) StatusReporter

// DefaultBaseURL is the upstream REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// GitHub reports commit statuses through the statuses REST API.
type GitHub struct {
	http      *resty.Client
	targetURL string
}

// Option configures NewGitHub.
type Option func(*GitHub)

// WithBaseURL points the reporter at a different API host.
func WithBaseURL(baseURL string) Option {
	return func(g *GitHub) { g.http.SetBaseURL(baseURL) }
}

// WithTargetURL sets the details link attached to every status.
func WithTargetURL(targetURL string) Option {
	return func(g *GitHub) { g.targetURL = targetURL }
}

// NewGitHub returns a reporter authenticated with the given access token.
func NewGitHub(token string, opts ...Option) *GitHub {
	g := &GitHub{
		http: resty.New().
			SetBaseURL(DefaultBaseURL).
			SetAuthToken(token).
			SetTimeout(15 * time.Second),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type statusBody struct {
	State       string `json:"state"`
	Description string `json:"description"`
	Context     string `json:"context"`
	TargetURL   string `json:"target_url,omitempty"`
}

// UpdateStatus creates or updates the status entry for the build's commit.
func (g *GitHub) UpdateStatus(ctx context.Context, build models.Build, state State) error {
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(statusBody{
			State:       string(state),
			Description: descriptions[state],
			Context:     statusContext,
			TargetURL:   g.targetURL,
		}).
		Post(fmt.Sprintf("/repos/%s/statuses/%s", build.RepoName, build.Commit))
	if err != nil {
		return fmt.Errorf("update status of %s@%s: %w", build.RepoName, build.Commit, err)
	}
	if resp.IsError() {
		return fmt.Errorf("update status of %s@%s: status %d",
			build.RepoName, build.Commit, resp.StatusCode())
	}
	return nil
}

// StateForStatus maps a terminal build status onto the upstream state.
func StateForStatus(status models.Status) State {
	switch status {
	case models.StatusError:
		return StateError
	case models.StatusFailed:
		return StateFailure
	default:
		return StateSuccess
	}
}
