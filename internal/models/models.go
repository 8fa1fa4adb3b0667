// Package models holds the persisted records and the status lifecycle
// shared across the listener, coordinator and runner.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultContainerLimit is the per-user container quota applied when a user
// row is created implicitly by the webhook listener.
const DefaultContainerLimit = 4

// User is the owner of one or more repositories.
type User struct {
	Username             string
	Token                string
	ContainerLimit       int
	ShareEnvWithForks    bool
	ShareEnvWithBranches bool
}

func (u User) String() string {
	return fmt.Sprintf("User(username: %s, container_limit: %d)", u.Username, u.ContainerLimit)
}

// EnvVar is one environment binding attached to a repository. Keys need not
// be unique; insertion order is preserved.
type EnvVar struct {
	Key   string
	Value string
}

// Repo is a repository registered with the CI, identified by its
// "owner/name" slab upstream.
type Repo struct {
	Name     string
	SCM      string
	Username string
	EnvVars  []EnvVar
}

// Owner returns the slab prefix, i.e. the upstream account name.
func (r Repo) Owner() string {
	owner, _, _ := strings.Cut(r.Name, "/")
	return owner
}

// ShellEnv renders the bindings as KEY=VALUE strings in insertion order.
func (r Repo) ShellEnv() []string {
	env := make([]string, 0, len(r.EnvVars))
	for _, v := range r.EnvVars {
		env = append(env, v.Key+"="+v.Value)
	}
	return env
}

// Build is one execution triggered by one push event.
type Build struct {
	ID       int64
	RepoName string
	Ref      string
	Commit   string
	Payload  json.RawMessage
	Status   Status
}

func (b Build) String() string {
	return fmt.Sprintf("Build(id: %d, repo: %s, ref: %s, commit: %s, status: %s)",
		b.ID, b.RepoName, b.Ref, b.Commit, b.Status)
}

// PushPayload is the subset of the upstream push event the executor needs.
// The full payload is persisted verbatim on the build.
type PushPayload struct {
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"`
	After   string `json:"after"`
	BaseRef string `json:"base_ref"`

	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`

	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// ParsePayload decodes the stored push event.
func (b Build) ParsePayload() (PushPayload, error) {
	var p PushPayload
	if err := json.Unmarshal(b.Payload, &p); err != nil {
		return PushPayload{}, fmt.Errorf("decode push payload of build %d: %w", b.ID, err)
	}
	return p, nil
}
