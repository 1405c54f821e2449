package inputs

import (
	"errors"
	"os"
	"strings"
)

const (
	EventPullRequest       = "pull_request"
	EventPullRequestTarget = "pull_request_target"
)

// Trigger is the read-only context the CI platform hands to a run.
type Trigger struct {
	Repository string
	Owner      string
	RunID      string
	SHA        string
	EventName  string
	EventPath  string
	Ref        string
}

// LoadTrigger reads the GITHUB_* variables through lookup.
func LoadTrigger(lookup func(string) string) Trigger {
	if lookup == nil {
		lookup = os.Getenv
	}
	return Trigger{
		Repository: lookup("GITHUB_REPOSITORY"),
		Owner:      lookup("GITHUB_REPOSITORY_OWNER"),
		RunID:      lookup("GITHUB_RUN_ID"),
		SHA:        lookup("GITHUB_SHA"),
		EventName:  lookup("GITHUB_EVENT_NAME"),
		EventPath:  lookup("GITHUB_EVENT_PATH"),
		Ref:        lookup("GITHUB_REF"),
	}
}

// RepositoryOwner returns the owner of the repository, falling back to the
// owner part of the full name.
func (t Trigger) RepositoryOwner() string {
	if t.Owner != "" {
		return t.Owner
	}
	owner, _, _ := strings.Cut(t.Repository, "/")
	return owner
}

// IsPullRequest reports whether the run was triggered by a pull-request style event.
func (t Trigger) IsPullRequest() bool {
	return t.EventName == EventPullRequest || t.EventName == EventPullRequestTarget
}

// EventPayload returns the raw webhook payload the platform stored on disk.
func (t Trigger) EventPayload() ([]byte, error) {
	if t.EventPath == "" {
		return nil, errors.New("event payload path not set")
	}
	return os.ReadFile(t.EventPath)
}
