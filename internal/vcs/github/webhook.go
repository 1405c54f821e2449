package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PullRequest captures the fields of a pull_request payload the action needs.
type PullRequest struct {
	Number   int
	HeadRepo string
	BaseRepo string
}

// Internal reports whether the pull request comes from a branch of the base
// repository rather than a fork.
func (pr PullRequest) Internal() bool {
	return pr.HeadRepo != "" && strings.EqualFold(pr.HeadRepo, pr.BaseRepo)
}

// MergeRef returns the synthetic ref GitHub maintains for the merge result.
func (pr PullRequest) MergeRef() string {
	return fmt.Sprintf("refs/pull/%d/merge", pr.Number)
}

type repoRef struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type pullRequestEvent struct {
	Number      int `json:"number"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			Repo repoRef `json:"repo"`
		} `json:"head"`
		Base struct {
			Repo repoRef `json:"repo"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository repoRef `json:"repository"`
}

// ParsePullRequest decodes a pull_request webhook payload.
func ParsePullRequest(body []byte) (PullRequest, error) {
	var evt pullRequestEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return PullRequest{}, fmt.Errorf("decode pull_request event: %w", err)
	}
	number := evt.Number
	if number <= 0 {
		number = evt.PullRequest.Number
	}
	if number <= 0 {
		return PullRequest{}, errors.New("pull_request event missing number")
	}
	base := normalizeRepo(evt.PullRequest.Base.Repo)
	if base == "" {
		base = normalizeRepo(evt.Repository)
	}
	return PullRequest{
		Number:   number,
		HeadRepo: normalizeRepo(evt.PullRequest.Head.Repo),
		BaseRepo: base,
	}, nil
}

func normalizeRepo(repo repoRef) string {
	if full := strings.TrimSpace(repo.FullName); full != "" {
		return full
	}
	owner := strings.TrimSpace(repo.Owner.Login)
	name := strings.TrimSpace(repo.Name)
	if owner != "" && name != "" {
		return owner + "/" + name
	}
	return ""
}
