package vcs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/izavyalov-dev/treebeard-action/internal/inputs"
	"github.com/izavyalov-dev/treebeard-action/internal/vcs/github"
)

// ErrReferenceResolution is returned when no reference can be determined.
// There is no sensible default, so callers abort the run.
var ErrReferenceResolution = errors.New("reference resolution error")

// DefaultCanonicalRepository is the repository whose own pull requests pin
// the CLI to the merge result under test.
const DefaultCanonicalRepository = "treebeardtech/treebeard"

// Resolver determines the reference used to pin the CLI and tag the run.
//
// The reference is the symbolic target of HEAD (a branch ref such as
// refs/heads/main). A detached HEAD yields the commit it points at. Internal
// pull requests against the canonical repository use refs/pull/<n>/merge.
type Resolver struct {
	CanonicalRepository string
	// GitDir is the repository metadata directory, or a worktree's .git file.
	GitDir string
}

func (r Resolver) Resolve(trigger inputs.Trigger) (string, error) {
	canonical := r.CanonicalRepository
	if canonical == "" {
		canonical = DefaultCanonicalRepository
	}

	if trigger.IsPullRequest() && strings.EqualFold(trigger.Repository, canonical) {
		ref, internal, err := pullRequestRef(trigger)
		if err != nil {
			return "", err
		}
		if internal {
			return ref, nil
		}
	}

	gitDir := r.GitDir
	if gitDir == "" {
		gitDir = ".git"
	}
	return ReadHead(gitDir)
}

func pullRequestRef(trigger inputs.Trigger) (string, bool, error) {
	payload, err := trigger.EventPayload()
	if err != nil {
		return "", false, fmt.Errorf("%w: read event payload: %v", ErrReferenceResolution, err)
	}
	pr, err := github.ParsePullRequest(payload)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrReferenceResolution, err)
	}
	return pr.MergeRef(), pr.Internal(), nil
}

// ReadHead returns the symbolic target of HEAD with the "ref: " prefix and
// trailing newline removed.
func ReadHead(gitDir string) (string, error) {
	dir, err := resolveGitDir(gitDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrReferenceResolution, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("%w: read HEAD: %v", ErrReferenceResolution, err)
	}
	head := strings.TrimRight(string(data), "\r\n")
	head = strings.TrimPrefix(head, "ref: ")
	head = strings.TrimSpace(head)
	if head == "" {
		return "", fmt.Errorf("%w: HEAD in %s is empty", ErrReferenceResolution, dir)
	}
	return head, nil
}

// resolveGitDir follows a "gitdir: <path>" file as written for worktrees
// and submodules.
func resolveGitDir(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return path, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	target, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
	if !ok {
		return "", fmt.Errorf("%s is neither a directory nor a gitdir file", path)
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return target, nil
}
