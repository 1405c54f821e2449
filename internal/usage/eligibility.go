package usage

import (
	"context"
	"log/slog"

	"github.com/izavyalov-dev/treebeard-action/internal/config"
)

// Prober answers whether a repository is publicly visible.
type Prober interface {
	RepositoryPublic(ctx context.Context, fullName string) (bool, error)
}

// Eligibility is a once-per-run decision on whether usage may be reported.
// In auto mode the visibility probe runs in the background from the moment
// it is started; Wait collects the answer.
type Eligibility struct {
	done    chan struct{}
	allowed bool
}

// StartEligibility resolves the preference, starting the probe if needed.
func StartEligibility(ctx context.Context, pref config.UsageLogging, repository string, prober Prober, logger *slog.Logger) *Eligibility {
	e := &Eligibility{done: make(chan struct{})}
	switch pref {
	case config.UsageLoggingOn:
		e.allowed = true
		close(e.done)
	case config.UsageLoggingOff:
		close(e.done)
	default:
		if prober == nil || repository == "" {
			close(e.done)
			return e
		}
		go func() {
			defer close(e.done)
			public, err := prober.RepositoryPublic(ctx, repository)
			if err != nil {
				if logger != nil {
					logger.Debug("repository visibility probe failed", "event", "usage_probe_failed", "error", err)
				}
				return
			}
			e.allowed = public
		}()
	}
	return e
}

// Wait blocks until the decision is known or ctx ends, in which case usage
// is not reported.
func (e *Eligibility) Wait(ctx context.Context) bool {
	if e == nil {
		return false
	}
	select {
	case <-e.done:
		return e.allowed
	case <-ctx.Done():
		return false
	}
}
