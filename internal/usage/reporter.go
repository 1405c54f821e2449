package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/izavyalov-dev/treebeard-action/internal/executor"
	"github.com/izavyalov-dev/treebeard-action/internal/observability"
	"github.com/izavyalov-dev/treebeard-action/protocol"
)

// Poster delivers a usage log.
type Poster interface {
	PostUsage(ctx context.Context, repository, runID string, log protocol.UsageLog) (bool, error)
}

// Reporter sends one usage log per run. It is best effort: every error is
// logged and turned into a false result.
type Reporter struct {
	poster     Poster
	repository string
	runID      string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

func NewReporter(poster Poster, repository, runID string, logger *slog.Logger, metrics *observability.Metrics) *Reporter {
	if logger == nil {
		logger = observability.NewLogger("usage")
	}
	return &Reporter{
		poster:     poster,
		repository: repository,
		runID:      runID,
		logger:     logger,
		metrics:    metrics,
	}
}

// Report posts the outcome and returns whether delivery was confirmed.
func (r *Reporter) Report(ctx context.Context, outcome executor.Outcome, start, end time.Time, revision, refName string) (delivered bool) {
	if r == nil || r.poster == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("usage report panicked", "event", "usage_report_failed", "error", fmt.Sprint(rec))
			delivered = false
		}
		r.metrics.IncUsageReport(delivered)
	}()

	status := protocol.UsageStatusFailure
	if outcome.Kind == executor.KindSuccess {
		status = protocol.UsageStatusSuccess
	}
	delivered, err := r.poster.PostUsage(ctx, r.repository, r.runID, protocol.UsageLog{
		Status:    status,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		SHA:       revision,
		Branch:    refName,
	})
	if err != nil {
		r.logger.Warn("usage report failed", "event", "usage_report_failed", "error", err)
		return false
	}
	r.logger.Debug("usage report sent", "event", "usage_reported", "delivered", delivered)
	return delivered
}
