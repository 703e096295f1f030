package sync

import (
	"context"
	"fmt"
	"log/slog"
)

// SyncAll syncs every pending case (drafts, failures, and cases left in
// SYNCING by an interrupted run), newest first. One case failing does not
// stop the others. Cancellation stops the run between cases and is
// returned along with the partial report.
func (e *Engine) SyncAll(ctx context.Context) (*Report, error) {
	pending, err := e.repo.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: listing pending cases: %w", err)
	}

	keys := make([]string, len(pending))
	for i, c := range pending {
		keys[i] = c.Key()
	}

	return e.SyncCases(ctx, keys)
}

// SyncCases syncs the given cases in order, continuing past failures.
func (e *Engine) SyncCases(ctx context.Context, keys []string) (*Report, error) {
	start := e.nowFunc()
	report := &Report{}

	e.logger.Info("sync run starting", slog.Int("cases", len(keys)))

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			report.Duration = e.nowFunc().Sub(start)
			return report, fmt.Errorf("sync: run canceled: %w", err)
		}

		report.Attempted++

		res, err := e.SyncCase(ctx, key)
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, CaseFailure{Key: key, Err: err})

			continue
		}

		report.Succeeded++
		report.Results = append(report.Results, *res)
	}

	report.Duration = e.nowFunc().Sub(start)

	e.logger.Info("sync run complete",
		slog.Int("attempted", report.Attempted),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}
