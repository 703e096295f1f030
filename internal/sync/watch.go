package sync

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is used when WatchOpts.Interval returns zero.
const DefaultPollInterval = 5 * time.Minute

// WatchOpts configures RunWatch.
type WatchOpts struct {
	// Interval is read before every wait so a config reload takes effect
	// on the next cycle.
	Interval func() time.Duration

	// Trigger starts a pass immediately (SIGHUP, a draft reaching its final
	// step). Nil never fires.
	Trigger <-chan struct{}

	// OnTrigger runs before a triggered pass, e.g. to reload config.
	OnTrigger func()

	// OnReport receives the report of every pass.
	OnReport func(*Report)

	// PassContext, when set, is used for the passes themselves instead of
	// the loop's context, so a pass in progress can outlive a shutdown
	// request by a grace period.
	PassContext context.Context
}

// RunWatch syncs every pending case now and then again on each poll
// interval or trigger, until ctx is canceled. A failed pass is logged and
// the loop keeps going. Returns nil on clean context cancel.
func (e *Engine) RunWatch(ctx context.Context, opts WatchOpts) error {
	trigger := opts.Trigger
	if trigger == nil {
		trigger = make(<-chan struct{})
	}

	e.logger.Info("sync watch started")
	defer e.logger.Info("sync watch stopped")

	for {
		e.watchPass(ctx, opts)

		interval := DefaultPollInterval
		if opts.Interval != nil {
			if d := opts.Interval(); d > 0 {
				interval = d
			}
		}

		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			e.logger.Debug("poll interval elapsed", slog.Duration("interval", interval))
		case <-trigger:
			timer.Stop()
			e.logger.Info("sync triggered")

			if opts.OnTrigger != nil {
				opts.OnTrigger()
			}
		}
	}
}

func (e *Engine) watchPass(ctx context.Context, opts WatchOpts) {
	if ctx.Err() != nil {
		return
	}

	if opts.PassContext != nil {
		ctx = opts.PassContext
	}

	report, err := e.SyncAll(ctx)
	if err != nil && ctx.Err() == nil {
		e.logger.Error("sync pass failed", slog.String("error", err.Error()))
	}

	if report != nil && opts.OnReport != nil {
		opts.OnReport(report)
	}
}
