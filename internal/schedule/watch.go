package schedule

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"issuetriage/internal/config"
	"issuetriage/internal/triage"
)

// Sweeper runs one backlog sweep.
type Sweeper interface {
	Sweep(ctx context.Context, limit int) (triage.SweepResult, error)
}

// Watcher runs a sweep at every tick of a cron schedule until its context
// is cancelled. Sweeps run one after another on the calling goroutine, so a
// slow sweep delays the next tick instead of overlapping it.
type Watcher struct {
	sweeper  Sweeper
	schedule string
	location *time.Location
	limit    int

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// NewWatcher parses expr, a standard 5-field cron expression
// (minute hour day-of-month month day-of-week), e.g. "*/15 * * * *" or
// "0 9 * * 1-5".
func NewWatcher(sweeper Sweeper, expr string, loc *time.Location, limit int) (*Watcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("sweep_schedule is not set")
	}
	if _, err := config.ParseSchedule(expr); err != nil {
		return nil, fmt.Errorf("invalid sweep_schedule '%s': %w", expr, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Watcher{
		sweeper:  sweeper,
		schedule: expr,
		location: loc,
		limit:    limit,
		now:      time.Now,
		wait:     sleepContext,
	}, nil
}

// Run blocks until ctx is cancelled. Sweep errors are logged and the
// watcher carries on with the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	sched, err := config.ParseSchedule(w.schedule)
	if err != nil {
		return err
	}
	log.Printf("Sweep scheduled (cron: %s) limit=%d", w.schedule, w.limit)

	for {
		now := w.now().In(w.location)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("Next sweep at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		if err := w.wait(ctx, wait); err != nil {
			log.Printf("Sweep watcher stopped: %v", err)
			return nil
		}

		result, err := w.sweeper.Sweep(ctx, w.limit)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("Sweep watcher stopped mid-sweep: %v", err)
				return nil
			}
			log.Printf("Sweep error: %v", err)
			continue
		}
		log.Printf("Sweep complete: backlog=%d attempted=%d classified=%d skipped=%d failed=%d",
			result.Backlog, result.Attempted, result.Classified, result.Skipped, result.Failed)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
