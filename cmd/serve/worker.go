package serve

import (
	"context"
	"time"

	"github.com/ValentinKolb/dPersist/lib/retry"
	"github.com/ValentinKolb/dPersist/lib/timers"
	"github.com/VictoriaMetrics/metrics"
)

var (
	dueTimers   = metrics.NewCounter(`dpersist_worker_due_timers_total`)
	failedScans = metrics.NewCounter(`dpersist_worker_failed_scans_total`)
)

// worker periodically scans the ring segment owned by this replica and reports due timers
type worker struct {
	registry *timers.Registry
	segment  timers.HashRange
	interval time.Duration
	policy   retry.Policy
}

// run scans until ctx is done
func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := w.scan(ctx, last, now); err != nil {
				if ctx.Err() != nil {
					return
				}
				failedScans.Inc()
				log.Warningf("scan of %v failed: %v", w.segment, err)
				continue
			}
			last = now
		}
	}
}

// scan returns the timers of the segment that fire in (from, to]
func (w *worker) scan(ctx context.Context, from, to time.Time) ([]timers.Entry, error) {
	entries, err := retry.Do(ctx, w.policy, "scan timers", func(ctx context.Context) ([]timers.Entry, error) {
		return w.registry.FindByRange(ctx, w.segment.Begin, w.segment.End)
	})
	if err != nil {
		return nil, err
	}

	var due []timers.Entry
	for _, e := range entries {
		if dueBetween(e, from, to) {
			due = append(due, e)
			dueTimers.Inc()
			log.Infof("timer due: owner=%s name=%s at=%s version=%s", e.OwnerKey, e.TimerName, e.NextDue(from.Add(time.Nanosecond)).Format(time.RFC3339), e.Version)
		}
	}
	log.Debugf("scanned %v: %d timers, %d due", w.segment, len(entries), len(due))
	return due, nil
}

// dueBetween reports whether e fires at an instant in (from, to]
func dueBetween(e timers.Entry, from, to time.Time) bool {
	next := e.NextDue(from.Add(time.Nanosecond))
	return next.After(from) && !next.After(to)
}
