package forecast

import (
	"time"
)

// Resolver computes which forecast run should currently be available on the
// archive, accounting for the publication delay. It is a pure function of
// time and configuration; no network or filesystem access happens here.
type Resolver struct {
	// RunHours is the ordered set of valid run hours-of-day, ascending,
	// e.g. [0 3 6 9 12 15 18 21].
	RunHours []int

	// DataDelay is the expected lag between a run's nominal time and the
	// file appearing on the archive.
	DataDelay time.Duration

	// FallbackDepth is how many runs older than the resolved one to offer
	// as fallback candidates.
	FallbackDepth int
}

// Resolve returns the most recent run expected to be published at time now:
// the latest configured run hour at or before (now - DataDelay), rolling
// back to the previous day's last configured hour when the adjusted time
// falls before the day's first run.
func (r Resolver) Resolve(now time.Time) Run {
	effective := now.UTC().Add(-r.DataDelay)

	hour := -1
	for i := len(r.RunHours) - 1; i >= 0; i-- {
		if r.RunHours[i] <= effective.Hour() {
			hour = r.RunHours[i]
			break
		}
	}
	if hour < 0 {
		// Before the first run of the day; use the previous day's last run.
		effective = effective.AddDate(0, 0, -1)
		hour = r.RunHours[len(r.RunHours)-1]
	}

	return Run{
		Date: time.Date(effective.Year(), effective.Month(), effective.Day(), 0, 0, 0, 0, time.UTC),
		Hour: hour,
	}
}

// Candidates returns the resolved run followed by FallbackDepth predecessors
// at the configured run interval, newest first. The archive publishes with
// variable delay, so the newest nominal run may still be missing; callers
// walk this list until a fetch succeeds.
func (r Resolver) Candidates(now time.Time) []Run {
	first := r.Resolve(now)
	runs := make([]Run, 0, r.FallbackDepth+1)
	runs = append(runs, first)

	cur := first
	for i := 0; i < r.FallbackDepth; i++ {
		cur = r.previous(cur)
		runs = append(runs, cur)
	}
	return runs
}

// previous steps one run back in the configured hour set, crossing the date
// boundary when cur is the day's first run.
func (r Resolver) previous(cur Run) Run {
	idx := -1
	for i, h := range r.RunHours {
		if h == cur.Hour {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return Run{
			Date: cur.Date.AddDate(0, 0, -1),
			Hour: r.RunHours[len(r.RunHours)-1],
		}
	}
	return Run{Date: cur.Date, Hour: r.RunHours[idx-1]}
}
