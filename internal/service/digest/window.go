package digest

import (
	"fmt"
	"time"

	"github.com/textback/notify-api/internal/model"
)

// Window is the time span a digest bucket accumulates over, plus the
// instant the flush job should run.
type Window struct {
	Start        time.Time
	End          time.Time
	ScheduledFor time.Time
}

// ComputeWindow maps (cadence, now) to the bucket window. It is pure and
// deterministic for a given now; bucket identity depends on it.
//
//   - hourly: current top-of-hour to the next; flush at window end.
//   - daily: flush at the next occurrence of digestTime strictly after now
//     in the recipient's timezone; the window is the 24h leading up to it.
//   - custom: window end is now ceiled to the interval grid (grid anchored
//     at the epoch); flush at window end.
func ComputeWindow(mode model.CadenceMode, intervalMinutes int, digestTime string, loc *time.Location, now time.Time) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}

	switch mode {
	case model.CadenceHourly:
		start := now.Truncate(time.Hour)
		end := start.Add(time.Hour)
		return Window{Start: start.UTC(), End: end.UTC(), ScheduledFor: end.UTC()}, nil

	case model.CadenceDaily:
		at, err := time.Parse("15:04", digestTime)
		if err != nil {
			return Window{}, fmt.Errorf("invalid digest time %q: %w", digestTime, err)
		}
		local := now.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), at.Hour(), at.Minute(), 0, 0, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return Window{
			Start:        next.Add(-24 * time.Hour).UTC(),
			End:          next.UTC(),
			ScheduledFor: next.UTC(),
		}, nil

	case model.CadenceCustom:
		if intervalMinutes < model.MinCustomIntervalMinutes {
			return Window{}, fmt.Errorf("custom cadence interval must be at least %d minutes", model.MinCustomIntervalMinutes)
		}
		interval := time.Duration(intervalMinutes) * time.Minute
		end := now.Truncate(interval)
		if !end.After(now) {
			end = end.Add(interval)
		}
		return Window{Start: end.Add(-interval).UTC(), End: end.UTC(), ScheduledFor: end.UTC()}, nil
	}

	return Window{}, fmt.Errorf("cadence mode %q has no digest window", mode)
}
