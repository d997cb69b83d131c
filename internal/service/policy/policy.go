// Package policy holds the pure suppression rules shared by the immediate
// dispatch path and the digest flush path.
package policy

import (
	"time"

	"github.com/textback/notify-api/internal/model"
)

// InQuietHours reports whether now falls inside the preference's quiet
// window, evaluated in the recipient's local time. The interval is
// [start, end); start > end means the window wraps past midnight.
func InQuietHours(pref *model.NotificationPreference, now time.Time) bool {
	if pref.QuietHoursStart == nil || pref.QuietHoursEnd == nil {
		return false
	}
	start, err := time.Parse("15:04", *pref.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", *pref.QuietHoursEnd)
	if err != nil {
		return false
	}

	local := now.In(pref.Location())
	minutes := local.Hour()*60 + local.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if startMin == endMin {
		return false
	}
	if startMin < endMin {
		return minutes >= startMin && minutes < endMin
	}
	// Wraps midnight: quiet from start until end the next day.
	return minutes >= startMin || minutes < endMin
}

// DayBounds returns the recipient's local calendar day containing now,
// as UTC instants suitable for the daily-cap count query.
func DayBounds(pref *model.NotificationPreference, now time.Time) (time.Time, time.Time) {
	local := now.In(pref.Location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, pref.Location())
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}
