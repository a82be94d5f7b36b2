package usecase

import (
	"fmt"
	"time"
)

// ClockLayout is the HH:mm:ss layout used in event details and wire payloads.
const ClockLayout = "15:04:05"

// FormatDuration renders a session length the way exit events report it:
// "45 seconds" below one minute, "2 minutes 5 seconds" otherwise.
// Negative durations render as zero.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	if secs < 60 {
		return fmt.Sprintf("%d seconds", secs)
	}
	return fmt.Sprintf("%d minutes %d seconds", secs/60, secs%60)
}

// FormatClock renders t as HH:mm:ss in loc (local time when loc is nil).
func FormatClock(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(ClockLayout)
}
