package sales

import "time"

// DateKey returns the calendar date of t in loc formatted as YYYY-MM-DD.
// It is the partition key for the daily counters: rollover happens
// implicitly when the local date changes, there is no close-the-day
// operation. A nil loc falls back to the process's local timezone.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}
