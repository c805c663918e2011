package merge

import "time"

// DateLayout is the date token format used in filenames and bucket names.
const DateLayout = "2006-01-02"

// WeekStart returns the Monday at or before d, at UTC midnight.
// A Sunday maps to the previous Monday.
func WeekStart(d time.Time) time.Time {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	back := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -back)
}
