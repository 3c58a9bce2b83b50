package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Every is a cadence period.
type Every string

// Cadence periods.
const (
	Daily   Every = "daily"
	Weekly  Every = "weekly"
	Monthly Every = "monthly"
)

// Cadence fires once per period at a wall-clock time. Weekly cadences use Weekday,
// monthly ones use Day; a Day past the end of a short month fires on its last day.
type Cadence struct {
	Every   Every  `yaml:"every"`
	At      string `yaml:"at"`
	Weekday string `yaml:"weekday,omitempty"`
	Day     int    `yaml:"day,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func (c *Cadence) validate() error {
	if _, _, err := parseClock(c.At); err != nil {
		return err
	}
	switch c.Every {
	case Daily:
	case Weekly:
		if _, ok := weekdays[strings.ToLower(c.Weekday)]; !ok {
			return fmt.Errorf("weekly cadence needs a weekday, got %q", c.Weekday)
		}
	case Monthly:
		if c.Day < 1 || c.Day > 31 {
			return fmt.Errorf("monthly cadence day must be 1..31, got %d", c.Day)
		}
	default:
		return fmt.Errorf("unknown cadence %q", c.Every)
	}
	return nil
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, errors.New("cadence time must be HH:MM")
	}
	return t.Hour(), t.Minute(), nil
}

// Next returns the first fire time strictly after after, evaluated in loc.
func (c *Cadence) Next(after time.Time, loc *time.Location) time.Time {
	hour, minute, err := parseClock(c.At)
	if err != nil {
		return time.Time{}
	}
	local := after.In(loc)
	y, m, d := local.Date()

	switch c.Every {
	case Daily:
		for i := 0; i <= 1; i++ {
			t := time.Date(y, m, d+i, hour, minute, 0, 0, loc)
			if t.After(after) {
				return t
			}
		}
	case Weekly:
		want := weekdays[strings.ToLower(c.Weekday)]
		for i := 0; i <= 7; i++ {
			t := time.Date(y, m, d+i, hour, minute, 0, 0, loc)
			if t.Weekday() == want && t.After(after) {
				return t
			}
		}
	case Monthly:
		for i := 0; i <= 1; i++ {
			first := time.Date(y, m+time.Month(i), 1, hour, minute, 0, 0, loc)
			day := min(c.Day, daysIn(first))
			t := first.AddDate(0, 0, day-1)
			if t.After(after) {
				return t
			}
		}
	}
	return time.Time{}
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
