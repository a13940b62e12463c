package usecase

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// errBadSchedule marks a schedule spec that cannot be interpreted.
var errBadSchedule = errors.New("malformed schedule")

// schedule is the minute/hour subset of a five-field cron spec.
// Day, month and weekday fields are accepted and ignored.
type schedule struct {
	minutes [60]bool
	hours   [24]bool
}

func parseSchedule(spec string) (schedule, error) {
	var s schedule
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return s, fmt.Errorf("%w: want 5 fields, got %d", errBadSchedule, len(fields))
	}
	if err := parseField(fields[0], 0, 59, s.minutes[:]); err != nil {
		return s, fmt.Errorf("minute: %w", err)
	}
	if err := parseField(fields[1], 0, 23, s.hours[:]); err != nil {
		return s, fmt.Errorf("hour: %w", err)
	}
	return s, nil
}

// parseField fills set for a comma-separated list of *, N, a-b and */n or a-b/n terms.
func parseField(field string, lo, hi int, set []bool) error {
	for _, term := range strings.Split(field, ",") {
		rangePart, step := term, 1
		if i := strings.IndexByte(term, '/'); i >= 0 {
			n, err := strconv.Atoi(term[i+1:])
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: step %q", errBadSchedule, term)
			}
			rangePart, step = term[:i], n
		}

		from, to := lo, hi
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var errA, errB error
			from, errA = strconv.Atoi(a)
			to, errB = strconv.Atoi(b)
			if errA != nil || errB != nil || from > to {
				return fmt.Errorf("%w: range %q", errBadSchedule, term)
			}
		default:
			n, err := strconv.Atoi(rangePart)
			if err != nil {
				return fmt.Errorf("%w: value %q", errBadSchedule, term)
			}
			from, to = n, n
			if step > 1 {
				to = hi
			}
		}
		if from < lo || to > hi {
			return fmt.Errorf("%w: %q out of range %d-%d", errBadSchedule, term, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return nil
}

// next returns the first matching minute strictly after now, in now's location.
func (s schedule) next(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, now.Location()).Add(time.Minute)
	// every (hour, minute) pair recurs within two days
	for i := 0; i < 2*24*60; i++ {
		if s.hours[t.Hour()] && s.minutes[t.Minute()] {
			return t
		}
		t = t.Add(time.Minute)
	}
	return topOfNextHour(now)
}

func topOfNextHour(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).Add(time.Hour)
}

// NextRun computes the next digest run after now for spec, evaluated in loc.
// A malformed spec falls back to the top of the next hour.
func NextRun(spec string, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	s, err := parseSchedule(spec)
	if err != nil {
		return topOfNextHour(local)
	}
	return s.next(local)
}

// ValidSchedule reports whether spec is fully understood.
func ValidSchedule(spec string) error {
	_, err := parseSchedule(spec)
	return err
}
