package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronSchedule is a parsed 5-field cron expression: minute, hour,
// day-of-month, month, day-of-week. A nil set matches everything.
type cronSchedule [5]map[int]bool

var cronBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

// parseCron accepts "*", single values, lists, ranges ("1-5") and steps
// ("*/15", "0-30/10") in each field.
func parseCron(expr string) (cronSchedule, error) {
	var s cronSchedule
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return s, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	for i, f := range fields {
		set, err := parseCronField(f, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return s, fmt.Errorf("field %d %q: %w", i+1, f, err)
		}
		s[i] = set
	}
	return s, nil
}

func parseCronField(field string, lo, hi int) (map[int]bool, error) {
	if field == "*" {
		return nil, nil
	}
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", stepStr)
			}
			step = n
		}

		from, to := lo, hi
		if rng != "*" {
			a, b, isRange := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return nil, fmt.Errorf("invalid value %q", a)
			}
			to = from
			if isRange {
				if to, err = strconv.Atoi(b); err != nil {
					return nil, fmt.Errorf("invalid value %q", b)
				}
			} else if hasStep {
				to = hi
			}
		}
		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("%q outside %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return set, nil
}

func (s cronSchedule) matches(t time.Time) bool {
	vals := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, set := range s {
		if set != nil && !set[vals[i]] {
			return false
		}
	}
	return true
}

// nextCronTime returns the first minute after `after` matching cronExpr,
// searching at most one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	limit := after.Add(366 * 24 * time.Hour)
	for t := after.Truncate(time.Minute).Add(time.Minute); t.Before(limit); t = t.Add(time.Minute) {
		if sched.matches(t) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
