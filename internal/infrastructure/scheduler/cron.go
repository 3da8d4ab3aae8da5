package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpression is a parsed 5-field cron expression
// (minute hour day-of-month month day-of-week). It satisfies the
// Schedule interface, so jobs that must fire at a fixed wall-clock time
// register with a cron expression instead of an interval. The streak
// crediting job uses "30 0 * * *" by default so the previous day's feed
// is complete before crediting starts.
//
// Each field is a bit set over its valid range. Sunday is weekday 0.
type CronExpression struct {
	raw      string
	minute   uint64
	hour     uint64
	day      uint64
	month    uint64
	weekday  uint64
}

// cron field bounds, in field order.
var cronBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCronExpression parses an expression supporting *, */n, n, n-m,
// n-m/s and comma lists.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	ce := &CronExpression{raw: expr}
	sets := [5]*uint64{&ce.minute, &ce.hour, &ce.day, &ce.month, &ce.weekday}

	for i, field := range fields {
		b := cronBounds[i]
		set, err := parseCronField(field, b.min, b.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", b.name, err)
		}
		*sets[i] = set
	}
	return ce, nil
}

// parseCronField parses one field into a bit set. Comma splits first,
// then each part is a wildcard, range or single value with an optional
// /step suffix.
func parseCronField(field string, min, max int) (uint64, error) {
	var set uint64

	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		step := 1
		if body, stepStr, found := strings.Cut(part, "/"); found {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step value: %s", stepStr)
			}
			step = n
			part = body
		}

		start, end := min, max
		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			lo, hi, _ := strings.Cut(part, "-")
			var err error
			if start, err = strconv.Atoi(lo); err != nil {
				return 0, fmt.Errorf("invalid range start: %s", lo)
			}
			if end, err = strconv.Atoi(hi); err != nil {
				return 0, fmt.Errorf("invalid range end: %s", hi)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("invalid value: %s", part)
			}
			if v < min || v > max {
				return 0, fmt.Errorf("value out of range [%d-%d]: %d", min, max, v)
			}
			start = v
			if step == 1 {
				end = v
			}
		}

		for v := start; v <= end; v += step {
			if v >= min && v <= max {
				set |= 1 << uint(v)
			}
		}
	}

	if set == 0 {
		return 0, fmt.Errorf("empty field: %s", field)
	}
	return set, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first time strictly after the given time that matches
// the expression. Resolution is one minute.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Add(time.Minute).Truncate(time.Minute)

	// A year of minutes bounds the scan for any parseable expression.
	limit := t.AddDate(1, 0, 1)

	for t.Before(limit) {
		if ce.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	return ce.minute&(1<<uint(t.Minute())) != 0 &&
		ce.hour&(1<<uint(t.Hour())) != 0 &&
		ce.day&(1<<uint(t.Day())) != 0 &&
		ce.month&(1<<uint(t.Month())) != 0 &&
		ce.weekday&(1<<uint(t.Weekday())) != 0
}
