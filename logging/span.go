package logging

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

var spanUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    day,
	"week":   7 * day,
	"month":  30 * day,
	"year":   365 * day,
}

// ParseSpan parses a human span such as "1 day", "2 weeks" or "90 minutes".
// Go duration strings ("12h", "90m") are accepted too.
func ParseSpan(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty span")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("span %q must be positive", s)
		}
		return d, nil
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid span %q", s)
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid span %q", s)
	}
	unit, ok := spanUnits[strings.TrimSuffix(fields[1], "s")]
	if !ok {
		return 0, fmt.Errorf("unknown unit in span %q", s)
	}
	f := n * float64(unit)
	if f < 1 || f > math.MaxInt64 {
		return 0, fmt.Errorf("span %q out of range", s)
	}
	return time.Duration(f), nil
}

// spanDays rounds d up to whole days, minimum one.
func spanDays(d time.Duration) int {
	days := int((d + day - 1) / day)
	if days < 1 {
		return 1
	}
	return days
}
