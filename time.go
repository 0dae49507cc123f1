package selfservice

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeout parses Go durations plus a day suffix, e.g. "2d" or "1d12h"
func ParseTimeout(pattern string) (time.Duration, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return 0, fmt.Errorf("empty timeout")
	}

	var days time.Duration
	if i := strings.Index(pattern, "d"); i > 0 {
		n, err := strconv.Atoi(pattern[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid timeout %q: %w", pattern, err)
		}
		days = time.Duration(n) * 24 * time.Hour
		pattern = pattern[i+1:]
		if pattern == "" {
			return days, nil
		}
	}

	d, err := time.ParseDuration(pattern)
	if err != nil {
		return 0, err
	}

	return days + d, nil
}
