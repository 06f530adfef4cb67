// Package timeparse converts the human-friendly durations and start times accepted on the command line.
package timeparse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
)

var (
	durationPattern = regexp.MustCompile(`(?i)^([0-9]+\.?[0-9]*)\s*(hours|hour|hrs|hr|h|minutes|minute|mins|min|m|seconds|second|secs|sec|s)\s*$`)
	durationPrefix  = regexp.MustCompile(`^\d+[hm]?`)
)

var unitSeconds = map[string]float64{
	"h": 3600, "hr": 3600, "hrs": 3600, "hour": 3600, "hours": 3600,
	"m": 60, "min": 60, "mins": 60, "minute": 60, "minutes": 60,
	"s": 1, "sec": 1, "secs": 1, "second": 1, "seconds": 1,
}

var startLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04 MST",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/06 15:04 MST",
	"01/02/06 15:04",
	"01/02/2006 15:04",
	"01/02/2006",
}

// ParseDuration converts strings like "30m", "1.5h" or "90 seconds" to whole seconds, rounding down.
func ParseDuration(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if !durationPrefix.MatchString(trimmed) {
		return 0, fmt.Errorf("%w %q: please use e.g. 30m or 1h", qcs.ErrInvalidDuration, raw)
	}
	match := durationPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return 0, fmt.Errorf("%w %q: improperly formatted duration", qcs.ErrInvalidDuration, raw)
	}
	quantity, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", qcs.ErrInvalidDuration, raw, err)
	}
	seconds := int64(math.Floor(quantity * unitSeconds[strings.ToLower(match[2])]))
	if seconds <= 0 {
		return 0, fmt.Errorf("%w %q: must be at least one second", qcs.ErrInvalidDuration, raw)
	}
	return seconds, nil
}

// ParseStart resolves "now", "in <duration>", or an absolute timestamp in location.
func ParseStart(raw string, now time.Time, location *time.Location) (time.Time, error) {
	if location == nil {
		location = time.Local
	}
	trimmed := strings.TrimSpace(strings.Replace(raw, "@", " ", 1))
	trimmed = strings.Join(strings.Fields(trimmed), " ")
	lowered := strings.ToLower(trimmed)
	switch {
	case lowered == "" || lowered == "now":
		return now, nil
	case strings.HasPrefix(lowered, "in "):
		seconds, err := ParseDuration(strings.TrimPrefix(lowered, "in "))
		if err != nil {
			return time.Time{}, fmt.Errorf("%w %q: %v", qcs.ErrInvalidStartTime, raw, err)
		}
		return now.Add(time.Duration(seconds) * time.Second), nil
	}
	for _, layout := range startLayouts {
		if parsed, err := time.ParseInLocation(layout, trimmed, location); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w %q: improperly formatted date/time input", qcs.ErrInvalidStartTime, raw)
}

// FormatDuration renders seconds as hours, minutes, or seconds with two decimals.
func FormatDuration(seconds float64) string {
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.2fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.2fm", seconds/60)
	default:
		return fmt.Sprintf("%.2fs", seconds)
	}
}
