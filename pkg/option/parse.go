package option

import (
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	dateLayouts     = []string{"2006-01-02"}
	timeLayouts     = []string{"15:04:05.999999999", "15:04:05", "15:04"}
	datetimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
	}
)

// ParseBool recognizes true/yes/y and false/no/n, case-insensitively.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y":
		return true, true
	case "false", "no", "n":
		return false, true
	}
	return false, false
}

// ParseValue converts a raw parameter value to the first type that parses:
// bool, int, float64, then time.Time for dates, times of day and datetimes.
// Anything else is returned unchanged as a string.
func ParseValue(raw string) any {
	s := strings.TrimSpace(raw)
	if b, ok := ParseBool(s); ok {
		return b
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	for _, layouts := range [][]string{dateLayouts, timeLayouts, datetimeLayouts} {
		for _, layout := range layouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t
			}
		}
	}
	return raw
}

// ParseParams parses "name=value" strings into typed overrides.
// Strings without a name or an equals sign are dropped with a warning.
// Later occurrences of a name win.
func ParseParams(params []string, logger logrus.FieldLogger) map[string]any {
	out := make(map[string]any, len(params))
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			if logger != nil {
				logger.Warnf("Ignoring malformed parameter %q (expected NAME=VALUE)", p)
			}
			continue
		}
		out[name] = ParseValue(value)
	}
	return out
}
