// Package option implements layered check configuration.
//
// Every check type declares a table of default values keyed by dotted
// names (e.g. "ssl.verify_mode", "http.method"). A check that wraps another
// check merges its own table over the inner one. A Set combines such a
// default table with per-instance overrides; lookups fall through to the
// defaults and fail with a NotFoundError when neither layer has the key.
package option

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Defaults is a table of default option values for a check type.
type Defaults map[string]any

// Merge returns a new table holding inner's values overridden by outer's.
// Neither argument is modified.
func Merge(inner, outer Defaults) Defaults {
	merged := make(Defaults, len(inner)+len(outer))
	for k, v := range inner {
		merged[k] = v
	}
	for k, v := range outer {
		merged[k] = v
	}
	return merged
}

// NotFoundError is returned when a key is neither set nor defaulted.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("option %q not found", e.Key)
}

// TypeError is returned by the typed getters when a value cannot be
// coerced to the requested type.
type TypeError struct {
	Key   string
	Value any
	Want  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("option %q: cannot use %v (%T) as %s", e.Key, e.Value, e.Value, e.Want)
}

// Set is a default table plus instance overrides.
// The default table is copied at construction and never written afterwards.
type Set struct {
	defaults  Defaults
	overrides map[string]any
}

// New creates a Set from a default table and instance overrides.
// Both maps are copied.
func New(defaults Defaults, overrides map[string]any) *Set {
	s := &Set{
		defaults:  Merge(nil, defaults),
		overrides: make(map[string]any, len(overrides)),
	}
	for k, v := range overrides {
		s.overrides[k] = v
	}
	return s
}

// Get resolves key through the overrides and then the defaults.
func (s *Set) Get(key string) (any, error) {
	if v, ok := s.overrides[key]; ok {
		return v, nil
	}
	if v, ok := s.defaults[key]; ok {
		return v, nil
	}
	return nil, &NotFoundError{Key: key}
}

// Set overrides key for this instance only.
func (s *Set) Set(key string, value any) {
	s.overrides[key] = value
}

// Keys returns all resolvable keys in sorted order.
func (s *Set) Keys() []string {
	seen := make(map[string]struct{}, len(s.defaults)+len(s.overrides))
	for k := range s.defaults {
		seen[k] = struct{}{}
	}
	for k := range s.overrides {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns every resolvable key with its effective value.
func (s *Set) Values() map[string]any {
	out := make(map[string]any, len(s.defaults)+len(s.overrides))
	for k, v := range s.defaults {
		out[k] = v
	}
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}

// WithPrefix returns every resolvable key starting with prefix, with the
// prefix stripped. Keys equal to the prefix itself are skipped.
func (s *Set) WithPrefix(prefix string) map[string]any {
	out := make(map[string]any)
	for _, k := range s.Keys() {
		if !strings.HasPrefix(k, prefix) || len(k) == len(prefix) {
			continue
		}
		v, _ := s.Get(k)
		out[k[len(prefix):]] = v
	}
	return out
}

// String resolves key as a string. A nil value yields "" and ok false.
func (s *Set) String(key string) (string, bool, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", false, err
	}
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case fmt.Stringer:
		return t.String(), true, nil
	case bool, int, int64, float64:
		return fmt.Sprint(t), true, nil
	default:
		return "", false, &TypeError{Key: key, Value: v, Want: "string"}
	}
}

// Bool resolves key as a boolean. Strings are parsed with ParseBool.
func (s *Set) Bool(key string) (bool, error) {
	v, err := s.Get(key)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case int:
		return t != 0, nil
	case int64:
		return t != 0, nil
	case string:
		if b, ok := ParseBool(t); ok {
			return b, nil
		}
	}
	return false, &TypeError{Key: key, Value: v, Want: "bool"}
}

// Int resolves key as an integer. Floats must be whole numbers.
func (s *Set) Int(key string) (int, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t == math.Trunc(t) {
			return int(t), nil
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, nil
		}
	}
	return 0, &TypeError{Key: key, Value: v, Want: "int"}
}

// Float resolves key as a floating-point number.
func (s *Set) Float(key string) (float64, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, nil
		}
	}
	return 0, &TypeError{Key: key, Value: v, Want: "float"}
}

// Duration resolves key as a duration. Numbers are seconds; strings may be
// either a number of seconds or a Go duration string ("1m30s").
func (s *Set) Duration(key string) (time.Duration, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(t)); err == nil {
			return d, nil
		}
	}
	f, err := s.Float(key)
	if err != nil {
		return 0, &TypeError{Key: key, Value: v, Want: "duration"}
	}
	return time.Duration(f * float64(time.Second)), nil
}
