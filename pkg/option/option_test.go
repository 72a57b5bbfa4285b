package option

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var innerDefaults = Defaults{
	"tcp.timeout":    10.0,
	"tcp.ip_version": "fallback6",
}

func TestMerge_OuterWins(t *testing.T) {
	outer := Defaults{"tcp.timeout": 5.0, "ssl.ca": "__sys__"}
	merged := Merge(innerDefaults, outer)

	if merged["tcp.timeout"] != 5.0 {
		t.Errorf("expected outer timeout 5.0, got %v", merged["tcp.timeout"])
	}
	if merged["tcp.ip_version"] != "fallback6" {
		t.Errorf("expected inner ip_version to be visible, got %v", merged["tcp.ip_version"])
	}
	if merged["ssl.ca"] != "__sys__" {
		t.Errorf("expected ssl.ca from outer, got %v", merged["ssl.ca"])
	}
	if innerDefaults["tcp.timeout"] != 10.0 {
		t.Error("Merge must not modify its inputs")
	}
}

func TestSet_FallsBackToDefaults(t *testing.T) {
	s := New(innerDefaults, map[string]any{"tcp.timeout": 2})

	v, err := s.Get("tcp.timeout")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2 {
		t.Errorf("expected override 2, got %v", v)
	}

	v, err = s.Get("tcp.ip_version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "fallback6" {
		t.Errorf("expected default fallback6, got %v", v)
	}
}

func TestSet_NotFound(t *testing.T) {
	s := New(innerDefaults, nil)

	_, err := s.Get("http.method")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Key != "http.method" {
		t.Errorf("expected key http.method, got %q", nf.Key)
	}
}

func TestSet_OverrideDoesNotTouchDefaults(t *testing.T) {
	defaults := Defaults{"http.method": "GET"}
	a := New(defaults, nil)
	b := New(defaults, nil)

	a.Set("http.method", "POST")

	if got, _ := b.Get("http.method"); got != "GET" {
		t.Errorf("expected other instance to keep GET, got %v", got)
	}
	if defaults["http.method"] != "GET" {
		t.Error("default table was modified")
	}
	if got := a.Values()["http.method"]; got != "POST" {
		t.Errorf("expected override POST in effective values, got %v", got)
	}
}

func TestSet_WithPrefix(t *testing.T) {
	s := New(Defaults{"http.method": "GET"}, map[string]any{
		"http.header.Accept":     "text/html",
		"http.header.X-Trace-Id": "abc",
		"http.header.":           "ignored",
	})

	headers := s.WithPrefix("http.header.")
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %d: %v", len(headers), headers)
	}
	if headers["Accept"] != "text/html" {
		t.Errorf("expected Accept header, got %v", headers["Accept"])
	}
	if headers["X-Trace-Id"] != "abc" {
		t.Errorf("expected X-Trace-Id header, got %v", headers["X-Trace-Id"])
	}
}

func TestSet_TypedGetters(t *testing.T) {
	s := New(Defaults{
		"a.bool":   "yes",
		"a.int":    4.0,
		"a.float":  3,
		"a.dur":    "1m",
		"a.secs":   2.5,
		"a.nil":    nil,
		"a.string": 42,
	}, nil)

	if b, err := s.Bool("a.bool"); err != nil || !b {
		t.Errorf("Bool: got %v, %v", b, err)
	}
	if n, err := s.Int("a.int"); err != nil || n != 4 {
		t.Errorf("Int: got %v, %v", n, err)
	}
	if f, err := s.Float("a.float"); err != nil || f != 3 {
		t.Errorf("Float: got %v, %v", f, err)
	}
	if d, err := s.Duration("a.dur"); err != nil || d != time.Minute {
		t.Errorf("Duration string: got %v, %v", d, err)
	}
	if d, err := s.Duration("a.secs"); err != nil || d != 2500*time.Millisecond {
		t.Errorf("Duration seconds: got %v, %v", d, err)
	}
	if str, ok, err := s.String("a.nil"); err != nil || ok || str != "" {
		t.Errorf("String nil: got %q, %v, %v", str, ok, err)
	}
	if str, ok, err := s.String("a.string"); err != nil || !ok || str != "42" {
		t.Errorf("String int: got %q, %v, %v", str, ok, err)
	}
}

func TestSet_IntRejectsFraction(t *testing.T) {
	s := New(Defaults{"a.int": 1.5}, nil)
	_, err := s.Int("a.int")
	var te *TypeError
	if !errors.As(err, &te) {
		t.Fatalf("expected TypeError, got %v", err)
	}
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{"true", true},
		{"YES", true},
		{"y", true},
		{"False", false},
		{"no", false},
		{"N", false},
		{"42", 42},
		{"-7", -7},
		{"1.5", 1.5},
		{"GET", "GET"},
		{"__sys__", "__sys__"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ParseValue(tc.raw); got != tc.want {
			t.Errorf("ParseValue(%q) = %v (%T), want %v (%T)", tc.raw, got, got, tc.want, tc.want)
		}
	}
}

func TestParseValue_Times(t *testing.T) {
	date, ok := ParseValue("2024-03-01").(time.Time)
	if !ok {
		t.Fatal("expected date to parse as time.Time")
	}
	if date.Year() != 2024 || date.Month() != time.March || date.Day() != 1 {
		t.Errorf("unexpected date %v", date)
	}

	tod, ok := ParseValue("13:45:10").(time.Time)
	if !ok {
		t.Fatal("expected time of day to parse as time.Time")
	}
	if tod.Hour() != 13 || tod.Minute() != 45 || tod.Second() != 10 {
		t.Errorf("unexpected time of day %v", tod)
	}

	dt, ok := ParseValue("2024-03-01T10:00:00Z").(time.Time)
	if !ok {
		t.Fatal("expected datetime to parse as time.Time")
	}
	if dt.Hour() != 10 {
		t.Errorf("unexpected datetime %v", dt)
	}
}

func TestParseParams(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	params := ParseParams([]string{
		"http.method=POST",
		"tcp.timeout=2.5",
		"ssl.check_hostname=yes",
		"http.body=a=b",
		"garbage",
		"=novalue",
	}, logger)

	if params["http.method"] != "POST" {
		t.Errorf("expected POST, got %v", params["http.method"])
	}
	if params["tcp.timeout"] != 2.5 {
		t.Errorf("expected 2.5, got %v", params["tcp.timeout"])
	}
	if params["ssl.check_hostname"] != true {
		t.Errorf("expected true, got %v", params["ssl.check_hostname"])
	}
	if params["http.body"] != "a=b" {
		t.Errorf("expected value split on first '=', got %v", params["http.body"])
	}
	if len(params) != 4 {
		t.Errorf("expected 4 parsed params, got %d: %v", len(params), params)
	}

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("expected 2 warnings for malformed params, got %d", warnings)
	}
}
