package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"
	"github.com/kylerisse/chksrv/pkg/runner"
)

// Text writes a human-readable report: the check, every result key in
// sorted order, the expectation outcomes, the attempts and the verdict.
func Text(w io.Writer, s Summary) error {
	var b bytes.Buffer

	fmt.Fprintf(&b, "check:  %s %s\n", s.Check.Type, s.Check.Target)
	if len(s.Check.Layers) > 0 {
		fmt.Fprintf(&b, "layers: %s\n", strings.Join(s.Check.Layers, ", "))
	}

	if len(s.Results) > 0 {
		b.WriteString("\n")
		for _, k := range s.Results.Keys() {
			writeValue(&b, k, s.Results[k])
		}
	}

	if len(s.Expects) > 0 {
		b.WriteString("\n")
		for i, o := range s.Expects {
			status := "PASS"
			if !o.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(&b, "expect[%d] %s  %s", i, status, o.Source)
			if o.Err != nil {
				fmt.Fprintf(&b, "  (%v)", o.Err)
			}
			b.WriteString("\n")
		}
	}

	if len(s.Attempts) > 0 {
		b.WriteString("\n")
		for _, a := range s.Attempts {
			fmt.Fprintf(&b, "attempt %d/%d: %s\n", a.Number, s.Retries, attemptStatus(a))
		}
	}

	fmt.Fprintf(&b, "\nresult: %s\n", s.Verdict())

	_, err := w.Write(b.Bytes())
	return err
}

func attemptStatus(a runner.Attempt) string {
	var status string
	switch {
	case a.Success:
		status = "success"
	case a.TimedOut:
		status = "timeout"
	default:
		status = "failed"
	}
	if a.Err != nil && !a.TimedOut {
		status += fmt.Sprintf(" (%v)", a.Err)
	}
	status += fmt.Sprintf(" in %s", a.Duration.Round(time.Millisecond))
	if a.WillRetry {
		status += ", retrying"
	}
	return status
}

// writeValue writes one result line. Maps are flattened into dotted keys.
func writeValue(b *bytes.Buffer, key string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(t) {
			writeValue(b, key+"."+k, t[k])
		}
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeValue(b, key+"."+k, t[k])
		}
	default:
		fmt.Fprintf(b, "%s = %s\n", key, FormatValue(v))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatValue renders a single result value. Byte slices are shown by size
// and times with their distance from now.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case []byte:
		return fmt.Sprintf("<%s>", units.HumanSize(float64(len(t))))
	case string:
		return fmt.Sprintf("%q", t)
	case time.Time:
		return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.Time(t))
	case float64:
		return fmt.Sprintf("%g", t)
	case []string:
		return "[" + strings.Join(t, ", ") + "]"
	default:
		return fmt.Sprint(t)
	}
}
