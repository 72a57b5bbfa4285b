package report

import (
	"encoding/json"
	"io"
	"time"
)

type jsonExpect struct {
	Source string `json:"source"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

type jsonAttempt struct {
	Number    int     `json:"number"`
	Success   bool    `json:"success"`
	TimedOut  bool    `json:"timed_out,omitempty"`
	Error     string  `json:"error,omitempty"`
	WillRetry bool    `json:"will_retry,omitempty"`
	Duration  float64 `json:"duration"`
}

type jsonReport struct {
	Type     string         `json:"type"`
	Target   string         `json:"target"`
	Layers   []string       `json:"layers,omitempty"`
	Success  bool           `json:"success"`
	Retries  int            `json:"retries"`
	Results  map[string]any `json:"results"`
	Expects  []jsonExpect   `json:"expects,omitempty"`
	Attempts []jsonAttempt  `json:"attempts,omitempty"`
}

// JSON writes the summary as an indented JSON document. Byte slices are
// written as strings and durations as seconds.
func JSON(w io.Writer, s Summary) error {
	out := jsonReport{
		Type:    s.Check.Type,
		Target:  s.Check.Target,
		Layers:  s.Check.Layers,
		Success: s.Success,
		Retries: s.Retries,
		Results: make(map[string]any, len(s.Results)),
	}
	for k, v := range s.Results {
		out.Results[k] = jsonValue(v)
	}
	for _, o := range s.Expects {
		e := jsonExpect{Source: o.Source, Passed: o.Passed}
		if o.Err != nil {
			e.Error = o.Err.Error()
		}
		out.Expects = append(out.Expects, e)
	}
	for _, a := range s.Attempts {
		ja := jsonAttempt{
			Number:    a.Number,
			Success:   a.Success,
			TimedOut:  a.TimedOut,
			WillRetry: a.WillRetry,
			Duration:  a.Duration.Seconds(),
		}
		if a.Err != nil {
			ja.Error = a.Err.Error()
		}
		out.Attempts = append(out.Attempts, ja)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func jsonValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case error:
		return t.Error()
	case time.Duration:
		return t.Seconds()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[k] = jsonValue(v)
		}
		return m
	default:
		return v
	}
}
