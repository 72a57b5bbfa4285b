// Package report renders the outcome of a check run as text, JSON, or a
// Prometheus textfile.
package report

import (
	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/expect"
	"github.com/kylerisse/chksrv/pkg/runner"
)

// Summary is everything a report needs about one run.
type Summary struct {
	Check    check.Descriptor
	Results  check.Results
	Expects  []expect.Outcome
	Attempts []runner.Attempt
	Retries  int
	Success  bool
}

// FromRunner builds a Summary from a runner after Run returned.
func FromRunner(r *runner.Runner) Summary {
	return Summary{
		Check:    r.Check().Describe(),
		Results:  r.Results(),
		Expects:  r.ExpectResults(),
		Attempts: r.Attempts(),
		Retries:  r.Retries(),
		Success:  r.Success(),
	}
}

// Verdict returns SUCCESS or FAILED.
func (s Summary) Verdict() string {
	if s.Success {
		return "SUCCESS"
	}
	return "FAILED"
}
