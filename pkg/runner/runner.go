// Package runner executes a check with retries and a per-attempt timeout and
// evaluates expectations against the results of each attempt.
//
// Attempts are strictly sequential. Each attempt runs on a worker goroutine
// under its own deadline; when the deadline fires the attempt is recorded as
// timed out, and the runner still waits for the worker to finish tearing
// down its connections before the next attempt starts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/expect"
	"github.com/kylerisse/chksrv/pkg/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultRetries is the default number of attempts.
	DefaultRetries = 3

	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 10 * time.Second
)

// Result keys written by the runner when an attempt times out.
const (
	TimeoutKey   = "timeout"
	ErrorKey     = "error"
	ErrorKindKey = "error_kind"
)

var (
	// ErrNotReady is returned when expectations are evaluated before the
	// check produced any results.
	ErrNotReady = expect.ErrNotReady

	// ErrCheckFailed marks an attempt whose check reported failure.
	ErrCheckFailed = errors.New("check failed")

	// ErrExpectationFailed marks an attempt whose check succeeded but whose
	// expectations did not all pass.
	ErrExpectationFailed = errors.New("expectation failed")
)

// Attempt describes one execution of the check.
type Attempt struct {
	Number    int
	Success   bool
	TimedOut  bool
	Err       error
	WillRetry bool
	Duration  time.Duration
}

// Runner runs a check until it succeeds or the attempts are exhausted.
type Runner struct {
	check     check.Check
	evaluator *expect.Evaluator
	retries   int
	timeout   time.Duration
	delay     time.Duration
	logger    logrus.FieldLogger

	results  check.Results
	outcomes []expect.Outcome
	attempts []Attempt
	success  bool
}

// Option is a functional option for configuring a Runner.
type Option func(*Runner)

// WithRetries sets the number of attempts. Values below 1 mean 1.
func WithRetries(n int) Option {
	return func(r *Runner) {
		r.retries = max(1, n)
	}
}

// WithTimeout sets the per-attempt timeout. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = max(0, d)
	}
}

// WithDelay sets the minimum spacing between the starts of two attempts.
func WithDelay(d time.Duration) Option {
	return func(r *Runner) {
		r.delay = max(0, d)
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a Runner for chk with the given expectation expressions.
func New(chk check.Check, expects []string, opts ...Option) (*Runner, error) {
	if chk == nil {
		return nil, fmt.Errorf("runner: check must not be nil")
	}
	r := &Runner{
		check:   chk,
		retries: DefaultRetries,
		timeout: DefaultTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.evaluator = expect.New(expects, r.logger.WithField("component", "expect"))
	return r, nil
}

// Run executes the check up to the configured number of attempts and stops
// at the first attempt whose check and expectations all succeed. It returns
// an error only for conditions that make further attempts meaningless: a
// cancelled parent context or a check that produced no results.
func (r *Runner) Run(ctx context.Context) (bool, error) {
	log := r.logger.WithField("check", r.check.Type())
	r.evaluator.Compile()

	r.success = false
	r.attempts = nil
	r.results = nil
	r.outcomes = nil

	var limiter *rate.Limiter
	if r.delay > 0 {
		limiter = rate.NewLimiter(rate.Every(r.delay), 1)
	}
	desc := r.check.Describe()

	for n := 1; n <= r.retries; n++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return false, fmt.Errorf("runner: waiting for attempt %d: %w", n, err)
			}
		}
		log.Infof("Attempt %d/%d", n, r.retries)

		start := time.Now()
		res, timedOut := r.attempt(ctx, log)
		r.results = res

		outcomes, expectOK, err := r.evaluator.Evaluate(res, desc)
		if err != nil {
			return false, fmt.Errorf("runner: %w", err)
		}
		r.outcomes = outcomes

		a := Attempt{
			Number:   n,
			TimedOut: timedOut,
			Success:  res.Succeeded() && expectOK,
			Duration: time.Since(start),
		}
		switch {
		case a.Success:
		case timedOut:
			a.Err = check.ErrTimeout
		case !res.Succeeded():
			a.Err = failure(res, desc.Layers)
		default:
			a.Err = ErrExpectationFailed
		}
		a.WillRetry = !a.Success && n < r.retries && ctx.Err() == nil
		r.attempts = append(r.attempts, a)

		if a.Success {
			r.success = true
			break
		}
		if a.WillRetry {
			log.Warnf("Attempt %d failed: %v. Retrying...", n, a.Err)
			continue
		}
		log.Warnf("Attempt %d failed: %v. Stop.", n, a.Err)
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("runner: %w", err)
		}
	}
	return r.success, nil
}

// attempt runs the check once. When a timeout is configured the check runs
// on a worker goroutine; attempt returns only after the worker has finished.
func (r *Runner) attempt(ctx context.Context, log logrus.FieldLogger) (check.Results, bool) {
	if r.timeout <= 0 {
		return r.check.Run(ctx), false
	}

	actx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan check.Results, 1)
	go func() {
		done <- r.check.Run(actx)
	}()

	var res check.Results
	select {
	case res = <-done:
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			log.Errorf("Check timed out after %v", r.timeout)
		}
		res = <-done
	}

	timedOut := errors.Is(actx.Err(), context.DeadlineExceeded) && !res.Succeeded()
	if timedOut {
		if res == nil {
			res = check.NewResults()
		}
		res[TimeoutKey] = true
		res[check.SuccessKey] = false
		res[ErrorKey] = check.ErrTimeout.Error()
		res[ErrorKindKey] = check.KindTimeout
	}
	return res, timedOut
}

// failure describes the innermost failed layer of res. layers lists the
// check's layers from the innermost out.
func failure(res check.Results, layers []string) error {
	for _, layer := range append(append([]string(nil), layers...), res.Layers()...) {
		if _, ok := res[layer+"."+check.SuccessKey]; !ok {
			continue
		}
		if res.Bool(layer + "." + check.SuccessKey) {
			continue
		}
		if msg, ok := res[layer+".error"]; ok {
			return fmt.Errorf("%w: %s: %v", ErrCheckFailed, layer, msg)
		}
		return fmt.Errorf("%w: %s", ErrCheckFailed, layer)
	}
	return ErrCheckFailed
}

// Results returns the results of the last attempt.
func (r *Runner) Results() check.Results {
	return r.results
}

// ExpectResults returns the expectation outcomes of the last attempt.
func (r *Runner) ExpectResults() []expect.Outcome {
	return r.outcomes
}

// Attempts returns every attempt of the last Run.
func (r *Runner) Attempts() []Attempt {
	return append([]Attempt(nil), r.attempts...)
}

// Success reports the verdict of the last Run.
func (r *Runner) Success() bool {
	return r.success
}

// Check returns the check being run.
func (r *Runner) Check() check.Check {
	return r.check
}

// Retries returns the configured number of attempts.
func (r *Runner) Retries() int {
	return r.retries
}
