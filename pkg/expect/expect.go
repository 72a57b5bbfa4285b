// Package expect evaluates user-supplied expectation expressions against the
// results of a check.
//
// Expressions use the expr language (github.com/expr-lang/expr). They see two
// variables: res, the result set of the current attempt, and chk, the
// descriptor of the check. Besides expr's builtins, timedelta(days, seconds,
// microseconds, milliseconds, minutes, hours, weeks) returns a duration that
// can be added to or subtracted from now().
//
//	res['http.resp.status'] == 200
//	res['ssl.con.cert']['not_after'] > now() + timedelta(14)
//	chk.Port == 443 && res['tcp.con.family'] == 'ipv4'
package expect

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/logging"
	"github.com/sirupsen/logrus"
)

// ErrNotReady is returned when expectations are evaluated before the check
// produced any results.
var ErrNotReady = errors.New("there are no results from the check")

// Outcome is the result of evaluating one expression.
type Outcome struct {
	Source string
	Value  any
	Passed bool
	Err    error
}

// Evaluator compiles its expressions once, on first use, and evaluates them
// against successive result sets.
type Evaluator struct {
	sources []string
	logger  logrus.FieldLogger

	once     sync.Once
	programs []*vm.Program
	errs     []error
}

// New creates an Evaluator for sources. A nil logger discards output.
func New(sources []string, logger logrus.FieldLogger) *Evaluator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Evaluator{
		sources: append([]string(nil), sources...),
		logger:  logger,
	}
}

// Compile compiles every expression. It runs at most once; an expression
// that fails to compile stays failed and evaluates to false.
func (e *Evaluator) Compile() {
	e.once.Do(func() {
		e.programs = make([]*vm.Program, len(e.sources))
		e.errs = make([]error, len(e.sources))
		for i, src := range e.sources {
			e.logger.Debugf("Compile expect: %s", src)
			prog, err := expr.Compile(src, options()...)
			if err != nil {
				e.logger.Errorf("Cannot compile expect code %q: %v", src, err)
				e.errs[i] = fmt.Errorf("compile %q: %w", src, err)
				continue
			}
			e.programs[i] = prog
		}
	})
}

// Errors returns the compile error of each expression, nil where it
// compiled.
func (e *Evaluator) Errors() []error {
	e.Compile()
	return append([]error(nil), e.errs...)
}

// Evaluate runs every expression against res and desc and reports whether
// all passed. With no expressions it passes. Evaluation errors count as
// failures.
func (e *Evaluator) Evaluate(res check.Results, desc check.Descriptor) ([]Outcome, bool, error) {
	if len(res) == 0 {
		e.logger.Error("There are no results from the check. Did it run?")
		return nil, false, ErrNotReady
	}
	e.Compile()

	env := newEnv(res, desc)
	outcomes := make([]Outcome, len(e.sources))
	passed := true
	for i, src := range e.sources {
		o := Outcome{Source: src, Err: e.errs[i]}
		if prog := e.programs[i]; prog != nil {
			o.Value, o.Err = expr.Run(prog, env)
			if o.Err != nil {
				e.logger.Errorf("Error while evaluating expect %d: %v", i, o.Err)
			}
		}
		o.Passed = o.Err == nil && truthy(o.Value)
		e.logger.Debugf("Expect eval result: %v", o.Value)
		if !o.Passed {
			e.logger.Warnf("Expect %d failed", i)
			passed = false
		}
		outcomes[i] = o
	}
	if passed {
		e.logger.Info("Expects evaluated successful")
	} else {
		e.logger.Info("Expects evaluated failed")
	}
	return outcomes, passed, nil
}

func newEnv(res check.Results, desc check.Descriptor) map[string]any {
	return map[string]any{
		"res": map[string]any(res),
		"chk": desc,
	}
}

func options() []expr.Option {
	return []expr.Option{
		expr.Env(newEnv(check.Results{}, check.Descriptor{})),
		expr.Function("timedelta", timedelta),
	}
}

// timedelta builds a duration from positional days, seconds, microseconds,
// milliseconds, minutes, hours and weeks.
func timedelta(params ...any) (any, error) {
	units := []time.Duration{
		24 * time.Hour,
		time.Second,
		time.Microsecond,
		time.Millisecond,
		time.Minute,
		time.Hour,
		7 * 24 * time.Hour,
	}
	if len(params) > len(units) {
		return nil, fmt.Errorf("timedelta takes at most %d arguments, got %d", len(units), len(params))
	}
	var d time.Duration
	for i, p := range params {
		f, ok := toFloat(p)
		if !ok {
			return nil, fmt.Errorf("timedelta argument %d must be a number, got %T", i+1, p)
		}
		d += time.Duration(f * float64(units[i]))
	}
	return d, nil
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// truthy reports whether v counts as a passing value: false, nil, zero
// numbers and empty strings, slices and maps fail.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
