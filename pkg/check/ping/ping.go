// Package ping implements a ping (ICMP echo) check.
//
// It shells out to the system ping command, parses the output for
// round-trip time, and records it as ping.rtt in milliseconds.
package ping

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/logging"
	"github.com/kylerisse/chksrv/pkg/option"
	"github.com/sirupsen/logrus"
)

const (
	// TypeName is the registered name for this check type.
	TypeName = "ping"

	// Layer is the result key namespace written by this check.
	Layer = "ping"

	// DefaultTimeout is the default ping timeout.
	DefaultTimeout = 3 * time.Second

	// DefaultCount is the default number of ping packets.
	DefaultCount = 1
)

// Defaults is the default option layer of the ping check.
var Defaults = option.Defaults{
	"ping.count":   DefaultCount,
	"ping.timeout": DefaultTimeout.Seconds(),
}

// CommandFunc runs the ping command with args and returns its combined
// output.
type CommandFunc func(ctx context.Context, args ...string) ([]byte, error)

// Ping implements check.Check using ICMP echo requests.
type Ping struct {
	target  string
	timeout time.Duration
	count   int
	options *option.Set
	command CommandFunc
	logger  logrus.FieldLogger
}

// Option is a functional option for configuring a Ping check.
type Option func(*Ping) error

// WithCommand replaces the function that runs the ping binary.
func WithCommand(cmd CommandFunc) Option {
	return func(p *Ping) error {
		if cmd == nil {
			return fmt.Errorf("command must not be nil")
		}
		p.command = cmd
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Ping) error {
		p.logger = logger
		return nil
	}
}

// New creates a Ping check for target. ping.count and ping.timeout are read
// from set.
func New(target string, set *option.Set, opts ...Option) (*Ping, error) {
	if target == "" {
		return nil, &check.ConfigError{Check: TypeName, Err: fmt.Errorf("target must not be empty")}
	}
	if set == nil {
		set = option.New(Defaults, nil)
	}

	p := &Ping{
		target:  target,
		options: set,
		command: systemPing,
		logger:  logging.Discard(),
	}

	var err error
	if p.count, err = set.Int("ping.count"); err != nil {
		return nil, &check.ConfigError{Check: TypeName, Key: "ping.count", Err: err}
	}
	if p.count < 1 {
		return nil, &check.ConfigError{Check: TypeName, Key: "ping.count", Err: fmt.Errorf("count must be at least 1, got %d", p.count)}
	}
	if p.timeout, err = set.Duration("ping.timeout"); err != nil {
		return nil, &check.ConfigError{Check: TypeName, Key: "ping.timeout", Err: err}
	}
	if p.timeout <= 0 {
		return nil, &check.ConfigError{Check: TypeName, Key: "ping.timeout", Err: fmt.Errorf("timeout must be positive, got %v", p.timeout)}
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
	}

	return p, nil
}

func systemPing(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ping", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Type returns the check type name.
func (p *Ping) Type() string {
	return TypeName
}

// Describe returns the Descriptor for this check instance.
func (p *Ping) Describe() check.Descriptor {
	return check.Descriptor{
		Type:    TypeName,
		Target:  p.target,
		Host:    p.target,
		Layers:  []string{Layer},
		Options: p.options.Values(),
	}
}

// args returns the ping command line. -W takes whole seconds.
func (p *Ping) args() []string {
	wait := int(math.Ceil(p.timeout.Seconds()))
	return []string{"-c", strconv.Itoa(p.count), "-W", strconv.Itoa(wait), p.target}
}

// Run executes the ping command and records ping.* results.
func (p *Ping) Run(ctx context.Context) check.Results {
	res := check.NewResults()
	log := p.logger.WithField("target", p.target)

	log.Infof("Ping %s (%d packets)", p.target, p.count)
	timer := check.StartTimer()
	out, err := p.command(ctx, p.args()...)
	timer.Record(res, "ping")

	if err == nil {
		var latency time.Duration
		if latency, err = parseOutput(string(out)); err == nil {
			res["ping.success"] = true
			res["ping.rtt"] = float64(latency.Microseconds()) / 1000
			log.Infof("Ping RTT %.3f ms", res["ping.rtt"])
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		log.Warnf("Ping failed: %v", err)
		check.RecordFailure(res, Layer, fmt.Errorf("ping %s: %w", p.target, err))
	}

	res[check.SuccessKey] = res.Bool("ping.success")
	return res
}

// Factory returns a check.Factory that creates ping checks from a host
// target and parameters.
func Factory(logger logrus.FieldLogger) check.Factory {
	if logger == nil {
		logger = logging.Discard()
	}
	return func(target string, params map[string]any) (check.Check, error) {
		p, err := New(target, option.New(Defaults, params), WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// parseOutput extracts the round-trip time from ping command output.
func parseOutput(output string) (time.Duration, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "time=") {
			continue
		}

		start := strings.Index(line, "time=") + len("time=")
		end := strings.IndexAny(line[start:], " ")
		if end == -1 {
			end = len(line[start:])
		}
		rttStr := line[start : start+end]

		unitStart := start + end
		unit := strings.TrimSpace(line[unitStart:])

		rtt, err := strconv.ParseFloat(strings.TrimSpace(rttStr), 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse RTT %q: %w", rttStr, err)
		}

		switch {
		case strings.Contains(unit, "ms"):
			return time.Duration(rtt * float64(time.Millisecond)), nil
		case strings.Contains(unit, "us") || strings.Contains(unit, "µs"):
			return time.Duration(rtt * float64(time.Microsecond)), nil
		case unit == "s":
			return time.Duration(rtt * float64(time.Second)), nil
		}

		return 0, fmt.Errorf("could not determine time unit from %q", unit)
	}
	return 0, fmt.Errorf("RTT not found in ping output")
}
