package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/logging"
	"github.com/kylerisse/chksrv/pkg/option"
	"github.com/kylerisse/chksrv/pkg/report"
	"github.com/kylerisse/chksrv/pkg/runner"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

// Exit codes.
const (
	exitSuccess = 0
	exitFailed  = 1
	exitConfig  = 2
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code  int
	err   error
	quiet bool // already reported through the report or the log
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func configError(err error) error {
	return &exitError{code: exitConfig, err: err}
}

// flags holds the values of the persistent flags.
type flags struct {
	params      []string
	expects     []string
	retries     int
	timeout     float64
	delay       float64
	logLevel    string
	logFile     string
	output      string
	metricsFile string
}

const checkGroupID = "checks"

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "chksrv",
		Short:         "Check whether a network service works",
		Long:          `chksrv runs one check against a service, optionally retrying, evaluates expectations against the results and exits 0 on success.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return configError(fmt.Errorf("unknown check type %q (supported: tcp, tls, http, dns, ping)", args[0]))
			}
			return configError(errors.New("no check type selected (tcp, tls, http, dns, ping)"))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return configError(err)
	})

	pf := root.PersistentFlags()
	pf.StringArrayVarP(&f.params, "parameter", "p", nil, "Check parameter as NAME=VALUE (repeatable)")
	pf.StringArrayVarP(&f.expects, "expects", "e", nil, "Expectation expression that must be true (repeatable)")
	pf.IntVarP(&f.retries, "retry", "r", runner.DefaultRetries, "Number of attempts")
	pf.Float64Var(&f.timeout, "timeout", runner.DefaultTimeout.Seconds(), "Timeout per attempt in seconds (0 disables)")
	pf.Float64Var(&f.delay, "delay", 0, "Minimum pause between the starts of two attempts in seconds")
	pf.StringVar(&f.logLevel, "log-level", "warning", "Log level (debug, info, warning, error)")
	pf.StringVar(&f.logFile, "log-file", "", "Also write logs to this file, rotated")
	pf.StringVarP(&f.output, "output", "o", "text", "Output format (text, json)")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")

	root.AddGroup(&cobra.Group{ID: checkGroupID, Title: "Checks:"})
	for _, ct := range checkTypes {
		root.AddCommand(newCheckCmd(ct, f))
	}
	return root
}

func newCheckCmd(ct checkType, f *flags) *cobra.Command {
	return &cobra.Command{
		Use:     ct.name + " " + ct.arg,
		Short:   ct.short,
		Args:    cobra.ExactArgs(1),
		GroupID: checkGroupID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, f, ct.name, args[0])
		},
	}
}

func runCheck(cmd *cobra.Command, f *flags, checkType, target string) error {
	if f.output != "text" && f.output != "json" {
		return configError(fmt.Errorf("unknown output format %q (supported: text, json)", f.output))
	}

	logger, err := logging.Setup(logging.Config{
		Level: f.logLevel,
		File:  f.logFile,
		Out:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return configError(err)
	}

	params := option.ParseParams(f.params, logger)
	chk, err := newRegistry(logger).Create(checkType, target, params)
	if err != nil {
		return configError(err)
	}

	r, err := runner.New(chk, f.expects,
		runner.WithRetries(f.retries),
		runner.WithTimeout(seconds(f.timeout)),
		runner.WithDelay(seconds(f.delay)),
		runner.WithLogger(logger),
	)
	if err != nil {
		return configError(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ok, runErr := r.Run(ctx)
	if runErr != nil {
		logger.Errorf("Run aborted: %v", runErr)
	}

	s := report.FromRunner(r)
	out := cmd.OutOrStdout()
	if f.output == "json" {
		err = report.JSON(out, s)
	} else {
		err = report.Text(out, s)
	}
	if err != nil {
		return &exitError{code: exitFailed, err: fmt.Errorf("writing report: %w", err)}
	}

	if f.metricsFile != "" {
		if err := report.WriteTextfile(f.metricsFile, s); err != nil {
			return &exitError{code: exitFailed, err: fmt.Errorf("writing metrics: %w", err)}
		}
	}

	if runErr != nil {
		return &exitError{code: exitFailed, err: runErr, quiet: true}
	}
	if !ok {
		return &exitError{code: exitFailed, err: errors.New("check failed"), quiet: true}
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.quiet {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	var ce *check.ConfigError
	if errors.As(err, &ce) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}
	// Remaining errors come from cobra itself: unknown commands and
	// wrong argument counts.
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitConfig
}
