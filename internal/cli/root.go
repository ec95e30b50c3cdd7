// Package cli implements the steadyrate command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/steadyrate/internal/config"
	"github.com/wesleyorama2/steadyrate/internal/engine"
	"github.com/wesleyorama2/steadyrate/internal/logging"
)

var version = "0.1.0"

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// configError marks err as a configuration error (exit code 2).
func configError(err error) error {
	return &ExitError{Code: engine.ExitConfigError, Err: err}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel  string
	logFormat string
	envFiles  []string
}

// NewRootCmd creates the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:     "steadyrate",
		Short:   "Open-model load generator with SLA thresholds",
		Version: version,
		Long: `steadyrate starts requests at a fixed arrival rate, independent of how fast
the target answers, and checks the results against pass/fail thresholds.

The exit code reports the verdict: 0 pass, 1 thresholds failed,
2 invalid configuration, 3 aborted or interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, silent (env STEADYRATE_LOG_LEVEL)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json (env STEADYRATE_LOG_FORMAT)")
	flags.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, ".env files to load before reading STEADYRATE_* variables")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newDummyCmd(opts))

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return engine.ExitPass
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}

	// Flag and argument errors from cobra.
	fmt.Fprintln(stderr, "Error:", err)
	return engine.ExitConfigError
}

// Main is the entry point used by cmd/steadyrate.
func Main() int {
	return Execute(os.Args[1:], os.Stdout, os.Stderr)
}

// loadEnv loads the .env files and reads the STEADYRATE_* overrides.
func (o *globalOptions) loadEnv() (config.EnvOverrides, error) {
	if _, err := config.LoadEnv(o.envFiles...); err != nil {
		return config.EnvOverrides{}, fmt.Errorf("failed to load env file: %w", err)
	}
	env, err := config.ParseEnv()
	if err != nil {
		return config.EnvOverrides{}, fmt.Errorf("invalid environment: %w", err)
	}
	return env, nil
}

// logger builds the logger; flags win over the environment.
func (o *globalOptions) logger(env config.EnvOverrides, w io.Writer) (*logrus.Logger, error) {
	level := env.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	format := env.LogFormat
	if o.logFormat != "" {
		format = o.logFormat
	}
	return logging.New(level, logging.Format(format), w)
}
