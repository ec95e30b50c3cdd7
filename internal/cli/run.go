package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/steadyrate/internal/config"
	"github.com/wesleyorama2/steadyrate/internal/engine"
	"github.com/wesleyorama2/steadyrate/internal/logging"
	"github.com/wesleyorama2/steadyrate/internal/metrics"
	"github.com/wesleyorama2/steadyrate/internal/output"
)

// Quick mode defaults.
const (
	defaultQuickRate     = 10
	defaultQuickDuration = "30s"
)

type runOptions struct {
	configFile string

	// quick mode
	url    string
	method string
	body   string

	// scenario overrides
	baseURL         string
	rate            float64
	timeUnit        string
	duration        string
	preAllocatedVUs int
	maxVUs          int
	overflow        string
	gracefulStop    string
	seed            int64
	entityID        string
	thresholds      []string

	// output
	jsonOut          bool
	outputPath       string
	format           string
	quiet            bool
	noColor          bool
	progressInterval time.Duration
	metricsAddr      string
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test from a configuration file or flags",
		Long: `Start iterations at a constant arrival rate and evaluate thresholds.

Config file mode:
  steadyrate run -c wallet.yaml

Quick mode (single request):
  steadyrate run --url http://localhost:8080/health \
    --rate 100 --duration 1m --max-vus 50 \
    --threshold 'http_req_duration=p(95)<500' \
    --threshold 'http_req_failed=rate<=0.01'

Flags override the configuration file and STEADYRATE_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configFile, "config", "c", "", "configuration file (YAML or JSON)")
	f.StringVar(&o.url, "url", "", "quick mode: URL to request")
	f.StringVarP(&o.method, "method", "X", "GET", "quick mode: HTTP method")
	f.StringVarP(&o.body, "data", "d", "", "quick mode: request body")

	f.StringVar(&o.baseURL, "base-url", "", "base URL substituted for {{baseUrl}}")
	f.Float64VarP(&o.rate, "rate", "r", 0, "iterations started per time unit")
	f.StringVar(&o.timeUnit, "time-unit", "", "time unit of --rate (default 1s)")
	f.StringVar(&o.duration, "duration", "", "how long to start iterations (e.g. 30s, 5m)")
	f.IntVar(&o.preAllocatedVUs, "pre-allocated-vus", 0, "workers started before the schedule")
	f.IntVar(&o.maxVUs, "max-vus", 0, "maximum concurrent workers")
	f.StringVar(&o.overflow, "overflow", "", "when every worker is busy: queue, block or drop")
	f.StringVar(&o.gracefulStop, "graceful-stop", "", "grace period for in-flight iterations after the schedule ends")
	f.Int64Var(&o.seed, "seed", 0, "seed for the request mix (0 = random)")
	f.StringVar(&o.entityID, "entity-id", "", "entity id substituted for {{entityId}} ({{uuid}} generates one)")
	f.StringArrayVar(&o.thresholds, "threshold", nil, "threshold as metric=expression, repeatable")

	f.BoolVar(&o.jsonOut, "json", false, "write the JSON report to stdout (summary goes to stderr)")
	f.StringVarP(&o.outputPath, "output", "o", "", "write the report to a file")
	f.StringVar(&o.format, "format", "", "report file format: json, yaml, junit or text (default from extension)")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "print only the verdict")
	f.BoolVar(&o.noColor, "no-color", false, "disable colored output")
	f.DurationVar(&o.progressInterval, "progress-interval", time.Second, "how often live progress is printed")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run (env STEADYRATE_METRICS_ADDR)")

	return cmd
}

func runLoad(cmd *cobra.Command, g *globalOptions, o *runOptions) error {
	env, err := g.loadEnv()
	if err != nil {
		return configError(err)
	}
	logger, err := g.logger(env, cmd.ErrOrStderr())
	if err != nil {
		return configError(err)
	}

	var fileFormat output.Format
	if o.format != "" {
		if fileFormat, err = output.ParseFormat(o.format); err != nil {
			return configError(err)
		}
	}

	cfg, err := o.buildConfig(cmd.Flags(), env)
	if err != nil {
		return configError(err)
	}
	scenario, err := config.ToScenario(cfg)
	if err != nil {
		return configError(err)
	}

	metricsAddr := env.MetricsAddr
	if o.metricsAddr != "" {
		metricsAddr = o.metricsAddr
	}
	var (
		prom      *metrics.PrometheusObserver
		metricsLn net.Listener
		engOpts   = []engine.Option{engine.WithLogger(logging.Component(logger, "engine"))}
	)
	if metricsAddr != "" {
		metricsLn, err = net.Listen("tcp", metricsAddr)
		if err != nil {
			return configError(fmt.Errorf("metrics listener: %w", err))
		}
		prom = metrics.NewPrometheusObserver(prometheus.Labels{"scenario": scenario.Name})
		engOpts = append(engOpts, engine.WithObservers(prom))
	}

	eng, err := engine.New(scenario, engOpts...)
	if err != nil {
		if metricsLn != nil {
			metricsLn.Close()
		}
		return configError(err)
	}

	// With --json, stdout carries only the report.
	var consoleOut io.Writer = cmd.OutOrStdout()
	if o.jsonOut {
		consoleOut = cmd.ErrOrStderr()
	}
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  consoleOut,
		Quiet:   o.quiet,
		NoColor: o.noColor,
	})
	console.PrintHeader(scenario.Name, eng.Summary())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		report *engine.Report
		runErr error
	)
	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			console.Watch(ctx, eng, scenario.Executor.MaxVUs, o.progressInterval)
			return nil
		},
	}
	if metricsLn != nil {
		tasks = append(tasks, func(ctx context.Context) error {
			return serveHTTP(ctx, metricsLn, prom.Handler(), logging.Component(logger, "metrics"))
		})
	}
	err = runAlongside(ctx, func(ctx context.Context) {
		report, runErr = eng.Run(ctx)
	}, tasks...)
	if err != nil {
		logger.WithError(err).Error("Metrics server failed")
	}

	if report == nil {
		return &ExitError{Code: engine.ExitAborted, Err: runErr}
	}
	if runErr != nil {
		logger.WithError(runErr).Error("Run aborted")
	}

	if o.jsonOut {
		if err := output.WriteReport(cmd.OutOrStdout(), output.FormatJSON, report); err != nil {
			return &ExitError{Code: engine.ExitAborted, Err: err}
		}
	}
	console.PrintSummary(report)

	if o.outputPath != "" {
		if err := output.WriteReportFile(o.outputPath, fileFormat, report); err != nil {
			return &ExitError{Code: engine.ExitAborted, Err: err}
		}
		logger.WithField("path", o.outputPath).Info("Report written")
	}

	if code := report.ExitCode(); code != engine.ExitPass {
		return &ExitError{Code: code}
	}
	return nil
}

// runAlongside calls run with ctx and the tasks in their own goroutines. The
// tasks' context is cancelled when run returns; a failing task cancels the
// other tasks but never run. It returns the first task error.
func runAlongside(ctx context.Context, run func(context.Context), tasks ...func(context.Context) error) error {
	group, gctx := errgroup.WithContext(ctx)
	taskCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	for _, task := range tasks {
		group.Go(func() error {
			return task(taskCtx)
		})
	}

	run(ctx)
	cancel()
	return group.Wait()
}

// buildConfig loads the configuration file, or builds a single-request
// configuration in quick mode, then applies the environment and flags.
func (o *runOptions) buildConfig(flags *pflag.FlagSet, env config.EnvOverrides) (*config.TestConfig, error) {
	var cfg *config.TestConfig
	switch {
	case o.configFile != "":
		loaded, err := config.LoadConfig(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case o.url != "":
		cfg = quickConfig(o.url, o.method, o.body)
	default:
		return nil, fmt.Errorf("either --config or --url is required")
	}

	config.ApplyEnv(cfg, env)
	if err := o.applyFlags(flags, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// quickConfig builds a configuration with one request variant.
func quickConfig(url, method, body string) *config.TestConfig {
	return &config.TestConfig{
		Name:        "quick",
		Description: fmt.Sprintf("%s %s", strings.ToUpper(method), url),
		Scenario: &config.ScenarioConfig{
			Rate:     defaultQuickRate,
			Duration: defaultQuickDuration,
		},
		Workload: []config.VariantConfig{{
			Name:   "request",
			Weight: 1,
			Method: method,
			URL:    url,
			Body:   body,
		}},
	}
}

// applyFlags copies the flags that were set on the command line.
func (o *runOptions) applyFlags(flags *pflag.FlagSet, cfg *config.TestConfig) error {
	if flags.Changed("base-url") {
		cfg.Settings.BaseURL = o.baseURL
	}
	if cfg.Scenario == nil {
		cfg.Scenario = &config.ScenarioConfig{}
	}
	sc := cfg.Scenario

	if flags.Changed("rate") {
		sc.Rate = o.rate
	}
	if flags.Changed("time-unit") {
		sc.TimeUnit = o.timeUnit
	}
	if flags.Changed("duration") {
		sc.Duration = o.duration
	}
	if flags.Changed("pre-allocated-vus") {
		sc.PreAllocatedVUs = o.preAllocatedVUs
	}
	if flags.Changed("max-vus") {
		sc.MaxVUs = o.maxVUs
	}
	if flags.Changed("overflow") {
		sc.Overflow = o.overflow
	}
	if flags.Changed("graceful-stop") {
		sc.GracefulStop = o.gracefulStop
	}
	if flags.Changed("seed") {
		sc.Seed = o.seed
	}
	if flags.Changed("entity-id") {
		sc.EntityID = o.entityID
	}

	for _, t := range o.thresholds {
		metric, expr, ok := strings.Cut(t, "=")
		metric, expr = strings.TrimSpace(metric), strings.TrimSpace(expr)
		if !ok || metric == "" || expr == "" {
			return fmt.Errorf("invalid --threshold %q: want metric=expression", t)
		}
		if cfg.Thresholds == nil {
			cfg.Thresholds = config.ThresholdsConfig{}
		}
		cfg.Thresholds[metric] = append(cfg.Thresholds[metric], config.ThresholdEntry{Threshold: expr})
	}
	return nil
}
