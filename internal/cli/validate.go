package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/steadyrate/internal/config"
	"github.com/wesleyorama2/steadyrate/internal/rate"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file without running it",
		Long: `Load, validate and compile a configuration file, then print the effective
request mix and thresholds. Exits with code 2 when the configuration is invalid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return configError(fmt.Errorf("--config is required"))
			}
			env, err := g.loadEnv()
			if err != nil {
				return configError(err)
			}

			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return configError(err)
			}
			config.ApplyEnv(cfg, env)

			scenario, err := config.ToScenario(cfg)
			if err != nil {
				return configError(err)
			}

			out := cmd.OutOrStdout()
			ex := scenario.Executor
			fmt.Fprintf(out, "✓ %s is valid\n\n", configFile)
			fmt.Fprintf(out, "Scenario:  %s\n", scenario.Name)
			fmt.Fprintf(out, "Rate:      %g per %s for %s (%d iterations)\n", ex.Rate, ex.TimeUnit, ex.Duration, rate.PlannedTicks(ex.Rate, ex.TimeUnit, ex.Duration))
			fmt.Fprintf(out, "Workers:   %d pre-allocated, %d max, %s overflow\n", ex.PreAllocatedVUs, ex.MaxVUs, ex.Overflow)

			fmt.Fprintln(out, "\nRequest mix:")
			probs := scenario.Workload.Probabilities()
			names := make([]string, 0, len(probs))
			for name := range probs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %-16s %6.2f%%\n", name, probs[name]*100)
			}

			if len(scenario.Thresholds) > 0 {
				fmt.Fprintln(out, "\nThresholds:")
				for _, t := range scenario.Thresholds {
					abort := ""
					if t.AbortOnFail {
						abort = " (abortOnFail)"
					}
					fmt.Fprintf(out, "  %s %s%s\n", t.Name(), t.Expression, abort)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file (YAML or JSON)")
	return cmd
}
