package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/steadyrate/internal/dummy"
	"github.com/wesleyorama2/steadyrate/internal/logging"
)

func newDummyCmd(g *globalOptions) *cobra.Command {
	var (
		addr           string
		latency        time.Duration
		jitter         time.Duration
		errorRate      float64
		initialBalance string
		seed           uint64
		wallets        []string
	)

	cmd := &cobra.Command{
		Use:   "dummy",
		Short: "Serve a stub wallet API to run load tests against",
		Long: `Serve an in-memory wallet API with simulated latency and errors:

  POST /api/v1/wallet               {"walletId", "operationType": DEPOSIT|WITHDRAW, "amount"}
  GET  /api/v1/wallets/{walletId}

Example:
  steadyrate dummy --addr :8080 --latency 20ms --jitter 10ms --error-rate 0.01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if errorRate < 0 || errorRate > 1 {
				return configError(fmt.Errorf("--error-rate must be between 0 and 1"))
			}
			if latency < 0 || jitter < 0 {
				return configError(fmt.Errorf("--latency and --jitter cannot be negative"))
			}
			balance, err := decimal.NewFromString(initialBalance)
			if err != nil {
				return configError(fmt.Errorf("invalid --initial-balance: %w", err))
			}
			for _, id := range wallets {
				if _, err := uuid.Parse(id); err != nil {
					return configError(fmt.Errorf("invalid --wallet %q: %w", id, err))
				}
			}

			env, err := g.loadEnv()
			if err != nil {
				return configError(err)
			}
			logger, err := g.logger(env, cmd.ErrOrStderr())
			if err != nil {
				return configError(err)
			}
			log := logging.Component(logger, "dummy")

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return configError(err)
			}

			srv := dummy.NewServer(dummy.Config{
				Latency:        latency,
				Jitter:         jitter,
				ErrorRate:      errorRate,
				InitialBalance: balance,
				Seed:           seed,
				Wallets:        wallets,
			}, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := serveHTTP(ctx, ln, srv.Handler(), log); err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.DurationVar(&latency, "latency", 0, "delay added to every response")
	f.DurationVar(&jitter, "jitter", 0, "random extra delay in [0, jitter)")
	f.Float64Var(&errorRate, "error-rate", 0, "fraction of requests answered with 500")
	f.StringVar(&initialBalance, "initial-balance", "0", "opening balance of new wallets")
	f.StringArrayVar(&wallets, "wallet", nil, "wallet id to create at startup, repeatable")
	f.Uint64Var(&seed, "seed", 0, "seed for latency jitter and injected errors (0 = random)")
	return cmd
}
