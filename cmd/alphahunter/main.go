package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/daasalpha/alphahunter/internal/app"
	"github.com/daasalpha/alphahunter/internal/backtest"
	"github.com/daasalpha/alphahunter/internal/config"
	"github.com/daasalpha/alphahunter/internal/service"
)

const (
	appName = "alphahunter"
	version = "v1.2.0"
)

const dateLayout = "2006-01-02"

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	godotenv.Load()
	setupLogging()

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Daily-bar portfolio backtester and signal screener",
		Version: version,
		Long: `alphahunter replays a momentum-and-value screening strategy over daily
bars: factor pipeline, buy signals, benchmark regime gating and a
deterministic portfolio simulation with full trade attribution.`,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config/settings.yaml", "Path to YAML config")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")

	// Accept underscore spellings of multi-word flags, e.g. --max_positions.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.AddCommand(newBacktestCmd(), newScreenCmd(), newServeCmd(), newScheduleCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func loadApp(cmd *cobra.Command) (*app.App, error) {
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return app.New(cfg)
}

func newBacktestCmd() *cobra.Command {
	var (
		from, to  string
		assets    string
		benchmark string
		capital   float64
		positions int
		holding   int
		stopLoss  float64
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a historical simulation over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			params, err := buildParams(a.Config.Backtest, from, to, assets, benchmark,
				capital, positions, holding, stopLoss)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result := a.Backtests.Run(ctx, params)
			if jsonOut {
				return printJSON(result)
			}
			if !result.Success {
				return fmt.Errorf("backtest failed: %s", result.Error)
			}
			printReport(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "End date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&assets, "assets", "", "Comma-separated asset IDs (default: benchmark constituents)")
	cmd.Flags().StringVar(&benchmark, "benchmark", "", "Benchmark index for regime gating")
	cmd.Flags().Float64Var(&capital, "capital", 0, "Initial capital (0 = configured default)")
	cmd.Flags().IntVar(&positions, "max-positions", 0, "Concurrent position cap (0 = configured default)")
	cmd.Flags().IntVar(&holding, "holding-days", 0, "Holding period in trading days (0 = configured default)")
	cmd.Flags().Float64Var(&stopLoss, "stop-loss", 0, "Stop-loss fraction, e.g. 0.08 (0 = configured default)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the full result as JSON")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newScreenCmd() *cobra.Command {
	var (
		assets  string
		asOf    string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Screen the universe for current buy candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			asOfDate := time.Now().UTC()
			if asOf != "" {
				asOfDate, err = time.Parse(dateLayout, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result := a.Screens.Run(ctx, splitAssets(assets), asOfDate)
			if jsonOut {
				return printJSON(result)
			}
			if !result.Success {
				return fmt.Errorf("screen failed: %s", result.Error)
			}

			fmt.Printf("Screen %s  regime=%s  candidates=%d\n",
				result.TradeDate.Format(dateLayout), result.Regime, len(result.Candidates))
			for _, c := range result.Candidates {
				fmt.Printf("  %-12s momentum=%6.2f vol_ratio=%5.2f valuation=%6.2f close=%.2f\n",
					c.AssetID, c.Momentum, c.VolumeRatio, c.ValuationRatio, c.Close)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&assets, "assets", "", "Comma-separated asset IDs (default: benchmark constituents)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Screening date (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the full result as JSON")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket progress feed and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and run scheduled jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, job := range a.Config.Scheduler.Jobs {
				state := "disabled"
				if job.Enabled {
					state = "enabled"
				}
				fmt.Printf("%-20s type=%-10s interval=%-10s lookback=%dd  %s\n",
					job.Name, job.Type, job.Interval, job.Lookback, state)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run [job]",
		Short: "Execute one job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res := a.Scheduler.RunJob(ctx, args[0])
			if !res.Success {
				return fmt.Errorf("job %s failed: %s", res.JobName, res.Error)
			}
			fmt.Printf("job %s completed in %s\n", res.JobName, res.Duration.Round(time.Millisecond))
			return nil
		},
	})

	return cmd
}

func buildParams(base backtest.Config, from, to, assets, benchmark string,
	capital float64, positions, holding int, stopLoss float64) (service.Params, error) {

	fromDate, err := time.Parse(dateLayout, from)
	if err != nil {
		return service.Params{}, fmt.Errorf("invalid --from: %w", err)
	}
	toDate, err := time.Parse(dateLayout, to)
	if err != nil {
		return service.Params{}, fmt.Errorf("invalid --to: %w", err)
	}

	cfg := base
	if capital > 0 {
		cfg.InitialCapital = capital
	}
	if positions > 0 {
		cfg.MaxPositions = positions
	}
	if holding > 0 {
		cfg.HoldingDays = holding
	}
	if stopLoss > 0 {
		cfg.StopLossPct = stopLoss
	}

	return service.Params{
		From:      fromDate,
		To:        toDate,
		Assets:    splitAssets(assets),
		Benchmark: benchmark,
		Config:    cfg,
	}, nil
}

func splitAssets(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(result service.Result) {
	r := result.Report
	m := r.StrategyMetrics

	fmt.Printf("Backtest %s\n", result.RunID)
	fmt.Printf("  trades        %d\n", m.TotalTrades)
	fmt.Printf("  win rate      %.2f%%\n", m.WinRate)
	fmt.Printf("  total return  %.2f%%\n", r.TotalReturn)
	fmt.Printf("  avg return    %.2f%%\n", m.AvgReturn)
	fmt.Printf("  max drawdown  %.2f%%\n", r.MaxDrawdown)
	fmt.Printf("  sharpe        %.3f\n", m.SharpeRatio)

	if len(r.Contributions) > 0 {
		fmt.Println("  top contributors:")
		for i, c := range r.Contributions {
			if i == 5 {
				break
			}
			fmt.Printf("    %-12s gain=%.2f (%.2f%%)\n", c.AssetID, c.TotalGain, c.GainPct)
		}
	}
}
