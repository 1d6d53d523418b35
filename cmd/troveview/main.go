// Command troveview estimates accrued interest and redemption-queue position
// for Liquity v2 style troves. "troveview run" starts the long-running
// service in the configured mode; the other commands answer a single query
// and exit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/troveview/internal/app"
	"github.com/alanyoungcy/troveview/internal/config"
	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/redemption"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "troveview",
	Short:         "Trove interest and redemption-queue estimator",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		path, _ := cmd.Flags().GetString("config")
		if !cmd.Flags().Changed("config") {
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				path = ""
			}
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.LogLevel = strings.ToLower(lvl)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger = newLogger(cfg.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.toml", "path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	debtInFrontCmd.Flags().Bool("principal-only", false, "rank by recorded principal, ignoring accrued interest and fees")
	debtInFrontCmd.Flags().Bool("fresh", false, "bypass the debt-in-front cache")
	queueCmd.Flags().Int("limit", 20, "number of troves to print (0 for all)")
	for _, c := range []*cobra.Command{interestCmd, debtInFrontCmd, queueCmd} {
		c.Flags().Bool("json", false, "print the result as JSON")
	}

	rootCmd.AddCommand(runCmd, interestCmd, debtInFrontCmd, queueCmd, versionCmd)
}

// newLogger builds the structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the service in the configured mode (server, monitor, archive, full)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("troveview starting",
			slog.String("mode", cfg.Mode),
			slog.String("version", version),
		)
		logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

		application := app.New(cfg, logger)
		defer application.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			return err
		}

		logger.Info("troveview stopped")
		return nil
	},
}

// withDeps wires dependencies for a one-shot command. Object storage is
// never needed for a single query, so the mode is pinned to server.
func withDeps(cmd *cobra.Command, fn func(ctx context.Context, deps *app.Dependencies) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oneShot := *cfg
	oneShot.Mode = "server"
	application := app.New(&oneShot, logger)
	defer application.Close()

	deps, err := application.Deps(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, deps)
}

func parseRef(args []string) (domain.TroveRef, error) {
	ref := domain.TroveRef{CollateralType: domain.CollateralType(args[0]), ID: args[1]}
	if !ref.CollateralType.Valid() {
		return ref, fmt.Errorf("unknown collateral %q (valid: WETH, wstETH, rETH)", args[0])
	}
	return ref, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Interest Command ---

var interestCmd = &cobra.Command{
	Use:   "interest <collateral> <id>",
	Short: "Show accrued interest for a trove",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args)
		if err != nil {
			return err
		}
		return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
			info, err := deps.Troves.InterestInfo(ctx, ref)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd, info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Trove %s #%s\n", ref.CollateralType, ref.ID)
			fmt.Fprintf(out, "  recorded debt:     %s\n", info.RecordedDebt.StringFixed(2))
			fmt.Fprintf(out, "  accrued interest:  %s\n", info.AccruedInterest.StringFixed(2))
			if info.AccruedManagementFees != nil {
				fmt.Fprintf(out, "  management fees:   %s\n", info.AccruedManagementFees.StringFixed(2))
			}
			fmt.Fprintf(out, "  entire debt:       %s\n", info.EntireDebt.StringFixed(2))
			fmt.Fprintf(out, "  days since update: %d\n", info.DaysSinceUpdate)
			if info.BatchManager != "" {
				name := info.BatchManagerName
				if name == "" {
					name = info.BatchManager
				}
				fmt.Fprintf(out, "  batch manager:     %s\n", name)
			}
			return nil
		})
	},
}

// --- Debt In Front Command ---

var debtInFrontCmd = &cobra.Command{
	Use:   "debt-in-front <collateral> <id>",
	Short: "Show how much debt is redeemed before a trove",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args)
		if err != nil {
			return err
		}
		principalOnly, _ := cmd.Flags().GetBool("principal-only")
		fresh, _ := cmd.Flags().GetBool("fresh")

		return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
			res, err := deps.Troves.DebtInFront(ctx, ref, domain.DebtInFrontOptions{
				Fresh:         fresh,
				PrincipalOnly: principalOnly,
			})
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd, res)
			}

			out := cmd.OutOrStdout()
			bound := ""
			if res.LowerBound {
				bound = " (lower bound)"
			}
			fmt.Fprintf(out, "Trove %s #%s at %.2f%%\n", ref.CollateralType, ref.ID, res.InterestRate)
			fmt.Fprintf(out, "  debt in front: %s%s\n", redemption.FormatDebtAmount(res.DebtInFront), bound)
			fmt.Fprintf(out, "  troves ahead:  %d\n", res.TrovesAhead)
			if res.NextBehind != nil {
				fmt.Fprintf(out, "  next behind:   #%s at %.2f%%\n", res.NextBehind.Trove.ID, res.NextBehind.Trove.InterestRate)
			}
			return nil
		})
	},
}

// --- Queue Command ---

var queueCmd = &cobra.Command{
	Use:   "queue <collateral>",
	Short: "List a branch's troves in redemption order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collateral := domain.CollateralType(args[0])
		if !collateral.Valid() {
			return fmt.Errorf("unknown collateral %q (valid: WETH, wstETH, rETH)", args[0])
		}
		limit, _ := cmd.Flags().GetInt("limit")

		return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
			view, err := deps.Troves.Queue(ctx, collateral)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd, view)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "POS\tTROVE\tRATE %\tDEBT\tCUMULATIVE\t")
			for i, t := range view.Troves {
				if limit > 0 && i >= limit {
					break
				}
				fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\t%s\t\n",
					t.Position, t.Trove.ID, t.Trove.InterestRate,
					redemption.FormatDebtAmount(t.Debt.EntireDebt),
					redemption.FormatDebtAmount(t.CumulativeDebt),
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d troves, %s total debt\n", len(view.Troves), redemption.FormatDebtAmount(view.TotalDebt))
			return nil
		})
	},
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "troveview %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit:  %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:   %s\n", date)
	},
}
