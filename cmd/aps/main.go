package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vsinha/aps/pkg/interfaces/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "aps",
	Short: "APS - JIT scheduling and storage planning",
	Long: `aps computes just-in-time start dates for manufacturing operations and
plans where each batch's output is stored between production and consumption.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute JIT dates and allocate storage",
	RunE:  planRunner(commands.ModeRun),
}

var jitCmd = &cobra.Command{
	Use:   "jit",
	Short: "Compute JIT dates only",
	RunE:  planRunner(commands.ModeJIT),
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate a scenario",
	RunE:  planRunner(commands.ModeValidate),
}

var flags commands.Config

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.ConfigFile, "config", "", "Path to config file (yaml)")
	pf.StringVar(&flags.ScenarioFile, "scenario", "", "Path to scenario YAML file")
	pf.StringVar(&flags.ItemsFile, "items", "", "Path to items CSV file (optional)")
	pf.StringVar(&flags.CalendarFile, "calendar", "", "Path to calendar CSV file (optional)")
	pf.StringVar(&flags.CleanoutFile, "cleanouts", "", "Path to cleanout CSV file (optional)")
	pf.StringVar(&flags.Clock, "clock", "", "Simulation clock, RFC 3339 (overrides config)")
	pf.StringVar(&flags.Format, "format", "text", "Output format: text, json")
	pf.StringVar(&flags.OutputDir, "output", "", "Output directory for results (optional)")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose output")
	_ = rootCmd.MarkPersistentFlagRequired("scenario")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jitCmd)
	rootCmd.AddCommand(validateCmd)
}

func planRunner(mode commands.Mode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg := flags
		cfg.Mode = mode
		cfg.Out = cmd.OutOrStdout()
		cfg.LogOut = cmd.ErrOrStderr()
		return commands.NewPlanCommand(cfg).Execute(cmd.Context())
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
