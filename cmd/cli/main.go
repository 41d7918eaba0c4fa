package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dockpulse/internal/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "dockpulse",
	Short: "DockPulse CLI - container metrics, alerts and log search",
	Long: `DockPulse CLI talks to a running DockPulse server (DOCKPULSE_API_URL,
default http://localhost:8080). It shows recent metrics and alerts, manages
alert thresholds, searches collected logs and compresses log files.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(commands.NewMetricsCommand())
	rootCmd.AddCommand(commands.NewAlertCommand())
	rootCmd.AddCommand(commands.NewLogsCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
