package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dockpulse/internal/api/client"
	"github.com/dockpulse/internal/models"
)

func NewMetricsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "metrics",
		Short:   "Container metrics commands",
		Aliases: []string{"stats", "m"},
	}

	cmd.AddCommand(newMetricsRecentCommand())

	return cmd
}

func newMetricsRecentCommand() *cobra.Command {
	var (
		window client.Window
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "recent [container_id]",
		Short: "Show recent metric samples",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				window.ContainerID = args[0]
			}
			c := client.NewClient()

			if !watch {
				return displayMetrics(cmd, c, window)
			}
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for {
				if err := displayMetrics(cmd, c, window); err != nil {
					return err
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
				fmt.Fprint(cmd.OutOrStdout(), "\033[H\033[2J")
			}
		},
	}

	cmd.Flags().Float64Var(&window.Hours, "hours", 0, "Look back this many hours (server default 1)")
	cmd.Flags().IntVarP(&window.Limit, "limit", "n", 20, "Maximum number of samples")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh every two seconds")

	return cmd
}

func displayMetrics(cmd *cobra.Command, c *client.Client, window client.Window) error {
	samples, err := c.RecentMetrics(cmd.Context(), window)
	if err != nil {
		return fmt.Errorf("failed to get metrics: %w", err)
	}
	return writeSamples(cmd.OutOrStdout(), samples)
}

func writeSamples(out io.Writer, samples []models.MetricSample) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tCONTAINER\tCPU %\tMEM USAGE / LIMIT\tMEM %\tNET I/O\tBLOCK I/O\tPIDS")

	for _, s := range samples {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s / %s\t%.2f\t%s / %s\t%s / %s\t%d\n",
			s.Timestamp.Local().Format(time.TimeOnly),
			s.ContainerName,
			s.CPUPercent,
			formatBytes(s.MemoryUsage),
			formatBytes(s.MemoryLimit),
			s.MemoryPercent,
			formatBytes(s.NetworkRxBytes),
			formatBytes(s.NetworkTxBytes),
			formatBytes(s.BlockReadBytes),
			formatBytes(s.BlockWriteBytes),
			s.PIDs,
		)
	}

	return w.Flush()
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
