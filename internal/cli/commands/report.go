package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dockpulse/internal/api/client"
)

func NewReportCommand() *cobra.Command {
	var window client.Window

	cmd := &cobra.Command{
		Use:   "report [container_id]",
		Short: "Summarize alerts and resource usage over a window",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				window.ContainerID = args[0]
			}
			r, err := client.NewClient().Report(cmd.Context(), window)
			if err != nil {
				return fmt.Errorf("failed to get report: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Report %s - %s, %d samples\n",
				r.StartTime.Local().Format(time.RFC3339), r.EndTime.Local().Format(time.RFC3339), r.Samples)
			as := r.AlertSummary
			fmt.Fprintf(out, "Alerts: %d total, %d critical, %d warning, %d info\n\n",
				as.TotalAlerts, as.CriticalAlerts, as.WarningAlerts, as.InfoAlerts)

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			if len(as.TopMetrics) > 0 {
				fmt.Fprintln(w, "METRIC\tALERTS\tMAX LEVEL\tCONTAINERS")
				for _, m := range as.TopMetrics {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", m.Metric, m.AlertCount, m.MaxLevel, strings.Join(m.TopTargets, ", "))
				}
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, "CONTAINER\tSAMPLES\tALERTS\tCPU AVG\tCPU MAX\tMEM AVG\tMEM MAX")
			for _, c := range r.TopContainers {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n",
					c.ContainerName, c.Samples, c.AlertCount, c.CPUAvg, c.CPUMax, c.MemAvg, c.MemMax)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Float64Var(&window.Hours, "hours", 24, "Summarize this many hours")
	return cmd
}
