package commands

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dockpulse/internal/alert"
	"github.com/dockpulse/internal/api/client"
	"github.com/dockpulse/internal/models"
)

func NewAlertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Short:   "Alert and threshold commands",
		Aliases: []string{"alerts", "a"},
	}

	cmd.AddCommand(newAlertRecentCommand())
	cmd.AddCommand(newThresholdsCommand())

	return cmd
}

func newAlertRecentCommand() *cobra.Command {
	var window client.Window

	cmd := &cobra.Command{
		Use:     "recent [container_id]",
		Short:   "List recent alerts",
		Aliases: []string{"ls", "list"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				window.ContainerID = args[0]
			}
			alerts, err := client.NewClient().RecentAlerts(cmd.Context(), window)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TIME\tCONTAINER\tLEVEL\tMETRIC\tVALUE\tTHRESHOLD\tMESSAGE")
			for _, a := range alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
					a.Timestamp.Local().Format(time.RFC3339),
					a.ContainerName,
					a.Level,
					a.Metric,
					a.Value,
					a.Threshold,
					a.Message,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Float64Var(&window.Hours, "hours", 0, "Look back this many hours (server default 24)")
	cmd.Flags().IntVarP(&window.Limit, "limit", "n", 50, "Maximum number of alerts")

	return cmd
}

func newThresholdsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "thresholds",
		Short:   "Inspect and change alert thresholds",
		Aliases: []string{"th"},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the threshold table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			thresholds, err := client.NewClient().Thresholds(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get thresholds: %w", err)
			}

			metrics := make([]models.MetricType, 0, len(thresholds))
			for m := range thresholds {
				metrics = append(metrics, m)
			}
			sort.Slice(metrics, func(i, j int) bool { return metrics[i] < metrics[j] })

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "METRIC\tWARNING\tCRITICAL\tENABLED")
			for _, m := range metrics {
				t := thresholds[m]
				fmt.Fprintf(w, "%s\t%g\t%g\t%t\n", m, t.Warning, t.Critical, t.Enabled)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(newThresholdSetCommand())

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Apply every threshold in a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := alert.ReadThresholdsFile(args[0])
			if err != nil {
				return err
			}
			c := client.NewClient()
			for _, r := range records {
				if _, err := c.SetThreshold(cmd.Context(), r.Metric, r.ThresholdConfig); err != nil {
					return fmt.Errorf("failed to set %s: %w", r.Metric, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d thresholds\n", len(records))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Write the threshold table to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			thresholds, err := client.NewClient().Thresholds(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get thresholds: %w", err)
			}
			if err := alert.WriteThresholdsFile(args[0], thresholds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d thresholds to %s\n", len(thresholds), args[0])
			return nil
		},
	})

	return cmd
}

func newThresholdSetCommand() *cobra.Command {
	var disabled bool

	cmd := &cobra.Command{
		Use:   "set [metric] [warning] [critical]",
		Short: "Set the thresholds of one metric",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			warning, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid warning value %q", args[1])
			}
			critical, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid critical value %q", args[2])
			}

			metric := models.MetricType(args[0])
			cfg, err := client.NewClient().SetThreshold(cmd.Context(), metric, models.ThresholdConfig{
				Warning:  warning,
				Critical: critical,
				Enabled:  !disabled,
			})
			if err != nil {
				return fmt.Errorf("failed to set threshold: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: warning=%g critical=%g enabled=%t\n", metric, cfg.Warning, cfg.Critical, cfg.Enabled)
			return nil
		},
	}

	cmd.Flags().BoolVar(&disabled, "disable", false, "Store the thresholds but stop alerting on them")
	return cmd
}
