package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dockpulse/internal/api/client"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/optimize"
)

func NewLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logs",
		Short:   "Log search and archive commands",
		Aliases: []string{"log", "l"},
	}

	cmd.AddCommand(newLogsSearchCommand())
	cmd.AddCommand(newLogsCompressCommand())
	cmd.AddCommand(newLogsCatCommand())

	return cmd
}

func newLogsSearchCommand() *cobra.Command {
	var (
		q          client.SearchQuery
		level      string
		start, end string
	)

	cmd := &cobra.Command{
		Use:   "search [terms...]",
		Short: "Search indexed container logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Text = strings.Join(args, " ")
			q.Level = models.LogLevel(level)

			var err error
			if q.Start, err = parseFlagTime(start); err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			if q.End, err = parseFlagTime(end); err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			result, err := client.NewClient().SearchLogs(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("failed to search logs: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TIME\tCONTAINER\tLEVEL\tFILE\tID")
			for _, e := range result.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format(time.RFC3339Nano),
					e.ContainerID,
					e.Level,
					e.FilePath,
					e.ID,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			cached := ""
			if result.Cached {
				cached = ", cached"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d matches in %.2fms%s\n", result.Total, result.TookMS, cached)
			return nil
		},
	}

	cmd.Flags().StringVarP(&q.ContainerID, "container", "c", "", "Only entries of this container")
	cmd.Flags().StringVar(&level, "level", "", "Only entries of this level (trace/debug/info/warn/error/fatal)")
	cmd.Flags().StringVar(&start, "from", "", "Start time (RFC3339)")
	cmd.Flags().StringVar(&end, "to", "", "End time (RFC3339)")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 50, "Maximum number of matches")

	return cmd
}

func parseFlagTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func newLogsCompressCommand() *cobra.Command {
	var (
		codecName string
		outDir    string
	)

	cmd := &cobra.Command{
		Use:   "compress [file...]",
		Short: "Compress log files in place",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := optimize.CodecByName(codecName)
			if err != nil {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(optimize.CodecNames(), ", "))
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "FILE\tARCHIVE\tORIGINAL\tCOMPRESSED\tSAVED")
			for _, path := range args {
				stats, err := optimize.Compress(path, outDir, codec)
				if err != nil {
					w.Flush()
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\n",
					stats.File,
					stats.Archive,
					formatBytes(uint64(stats.Original)),
					formatBytes(uint64(stats.Compressed)),
					stats.SpaceSaved,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&codecName, "codec", optimize.DefaultCodec, "Compression codec ("+strings.Join(optimize.CodecNames(), ", ")+")")
	cmd.Flags().StringVarP(&outDir, "output-dir", "o", "", "Directory for archives (default: next to each file)")

	return cmd
}

func newLogsCatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat [archive]",
		Short: "Print the contents of a compressed log archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := optimize.OpenArchive(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			_, err = io.Copy(cmd.OutOrStdout(), r)
			return err
		},
	}
}
