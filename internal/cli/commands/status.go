package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dockpulse/internal/api/client"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collector, stream and search status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := client.NewClient().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			col := status.Collector
			fmt.Fprintf(w, "Collector:\trunning=%t\tinterval=%s\tcontainers=%d\n", col.Running, col.Interval, col.MonitoredContainers)
			fmt.Fprintf(w, "\tticks=%d\tsamples=%d\talerts=%d\terrors=%d\n", col.Ticks, col.Samples, col.Alerts, col.Errors)
			if !col.LastTick.IsZero() {
				fmt.Fprintf(w, "\tlast tick %s\n", col.LastTick.Local().Format(time.RFC3339))
			}

			ws := status.WebSocket
			fmt.Fprintf(w, "WebSocket:\tactive=%d/%d\ttotal=%d\tsent=%d\n", ws.ActiveConnections, ws.MaxClients, ws.TotalConnections, ws.MessagesSent)

			se := status.Search
			fmt.Fprintf(w, "Search:\tentries=%d\tterms=%d\tcache=%d (hits=%d misses=%d)\n", se.Index.Entries, se.Index.Terms, se.CacheSize, se.CacheHits, se.CacheMisses)
			fmt.Fprintf(w, "\tcompressed=%d files\t%s -> %s\tcodec=%s\n", se.FilesCompressed, formatBytes(uint64(se.BytesIn)), formatBytes(uint64(se.BytesOut)), se.Codec)

			if status.Logs != nil {
				fmt.Fprintf(w, "Logs:\trunning=%t\tcontainers=%d\tbuffered=%d\tlines=%d\n", status.Logs.Running, status.Logs.Containers, status.Logs.Buffered, status.Logs.Lines)
			}

			if len(status.Containers) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "ID\tNAME\tSERVICE")
				for _, c := range status.Containers {
					id := c.ID
					if len(id) > 12 {
						id = id[:12]
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", id, c.Name, c.Service)
				}
			}
			return w.Flush()
		},
	}
}
