package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPingCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ping [addr]",
		Short: "Measure round trips to a node's kv service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := ""
			if len(args) == 1 {
				addr = args[0]
			}
			c, err := dialKV(cmd, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			for i := 0; i < count; i++ {
				rtt, err := c.Ping(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pong in %s\n", rtt)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of pings")
	return cmd
}
