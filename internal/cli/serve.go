package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MichaAI/multidustry/internal/config"
	"github.com/MichaAI/multidustry/internal/daemon"
	"github.com/MichaAI/multidustry/internal/wire"
)

func newServeCmd() *cobra.Command {
	var listen, quicAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node: kv service, QUIC acceptor and HTTP facade",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := getEnv(cmd)
			if listen != "" {
				e.cfg.Set("http_addr", listen)
			}
			if quicAddr != "" {
				e.cfg.Set("transport.addr", quicAddr)
			}
			if err := config.CheckConfigValidity(e.cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := wire.BuildApp(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer app.Close()
			return daemon.Run(ctx, app)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP facade address (overrides http_addr)")
	cmd.Flags().StringVar(&quicAddr, "quic", "", "QUIC acceptor address (overrides transport.addr)")
	return cmd
}
