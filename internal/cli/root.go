package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MichaAI/multidustry/internal/config"
	"github.com/MichaAI/multidustry/internal/logging"
	"github.com/MichaAI/multidustry/internal/observ"
	"github.com/MichaAI/multidustry/pkg/transport"
)

type ctxKey string

const envKey ctxKey = "env"

// env is what every subcommand gets: resolved config and the process logger.
type env struct {
	cfg      *viper.Viper
	log      *zap.Logger
	shutdown observ.Shutdown
}

// Execute builds the root command and runs it.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd constructs the Cobra root command and wires dependencies.
func NewRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "multidustry",
		Short:         "Multidustry node and cluster tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if cfgPath != "" {
				v.SetConfigFile(cfgPath)
			}
			if err := config.Load(cmd.Context(), v); err != nil {
				return err
			}
			log, err := logging.New(v.GetString("log.level"), v.GetString("log.format"))
			if err != nil {
				return err
			}
			transport.SetLogger(log)
			shutdown, err := observ.Init(cmd.Context(), v)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: v, log: log, shutdown: shutdown}))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			e := getEnv(cmd)
			_ = e.log.Sync()
			return e.shutdown(context.Background())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (toml|yaml)")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newKVCmd())
	cmd.AddCommand(newPingCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newCompletionCmd())

	cmd.Run = func(cmd *cobra.Command, args []string) { _ = cmd.Help() }

	return cmd
}

func getEnv(cmd *cobra.Command) *env {
	v := cmd.Context().Value(envKey)
	if v == nil {
		fmt.Fprintln(os.Stderr, "internal error: config not loaded")
		os.Exit(1)
	}
	return v.(*env)
}
