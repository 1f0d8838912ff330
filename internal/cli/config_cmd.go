package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/MichaAI/multidustry/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(newConfigGenerateCmd())
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := getEnv(cmd)
			if err := config.CheckConfigValidity(e.cfg); err != nil {
				return err
			}
			src := e.cfg.ConfigFileUsed()
			if src == "" {
				src = "defaults and environment"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config OK (%s)\n", src)
			return nil
		},
	}
}

func newConfigGenerateCmd() *cobra.Command {
	var out string
	var overwrite bool
	var update bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a default config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = config.DefaultConfigPath()
			}
			if overwrite && update {
				return fmt.Errorf("choose either --overwrite or --update")
			}
			return writeConfigFile(cmd, out, overwrite, update)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path for config.toml")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite existing config (creates a backup)")
	cmd.Flags().BoolVar(&update, "update", false, "merge defaults into existing config (creates a backup)")
	return cmd
}

// writeConfigFile renders defaults to out. An existing file is only touched
// with overwrite or update, and a backup is kept next to it.
func writeConfigFile(cmd *cobra.Command, out string, overwrite, update bool) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
		return err
	}
	existing, err := os.ReadFile(out)
	exists := err == nil
	switch {
	case err != nil && !os.IsNotExist(err):
		return err
	case exists && !overwrite && !update:
		return fmt.Errorf("config already exists at %s; use --overwrite to replace it or --update to merge new defaults", out)
	}

	content := config.RenderDefaultTOML()
	if exists && update {
		merged, changed, err := config.UpdateTOML(string(existing))
		if err != nil {
			return err
		}
		if !changed {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config already up to date: %s\n", out)
			return nil
		}
		content = merged
	}

	backup := ""
	if exists {
		backup = out + ".bak"
		if _, err := os.Stat(backup); err == nil {
			backup = fmt.Sprintf("%s.bak-%s", out, time.Now().Format("20060102-150405"))
		}
		if err := os.WriteFile(backup, existing, 0o600); err != nil {
			return err
		}
	}
	if err := os.WriteFile(out, []byte(content), 0o600); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
	if backup != "" {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Backup: %s\n", backup)
	}
	return nil
}
