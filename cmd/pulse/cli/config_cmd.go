package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulsemetrics/pulse/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Pulse configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default pulse.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", path)
			fmt.Fprintln(out, "Set security.secret_key (or PULSE_SECURITY_SECRET_KEY), then run 'pulse serve'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVar(&path, "path", "pulse.yaml", "Where to write the file")

	return cmd
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		Long:  "Print the configuration after merging the file, PULSE_ environment variables and defaults. Secrets are redacted unless --reveal is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if configFile := viper.ConfigFileUsed(); configFile != "" {
				fmt.Fprintf(out, "# Config file: %s\n", configFile)
			} else {
				fmt.Fprintln(out, "# Config file: (none found, using defaults)")
			}
			if cfg.GeneratedSecret {
				fmt.Fprintln(out, "# security.secret_key is not set; a random key is generated on every start")
			}

			data, err := config.Marshal(cfg, !reveal)
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show secrets and passwords")

	return cmd
}
