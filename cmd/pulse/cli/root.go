package cli

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulsemetrics/pulse/internal/config"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve and the MCP server
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pulse",
		Short: "Multi-tenant API analytics",
		Long: `Pulse: multi-tenant API analytics.

Client services report one record per handled HTTP request to a project using an
API key. Pulse stores the records and answers summary, time-series and per-endpoint
queries over bounded time windows for the project's owner.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pulse.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newProjectCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func initConfig() {
	godotenv.Load() // .env is optional

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("pulse")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.pulse")
	}

	viper.SetEnvPrefix("PULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())
	viper.ReadInConfig() // Ignore error - config file is optional
}
