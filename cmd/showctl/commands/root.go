package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calliope-av/showrunner/internal/infrastructure/config"
)

var (
	version string
	commit  string
	date    string
)

// Persistent flags shared by every subcommand.
var (
	flagConfig string
	flagServer string
	flagToken  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "showctl",
	Short: "Operator CLI for the showrunner scene engine",
	Long: `Showctl drives and inspects a showrunner daemon.

Scene documents are validated locally with the same rules the daemon
applies on load. Control verbs (import, start, stop, button) go through
the daemon's HTTP API and need its auth token; status is open. The
publish command talks MQTT directly using the broker settings from the
config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
}

// Execute runs the root command. Called by main.main().
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default configs/showrunner.yaml or $SHOWRUNNER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "API base URL (default from config, e.g. http://127.0.0.1:8089)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "API auth token (default from config or $SHOWRUNNER_API_TOKEN)")
}

// defaultConfigPath mirrors the daemon's default so a plain `showctl`
// next to a plain `showrunner` reads the same file.
const defaultConfigPath = "configs/showrunner.yaml"

// configPath resolves the config file location: flag, then environment,
// then default.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if path := os.Getenv("SHOWRUNNER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the shared config file. Commands that can work from
// flags alone call this lazily so a missing file only fails the commands
// that actually need it.
func loadConfig() (*config.Config, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}
