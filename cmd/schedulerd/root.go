package main

import (
	"github.com/spf13/cobra"

	"github.com/conveyor-ci/conveyor/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "schedulerd",
	Short: "Conveyor scheduler daemon and control-plane client",
}

func init() {
	rootCmd.PersistentFlags().String("settings", "/etc/conveyor/settings.yaml", "path to the daemon settings file")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("json-logs", false, "emit logs as JSON instead of the human-readable console format")
	rootCmd.PersistentFlags().String("control-socket", "", "control socket path (overrides the settings file's controlSocket)")
}

// loadSettings reads the --settings file and applies a --control-socket
// override, shared by serve and every control-plane subcommand.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	path, _ := cmd.Flags().GetString("settings")
	settings, err := config.LoadSettings(path)
	if err != nil {
		return settings, err
	}
	if override, _ := cmd.Flags().GetString("control-socket"); override != "" {
		settings.ControlSocket = override
	}
	return settings, nil
}
