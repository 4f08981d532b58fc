// Package cli is the client binary's command surface: a long-lived
// "run" foreground process plus "version" and "config validate"
// utility subcommands, built the way the teacher assembles rootCmd
// with persistent flags and subcommands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"

	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ha-tunnel-client",
	Short: "Reverse tunnel client for Home Assistant",
	Long: `ha-tunnel-client maintains an authenticated WebSocket tunnel to a
ha-tunnel-server and forwards the requests it receives to a local
Home Assistant instance.

This binary is meant to run as one long-lived foreground process next
to Home Assistant (systemd unit, container entrypoint). There is no
daemon/attach/list surface — one process, one tunnel.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose (debug) logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ha-tunnel-client %s (%s, %s)\n", Version, GitCommit, BuildTime)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version information printed by the version subcommand.
func SetVersion(version, commit, buildTime string) {
	Version = version
	GitCommit = commit
	BuildTime = buildTime
}
