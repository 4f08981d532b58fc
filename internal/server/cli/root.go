// Package cli is the server binary's command surface: "run" starts
// the tunnel endpoint and ingress listener, "version" and "config
// validate" are utility subcommands, in the same shape as the
// client's cli package.
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
	Use:   "ha-tunnel-server",
	Short: "Reverse tunnel server for Home Assistant",
	Long: `ha-tunnel-server accepts the voice-platform-facing HTTP traffic and
the single authenticated tunnel connection from a ha-tunnel-client,
forwarding requests between them.`,
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
		fmt.Printf("ha-tunnel-server %s (%s, %s)\n", Version, GitCommit, BuildTime)
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
