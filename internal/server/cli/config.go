package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hass-tunnel/ha-tunnel/internal/server/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file without starting the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("config OK: addr=%s peer_policy=%s proxy_mode=%s\n", cfg.Addr(), cfg.PeerPolicy, cfg.ProxyMode)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
