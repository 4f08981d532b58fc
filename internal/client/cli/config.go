package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hass-tunnel/ha-tunnel/internal/client/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file without connecting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("config OK: server=%s ha_server=%s reconnect_interval=%ds heartbeat_interval=%ds\n",
			cfg.Server, cfg.HAServer, cfg.ReconnectInterval, cfg.HeartbeatInterval)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
