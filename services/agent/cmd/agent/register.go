package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ids/services/agent/internal/config"
	"ids/services/agent/internal/hubclient"
)

var registerTimeout time.Duration

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device with the hub and store its API key",
	Long: `Sends device_id and device_name to the hub using internal_token and
writes the returned api_key back into the configuration file. Registering an
already known device returns its existing key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cfg.InternalToken == "" {
			return fmt.Errorf("internal_token is required to register")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), registerTimeout)
		defer cancel()

		fmt.Fprintf(cmd.OutOrStdout(), "Registering %s (%s) with %s...\n", cfg.DeviceID, cfg.DeviceName, cfg.HubURL)
		reg, err := hubclient.New(cfg.HubURL, cfg.Delivery.Timeout, cfg.InternalToken).Register(ctx, cfg.DeviceID, cfg.DeviceName)
		if err != nil {
			return err
		}
		if err := config.SaveAPIKey(cfg.Path, reg.APIKey); err != nil {
			return err
		}
		if cfg.APIKey != "" && cfg.APIKey != reg.APIKey {
			fmt.Fprintln(cmd.OutOrStdout(), "Warning: the hub returned a different key than the one configured; the new key was saved.")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered. API key saved to %s\n", cfg.Path)
		return nil
	},
}

func init() {
	registerCmd.Flags().DurationVar(&registerTimeout, "timeout", 30*time.Second, "overall registration timeout")
}
