package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

// statusCmd is a lightweight liveness check against a running gateway's
// /api/health, distinct from doctor's static config inspection.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the gateway is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpStatus)
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Gateway.Enabled {
				fmt.Println("gateway: disabled in config")
				return nil
			}
			host := cfg.Gateway.Host
			if host == "" || host == "0.0.0.0" {
				host = "127.0.0.1"
			}
			addr := fmt.Sprintf("http://%s:%d/api/health", host, cfg.Gateway.Port)

			client := &http.Client{Timeout: 3 * time.Second}
			resp, err := client.Get(addr)
			if err != nil {
				fmt.Println("gateway: not running")
				return nil
			}
			defer resp.Body.Close()

			var body map[string]interface{}
			json.NewDecoder(resp.Body).Decode(&body)
			fmt.Printf("gateway: running (%s)\n", addr)
			for k, v := range body {
				fmt.Printf("  %s: %v\n", k, v)
			}
			return nil
		},
	}
}
