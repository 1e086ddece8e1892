package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			logOp(protocol.OpDoctor)
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("oxicrab doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
		return
	}
	fmt.Println(" (OK)")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)

	fmt.Println()
	fmt.Println("  Channels:")
	for _, s := range channelSummaries(cfg) {
		status := "disabled"
		if s.enabled && s.hasToken {
			status = "enabled"
		} else if s.enabled {
			status = "enabled (missing credentials)"
		}
		fmt.Printf("    %-12s %s\n", s.name+":", status)
	}

	fmt.Println()
	fmt.Println("  Storage:")
	if cfg.Database.Mode == "postgres" {
		fmt.Printf("    %-12s postgres\n", "Mode:")
		if cfg.Database.DSN == "" {
			fmt.Println("    DSN:         NOT SET (OXICRAB_POSTGRES_DSN)")
		} else {
			fmt.Println("    DSN:         configured")
		}
	} else {
		fmt.Printf("    %-12s file/sqlite (default)\n", "Mode:")
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	if cfg.Gateway.Enabled {
		fmt.Printf("    HTTP API:    listening on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
		fmt.Printf("    A2A:         %v\n", cfg.Gateway.A2A.Enabled)
		fmt.Printf("    Webhooks:    %d configured\n", len(cfg.Gateway.Webhooks))
	} else {
		fmt.Println("    disabled")
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("git")

	fmt.Println()
	ws := expandHome(cfg.Agents.Defaults.Workspace)
	if ws == "" {
		ws = expandHome("~/.oxicrab/workspace")
	}
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := apiKey
	if len(apiKey) > 8 {
		masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
