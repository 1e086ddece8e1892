package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "oxicrab",
	Short: "oxicrab — multi-channel personal AI agent gateway",
	Long:  "oxicrab: a gateway running one AgentLoop across Telegram, Discord, and a built-in web channel, with cron, subagents, and an HTTP/A2A API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.oxicrab/config.json or $OXICRAB_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(channelsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(pairingCmd())
	rootCmd.AddCommand(credentialsCmd())
	rootCmd.AddCommand(statsCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("oxicrab %s\n", Version)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ec *exitCode
		if e, ok := err.(*exitCode); ok {
			ec = e
		} else {
			ec = &exitCode{code: 1, err: err}
		}
		fmt.Fprintln(os.Stderr, "Error:", ec.err)
		os.Exit(ec.code)
	}
}
