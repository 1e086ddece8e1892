package main

import (
	"github.com/spf13/cobra"
)

// authCmd is a placeholder for provider-side OAuth flows. No OAuth client
// is wired into internal/tools' Google integration (tools.google is a free-
// form config map, not a credentialed client), so "google" just points at
// where a future implementation would plug in rather than faking a flow.
func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage OAuth-style provider authorization",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "google",
		Short: "Authorize Google integrations (not yet implemented)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return userError("no Google OAuth flow is wired in this build; configure tools.google credentials directly in config.json")
		},
	})
	return cmd
}
