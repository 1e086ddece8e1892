package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

// credentialsCmd only reports how each credential-bearing field is
// currently sourced; none of this repo's credential fields round-trip
// through config.json (each carries `json:"-"` and is populated solely from
// an OXICRAB_* environment variable), so there is nothing for `set`/`delete`
// to persist — OS keyring storage is out of scope.
func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect credential sourcing (env-var only, no keyring)",
	}
	cmd.AddCommand(credentialsListCmd())
	return cmd
}

func credentialsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List which environment variable backs each credential slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpCredentialsList)
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			rows := []struct {
				slot, env string
				set       bool
			}{
				{"providers.anthropic.apiKey", "OXICRAB_ANTHROPIC_API_KEY", cfg.Providers.Anthropic.APIKey != ""},
				{"providers.openai.apiKey", "OXICRAB_OPENAI_API_KEY", cfg.Providers.OpenAI.APIKey != ""},
				{"channels.telegram.botToken", "OXICRAB_TELEGRAM_BOT_TOKEN", cfg.Channels.Telegram.BotToken != ""},
				{"channels.discord.botToken", "OXICRAB_DISCORD_BOT_TOKEN", cfg.Channels.Discord.BotToken != ""},
				{"channels.slack.botToken", "OXICRAB_SLACK_BOT_TOKEN", cfg.Channels.Slack.BotToken != ""},
				{"channels.twilio.botToken", "OXICRAB_TWILIO_BOT_TOKEN", cfg.Channels.Twilio.BotToken != ""},
				{"tools.media.radarrApiKey", "OXICRAB_MEDIA_RADARR_API_KEY", cfg.Tools.Media.RadarrAPIKey != ""},
				{"tools.media.sonarrApiKey", "OXICRAB_MEDIA_SONARR_API_KEY", cfg.Tools.Media.SonarrAPIKey != ""},
				{"database.dsn", "OXICRAB_POSTGRES_DSN", cfg.Database.DSN != ""},
				{"gateway.token", "OXICRAB_GATEWAY_TOKEN", cfg.Gateway.Token != ""},
			}
			for _, r := range rows {
				state := "not set"
				if r.set {
					state = "set"
				}
				fmt.Printf("%-32s %-28s %s\n", r.slot, r.env, state)
			}
			return nil
		},
	}
}
