package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	json5 "github.com/titanous/json5"
)

// HomeDir returns the fixed config home, creating it if necessary.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".oxicrab")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create config home: %w", err)
	}
	return dir, nil
}

// Path returns the config file's fixed location.
func Path() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads and parses the config file at path, tolerant of json5
// extensions (trailing commas, comments) with a strict-JSON fallback, then
// applies environment-variable credential overrides.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		if info.Mode().Perm() != 0o600 {
			slog.Warn("config.file_mode_insecure", "path", path, "mode", info.Mode().Perm().String())
		}
	}

	cfg := &Config{}
	if err := json5.Unmarshal(raw, cfg); err != nil {
		if err2 := json.Unmarshal(raw, cfg); err2 != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path via temp-file + rename, holding a sibling .lock
// file (O_EXCL) to serialize writes across processes.
func Save(path string, cfg *Config) error {
	lockPath := path + ".lock"
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("acquire config lock: %w", err)
	}
	defer func() {
		lock.Close()
		os.Remove(lockPath)
	}()

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// envOverride pairs an OXICRAB_* environment variable with the config
// field it populates.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string)
}

var envOverrides = []envOverride{
	{"OXICRAB_ANTHROPIC_API_KEY", func(c *Config, v string) { c.Providers.Anthropic.APIKey = v }},
	{"OXICRAB_OPENAI_API_KEY", func(c *Config, v string) { c.Providers.OpenAI.APIKey = v }},
	{"OXICRAB_TELEGRAM_BOT_TOKEN", func(c *Config, v string) { c.Channels.Telegram.BotToken = v }},
	{"OXICRAB_DISCORD_BOT_TOKEN", func(c *Config, v string) { c.Channels.Discord.BotToken = v }},
	{"OXICRAB_SLACK_BOT_TOKEN", func(c *Config, v string) { c.Channels.Slack.BotToken = v }},
	{"OXICRAB_TWILIO_BOT_TOKEN", func(c *Config, v string) { c.Channels.Twilio.BotToken = v }},
	{"OXICRAB_MEDIA_RADARR_API_KEY", func(c *Config, v string) { c.Tools.Media.RadarrAPIKey = v }},
	{"OXICRAB_MEDIA_SONARR_API_KEY", func(c *Config, v string) { c.Tools.Media.SonarrAPIKey = v }},
	{"OXICRAB_POSTGRES_DSN", func(c *Config, v string) { c.Database.DSN = v }},
	{"OXICRAB_GATEWAY_TOKEN", func(c *Config, v string) { c.Gateway.Token = v }},
}

// applyEnvOverrides sets each non-empty OXICRAB_* environment variable onto
// its mapped credential slot, overriding any config.json value.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
	for name, server := range cfg.Tools.MCP.Servers {
		key := "OXICRAB_MCP_" + sanitizeEnvName(name) + "_TOKEN"
		if v := os.Getenv(key); v != "" {
			if server.Headers == nil {
				server.Headers = map[string]string{}
			}
			server.Headers["Authorization"] = "Bearer " + v
			cfg.Tools.MCP.Servers[name] = server
		}
	}
	for name, wh := range cfg.Gateway.Webhooks {
		key := "OXICRAB_WEBHOOK_" + sanitizeEnvName(name) + "_SECRET"
		if v := os.Getenv(key); v != "" {
			wh.Secret = v
			cfg.Gateway.Webhooks[name] = wh
		}
	}
}

func sanitizeEnvName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-32)
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Validate checks structural invariants Load doesn't already enforce
// (schema validation failures here are fatal at startup per spec.md §7).
func Validate(cfg *Config) error {
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", cfg.Gateway.Port)
	}
	if cfg.Agents.Defaults.MaxToolIterations < 0 {
		return fmt.Errorf("agents.defaults.maxToolIterations must be >= 0")
	}
	for name, wh := range cfg.Gateway.Webhooks {
		if wh.Enabled && wh.Template == "" && !wh.AgentTurn {
			return fmt.Errorf("webhook %q: enabled with no template and no agent_turn", name)
		}
	}
	return nil
}
