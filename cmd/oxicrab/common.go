// Package main is the oxicrab CLI: a cobra root command plus one
// subcommand per spec verb, wiring every internal package into a running
// gateway process or a one-shot standalone operation. Grounded on the
// teacher's cmd/root.go (persistent flags, resolveConfigPath,
// subcommand-per-file layout) and cmd/gateway.go (component wiring order).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
)

// logOp emits a debug-level trace of which protocol.Op* a cobra invocation
// resolved to (cron.list, channels.status, etc).
func logOp(op string) {
	if !verbose {
		return
	}
	slog.Debug("cli.op", "op", op)
}

// exitCode carries the process exit status spec.md §6 mandates: 0 success,
// 1 user error, 2 infrastructure failure. A command's RunE wraps its error
// in one of these before returning so main can translate it without each
// subcommand duplicating os.Exit calls.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }

func userError(format string, args ...interface{}) error {
	return &exitCode{code: 1, err: fmt.Errorf(format, args...)}
}

func infraError(format string, args ...interface{}) error {
	return &exitCode{code: 2, err: fmt.Errorf(format, args...)}
}

// resolveConfigPath mirrors the teacher's precedence: --config flag, then
// OXICRAB_CONFIG, then the fixed config home.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("OXICRAB_CONFIG"); v != "" {
		return v
	}
	if p, err := config.Path(); err == nil {
		return p
	}
	return "config.json"
}

func loadConfig() (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, userError("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// expandHome resolves a leading "~" to the user's home directory. No
// ExpandHome helper was retrieved from the teacher's config package, so
// this is implemented directly against os.UserHomeDir.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// dataDir returns ~/.oxicrab/data (or $OXICRAB_DATA_DIR), creating it.
func dataDir() (string, error) {
	dir := os.Getenv("OXICRAB_DATA_DIR")
	if dir == "" {
		home, err := config.HomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "data")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

func hasAnyProvider(cfg *config.Config) bool {
	return cfg.Providers.Anthropic.APIKey != "" || cfg.Providers.OpenAI.APIKey != ""
}
