package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSON5TolerantParsing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		// a comment json5 tolerates
		"gateway": { "enabled": true, "port": 8080, },
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 8080 || !cfg.Gateway.Enabled {
		t.Fatalf("unexpected gateway config: %+v", cfg.Gateway)
	}
}

func TestResolvedDMPolicyDefaultsToAllowlist(t *testing.T) {
	var cc ChannelConfig
	if got := cc.ResolvedDMPolicy(); got != "allowlist" {
		t.Fatalf("ResolvedDMPolicy() = %q, want allowlist", got)
	}
}

func TestEnvOverrideAppliesCredential(t *testing.T) {
	t.Setenv("OXICRAB_ANTHROPIC_API_KEY", "sk-test-123")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test-123" {
		t.Fatalf("expected env override to set API key, got %q", cfg.Providers.Anthropic.APIKey)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := &Config{Gateway: GatewayConfig{Enabled: true, Port: 9090}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Gateway.Port != 9090 {
		t.Fatalf("round-trip mismatch: %+v", loaded.Gateway)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{Gateway: GatewayConfig{Port: 99999}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}
