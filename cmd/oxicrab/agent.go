package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/agent"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/contextproviders"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/cost"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/memory"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/safety"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/sessions"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/tools"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

// agentCmd sends one message through the agent: via the running gateway's
// /api/chat if one is listening (client mode), or a minimal standalone Loop
// otherwise. Grounded on the teacher's agent_chat.go gateway-detection
// dial/fallback pattern.
func agentCmd() *cobra.Command {
	var (
		message    string
		sessionKey string
		echoMode   bool
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Send a one-shot message to the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpAgentRun)
			if message == "" {
				return userError("--message is required")
			}
			if sessionKey == "" {
				sessionKey = "cli:direct:local"
			}
			return runAgentOneShot(message, sessionKey, echoMode)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to send")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session key (default: cli:direct:local)")
	cmd.Flags().BoolVar(&echoMode, "echo", false, "use the provider-free echo loop in standalone mode")
	return cmd
}

func runAgentOneShot(message, sessionKey string, echoMode bool) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)

	if cfg.Gateway.Enabled && isGatewayRunning(addr) {
		reply, err := postChat(addr, cfg.Gateway.Token, message, sessionKey)
		if err != nil {
			return infraError("gateway chat request: %w", err)
		}
		fmt.Println(reply)
		return nil
	}

	reply, err := runStandaloneTurn(cfg, message, sessionKey, echoMode)
	if err != nil {
		return infraError("standalone turn: %w", err)
	}
	fmt.Println(reply)
	return nil
}

func isGatewayRunning(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func postChat(addr, token, message, sessionID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"message": message, "session_id": sessionID})
	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := (&http.Client{Timeout: 60 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var errBody map[string]string
		json.NewDecoder(resp.Body).Decode(&errBody)
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, errBody["error"])
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// runStandaloneTurn wires a minimal, gateway-free Loop: the same tool
// registry and storage layers as `gateway`, but no channels, cron, or
// heartbeat — a single ProcessDirect call against it.
func runStandaloneTurn(cfg *config.Config, message, sessionKey string, echoMode bool) (string, error) {
	ctx := context.Background()

	provider, err := resolveProvider(cfg, "", echoMode)
	if err != nil {
		return "", err
	}

	workspace := expandHome(cfg.Agents.Defaults.Workspace)
	if workspace == "" {
		workspace = expandHome("~/.oxicrab/workspace")
	}

	dataDirPath, err := dataDir()
	if err != nil {
		return "", err
	}

	toolsReg := tools.NewRegistry(0, 0)
	toolsReg.Register(tools.NewReadFileTool(workspace, true))
	toolsReg.Register(tools.NewWriteFileTool(workspace, true))
	toolsReg.Register(tools.NewListFilesTool(workspace, true))
	allowlist := safety.NewCommandAllowlist(cfg.Tools.Exec.Allowlist)
	sandbox := safety.NewFilesystemSandbox(workspace, cfg.Agents.Defaults.Sandbox.TempDirs, cfg.Agents.Defaults.Sandbox.BlockNetwork)
	toolsReg.Register(tools.NewExecTool(allowlist, sandbox, time.Duration(cfg.Tools.Exec.TimeoutSec)*time.Second))
	toolsReg.Register(tools.NewWebFetchTool(cfg.Tools.Web.MaxFetchBytes, cfg.Tools.Web.RenderJS))
	toolsReg.Register(tools.NewWebSearchTool(duckDuckGoSearch))

	sessMgr := sessions.NewManager(filepath.Join(dataDirPath, "sessions"), 30*24*time.Hour)

	memStore, err := memory.New(filepath.Join(dataDirPath, "memory.db"), memory.Config{
		MaxResults:   cfg.Agents.Defaults.Memory.MaxResults,
		VectorWeight: cfg.Agents.Defaults.Memory.VectorWeight,
		TextWeight:   cfg.Agents.Defaults.Memory.TextWeight,
		MinScore:     cfg.Agents.Defaults.Memory.MinScore,
	}, nil)
	if err != nil {
		return "", err
	}
	if err := memStore.Init(ctx); err != nil {
		return "", err
	}
	defer memStore.Close()

	costGuard := cost.NewGuard(resolveCostConfig(cfg))
	ctxProviders := contextproviders.NewRegistry(nil)

	loopCfg := agent.Config{
		Model:             cfg.Agents.Defaults.Model,
		MaxTokens:         cfg.Agents.Defaults.MaxTokens,
		Temperature:       cfg.Agents.Defaults.Temperature,
		MaxToolIterations: cfg.Agents.Defaults.MaxToolIterations,
		Workspace:         workspace,
		Compaction:        cfg.Agents.Defaults.Compaction,
		Cognitive:         toCognitiveThresholds(cfg.Agents.Defaults.Cognitive),
	}
	loop := agent.New(loopCfg, provider, toolsReg, sessMgr, memStore, bus.New(), costGuard, ctxProviders, nil, nil)

	return loop.ProcessDirect(ctx, sessionKey, message, "cli", sessionKey)
}
