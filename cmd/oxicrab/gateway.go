package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/agent"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/channels"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/channels/discord"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/channels/telegram"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/channels/webchannel"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/cognitive"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/contextproviders"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/cost"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/cron"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/heartbeat"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/httpgw"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/mcp"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/memory"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/pairing"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/safety"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/sessions"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/store/pg"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/subagent"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/tools"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/tracing"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

func gatewayCmd() *cobra.Command {
	var (
		modelOverride    string
		providerOverride string
		echoMode         bool
	)
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway: AgentLoop, channels, cron, HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpGatewayRun)
			return runGateway(modelOverride, providerOverride, echoMode)
		},
	}
	cmd.Flags().StringVar(&modelOverride, "model", "", "override the configured default model")
	cmd.Flags().StringVar(&providerOverride, "provider", "", "override the configured default provider (anthropic|openai)")
	cmd.Flags().BoolVar(&echoMode, "echo", false, "use a provider-free echo loop for smoke testing channel wiring")
	return cmd
}

func runGateway(modelOverride, providerOverride string, echoMode bool) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	reloader := config.NewReloader(cfgPath, cfg)

	if !echoMode && !hasAnyProvider(cfg) && providerOverride == "" {
		return userError("no AI provider configured — set OXICRAB_ANTHROPIC_API_KEY/OXICRAB_OPENAI_API_KEY or edit %s", cfgPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing.init_failed", "error", err)
	}
	defer shutdownTracing(ctx)

	msgBus := bus.New()

	provider, err := resolveProvider(cfg, providerOverride, echoMode)
	if err != nil {
		return infraError("resolve provider: %w", err)
	}
	provider = providers.NewCircuitBreaker(provider, 5, 30*time.Second)
	if err := provider.Warmup(ctx); err != nil {
		slog.Warn("provider.warmup_failed", "provider", provider.Name(), "error", err)
	}

	workspace := expandHome(cfg.Agents.Defaults.Workspace)
	if workspace == "" {
		workspace = expandHome("~/.oxicrab/workspace")
	}
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return infraError("create workspace: %w", err)
	}

	dataDirPath, err := dataDir()
	if err != nil {
		return infraError("%w", err)
	}

	toolsReg := tools.NewRegistry(0, 0)
	toolsReg.Register(tools.NewReadFileTool(workspace, true))
	toolsReg.Register(tools.NewWriteFileTool(workspace, true))
	toolsReg.Register(tools.NewListFilesTool(workspace, true))

	allowlist := safety.NewCommandAllowlist(cfg.Tools.Exec.Allowlist)
	sandbox := safety.NewFilesystemSandbox(workspace, cfg.Agents.Defaults.Sandbox.TempDirs, cfg.Agents.Defaults.Sandbox.BlockNetwork || cfg.Tools.Exec.BlockNetwork)
	execTimeout := time.Duration(cfg.Tools.Exec.TimeoutSec) * time.Second
	toolsReg.Register(tools.NewExecTool(allowlist, sandbox, execTimeout))

	toolsReg.Register(tools.NewWebFetchTool(cfg.Tools.Web.MaxFetchBytes, cfg.Tools.Web.RenderJS))
	toolsReg.Register(tools.NewWebSearchTool(duckDuckGoSearch))
	toolsReg.Register(tools.NewMessageTool(msgBus))

	if cfg.Tools.Media.RadarrURL != "" || cfg.Tools.Media.SonarrURL != "" {
		toolsReg.Register(tools.NewMediaTool(cfg.Tools.Media.RadarrURL, cfg.Tools.Media.RadarrAPIKey, cfg.Tools.Media.SonarrURL, cfg.Tools.Media.SonarrAPIKey))
	}

	var mcpMgr *mcp.Manager
	if len(cfg.Tools.MCP.Servers) > 0 {
		mcpMgr = mcp.NewManager(toolsReg)
		if err := mcpMgr.Start(ctx, cfg.Tools.MCP.Servers); err != nil {
			slog.Warn("mcp.start_failed", "error", err)
		}
		defer mcpMgr.Stop()
	}

	// Mode-based storage: file/SQLite defaults, or Postgres when configured.
	var sessionStore agent.SessionStore
	var memoryStore agent.MemoryStore
	var lastTarget heartbeat.LastTarget
	var dlqRecorder cron.DLQRecorder

	if cfg.Database.Mode == "postgres" && cfg.Database.DSN != "" {
		db, err := pg.OpenDB(cfg.Database.DSN)
		if err != nil {
			return infraError("open postgres: %w", err)
		}
		if err := pg.Migrate(db); err != nil {
			return infraError("migrate postgres: %w", err)
		}
		pgSessions := pg.NewSessionStore(db)
		pgMemory := pg.NewMemoryStore(db, memory.Config{
			MaxResults:   cfg.Agents.Defaults.Memory.MaxResults,
			VectorWeight: cfg.Agents.Defaults.Memory.VectorWeight,
			TextWeight:   cfg.Agents.Defaults.Memory.TextWeight,
			MinScore:     cfg.Agents.Defaults.Memory.MinScore,
		})
		sessionStore = pgSessions
		memoryStore = pgMemory
		lastTarget = pgSessions
		dlqRecorder = pgMemory
		slog.Info("storage.postgres_enabled")
	} else {
		sessMgr := sessions.NewManager(filepath.Join(dataDirPath, "sessions"), 30*24*time.Hour)
		sessionStore = sessMgr
		lastTarget = sessMgr

		memStore, err := memory.New(filepath.Join(dataDirPath, "memory.db"), memory.Config{
			MaxResults:   cfg.Agents.Defaults.Memory.MaxResults,
			VectorWeight: cfg.Agents.Defaults.Memory.VectorWeight,
			TextWeight:   cfg.Agents.Defaults.Memory.TextWeight,
			MinScore:     cfg.Agents.Defaults.Memory.MinScore,
		}, slog.Default())
		if err != nil {
			return infraError("open memory store: %w", err)
		}
		if err := memStore.Init(ctx); err != nil {
			return infraError("init memory store: %w", err)
		}
		defer memStore.Close()
		memoryStore = memStore
		dlqRecorder = memStore
		slog.Info("storage.file_sqlite_enabled")
	}

	pairingStore, err := pairing.NewStore(filepath.Join(dataDirPath, "pairing.json"))
	if err != nil {
		return infraError("open pairing store: %w", err)
	}

	cronStoreBacking, err := cron.NewStore(filepath.Join(dataDirPath, "cron", "jobs.json"))
	if err != nil {
		return infraError("open cron store: %w", err)
	}

	costGuard := cost.NewGuard(resolveCostConfig(cfg))
	ctxProviders := contextproviders.NewRegistry(nil)

	model := cfg.Agents.Defaults.Model
	if modelOverride != "" {
		model = modelOverride
	}

	loopCfg := agent.Config{
		Model:             model,
		MaxTokens:         cfg.Agents.Defaults.MaxTokens,
		Temperature:       cfg.Agents.Defaults.Temperature,
		MaxToolIterations: cfg.Agents.Defaults.MaxToolIterations,
		Workspace:         workspace,
		Compaction:        cfg.Agents.Defaults.Compaction,
		Cognitive:         toCognitiveThresholds(cfg.Agents.Defaults.Cognitive),
		Channels:          toChannelPolicies(cfg.Channels),
	}

	loop := agent.New(loopCfg, provider, toolsReg, sessionStore, memoryStore, msgBus, costGuard, ctxProviders, pairingStore, slog.Default())

	subagentMgr := subagent.NewManager(loop.RunSubagent, msgBus, subagent.Config{
		MaxConcurrent: cfg.Agents.Defaults.Subagents.MaxConcurrent,
		MaxSpawnDepth: cfg.Agents.Defaults.Subagents.MaxSpawnDepth,
		MaxChildren:   cfg.Agents.Defaults.Subagents.MaxChildren,
	})
	loop.SetSubagents(subagentMgr)

	cronSvc := cron.NewService(cronStoreBacking, msgBus, loop, dlqRecorder, slog.Default())

	channelMgr := channels.NewManager(msgBus, slog.Default())
	registerConfiguredChannels(channelMgr, cfg, msgBus, pairingStore)

	gatewayServer := httpgw.NewServer(&cfg.Gateway, msgBus, loop, slog.Default())
	channelMgr.SetResponseRouter(gatewayServer)

	var heartbeatSvc *heartbeat.Service
	if cfg.Agents.Defaults.Daemon.Every != "" {
		heartbeatSvc = heartbeat.NewService(cfg.Agents.Defaults.Daemon, loop, msgBus, lastTarget, slog.Default())
	}

	reloader.OnChange(func(updated *config.Config) {
		slog.Info("config.reloaded")
	})
	go func() {
		if err := reloader.Watch(ctx); err != nil {
			slog.Warn("config.watch_stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("channels.start_failed", "error", err)
	}
	go cronSvc.Run(ctx)
	if heartbeatSvc != nil {
		heartbeatSvc.Start(ctx)
	}
	go loop.Run(ctx)

	go func() {
		sig := <-sigCh
		slog.Info("gateway.shutdown_initiated", "signal", sig)
		msgBus.Broadcast(bus.Event{Name: protocol.EventShutdown})
		channelMgr.StopAll(context.Background())
		if heartbeatSvc != nil {
			heartbeatSvc.Stop()
		}
		cancel()
	}()

	slog.Info("oxicrab gateway starting",
		"version", Version,
		"model", model,
		"tools", len(toolsReg.List()),
		"channels", channelMgr.EnabledChannels(),
	)

	if !cfg.Gateway.Enabled {
		<-ctx.Done()
		return nil
	}
	if err := gatewayServer.Start(ctx); err != nil {
		return infraError("gateway server: %w", err)
	}
	return nil
}

func resolveProvider(cfg *config.Config, providerOverride string, echoMode bool) (providers.Provider, error) {
	if echoMode {
		return newEchoProvider(), nil
	}
	name := cfg.Providers.Default
	if providerOverride != "" {
		name = providerOverride
	}
	if name == "" {
		if cfg.Providers.Anthropic.APIKey != "" {
			name = "anthropic"
		} else {
			name = "openai"
		}
	}
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.BaseURL), nil
	case "openai":
		return providers.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func resolveCostConfig(cfg *config.Config) cost.Config {
	prices := make(map[string]cost.ModelPrice, len(cfg.Agents.Defaults.CostGuard.ModelCosts))
	for prefix, p := range cfg.Agents.Defaults.CostGuard.ModelCosts {
		prices[prefix] = cost.ModelPrice{InputPerM: p.InputPerM, OutputPerM: p.OutputPerM}
	}
	return cost.Config{
		DailyBudgetCents:  cfg.Agents.Defaults.CostGuard.DailyBudgetCents,
		MaxActionsPerHour: cfg.Agents.Defaults.CostGuard.MaxActionsPerHour,
		ModelCosts:        prices,
	}
}

func registerConfiguredChannels(mgr *channels.Manager, cfg *config.Config, msgBus *bus.MessageBus, pairingStore *pairing.Store) {
	_ = pairingStore // channel adapters do no allow-list filtering; dm_policy and pairing are enforced in processInbound
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken != "" {
		ch, err := telegram.New(telegram.Config{Token: cfg.Channels.Telegram.BotToken, AllowFrom: cfg.Channels.Telegram.AllowList}, msgBus, slog.Default())
		if err != nil {
			slog.Error("channels.telegram_init_failed", "error", err)
		} else {
			mgr.RegisterChannel(ch)
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.BotToken != "" {
		ch, err := discord.New(discord.Config{Token: cfg.Channels.Discord.BotToken, AllowFrom: cfg.Channels.Discord.AllowList}, msgBus, slog.Default())
		if err != nil {
			slog.Error("channels.discord_init_failed", "error", err)
		} else {
			mgr.RegisterChannel(ch)
		}
	}
	// The built-in "cli" websocket channel has no enable flag of its own; it
	// always listens, as the simplest local bridge for a terminal client or
	// the acceptance-test harness.
	mgr.RegisterChannel(webchannel.New(cliChannelAddr(), msgBus, slog.Default()))
}

func cliChannelAddr() string {
	if addr := os.Getenv("OXICRAB_CLI_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:8787"
}

func toCognitiveThresholds(c config.CognitiveConfig) cognitive.Thresholds {
	return cognitive.Thresholds{Gentle: c.Gentle, Firm: c.Firm, Urgent: c.Urgent}
}

func toChannelPolicies(c config.ChannelsConfig) map[string]agent.ChannelPolicy {
	return map[string]agent.ChannelPolicy{
		"telegram": {DMPolicy: c.Telegram.ResolvedDMPolicy(), AllowList: c.Telegram.AllowList},
		"discord":  {DMPolicy: c.Discord.ResolvedDMPolicy(), AllowList: c.Discord.AllowList},
		"slack":    {DMPolicy: c.Slack.ResolvedDMPolicy(), AllowList: c.Slack.AllowList},
		"whatsapp": {DMPolicy: c.WhatsApp.ResolvedDMPolicy(), AllowList: c.WhatsApp.AllowList},
		"twilio":   {DMPolicy: c.Twilio.ResolvedDMPolicy(), AllowList: c.Twilio.AllowList},
	}
}
