package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/agent"
	"github.com/nextlevelbuilder/goclaw/internal/approvalsock"
	"github.com/nextlevelbuilder/goclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/gateway"
	"github.com/nextlevelbuilder/goclaw/internal/gateway/methods"
	"github.com/nextlevelbuilder/goclaw/internal/noderegistry"
	"github.com/nextlevelbuilder/goclaw/internal/permissions"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/sandbox"
	"github.com/nextlevelbuilder/goclaw/internal/scheduler"
	"github.com/nextlevelbuilder/goclaw/internal/skills"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/store/file"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/internal/tts"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the Clawdbot gateway (WebSocket hub + agent runner)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

// runGateway builds and starts the gateway hub: it loads config, wires the
// provider registry, tool registry, sandbox manager, exec approval pipeline,
// node registry, and scheduler, then serves WebSocket/HTTP until interrupted.
func runGateway() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'clawdbot onboard' to create one.\n")
		os.Exit(1)
	}

	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	agentCfg := cfg.Agents.Defaults
	workspace := config.ExpandHome(agentCfg.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	os.MkdirAll(workspace, 0755)

	dataDir := os.Getenv("CLAWDBOT_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.clawdbot/data")
	}
	os.MkdirAll(dataDir, 0755)

	// --- Stores (standalone mode: file-backed) ---
	storeCfg := store.StoreConfig{
		Mode:               cfg.Database.Mode,
		PostgresDSN:        cfg.Database.PostgresDSN,
		SessionsDir:        config.ExpandHome(cfg.Sessions.Storage),
		Workspace:          workspace,
		CronStorePath:      filepath.Join(dataDir, "cron", "jobs.json"),
		PairingStorePath:   filepath.Join(dataDir, "pairing.json"),
		ApprovalsStorePath: filepath.Join(dataDir, "exec-approvals.json"),
		GlobalSkillsDir:    filepath.Join(config.ExpandHome("~/.clawdbot"), "skills"),
	}
	stores, err := file.NewFileStores(storeCfg)
	if err != nil {
		slog.Error("failed to create stores", "error", err)
		os.Exit(1)
	}
	if cfg.Database.Mode == "managed" {
		slog.Warn("database.mode=managed requested but this build only wires the standalone (file-backed) store layer; continuing in standalone mode")
	}

	// --- Providers ---
	providerReg := providers.NewRegistry()
	registerProviders(providerReg, cfg)
	if len(providerReg.List()) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no providers configured. Run 'clawdbot onboard' first.\n")
		os.Exit(1)
	}

	// --- Bootstrap files (system prompt context) ---
	rawFiles := bootstrap.LoadWorkspaceFiles(workspace)
	truncCfg := bootstrap.TruncateConfig{
		MaxCharsPerFile: agentCfg.BootstrapMaxChars,
		TotalMaxChars:   agentCfg.BootstrapTotalMaxChars,
	}
	if truncCfg.MaxCharsPerFile <= 0 {
		truncCfg.MaxCharsPerFile = bootstrap.DefaultMaxCharsPerFile
	}
	if truncCfg.TotalMaxChars <= 0 {
		truncCfg.TotalMaxChars = bootstrap.DefaultTotalMaxChars
	}
	contextFiles := bootstrap.BuildContextFiles(rawFiles, truncCfg)
	slog.Info("bootstrap context loaded", "files", len(contextFiles))

	// --- Skills ---
	globalSkillsDir := storeCfg.GlobalSkillsDir
	skillsLoader := skills.NewLoader(workspace, globalSkillsDir, "")

	// --- Sandbox ---
	sandboxCfg := agentCfg.Sandbox.ToSandboxConfig()
	sandboxMgr, err := sandbox.NewDockerManager(sandboxCfg, "")
	if err != nil {
		slog.Warn("sandbox manager unavailable, exec/file tools will run unsandboxed", "error", err)
		sandboxMgr = nil
	}

	// --- Tool registry ---
	toolsReg := tools.NewRegistry()
	if sandboxMgr != nil {
		toolsReg.Register(tools.NewSandboxedReadFileTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedWriteFileTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedListFilesTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedExecTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
	} else {
		toolsReg.Register(tools.NewReadFileTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewWriteFileTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewListFilesTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewExecTool(workspace, agentCfg.RestrictToWorkspace))
	}

	if webSearchTool := tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveEnabled: cfg.Tools.Web.Brave.Enabled,
		BraveAPIKey:  cfg.Tools.Web.Brave.APIKey,
		DDGEnabled:   cfg.Tools.Web.DuckDuckGo.Enabled,
	}); webSearchTool != nil {
		toolsReg.Register(webSearchTool)
	}
	toolsReg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))

	skillSearchTool := tools.NewSkillSearchTool(skillsLoader)
	toolsReg.Register(skillSearchTool)
	slog.Info("skill_search tool registered", "skills", len(skillsLoader.ListSkills()))

	toolsReg.Register(tools.NewCronTool(stores.Cron))
	toolsReg.Register(tools.NewSessionsListTool())
	toolsReg.Register(tools.NewSessionStatusTool())
	toolsReg.Register(tools.NewSessionsHistoryTool())
	toolsReg.Register(tools.NewSessionsSendTool())
	toolsReg.Register(tools.NewMessageTool())
	slog.Info("cron, session, and message tools registered")

	// Allow read_file to reach skills directories outside the workspace.
	homeDir, _ := os.UserHomeDir()
	if readTool, ok := toolsReg.Get("read_file"); ok {
		if pa, ok := readTool.(tools.PathAllowable); ok {
			pa.AllowPaths(globalSkillsDir)
			if homeDir != "" {
				pa.AllowPaths(filepath.Join(homeDir, ".agents", "skills"))
			}
		}
	}

	// --- Memory ---
	hasMemory := stores.Memory != nil
	if fileMem, ok := stores.Memory.(*file.FileMemoryStore); ok && hasMemory {
		toolsReg.Register(tools.NewMemorySearchTool(fileMem.Manager()))
		toolsReg.Register(tools.NewMemoryGetTool(fileMem.Manager()))
		slog.Info("memory tools registered")
	}

	// --- Node registry (remote peer command invocation) ---
	nodeReg := noderegistry.NewRegistry(func() string { return uuid.NewString() })
	toolsReg.Register(tools.NewNodesTool(nodeReg))
	slog.Info("nodes tool registered")

	// --- TTS (optional voice synthesis) ---
	var ttsMgr *tts.Manager
	if cfg.Tts.Provider != "" || cfg.Tts.Edge.Enabled {
		ttsMgr = tts.NewManager(tts.ManagerConfig{
			Primary:   cfg.Tts.Provider,
			Auto:      tts.AutoMode(cfg.Tts.Auto),
			Mode:      tts.Mode(cfg.Tts.Mode),
			MaxLength: cfg.Tts.MaxLength,
			TimeoutMs: cfg.Tts.TimeoutMs,
		})
		if cfg.Tts.Edge.Enabled {
			ttsMgr.RegisterProvider(tts.NewEdgeProvider(tts.EdgeConfig{Voice: cfg.Tts.Edge.Voice, Rate: cfg.Tts.Edge.Rate}))
		}
		if cfg.Tts.OpenAI.APIKey != "" {
			ttsMgr.RegisterProvider(tts.NewOpenAIProvider(tts.OpenAIConfig{
				APIKey: cfg.Tts.OpenAI.APIKey, APIBase: cfg.Tts.OpenAI.APIBase,
				Model: cfg.Tts.OpenAI.Model, Voice: cfg.Tts.OpenAI.Voice,
			}))
		}
		if cfg.Tts.ElevenLabs.APIKey != "" {
			ttsMgr.RegisterProvider(tts.NewElevenLabsProvider(tts.ElevenLabsConfig{
				APIKey: cfg.Tts.ElevenLabs.APIKey, BaseURL: cfg.Tts.ElevenLabs.BaseURL,
				VoiceID: cfg.Tts.ElevenLabs.VoiceID, ModelID: cfg.Tts.ElevenLabs.ModelID,
			}))
		}
		if cfg.Tts.MiniMax.APIKey != "" {
			ttsMgr.RegisterProvider(tts.NewMiniMaxProvider(tts.MiniMaxConfig{
				APIKey: cfg.Tts.MiniMax.APIKey, GroupID: cfg.Tts.MiniMax.GroupID,
				APIBase: cfg.Tts.MiniMax.APIBase, Model: cfg.Tts.MiniMax.Model, VoiceID: cfg.Tts.MiniMax.VoiceID,
			}))
		}
		if ttsMgr.HasProviders() {
			toolsReg.Register(tools.NewTtsTool(ttsMgr))
			slog.Info("tts tool registered", "primary", cfg.Tts.Provider)
		}
	}

	// --- Tool rate limiting + policy ---
	if cfg.Tools.RateLimitPerHour > 0 {
		toolsReg.SetRateLimiter(tools.NewToolRateLimiter(cfg.Tools.RateLimitPerHour))
	}
	toolPE := tools.NewPolicyEngine(&cfg.Tools)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Exec approval pipeline ---
	// exec-approvals.json (stores.Approvals) is the source of truth for
	// security/ask mode and allowlists, resolved per agent per spec §4.D.
	// config.json's tools.execApproval block is reconciled into the file
	// as the "*" agent's baseline on every boot, so an operator editing
	// config.json still takes effect, but allow-always decisions recorded
	// through the approval socket persist across restarts.
	approvalStore, _ := stores.Approvals.(*file.FileApprovalStore)
	if approvalStore != nil {
		eaCfg := cfg.Tools.ExecApproval
		if err := approvalStore.SetGlobalDefaults(store.ApprovalDefaults{
			Security: eaCfg.Security,
			Ask:      eaCfg.Ask,
		}, eaCfg.Allowlist); err != nil {
			slog.Warn("failed to seed exec approval defaults", "error", err)
		}
	}

	const defaultAgentID = "default"
	approvalCfg := tools.DefaultExecApprovalConfig()
	var approvalSocketToken string
	if approvalStore != nil {
		resolved := approvalStore.Resolve(defaultAgentID)
		if resolved.Security != "" {
			approvalCfg.Security = tools.ExecSecurity(resolved.Security)
		}
		if resolved.Ask != "" {
			approvalCfg.Ask = tools.ExecAskMode(resolved.Ask)
		}
		if resolved.AskFallback != "" {
			approvalCfg.AskFallback = tools.ExecSecurity(resolved.AskFallback)
		}
		approvalCfg.AutoAllowSkills = resolved.AutoAllowSkills
		for _, entry := range resolved.Allowlist {
			approvalCfg.Allowlist = append(approvalCfg.Allowlist, entry.Pattern)
		}
		approvalSocketToken = approvalStore.SocketToken()
	} else {
		if eaCfg := cfg.Tools.ExecApproval; eaCfg.Security != "" {
			approvalCfg.Security = tools.ExecSecurity(eaCfg.Security)
		}
		if eaCfg := cfg.Tools.ExecApproval; eaCfg.Ask != "" {
			approvalCfg.Ask = tools.ExecAskMode(eaCfg.Ask)
		}
		if len(cfg.Tools.ExecApproval.Allowlist) > 0 {
			approvalCfg.Allowlist = cfg.Tools.ExecApproval.Allowlist
		}
		approvalSocketToken = cfg.Gateway.Token
	}
	execApprovalMgr := tools.NewExecApprovalManager(approvalCfg)
	if execTool, ok := toolsReg.Get("exec"); ok {
		if aa, ok := execTool.(tools.ApprovalAware); ok {
			aa.SetApprovalManager(execApprovalMgr, defaultAgentID)
		}
	}
	slog.Info("exec approval enabled", "security", string(approvalCfg.Security), "ask", string(approvalCfg.Ask))

	approvalSockPath := filepath.Join(dataDir, "approval.sock")
	approvalSrv := approvalsock.NewServer(approvalSockPath, approvalSocketToken, execApprovalMgr)
	go func() {
		if err := approvalSrv.Serve(ctx); err != nil {
			slog.Warn("approval socket server stopped", "error", err)
		}
	}()
	defer approvalSrv.Close()

	// --- Policy engines ---
	permPE := permissions.NewPolicyEngine(cfg.Gateway.OwnerIDs)

	// --- Agent router + loop wiring ---
	msgBus := bus.New()
	agentRouter := agent.NewRouter()

	buildLoop := func(id string, spec config.AgentDefaults) *agent.Loop {
		provider, perr := providerReg.Get(spec.Provider)
		if perr != nil {
			names := providerReg.List()
			provider, _ = providerReg.Get(names[0])
			slog.Warn("configured provider not found, using fallback", "agent", id, "wanted", spec.Provider, "using", names[0])
		}

		var skillAllowList []string
		if agentSpec, ok := cfg.Agents.List[id]; ok {
			skillAllowList = agentSpec.Skills
		}

		return agent.NewLoop(agent.LoopConfig{
			ID:                id,
			Provider:          provider,
			Model:             spec.Model,
			ContextWindow:     spec.ContextWindow,
			MaxIterations:     spec.MaxToolIterations,
			Workspace:         workspace,
			Bus:               msgBus,
			Sessions:          stores.Sessions,
			Tools:             toolsReg,
			ToolPolicy:        toolPE,
			OwnerIDs:          cfg.Gateway.OwnerIDs,
			SkillsLoader:      skillsLoader,
			SkillAllowList:    skillAllowList,
			HasMemory:         hasMemory,
			ContextFiles:      contextFiles,
			CompactionCfg:     spec.Compaction,
			ContextPruningCfg: spec.ContextPruning,
			InjectionAction:   cfg.Gateway.InjectionAction,
			MaxMessageChars:   cfg.Gateway.MaxMessageChars,
		})
	}

	agentRouter.Register(buildLoop("default", agentCfg))
	for name, spec := range cfg.Agents.List {
		if name == "default" {
			continue
		}
		merged := agentCfg
		if spec.Model != "" {
			merged.Model = spec.Model
		}
		if spec.Provider != "" {
			merged.Provider = spec.Provider
		}
		agentRouter.Register(buildLoop(name, merged))
	}
	slog.Info("agents registered", "count", len(agentRouter.List()))

	// --- Scheduler (per-session serialization across lanes) + inbound consumer ---
	// This is the channel-agnostic entry point: any channel adapter (Telegram,
	// Feishu, Discord, ...) feeds in by calling msgBus.PublishInbound.
	sched := scheduler.NewScheduler(scheduler.DefaultLanes(), scheduler.DefaultQueueConfig(), makeSchedulerRunFunc(agentRouter, cfg))
	defer sched.Stop()
	go consumeInboundMessages(ctx, msgBus, agentRouter, cfg, sched)

	// --- Gateway server + RPC methods ---
	srv := gateway.NewServer(cfg, msgBus, agentRouter, stores.Sessions, nodeReg, toolsReg)
	srv.SetPolicyEngine(permPE)
	srv.SetPairingService(stores.Pairing)
	srv.SetConfigPath(cfgPath)
	srv.SetStateDir(dataDir)

	router := srv.Router()
	methods.NewChatMethods(agentRouter, stores.Sessions, false, srv.RateLimiter()).Register(router)
	methods.NewCronMethods(stores.Cron).Register(router)
	methods.NewPairingMethods(stores.Pairing).Register(router)
	methods.NewSkillsMethods(stores.Skills).Register(router)
	methods.NewSendMethods(msgBus).Register(router)
	methods.NewNodeMethods(nodeReg).Register(router)
	methods.NewExecApprovalMethods(execApprovalMgr).Register(router)
	methods.NewConfigMethods(cfg, cfgPath, false, nil).Register(router)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			slog.Error("gateway server exited", "error", err)
		}
	}()

	slog.Info("clawdbot gateway running", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port)
	wg.Wait()
}
