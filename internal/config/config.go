// Package config defines the gateway's JSON file configuration and its
// runtime conversions (e.g. SandboxConfig -> sandbox.Config).
package config

import (
	"encoding/json"
	"fmt"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/cron"
	"github.com/nextlevelbuilder/goclaw/internal/sandbox"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the Clawdbot gateway.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Tools     ToolsConfig     `json:"tools"`
	Sessions  SessionsConfig  `json:"sessions"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Tts       TtsConfig       `json:"tts,omitempty"`
	Cron      CronConfig      `json:"cron,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
	Bindings  []AgentBinding  `json:"bindings,omitempty"`
	mu        sync.RWMutex
}

// TailscaleConfig configures the optional Tailscale tsnet listener.
type TailscaleConfig struct {
	Hostname  string `json:"hostname"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
	EnableTLS bool   `json:"enable_tls,omitempty"`
}

// DatabaseConfig configures Postgres for managed mode.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"`
}

func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// AgentBinding maps a channel/peer pattern to a specific agent.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

type BindingMatch struct {
	Channel   string       `json:"channel"`
	AccountID string       `json:"accountId,omitempty"`
	Peer      *BindingPeer `json:"peer,omitempty"`
	GuildID   string       `json:"guildId,omitempty"`
}

type BindingPeer struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// AgentsConfig contains agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are default settings for all agents.
type AgentDefaults struct {
	Workspace           string                `json:"workspace"`
	RestrictToWorkspace bool                  `json:"restrict_to_workspace"`
	Provider            string                `json:"provider"`
	Model               string                `json:"model"`
	MaxTokens           int                   `json:"max_tokens"`
	Temperature         float64               `json:"temperature"`
	MaxToolIterations   int                   `json:"max_tool_iterations"`
	ContextWindow       int                   `json:"context_window"`
	AgentType           string                `json:"agent_type,omitempty"`
	Subagents           *SubagentsConfig      `json:"subagents,omitempty"`
	Sandbox             *SandboxConfig        `json:"sandbox,omitempty"`
	Memory              *MemoryConfig         `json:"memory,omitempty"`
	ContextPruning      *ContextPruningConfig `json:"contextPruning,omitempty"`
	Compaction          *CompactionConfig     `json:"compaction,omitempty"`
	Heartbeat           *HeartbeatConfig      `json:"heartbeat,omitempty"`
	Exec                *ExecDefaults         `json:"exec,omitempty"`
	BootstrapMaxChars      int `json:"bootstrap_max_chars,omitempty"`       // per-file truncation budget
	BootstrapTotalMaxChars int `json:"bootstrap_total_max_chars,omitempty"` // total context-file budget
}

// ExecDefaults are the per-agent defaults feeding the Sandbox Executor's
// security/ask compose gates (spec §4.F steps 3-4).
type ExecDefaults struct {
	Host         string `json:"host,omitempty"`         // "sandbox" (default), "gateway", "node"
	Security     string `json:"security,omitempty"`     // "deny", "allowlist", "full"
	Ask          string `json:"ask,omitempty"`           // "off", "on-miss", "always"
	AskFallback  string `json:"ask_fallback,omitempty"` // "full", "allowlist", "deny"
	Elevated     bool   `json:"elevated,omitempty"`
}

// SubagentsConfig controls subagent spawn limits.
type SubagentsConfig struct {
	MaxConcurrent       int    `json:"maxConcurrent,omitempty"`
	MaxSpawnDepth       int    `json:"maxSpawnDepth,omitempty"`
	MaxChildrenPerAgent int    `json:"maxChildrenPerAgent,omitempty"`
	ArchiveAfterMinutes int    `json:"archiveAfterMinutes,omitempty"`
	Model               string `json:"model,omitempty"`
}

// AgentSpec is a per-agent configuration override. Zero values inherit defaults.
type AgentSpec struct {
	DisplayName         string           `json:"displayName,omitempty"`
	Default             bool             `json:"default,omitempty"`
	Provider            string           `json:"provider,omitempty"`
	Model               string           `json:"model,omitempty"`
	MaxTokens           int              `json:"max_tokens,omitempty"`
	Temperature         float64          `json:"temperature,omitempty"`
	MaxToolIterations   int              `json:"max_tool_iterations,omitempty"`
	ContextWindow       int              `json:"context_window,omitempty"`
	AgentType           string           `json:"agent_type,omitempty"`
	Workspace           string           `json:"workspace,omitempty"`
	RestrictToWorkspace *bool            `json:"restrict_to_workspace,omitempty"`
	Sandbox             *SandboxConfig   `json:"sandbox,omitempty"`
	Exec                *ExecDefaults    `json:"exec,omitempty"`
	Tools               *ToolPolicySpec  `json:"tools,omitempty"`
	Subagents           *SubagentsConfig `json:"subagents,omitempty"`
	Skills              []string         `json:"skills,omitempty"`
}

// ContextPruningConfig configures in-memory context pruning of old tool results.
// Mode "cache-ttl": prune when context exceeds softTrimRatio of context window.
type ContextPruningConfig struct {
	Mode                 string                   `json:"mode,omitempty"`
	KeepLastAssistants   int                      `json:"keepLastAssistants,omitempty"`
	SoftTrimRatio        float64                  `json:"softTrimRatio,omitempty"`
	HardClearRatio       float64                  `json:"hardClearRatio,omitempty"`
	MinPrunableToolChars int                      `json:"minPrunableToolChars,omitempty"`
	SoftTrim             *ContextPruningSoftTrim  `json:"softTrim,omitempty"`
	HardClear            *ContextPruningHardClear `json:"hardClear,omitempty"`
}

// ContextPruningSoftTrim configures how long tool results are trimmed.
type ContextPruningSoftTrim struct {
	MaxChars  int `json:"maxChars,omitempty"`
	HeadChars int `json:"headChars,omitempty"`
	TailChars int `json:"tailChars,omitempty"`
}

// ContextPruningHardClear configures replacement of old tool results.
type ContextPruningHardClear struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// CompactionConfig configures session compaction behaviour: when the in-memory
// history gets summarized down and how much of it survives.
type CompactionConfig struct {
	ReserveTokensFloor int                `json:"reserveTokensFloor,omitempty"` // min reserve tokens (default 20000)
	MaxHistoryShare    float64            `json:"maxHistoryShare,omitempty"`    // max share of context for history (default 0.75)
	MinMessages        int                `json:"minMessages,omitempty"`        // min messages before compaction triggers (default 50)
	KeepLastMessages   int                `json:"keepLastMessages,omitempty"`   // messages to keep after compaction (default 4)
	MemoryFlush        *MemoryFlushConfig `json:"memoryFlush,omitempty"`        // pre-compaction flush
}

// MemoryFlushConfig configures the memory-flush turn that runs just before
// compaction truncates history, giving the agent one last chance to persist
// anything worth remembering via the memory tools.
type MemoryFlushConfig struct {
	Enabled             *bool  `json:"enabled,omitempty"`             // default true (nil = enabled)
	SoftThresholdTokens int    `json:"softThresholdTokens,omitempty"` // flush when within N tokens of compaction (default 4000)
	Prompt              string `json:"prompt,omitempty"`              // user prompt for flush turn
	SystemPrompt        string `json:"systemPrompt,omitempty"`        // system prompt for flush turn
}

// HeartbeatConfig configures periodic agent heartbeats.
type HeartbeatConfig struct {
	Every   string `json:"every,omitempty"`
	Model   string `json:"model,omitempty"`
	Session string `json:"session,omitempty"`
	Target  string `json:"target,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

// MemoryConfig configures the agent memory system.
type MemoryConfig struct {
	Enabled           *bool   `json:"enabled,omitempty"`
	EmbeddingProvider string  `json:"embedding_provider,omitempty"`
	EmbeddingModel    string  `json:"embedding_model,omitempty"`
	MaxResults        int     `json:"max_results,omitempty"`
	MinScore          float64 `json:"min_score,omitempty"`
}

// SandboxConfig configures Docker-based sandbox execution (spec §3 Agent.sandbox).
type SandboxConfig struct {
	Mode            string            `json:"mode,omitempty"`
	Image           string            `json:"image,omitempty"`
	WorkspaceAccess string            `json:"workspace_access,omitempty"`
	Scope           string            `json:"scope,omitempty"`
	MemoryMB        int               `json:"memory_mb,omitempty"`
	CPUs            float64           `json:"cpus,omitempty"`
	TimeoutSec      int               `json:"timeout_sec,omitempty"`
	NetworkEnabled  bool              `json:"network_enabled,omitempty"`
	ReadOnlyRoot    *bool             `json:"read_only_root,omitempty"`
	SetupCommand    string            `json:"setup_command,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	User            string            `json:"user,omitempty"`
	TmpfsSizeMB     int               `json:"tmpfs_size_mb,omitempty"`
	MaxOutputBytes  int               `json:"max_output_bytes,omitempty"`
	IdleHours       int               `json:"idle_hours,omitempty"`
	MaxAgeDays      int               `json:"max_age_days,omitempty"`
	// Tools, when non-nil, replaces (never merges with) the agent's
	// effective tool allow set while running sandboxed — spec §4.J special case.
	Tools []string `json:"tools,omitempty"`
}

// ToSandboxConfig converts config.SandboxConfig -> sandbox.Config with defaults applied.
func (sc *SandboxConfig) ToSandboxConfig() sandbox.Config {
	cfg := sandbox.DefaultConfig()
	if sc == nil {
		return cfg
	}

	switch sc.Mode {
	case "all":
		cfg.Mode = sandbox.ModeAll
	case "non-main":
		cfg.Mode = sandbox.ModeNonMain
	default:
		cfg.Mode = sandbox.ModeOff
	}

	if sc.Image != "" {
		cfg.Image = sc.Image
	}
	switch sc.WorkspaceAccess {
	case "none", "ro", "rw":
		cfg.WorkspaceAccess = sc.WorkspaceAccess
	}
	switch sc.Scope {
	case "session", "agent", "shared":
		cfg.Scope = sc.Scope
	}
	if sc.MemoryMB > 0 {
		cfg.MemoryMB = sc.MemoryMB
	}
	if sc.CPUs > 0 {
		cfg.CPUs = sc.CPUs
	}
	if sc.TimeoutSec > 0 {
		cfg.TimeoutSec = sc.TimeoutSec
	}
	cfg.NetworkEnabled = sc.NetworkEnabled
	if sc.ReadOnlyRoot != nil {
		cfg.ReadOnlyRoot = *sc.ReadOnlyRoot
	}
	cfg.SetupCommand = sc.SetupCommand
	if sc.Env != nil {
		cfg.Env = sc.Env
	}
	cfg.User = sc.User
	if sc.TmpfsSizeMB > 0 {
		cfg.TmpfsSizeMB = sc.TmpfsSizeMB
	}
	if sc.MaxOutputBytes > 0 {
		cfg.MaxOutputBytes = sc.MaxOutputBytes
	}
	return cfg
}

// GatewayConfig controls the gateway WS/HTTP server.
type GatewayConfig struct {
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	Token             string   `json:"token,omitempty"`
	OwnerIDs          []string `json:"owner_ids,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
	MaxMessageChars   int      `json:"max_message_chars,omitempty"`
	RateLimitRPM      int      `json:"rate_limit_rpm,omitempty"`
	InjectionAction   string   `json:"injection_action,omitempty"` // "log", "warn" (default), "block", "off"
	InboundDebounceMs int      `json:"inbound_debounce_ms,omitempty"`
}

// ToolsConfig controls tool availability, policy, and exec approval.
type ToolsConfig struct {
	Profile          string                      `json:"profile,omitempty"`
	Allow            []string                    `json:"allow,omitempty"`
	Deny             []string                    `json:"deny,omitempty"`
	AlsoAllow        []string                    `json:"alsoAllow,omitempty"`
	ByProvider       map[string]*ToolPolicySpec  `json:"byProvider,omitempty"`
	ExecApproval     ExecApprovalCfg             `json:"execApproval,omitempty"`
	Web              WebToolsConfig              `json:"web"`
	Browser          BrowserToolConfig           `json:"browser"`
	RateLimitPerHour int                         `json:"rate_limit_per_hour,omitempty"`
	ScrubCredentials *bool                       `json:"scrub_credentials,omitempty"`
	McpServers       map[string]*MCPServerConfig `json:"mcp_servers,omitempty"`
}

// MCPServerConfig configures a single external MCP server connection,
// wired through internal/tools' dynamic tool loader.
type MCPServerConfig struct {
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// IsEnabled returns whether this MCP server is enabled (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// WebToolsConfig controls the web_search tool's backing providers.
type WebToolsConfig struct {
	Brave      BraveConfig      `json:"brave"`
	DuckDuckGo DuckDuckGoConfig `json:"duckduckgo"`
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"api_key"`
	MaxResults int    `json:"max_results"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled"`
	MaxResults int  `json:"max_results"`
}

// ExecApprovalCfg configures command execution approval (spec §4.D/§4.F).
type ExecApprovalCfg struct {
	Security  string   `json:"security,omitempty"`  // "deny", "allowlist", "full"
	Ask       string   `json:"ask,omitempty"`       // "off", "on-miss", "always"
	Allowlist []string `json:"allowlist,omitempty"`
}

// BrowserToolConfig controls the browser automation tool.
type BrowserToolConfig struct {
	Enabled  bool `json:"enabled"`
	Headless bool `json:"headless,omitempty"`
}

// ToolPolicySpec defines a tool policy at any level (global, per-agent, per-provider).
type ToolPolicySpec struct {
	Profile    string                     `json:"profile,omitempty"`
	Allow      []string                   `json:"allow,omitempty"`
	Deny       []string                   `json:"deny,omitempty"`
	AlsoAllow  []string                   `json:"alsoAllow,omitempty"`
	ByProvider map[string]*ToolPolicySpec `json:"byProvider,omitempty"`
}

// SessionsConfig controls session file storage and key scoping.
type SessionsConfig struct {
	Storage string `json:"storage"`
	Scope   string `json:"scope,omitempty"`
	DmScope string `json:"dm_scope,omitempty"`
	MainKey string `json:"main_key,omitempty"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"`
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// CronConfig configures the cron job system.
type CronConfig struct {
	MaxRetries     int    `json:"max_retries,omitempty"`
	RetryBaseDelay string `json:"retry_base_delay,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// ToRetryConfig converts CronConfig to cron.RetryConfig with defaults applied.
func (cc CronConfig) ToRetryConfig() cron.RetryConfig {
	cfg := cron.DefaultRetryConfig()
	if cc.MaxRetries > 0 {
		cfg.MaxRetries = cc.MaxRetries
	}
	if cc.RetryBaseDelay != "" {
		if d, err := time.ParseDuration(cc.RetryBaseDelay); err == nil && d > 0 {
			cfg.BaseDelay = d
		}
	}
	if cc.RetryMaxDelay != "" {
		if d, err := time.ParseDuration(cc.RetryMaxDelay); err == nil && d > 0 {
			cfg.MaxDelay = d
		}
	}
	return cfg
}

// ExpandHome expands a leading "~" to the current user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	u, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return u.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(u.HomeDir, path[2:])
	}
	return path
}

// MaskedCopy returns a deep copy of cfg with all secret fields (API keys,
// tokens, webhook secrets) replaced with a redaction placeholder, safe to
// send to WS clients via config.get.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	data, _ := json.Marshal(c)
	c.mu.RUnlock()

	var cp Config
	if err := json.Unmarshal(data, &cp); err != nil {
		return &Config{}
	}

	const masked = "••••••••"
	maskIf := func(s string) string {
		if s == "" {
			return ""
		}
		return masked
	}

	cp.Gateway.Token = maskIf(cp.Gateway.Token)
	cp.Channels.Telegram.Token = maskIf(cp.Channels.Telegram.Token)
	cp.Channels.Discord.Token = maskIf(cp.Channels.Discord.Token)
	cp.Channels.Slack.BotToken = maskIf(cp.Channels.Slack.BotToken)
	cp.Channels.Slack.AppToken = maskIf(cp.Channels.Slack.AppToken)
	cp.Channels.Zalo.Token = maskIf(cp.Channels.Zalo.Token)
	cp.Channels.Zalo.WebhookSecret = maskIf(cp.Channels.Zalo.WebhookSecret)
	cp.Channels.Feishu.AppSecret = maskIf(cp.Channels.Feishu.AppSecret)
	cp.Channels.Feishu.EncryptKey = maskIf(cp.Channels.Feishu.EncryptKey)
	cp.Channels.Feishu.VerificationToken = maskIf(cp.Channels.Feishu.VerificationToken)

	cp.Providers.Anthropic.APIKey = maskIf(cp.Providers.Anthropic.APIKey)
	cp.Providers.OpenAI.APIKey = maskIf(cp.Providers.OpenAI.APIKey)
	cp.Providers.OpenRouter.APIKey = maskIf(cp.Providers.OpenRouter.APIKey)
	cp.Providers.Groq.APIKey = maskIf(cp.Providers.Groq.APIKey)
	cp.Providers.Gemini.APIKey = maskIf(cp.Providers.Gemini.APIKey)
	cp.Providers.DeepSeek.APIKey = maskIf(cp.Providers.DeepSeek.APIKey)
	cp.Providers.Mistral.APIKey = maskIf(cp.Providers.Mistral.APIKey)
	cp.Providers.XAI.APIKey = maskIf(cp.Providers.XAI.APIKey)
	cp.Providers.MiniMax.APIKey = maskIf(cp.Providers.MiniMax.APIKey)
	cp.Providers.Cohere.APIKey = maskIf(cp.Providers.Cohere.APIKey)
	cp.Providers.Perplexity.APIKey = maskIf(cp.Providers.Perplexity.APIKey)

	cp.Tts.OpenAI.APIKey = maskIf(cp.Tts.OpenAI.APIKey)
	cp.Tts.ElevenLabs.APIKey = maskIf(cp.Tts.ElevenLabs.APIKey)
	cp.Tts.MiniMax.APIKey = maskIf(cp.Tts.MiniMax.APIKey)

	cp.Database.PostgresDSN = maskIf(cp.Database.PostgresDSN)
	cp.Tailscale.AuthKey = maskIf(cp.Tailscale.AuthKey)

	return &cp
}
