package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:           "~/.clawdbot/workspace",
				RestrictToWorkspace: true,
				Provider:            "anthropic",
				Model:               "claude-sonnet-4-5-20250929",
				MaxTokens:           8192,
				Temperature:         0.7,
				MaxToolIterations:   20,
				ContextWindow:       200000,
				Subagents: &SubagentsConfig{
					MaxConcurrent: 20,
					MaxSpawnDepth: 1,
				},
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				StreamMode:    "none",
				ReactionLevel: "full",
			},
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
			InjectionAction: "warn",
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			Browser: BrowserToolConfig{
				Enabled:  false,
				Headless: true,
			},
			ExecApproval: ExecApprovalCfg{
				Security: "full",
				Ask:      "off",
			},
		},
		Sessions: SessionsConfig{
			Storage: "~/.clawdbot/sessions",
			DmScope: "per-channel-peer",
			MainKey: "main",
		},
		Cron: CronConfig{
			MaxRetries:     3,
			RetryBaseDelay: "1s",
			RetryMaxDelay:  "1m",
		},
	}
}

// Load reads config from a JSON5-tolerant file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.applyContextPruningDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyContextPruningDefaults()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, matching the teacher's secret-injection model
// (secrets never live in the JSON file on managed deployments).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CLAWDBOT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("CLAWDBOT_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("CLAWDBOT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("CLAWDBOT_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("CLAWDBOT_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("CLAWDBOT_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("CLAWDBOT_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("CLAWDBOT_MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)
	envStr("CLAWDBOT_XAI_API_KEY", &c.Providers.XAI.APIKey)
	envStr("CLAWDBOT_MINIMAX_API_KEY", &c.Providers.MiniMax.APIKey)
	envStr("CLAWDBOT_COHERE_API_KEY", &c.Providers.Cohere.APIKey)
	envStr("CLAWDBOT_PERPLEXITY_API_KEY", &c.Providers.Perplexity.APIKey)
	envStr("CLAWDBOT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("CLAWDBOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("CLAWDBOT_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("CLAWDBOT_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("CLAWDBOT_SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)
	envStr("CLAWDBOT_ZALO_TOKEN", &c.Channels.Zalo.Token)
	envStr("CLAWDBOT_FEISHU_APP_ID", &c.Channels.Feishu.AppID)
	envStr("CLAWDBOT_FEISHU_APP_SECRET", &c.Channels.Feishu.AppSecret)
	envStr("CLAWDBOT_FEISHU_ENCRYPT_KEY", &c.Channels.Feishu.EncryptKey)
	envStr("CLAWDBOT_FEISHU_VERIFICATION_TOKEN", &c.Channels.Feishu.VerificationToken)

	envStr("CLAWDBOT_TTS_OPENAI_API_KEY", &c.Tts.OpenAI.APIKey)
	envStr("CLAWDBOT_TTS_ELEVENLABS_API_KEY", &c.Tts.ElevenLabs.APIKey)
	envStr("CLAWDBOT_TTS_MINIMAX_API_KEY", &c.Tts.MiniMax.APIKey)
	envStr("CLAWDBOT_TTS_MINIMAX_GROUP_ID", &c.Tts.MiniMax.GroupID)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" {
		c.Channels.Slack.Enabled = true
	}
	if c.Channels.Zalo.Token != "" {
		c.Channels.Zalo.Enabled = true
	}
	if c.Channels.Feishu.AppID != "" && c.Channels.Feishu.AppSecret != "" {
		c.Channels.Feishu.Enabled = true
	}

	envStr("CLAWDBOT_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("CLAWDBOT_MODEL", &c.Agents.Defaults.Model)

	envStr("CLAWDBOT_WORKSPACE", &c.Agents.Defaults.Workspace)
	envStr("CLAWDBOT_SESSIONS_STORAGE", &c.Sessions.Storage)

	envStr("CLAWDBOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("CLAWDBOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("CLAWDBOT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CLAWDBOT_MODE", &c.Database.Mode)

	envStr("CLAWDBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CLAWDBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CLAWDBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CLAWDBOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CLAWDBOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	if v := os.Getenv("CLAWDBOT_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}

	envStr("CLAWDBOT_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("CLAWDBOT_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("CLAWDBOT_TSNET_DIR", &c.Tailscale.StateDir)

	ensureSandbox := func() {
		if c.Agents.Defaults.Sandbox == nil {
			c.Agents.Defaults.Sandbox = &SandboxConfig{}
		}
	}
	if v := os.Getenv("CLAWDBOT_SANDBOX_MODE"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.Mode = v
	}
	if v := os.Getenv("CLAWDBOT_SANDBOX_IMAGE"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.Image = v
	}
	if v := os.Getenv("CLAWDBOT_SANDBOX_WORKSPACE_ACCESS"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.WorkspaceAccess = v
	}
	if v := os.Getenv("CLAWDBOT_SANDBOX_SCOPE"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.Scope = v
	}
	if v := os.Getenv("CLAWDBOT_SANDBOX_MEMORY_MB"); v != "" {
		ensureSandbox()
		if mb, err := strconv.Atoi(v); err == nil && mb > 0 {
			c.Agents.Defaults.Sandbox.MemoryMB = mb
		}
	}
	if v := os.Getenv("CLAWDBOT_SANDBOX_CPUS"); v != "" {
		ensureSandbox()
		if cpus, err := strconv.ParseFloat(v, 64); err == nil && cpus > 0 {
			c.Agents.Defaults.Sandbox.CPUs = cpus
		}
	}
	if v := os.Getenv("CLAWDBOT_SANDBOX_TIMEOUT_SEC"); v != "" {
		ensureSandbox()
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Agents.Defaults.Sandbox.TimeoutSec = sec
		}
	}
	if v := os.Getenv("CLAWDBOT_SANDBOX_NETWORK"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.NetworkEnabled = v == "true" || v == "1"
	}
}

// applyContextPruningDefaults auto-enables context pruning once an Anthropic
// key is configured, since its prompt caching makes pruning cheap to run.
func (c *Config) applyContextPruningDefaults() {
	if c.Providers.Anthropic.APIKey == "" {
		return
	}
	defaults := &c.Agents.Defaults
	if defaults.ContextPruning == nil {
		defaults.ContextPruning = &ContextPruningConfig{Mode: "cache-ttl"}
	} else if defaults.ContextPruning.Mode == "" {
		defaults.ContextPruning.Mode = "cache-ttl"
	}
}

// Hash returns a short SHA-256 hash of the config for optimistic concurrency
// on config.apply/config.patch (clients must echo the hash they last read).
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded default agent workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agents.Defaults.Workspace)
}

// ResolveAgent returns the effective config for a given agent ID, merging
// defaults with any per-agent override in Agents.List.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.MaxToolIterations > 0 {
			d.MaxToolIterations = spec.MaxToolIterations
		}
		if spec.ContextWindow > 0 {
			d.ContextWindow = spec.ContextWindow
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
		if spec.RestrictToWorkspace != nil {
			d.RestrictToWorkspace = *spec.RestrictToWorkspace
		}
		if spec.Sandbox != nil {
			d.Sandbox = spec.Sandbox
		}
		if spec.Exec != nil {
			d.Exec = spec.Exec
		}
		if spec.Subagents != nil {
			d.Subagents = spec.Subagents
		}
		if spec.AgentType != "" {
			d.AgentType = spec.AgentType
		}
	}
	return d
}

// ResolveDefaultAgentID returns the ID of the agent marked default, or
// DefaultAgentID if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ResolveDisplayName returns the display name configured for an agent,
// falling back to "Clawdbot".
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return "Clawdbot"
}

// ApplyEnvOverrides re-applies environment variable overrides, used after
// in-place config mutation (config.apply) to restore runtime secrets that
// were stripped from the applied JSON by MaskedCopy's round trip.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
	c.applyContextPruningDefaults()
}

// Save writes the config to a JSON file with 0600 permissions (it may
// contain API keys when not running in managed/secrets-store mode).
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}
