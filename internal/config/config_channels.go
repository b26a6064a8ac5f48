package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Zalo     ZaloConfig     `json:"zalo"`
	Feishu   FeishuConfig   `json:"feishu"`
}

type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	Proxy          string              `json:"proxy,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`
	GroupPolicy    string              `json:"group_policy,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"`
	HistoryLimit   int                 `json:"history_limit,omitempty"`
	StreamMode     string              `json:"stream_mode,omitempty"`
	ReactionLevel  string              `json:"reaction_level,omitempty"`
	MediaMaxBytes  int64               `json:"media_max_bytes,omitempty"`
	LinkPreview    *bool               `json:"link_preview,omitempty"`
}

type DiscordConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`
	GroupPolicy    string              `json:"group_policy,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"`
	HistoryLimit   int                 `json:"history_limit,omitempty"`
	GuildID        string              `json:"guild_id,omitempty"`
}

type SlackConfig struct {
	Enabled        bool                `json:"enabled"`
	BotToken       string              `json:"bot_token"`
	AppToken       string              `json:"app_token"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`
	GroupPolicy    string              `json:"group_policy,omitempty"`
	RequireMention bool                `json:"require_mention,omitempty"`
}

type WhatsAppConfig struct {
	Enabled     bool                `json:"enabled"`
	BridgeURL   string              `json:"bridge_url"`
	AllowFrom   FlexibleStringSlice `json:"allow_from"`
	DMPolicy    string              `json:"dm_policy,omitempty"`
	GroupPolicy string              `json:"group_policy,omitempty"`
}

type ZaloConfig struct {
	Enabled       bool                `json:"enabled"`
	Token         string              `json:"token"`
	AllowFrom     FlexibleStringSlice `json:"allow_from"`
	DMPolicy      string              `json:"dm_policy,omitempty"`
	WebhookURL    string              `json:"webhook_url,omitempty"`
	WebhookSecret string              `json:"webhook_secret,omitempty"`
	MediaMaxMB    int                 `json:"media_max_mb,omitempty"`
}

type FeishuConfig struct {
	Enabled           bool                `json:"enabled"`
	AppID             string              `json:"app_id"`
	AppSecret         string              `json:"app_secret"`
	EncryptKey        string              `json:"encrypt_key,omitempty"`
	VerificationToken string              `json:"verification_token,omitempty"`
	Domain            string              `json:"domain,omitempty"`
	ConnectionMode    string              `json:"connection_mode,omitempty"`
	WebhookPort       int                 `json:"webhook_port,omitempty"`
	WebhookPath       string              `json:"webhook_path,omitempty"`
	AllowFrom         FlexibleStringSlice `json:"allow_from"`
	DMPolicy          string              `json:"dm_policy,omitempty"`
	GroupPolicy       string              `json:"group_policy,omitempty"`
	GroupAllowFrom    FlexibleStringSlice `json:"group_allow_from,omitempty"`
	RequireMention    *bool               `json:"require_mention,omitempty"`
	TopicSessionMode  string              `json:"topic_session_mode,omitempty"`
	TextChunkLimit    int                 `json:"text_chunk_limit,omitempty"`
	MediaMaxMB        int                 `json:"media_max_mb,omitempty"`
	RenderMode        string              `json:"render_mode,omitempty"`
	Streaming         *bool               `json:"streaming,omitempty"`
	HistoryLimit      int                 `json:"history_limit,omitempty"`
}

// ProvidersConfig maps provider name to its config.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Groq       ProviderConfig `json:"groq"`
	Gemini     ProviderConfig `json:"gemini"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Mistral    ProviderConfig `json:"mistral"`
	XAI        ProviderConfig `json:"xai"`
	MiniMax    ProviderConfig `json:"minimax"`
	Cohere     ProviderConfig `json:"cohere"`
	Perplexity ProviderConfig `json:"perplexity"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" ||
		p.OpenAI.APIKey != "" ||
		p.OpenRouter.APIKey != "" ||
		p.Groq.APIKey != "" ||
		p.Gemini.APIKey != "" ||
		p.DeepSeek.APIKey != "" ||
		p.Mistral.APIKey != "" ||
		p.XAI.APIKey != "" ||
		p.MiniMax.APIKey != "" ||
		p.Cohere.APIKey != "" ||
		p.Perplexity.APIKey != ""
}

// TtsConfig configures text-to-speech.
type TtsConfig struct {
	Provider   string              `json:"provider,omitempty"`
	Auto       string              `json:"auto,omitempty"`
	Mode       string              `json:"mode,omitempty"`
	MaxLength  int                 `json:"max_length,omitempty"`
	TimeoutMs  int                 `json:"timeout_ms,omitempty"`
	OpenAI     TtsOpenAIConfig     `json:"openai,omitempty"`
	ElevenLabs TtsElevenLabsConfig `json:"elevenlabs,omitempty"`
	Edge       TtsEdgeConfig       `json:"edge,omitempty"`
	MiniMax    TtsMiniMaxConfig    `json:"minimax,omitempty"`
}

type TtsOpenAIConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
	Voice   string `json:"voice,omitempty"`
}

type TtsElevenLabsConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	VoiceID string `json:"voice_id,omitempty"`
	ModelID string `json:"model_id,omitempty"`
}

type TtsEdgeConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Voice   string `json:"voice,omitempty"`
	Rate    string `json:"rate,omitempty"`
}

type TtsMiniMaxConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
	VoiceID string `json:"voice_id,omitempty"`
}
