package providers

import "context"

// Option keys for ChatRequest.Options — kept as typed constants so providers
// and callers agree on spelling without importing each other's packages.
const (
	OptMaxTokens     = "max_tokens"
	OptTemperature   = "temperature"
	OptThinkingLevel = "thinking_level"

	// OptReasoningEffort is the OpenAI-compatible passthrough for o-series
	// reasoning models ("low"/"medium"/"high"); ignored by models that don't
	// support it.
	OptReasoningEffort = "reasoning_effort"
	// OptEnableThinking and OptThinkingBudget are DashScope-specific
	// passthrough keys set by DashScopeProvider when thinking_level is used.
	OptEnableThinking = "enable_thinking"
	OptThinkingBudget = "thinking_budget"
)

// ThinkingCapable is implemented by providers that support extended
// thinking/reasoning modes (e.g. Anthropic's thinking budget).
type ThinkingCapable interface {
	SupportsThinking() bool
}

type retryHookKey struct{}

// RetryHook is called by a provider implementation before each retried
// request, so callers can surface retry progress to the user.
type RetryHook func(attempt, maxAttempts int, err error)

// WithRetryHook attaches a RetryHook to ctx for providers to invoke on retry.
func WithRetryHook(ctx context.Context, hook RetryHook) context.Context {
	return context.WithValue(ctx, retryHookKey{}, hook)
}

// RetryHookFromContext retrieves a RetryHook set by WithRetryHook, if any.
func RetryHookFromContext(ctx context.Context) RetryHook {
	hook, _ := ctx.Value(retryHookKey{}).(RetryHook)
	return hook
}

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Chat sends messages to the LLM and returns a response.
	// tools defines available tool schemas; model overrides the default.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams response chunks via callback.
	// Returns the final complete response after streaming ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai", "dashscope").
	Name() string
}

// ChatRequest contains the input for a Chat/ChatStream call.
type ChatRequest struct {
	Messages []Message              `json:"messages"`
	Tools    []ToolDefinition       `json:"tools,omitempty"`
	Model    string                 `json:"model,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content             string     `json:"content"`
	RawAssistantContent string     `json:"raw_assistant_content,omitempty"`
	ToolCalls           []ToolCall `json:"tool_calls,omitempty"`
	FinishReason        string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage               *Usage     `json:"usage,omitempty"`
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	Content  string `json:"content,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	Done     bool   `json:"done,omitempty"`
}

// ImageContent represents a base64-encoded image for vision-capable models.
type ImageContent struct {
	MimeType string `json:"mime_type"` // e.g. "image/jpeg"
	Data     string `json:"data"`      // base64-encoded image bytes
}

// Message represents a conversation message.
type Message struct {
	Role       string         `json:"role"` // "system", "user", "assistant", "tool"
	Content    string         `json:"content"`
	Images     []ImageContent `json:"images,omitempty"` // vision: base64 images
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // for role="tool" responses

	// RawAssistantContent preserves the provider's native content blocks
	// (e.g. Anthropic thinking blocks) so they can be passed back verbatim
	// on the next turn instead of being reconstructed from Content.
	RawAssistantContent string `json:"raw_assistant_content,omitempty"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`

	// Metadata carries provider-specific side data that must be echoed back
	// on the next turn, e.g. Gemini's "thought_signature".
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the schema for a function tool.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption for a single Chat/ChatStream call.
type Usage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	ThinkingTokens      int `json:"thinking_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
}
