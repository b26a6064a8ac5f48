package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/skills"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// Loop is the Think → Act → Observe execution loop for one agent instance:
// build a transcript, call the LLM, dispatch any tool calls through the
// policy-filtered registry, feed results back, and repeat until the model
// stops calling tools or the iteration budget runs out.
type Loop struct {
	id            string
	provider      providers.Provider
	model         string
	contextWindow int
	maxIterations int
	workspace     string

	sessions        store.SessionStore
	tools           *tools.Registry
	toolPolicy      *tools.PolicyEngine    // optional: filters tools sent to LLM
	agentToolPolicy *config.ToolPolicySpec // per-agent tool policy (nil = no restrictions)

	eventPub bus.EventPublisher // currently unused by Loop; kept for future use

	ownerIDs       []string
	skillsLoader   *skills.Loader
	skillAllowList []string // nil = all, [] = none, ["x","y"] = filter
	contextFiles   []bootstrap.ContextFile

	activeRuns atomic.Int32

	// Per-session summarization lock: prevents concurrent summarize
	// goroutines for the same session.
	summarizeMu sync.Map // sessionKey → *sync.Mutex

	hasMemory bool

	compactionCfg     *config.CompactionConfig
	contextPruningCfg *config.ContextPruningConfig

	onEvent func(event AgentEvent)

	inputGuard      *InputGuard
	injectionAction string // "log", "warn" (default), "block", "off"
	maxMessageChars int    // 0 = use default (32000)

	thinkingLevel string
}

// AgentEvent is emitted during agent execution for WS broadcasting.
type AgentEvent struct {
	Type    string      `json:"type"` // "run.started", "run.completed", "run.failed", "chunk", "tool.call", "tool.result"
	AgentID string      `json:"agentId"`
	RunID   string      `json:"runId"`
	Payload interface{} `json:"payload,omitempty"`
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	ID            string
	Provider      providers.Provider
	Model         string
	ContextWindow int
	MaxIterations int
	Workspace     string

	Sessions        store.SessionStore
	Tools           *tools.Registry
	ToolPolicy      *tools.PolicyEngine
	AgentToolPolicy *config.ToolPolicySpec
	OnEvent         func(AgentEvent)

	Bus bus.EventPublisher

	OwnerIDs       []string
	SkillsLoader   *skills.Loader
	SkillAllowList []string
	ContextFiles   []bootstrap.ContextFile

	HasMemory bool

	CompactionCfg     *config.CompactionConfig
	ContextPruningCfg *config.ContextPruningConfig

	InputGuard      *InputGuard // nil = auto-create when InjectionAction != "off"
	InjectionAction string      // "log", "warn" (default), "block", "off"
	MaxMessageChars int         // 0 = use default (32000)

	ThinkingLevel string // "off", "low", "medium", "high"
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 20
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 200000
	}

	action := cfg.InjectionAction
	switch action {
	case "log", "warn", "block", "off":
	default:
		action = "warn"
	}

	guard := cfg.InputGuard
	if guard == nil && action != "off" {
		guard = NewInputGuard()
	}

	return &Loop{
		id:                cfg.ID,
		provider:          cfg.Provider,
		model:             cfg.Model,
		contextWindow:     cfg.ContextWindow,
		maxIterations:     cfg.MaxIterations,
		workspace:         cfg.Workspace,
		sessions:          cfg.Sessions,
		tools:             cfg.Tools,
		toolPolicy:        cfg.ToolPolicy,
		agentToolPolicy:   cfg.AgentToolPolicy,
		onEvent:           cfg.OnEvent,
		eventPub:          cfg.Bus,
		ownerIDs:          cfg.OwnerIDs,
		skillsLoader:      cfg.SkillsLoader,
		skillAllowList:    cfg.SkillAllowList,
		contextFiles:      cfg.ContextFiles,
		hasMemory:         cfg.HasMemory,
		compactionCfg:     cfg.CompactionCfg,
		contextPruningCfg: cfg.ContextPruningCfg,
		inputGuard:        guard,
		injectionAction:   action,
		maxMessageChars:   cfg.MaxMessageChars,
		thinkingLevel:     cfg.ThinkingLevel,
	}
}

// ID returns the agent's identifier.
func (l *Loop) ID() string { return l.id }

// Model returns the agent's configured model name.
func (l *Loop) Model() string { return l.model }

// IsRunning reports whether the loop currently has any run in flight.
func (l *Loop) IsRunning() bool { return l.activeRuns.Load() > 0 }

func (l *Loop) emit(event AgentEvent) {
	if l.onEvent != nil {
		l.onEvent(event)
	}
}

// RunRequest is the input for processing a message through the agent.
type RunRequest struct {
	SessionKey        string   // composite key: agent:{agentId}:{channel}:{peerKind}:{chatId}
	Message           string   // user message
	Media             []string // local file paths to images (already sanitized)
	Channel           string   // source channel
	ChatID            string   // source chat ID
	PeerKind          string   // "direct" or "group"
	RunID             string   // unique run identifier
	UserID            string   // external user ID for multi-tenant scoping
	Stream            bool     // whether to stream response chunks
	ExtraSystemPrompt string   // optional: injected into system prompt
	HistoryLimit      int      // max user turns to keep in context (0=unlimited)
}

// RunResult is the output of a completed agent run.
type RunResult struct {
	Content    string           `json:"content"`
	RunID      string           `json:"runId"`
	Iterations int              `json:"iterations"`
	Usage      *providers.Usage `json:"usage,omitempty"`
	Media      []MediaResult    `json:"media,omitempty"`
}

// MediaResult represents a media file produced by a tool during the agent run.
type MediaResult struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
	AsVoice     bool   `json:"as_voice,omitempty"`
}

// Run processes a single message through the agent loop. It blocks until
// completion and returns the final response.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	l.activeRuns.Add(1)
	defer l.activeRuns.Add(-1)

	l.emit(AgentEvent{Type: protocol.AgentEventRunStarted, AgentID: l.id, RunID: req.RunID})

	result, err := l.runLoop(ctx, req)
	if err != nil {
		l.emit(AgentEvent{
			Type:    protocol.AgentEventRunFailed,
			AgentID: l.id,
			RunID:   req.RunID,
			Payload: map[string]string{"error": err.Error()},
		})
		return nil, err
	}

	l.emit(AgentEvent{Type: protocol.AgentEventRunCompleted, AgentID: l.id, RunID: req.RunID})
	return result, nil
}

func (l *Loop) runLoop(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.UserID != "" {
		ctx = store.WithUserID(ctx, req.UserID)
	}
	if l.workspace != "" {
		ctx = tools.WithToolWorkspace(ctx, l.workspace)
	}

	if req.UserID != "" {
		l.sessions.SetAgentInfo(req.SessionKey, uuid.Nil, req.UserID)
	}

	// Security: scan user message for injection patterns.
	if l.inputGuard != nil {
		if matches := l.inputGuard.Scan(req.Message); len(matches) > 0 {
			matchStr := strings.Join(matches, ",")
			switch l.injectionAction {
			case "block":
				slog.Warn("security.injection_blocked",
					"agent", l.id, "user", req.UserID, "patterns", matchStr, "message_len", len(req.Message))
				return nil, fmt.Errorf("message blocked: potential prompt injection detected (%s)", matchStr)
			case "log":
				slog.Info("security.injection_detected",
					"agent", l.id, "user", req.UserID, "patterns", matchStr, "message_len", len(req.Message))
			default: // "warn"
				slog.Warn("security.injection_detected",
					"agent", l.id, "user", req.UserID, "patterns", matchStr, "message_len", len(req.Message))
			}
		}
	}

	// Security: truncate oversized user messages gracefully.
	maxChars := l.maxMessageChars
	if maxChars <= 0 {
		maxChars = 32_000
	}
	if len(req.Message) > maxChars {
		originalLen := len(req.Message)
		req.Message = req.Message[:maxChars] +
			fmt.Sprintf("\n\n[System: Message was truncated from %d to %d characters due to size limit. "+
				"Please ask the user to send shorter messages or use the read_file tool for large content.]",
				originalLen, maxChars)
		slog.Warn("security.message_truncated",
			"agent", l.id, "user", req.UserID, "original_len", originalLen, "truncated_to", maxChars)
	}

	// Cache agent's context window on the session (first run only) so the
	// scheduler's adaptive throttle can use the real value.
	if l.sessions.GetContextWindow(req.SessionKey) <= 0 {
		l.sessions.SetContextWindow(req.SessionKey, l.contextWindow)
	}

	// 1. Build messages from session history.
	history := l.sessions.GetHistory(req.SessionKey)
	summary := l.sessions.GetSummary(req.SessionKey)

	messages := l.buildMessages(history, summary, req.Message, req.ExtraSystemPrompt, req.Channel, req.HistoryLimit)

	// 2. Attach vision images to the current user message (last in messages slice).
	if len(req.Media) > 0 {
		if images := loadImages(req.Media); len(images) > 0 {
			messages[len(messages)-1].Images = images
			slog.Info("vision: attached images to user message", "count", len(images), "agent", l.id, "session", req.SessionKey)
		}
	}

	// 3. Buffer new messages — write to session only after the run completes,
	// so concurrent runs never see each other's in-progress messages.
	var pendingMsgs []providers.Message
	pendingMsgs = append(pendingMsgs, providers.Message{Role: "user", Content: req.Message})

	// Inject retry hook so channels can surface LLM retry progress.
	ctx = providers.WithRetryHook(ctx, func(attempt, maxAttempts int, err error) {
		l.emit(AgentEvent{
			Type:    protocol.ChatEventThinking,
			AgentID: l.id,
			RunID:   req.RunID,
			Payload: map[string]string{
				"attempt":     fmt.Sprintf("%d", attempt),
				"maxAttempts": fmt.Sprintf("%d", maxAttempts),
				"error":       err.Error(),
			},
		})
	})

	var totalUsage providers.Usage
	iteration := 0
	var finalContent string
	var asyncToolCalls []string
	var mediaResults []MediaResult

	for iteration < l.maxIterations {
		iteration++

		slog.Debug("agent iteration", "agent", l.id, "iteration", iteration, "messages", len(messages))

		var toolDefs []providers.ToolDefinition
		if l.toolPolicy != nil {
			toolDefs = l.toolPolicy.FilterTools(l.tools, l.id, l.provider.Name(), l.agentToolPolicy, nil, false, false)
		} else {
			toolDefs = l.tools.ProviderDefs()
		}

		chatReq := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    l.model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   8192,
				providers.OptTemperature: 0.7,
			},
		}
		if l.thinkingLevel != "" && l.thinkingLevel != "off" {
			if tc, ok := l.provider.(providers.ThinkingCapable); ok && tc.SupportsThinking() {
				chatReq.Options[providers.OptThinkingLevel] = l.thinkingLevel
			} else {
				slog.Debug("thinking_level ignored: provider does not support thinking",
					"provider", l.provider.Name(), "level", l.thinkingLevel)
			}
		}

		var resp *providers.ChatResponse
		var err error

		if req.Stream {
			resp, err = l.provider.ChatStream(ctx, chatReq, func(chunk providers.StreamChunk) {
				if chunk.Thinking != "" {
					l.emit(AgentEvent{
						Type:    protocol.ChatEventThinking,
						AgentID: l.id,
						RunID:   req.RunID,
						Payload: map[string]string{"content": chunk.Thinking},
					})
				}
				if chunk.Content != "" {
					l.emit(AgentEvent{
						Type:    protocol.ChatEventChunk,
						AgentID: l.id,
						RunID:   req.RunID,
						Payload: map[string]string{"content": chunk.Content},
					})
				}
			})
		} else {
			resp, err = l.provider.Chat(ctx, chatReq)
		}

		if err != nil {
			return nil, fmt.Errorf("LLM call failed (iteration %d): %w", iteration, err)
		}

		if resp.Usage != nil {
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			totalUsage.TotalTokens += resp.Usage.TotalTokens
			totalUsage.ThinkingTokens += resp.Usage.ThinkingTokens
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		assistantMsg := providers.Message{
			Role:                "assistant",
			Content:             resp.Content,
			ToolCalls:           resp.ToolCalls,
			RawAssistantContent: resp.RawAssistantContent,
		}
		messages = append(messages, assistantMsg)
		pendingMsgs = append(pendingMsgs, assistantMsg)

		if len(resp.ToolCalls) == 1 {
			tc := resp.ToolCalls[0]
			result, media := l.executeOneTool(ctx, req, tc)
			if result.Async {
				asyncToolCalls = append(asyncToolCalls, tc.Name)
			}
			if media != nil {
				mediaResults = append(mediaResults, *media)
			}

			toolMsg := providers.Message{Role: "tool", Content: result.ForLLM, ToolCallID: tc.ID}
			messages = append(messages, toolMsg)
			pendingMsgs = append(pendingMsgs, toolMsg)
		} else {
			toolMsgs, media, async := l.executeToolsParallel(ctx, req, resp.ToolCalls)
			asyncToolCalls = append(asyncToolCalls, async...)
			mediaResults = append(mediaResults, media...)
			for _, toolMsg := range toolMsgs {
				messages = append(messages, toolMsg)
				pendingMsgs = append(pendingMsgs, toolMsg)
			}
		}
	}

	// 4. Full sanitization pipeline.
	finalContent = SanitizeAssistantContent(finalContent)

	// 5. Handle NO_REPLY: save to session for context but mark as silent.
	isSilent := IsSilentReply(finalContent)

	if finalContent == "" {
		finalContent = "..."
	}
	_ = asyncToolCalls // reserved for a future "still working" placeholder; not surfaced yet

	pendingMsgs = append(pendingMsgs, providers.Message{Role: "assistant", Content: finalContent})

	// Flush all buffered messages to session atomically.
	for _, msg := range pendingMsgs {
		l.sessions.AddMessage(req.SessionKey, msg)
	}

	l.sessions.UpdateMetadata(req.SessionKey, l.model, l.provider.Name(), req.Channel)
	l.sessions.AccumulateTokens(req.SessionKey, int64(totalUsage.PromptTokens), int64(totalUsage.CompletionTokens))

	if totalUsage.PromptTokens > 0 {
		msgCount := len(history) + len(pendingMsgs)
		l.sessions.SetLastPromptTokens(req.SessionKey, totalUsage.PromptTokens, msgCount)
	}

	l.sessions.Save(req.SessionKey)

	if isSilent {
		slog.Info("agent loop: NO_REPLY detected, suppressing delivery", "agent", l.id, "session", req.SessionKey)
		finalContent = ""
	}

	l.maybeSummarize(ctx, req.SessionKey)

	return &RunResult{
		Content:    finalContent,
		RunID:      req.RunID,
		Iterations: iteration,
		Usage:      &totalUsage,
		Media:      mediaResults,
	}, nil
}

// executeOneTool runs a single tool call sequentially (no goroutine overhead
// for the common case) and emits the matching tool.call/tool.result events.
func (l *Loop) executeOneTool(ctx context.Context, req RunRequest, tc providers.ToolCall) (*tools.Result, *MediaResult) {
	l.emit(AgentEvent{
		Type: protocol.AgentEventToolCall, AgentID: l.id, RunID: req.RunID,
		Payload: map[string]interface{}{"name": tc.Name, "id": tc.ID},
	})

	argsJSON, _ := json.Marshal(tc.Arguments)
	slog.Info("tool call", "agent", l.id, "tool", tc.Name, "args_len", len(argsJSON))

	result := l.tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, req.Channel, req.ChatID, req.PeerKind, req.SessionKey, nil)

	if result.IsError {
		errMsg := result.ForLLM
		if len(errMsg) > 200 {
			errMsg = errMsg[:200] + "..."
		}
		slog.Warn("tool error", "agent", l.id, "tool", tc.Name, "error", errMsg)
	}

	l.emit(AgentEvent{
		Type: protocol.AgentEventToolResult, AgentID: l.id, RunID: req.RunID,
		Payload: map[string]interface{}{"name": tc.Name, "id": tc.ID, "is_error": result.IsError},
	})

	return result, parseMediaResult(result.ForLLM)
}

// executeToolsParallel runs multiple tool calls concurrently — tool instances
// are context-scoped rather than mutable, so concurrent access is safe — then
// collects results in call order for deterministic message ordering.
func (l *Loop) executeToolsParallel(ctx context.Context, req RunRequest, calls []providers.ToolCall) ([]providers.Message, []MediaResult, []string) {
	type indexedResult struct {
		idx    int
		tc     providers.ToolCall
		result *tools.Result
	}

	for _, tc := range calls {
		l.emit(AgentEvent{
			Type: protocol.AgentEventToolCall, AgentID: l.id, RunID: req.RunID,
			Payload: map[string]interface{}{"name": tc.Name, "id": tc.ID},
		})
	}

	resultCh := make(chan indexedResult, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("tool call", "agent", l.id, "tool", tc.Name, "args_len", len(argsJSON), "parallel", true)
			result := l.tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, req.Channel, req.ChatID, req.PeerKind, req.SessionKey, nil)
			resultCh <- indexedResult{idx: idx, tc: tc, result: result}
		}(i, tc)
	}
	go func() { wg.Wait(); close(resultCh) }()

	collected := make([]indexedResult, 0, len(calls))
	for r := range resultCh {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	var msgs []providers.Message
	var media []MediaResult
	var async []string

	for _, r := range collected {
		if r.result.Async {
			async = append(async, r.tc.Name)
		}
		if r.result.IsError {
			errMsg := r.result.ForLLM
			if len(errMsg) > 200 {
				errMsg = errMsg[:200] + "..."
			}
			slog.Warn("tool error", "agent", l.id, "tool", r.tc.Name, "error", errMsg)
		}

		l.emit(AgentEvent{
			Type: protocol.AgentEventToolResult, AgentID: l.id, RunID: req.RunID,
			Payload: map[string]interface{}{"name": r.tc.Name, "id": r.tc.ID, "is_error": r.result.IsError},
		})

		if mr := parseMediaResult(r.result.ForLLM); mr != nil {
			media = append(media, *mr)
		}

		msgs = append(msgs, providers.Message{Role: "tool", Content: r.result.ForLLM, ToolCallID: r.tc.ID})
	}

	return msgs, media, async
}

// parseMediaResult extracts a MediaResult from a tool result string containing
// a "MEDIA:" prefix. Handles "MEDIA:/path/to/file" and
// "[[audio_as_voice]]\nMEDIA:/path/to/file". Returns nil if no MEDIA: prefix
// is found.
func parseMediaResult(toolOutput string) *MediaResult {
	s := toolOutput
	asVoice := false

	if strings.Contains(s, "[[audio_as_voice]]") {
		asVoice = true
		s = strings.ReplaceAll(s, "[[audio_as_voice]]", "")
		s = strings.TrimSpace(s)
	}

	idx := strings.Index(s, "MEDIA:")
	if idx < 0 {
		return nil
	}
	path := strings.TrimSpace(s[idx+6:])
	if path == "" {
		return nil
	}
	if nl := strings.IndexByte(path, '\n'); nl >= 0 {
		path = strings.TrimSpace(path[:nl])
	}

	return &MediaResult{
		Path:        path,
		ContentType: mimeFromExt(filepath.Ext(path)),
		AsVoice:     asVoice,
	}
}

// mimeFromExt returns a MIME type for common media file extensions.
func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
