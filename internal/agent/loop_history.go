package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// buildMessages constructs the full message list for an LLM request: system
// prompt, optional summary recap, pruned/sanitized history, then the new
// user message.
func (l *Loop) buildMessages(history []providers.Message, summary, userMessage, extraSystemPrompt, channel string, historyLimit int) []providers.Message {
	var messages []providers.Message

	systemPrompt := BuildSystemPrompt(SystemPromptConfig{
		AgentID:       l.id,
		Model:         l.model,
		Workspace:     l.workspace,
		Channel:       channel,
		OwnerIDs:      l.ownerIDs,
		Mode:          PromptFull,
		ToolNames:     l.tools.List(),
		SkillsSummary: l.resolveSkillsSummary(),
		HasMemory:     l.hasMemory,
		ContextFiles:  l.contextFiles,
		ExtraPrompt:   extraSystemPrompt,
	})

	messages = append(messages, providers.Message{
		Role:    "system",
		Content: systemPrompt,
	})

	if summary != "" {
		messages = append(messages, providers.Message{
			Role:    "user",
			Content: fmt.Sprintf("[Previous conversation summary]\n%s", summary),
		})
		messages = append(messages, providers.Message{
			Role:    "assistant",
			Content: "I understand the context from our previous conversation. How can I help you?",
		})
	}

	trimmed := limitHistoryTurns(history, historyLimit)
	pruned := pruneContextMessages(trimmed, l.contextWindow, l.contextPruningCfg)
	messages = append(messages, sanitizeHistory(pruned)...)

	messages = append(messages, providers.Message{
		Role:    "user",
		Content: userMessage,
	})

	return messages
}

// limitHistoryTurns keeps only the last N user turns (and their associated
// assistant/tool messages) from history. A "turn" = one user message plus
// all subsequent non-user messages until the next user message.
func limitHistoryTurns(msgs []providers.Message, limit int) []providers.Message {
	if limit <= 0 || len(msgs) == 0 {
		return msgs
	}

	userCount := 0
	lastUserIndex := len(msgs)

	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			userCount++
			if userCount > limit {
				return msgs[lastUserIndex:]
			}
			lastUserIndex = i
		}
	}

	return msgs
}

// sanitizeHistory repairs tool_use/tool_result pairing in session history.
// Fixes orphaned tool messages left at the start of history after
// truncation, tool results missing their matching assistant tool call, and
// assistant tool calls missing their result (synthesized as a placeholder).
func sanitizeHistory(msgs []providers.Message) []providers.Message {
	if len(msgs) == 0 {
		return msgs
	}

	start := 0
	for start < len(msgs) && msgs[start].Role == "tool" {
		slog.Warn("dropping orphaned tool message at history start",
			"tool_call_id", msgs[start].ToolCallID)
		start++
	}

	if start >= len(msgs) {
		return nil
	}

	var result []providers.Message
	for i := start; i < len(msgs); i++ {
		msg := msgs[i]

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			expectedIDs := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expectedIDs[tc.ID] = true
			}

			result = append(result, msg)

			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				toolMsg := msgs[i]
				if expectedIDs[toolMsg.ToolCallID] {
					result = append(result, toolMsg)
					delete(expectedIDs, toolMsg.ToolCallID)
				} else {
					slog.Warn("dropping mismatched tool result", "tool_call_id", toolMsg.ToolCallID)
				}
			}

			for id := range expectedIDs {
				slog.Warn("synthesizing missing tool result", "tool_call_id", id)
				result = append(result, providers.Message{
					Role:       "tool",
					Content:    "[Tool result missing — session was compacted]",
					ToolCallID: id,
				})
			}
		} else if msg.Role == "tool" {
			slog.Warn("dropping orphaned tool message mid-history", "tool_call_id", msg.ToolCallID)
		} else {
			result = append(result, msg)
		}
	}

	return result
}

// Hybrid skill thresholds: when skill count and estimated description size
// are below these limits, inline all skills as XML in the system prompt.
// Above these limits, only skill_search instructions are included and the
// agent looks skills up on demand.
const (
	skillInlineMaxCount  = 20
	skillInlineMaxTokens = 3500
)

// resolveSkillsSummary builds the skills summary for the system prompt. Called
// per-turn so hot-reloaded skills are picked up without restarting the loop.
func (l *Loop) resolveSkillsSummary() string {
	if l.skillsLoader == nil {
		return ""
	}

	filtered := l.skillsLoader.FilterSkills(l.skillAllowList)
	if len(filtered) == 0 {
		return ""
	}

	totalChars := 0
	for _, s := range filtered {
		totalChars += len(s.Name) + len(s.Description) + 10
	}
	estimatedTokens := totalChars / 4

	if len(filtered) <= skillInlineMaxCount && estimatedTokens <= skillInlineMaxTokens {
		return l.skillsLoader.BuildSummary(l.skillAllowList)
	}
	return ""
}

// estimateTokens gives a rough token count for a message slice, preferring
// the last observed prompt-token/message-count pair from the provider as a
// calibration anchor over the flat chars/4 heuristic.
func estimateTokens(msgs []providers.Message, lastPromptTokens, lastMessageCount int) int {
	if lastPromptTokens > 0 && lastMessageCount > 0 && len(msgs) > 0 {
		perMessage := float64(lastPromptTokens) / float64(lastMessageCount)
		return int(perMessage * float64(len(msgs)))
	}

	chars := 0
	for _, m := range msgs {
		chars += estimateMessageChars(m)
	}
	return chars / charsPerTokenEstimate
}

// maybeSummarize compacts session history into a running summary once it
// grows past the configured share of the context window, flushing memory
// first if configured to do so.
func (l *Loop) maybeSummarize(ctx context.Context, sessionKey string) {
	history := l.sessions.GetHistory(sessionKey)

	lastPT, lastMC := l.sessions.GetLastPromptTokens(sessionKey)
	tokenEstimate := estimateTokens(history, lastPT, lastMC)

	historyShare := 0.75
	if l.compactionCfg != nil && l.compactionCfg.MaxHistoryShare > 0 {
		historyShare = l.compactionCfg.MaxHistoryShare
	}
	minMessages := 50
	if l.compactionCfg != nil && l.compactionCfg.MinMessages > 0 {
		minMessages = l.compactionCfg.MinMessages
	}

	threshold := int(float64(l.contextWindow) * historyShare)
	if len(history) <= minMessages && tokenEstimate <= threshold {
		return
	}

	// Per-session lock: skip if another run is already summarizing this
	// session; the next run re-checks the threshold and tries again.
	muI, _ := l.summarizeMu.LoadOrStore(sessionKey, &sync.Mutex{})
	sessionMu := muI.(*sync.Mutex)
	if !sessionMu.TryLock() {
		slog.Debug("summarization already in progress, skipping", "session", sessionKey)
		return
	}

	flushSettings := ResolveMemoryFlushSettings(l.compactionCfg)
	if l.shouldRunMemoryFlush(sessionKey, tokenEstimate, flushSettings) {
		l.runMemoryFlush(ctx, sessionKey, flushSettings)
	}

	keepLast := 4
	if l.compactionCfg != nil && l.compactionCfg.KeepLastMessages > 0 {
		keepLast = l.compactionCfg.KeepLastMessages
	}

	go func() {
		defer sessionMu.Unlock()

		history := l.sessions.GetHistory(sessionKey)
		if len(history) <= keepLast {
			return
		}

		sctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		summary := l.sessions.GetSummary(sessionKey)
		toSummarize := history[:len(history)-keepLast]

		var sb string
		for _, m := range toSummarize {
			if m.Role == "user" {
				sb += fmt.Sprintf("user: %s\n", m.Content)
			} else if m.Role == "assistant" {
				sb += fmt.Sprintf("assistant: %s\n", SanitizeAssistantContent(m.Content))
			}
		}

		prompt := "Provide a concise summary of this conversation, preserving key context:\n"
		if summary != "" {
			prompt += "Existing context: " + summary + "\n"
		}
		prompt += "\n" + sb

		resp, err := l.provider.Chat(sctx, providers.ChatRequest{
			Messages: []providers.Message{{Role: "user", Content: prompt}},
			Model:    l.model,
			Options:  map[string]interface{}{providers.OptMaxTokens: 1024, providers.OptTemperature: 0.3},
		})
		if err != nil {
			slog.Warn("summarization failed", "session", sessionKey, "error", err)
			return
		}

		l.sessions.SetSummary(sessionKey, SanitizeAssistantContent(resp.Content))
		l.sessions.TruncateHistory(sessionKey, keepLast)
		l.sessions.IncrementCompaction(sessionKey)
		l.sessions.Save(sessionKey)
	}()
}
