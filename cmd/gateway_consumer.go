package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/agent"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/scheduler"
	"github.com/nextlevelbuilder/goclaw/internal/sessions"
)

// makeSchedulerRunFunc builds the scheduler's RunFunc: it extracts the
// agent ID from the session key ("agent:{agentId}:{rest}") and dispatches
// to that agent's loop.
func makeSchedulerRunFunc(agents *agent.Router, cfg *config.Config) scheduler.RunFunc {
	return func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		agentID := cfg.ResolveDefaultAgentID()
		if parts := strings.SplitN(req.SessionKey, ":", 3); len(parts) >= 2 && parts[0] == "agent" {
			agentID = parts[1]
		}
		loop, err := agents.Get(agentID)
		if err != nil {
			return nil, fmt.Errorf("agent %s not found: %w", agentID, err)
		}
		return loop.Run(ctx, req)
	}
}

// resolveAgentRoute picks the agent ID for an inbound message using the
// configured channel/peer bindings, falling back to the default agent.
func resolveAgentRoute(cfg *config.Config, channel, chatID, peerKind string) string {
	for _, binding := range cfg.Bindings {
		match := binding.Match
		if match.Channel != channel {
			continue
		}
		if match.Peer != nil {
			if match.Peer.Kind == peerKind && match.Peer.ID == chatID {
				return config.NormalizeAgentID(binding.AgentID)
			}
			continue
		}
		return config.NormalizeAgentID(binding.AgentID)
	}
	return cfg.ResolveDefaultAgentID()
}

// consumeInboundMessages drains bus.InboundMessage off the message bus and
// routes each one through the scheduler, publishing the agent's reply back
// out as an OutboundMessage. This is the channel-agnostic entry point any
// future channel adapter (Telegram, Feishu, Discord, ...) feeds into by
// calling msgBus.PublishInbound — the gateway itself doesn't know or care
// which transport produced the message.
func consumeInboundMessages(ctx context.Context, msgBus *bus.MessageBus, agents *agent.Router, cfg *config.Config, sched *scheduler.Scheduler) {
	slog.Info("inbound message consumer started")
	dedupe := bus.NewDedupeCache(20*time.Minute, 5000)

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		key := fmt.Sprintf("%s:%s:%s", msg.Channel, msg.ChatID, msg.SenderID)
		if dedupe.IsDuplicate(key) {
			continue
		}

		go handleInboundMessage(ctx, msg, msgBus, agents, cfg, sched)
	}
}

func handleInboundMessage(ctx context.Context, msg bus.InboundMessage, msgBus *bus.MessageBus, agents *agent.Router, cfg *config.Config, sched *scheduler.Scheduler) {
	peerKind := msg.PeerKind
	if peerKind == "" {
		peerKind = string(sessions.PeerDirect)
	}

	agentID := resolveAgentRoute(cfg, msg.Channel, msg.ChatID, peerKind)
	if _, err := agents.Get(agentID); err != nil {
		slog.Warn("inbound: agent not found", "agent", agentID, "channel", msg.Channel)
		return
	}

	sessionKey := sessions.BuildScopedSessionKey(agentID, msg.Channel, sessions.PeerKind(peerKind), msg.ChatID, cfg.Sessions.Scope, cfg.Sessions.DmScope, cfg.Sessions.MainKey)

	outCh := sched.Schedule(ctx, "main", agent.RunRequest{
		SessionKey: sessionKey,
		Message:    msg.Content,
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		PeerKind:   peerKind,
		RunID:      fmt.Sprintf("inbound-%d", time.Now().UnixNano()),
		UserID:     msg.UserID,
	})

	select {
	case out := <-outCh:
		if out.Err != nil {
			slog.Warn("inbound: agent run failed", "channel", msg.Channel, "error", out.Err)
			return
		}
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: out.Result.Content,
		})
	case <-ctx.Done():
	}
}
