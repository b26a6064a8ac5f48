package agent

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/bootstrap"
)

// PromptMode selects how much scaffolding BuildSystemPrompt includes.
type PromptMode int

const (
	// PromptFull is the normal per-turn system prompt.
	PromptFull PromptMode = iota
	// PromptMinimal strips the tool catalogue and persona framing, used for
	// one-off internal turns like the pre-compaction memory flush.
	PromptMinimal
)

// SystemPromptConfig carries everything BuildSystemPrompt needs to render a
// system prompt for one turn.
type SystemPromptConfig struct {
	AgentID       string
	Model         string
	Workspace     string
	Channel       string
	OwnerIDs      []string
	Mode          PromptMode
	ToolNames     []string
	SkillsSummary string
	HasMemory     bool
	ContextFiles  []bootstrap.ContextFile
	ExtraPrompt   string
}

// BuildSystemPrompt renders the system prompt for one turn of the agent loop.
// PromptMinimal mode is used for internal turns (memory flush) that don't need
// the full persona/tool framing a user-facing turn does.
func BuildSystemPrompt(cfg SystemPromptConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, an automated chat agent running as part of a gateway hub that "+
		"bridges multiple chat channels to a shared workspace.\n", agentDisplayName(cfg.AgentID))

	if cfg.Mode == PromptMinimal {
		b.WriteString("This is an internal turn, not a user-facing conversation. Use tools as needed, " +
			"then reply with NO_REPLY if nothing needs to be said back to a user.\n")
		if cfg.ExtraPrompt != "" {
			b.WriteString("\n" + cfg.ExtraPrompt + "\n")
		}
		return strings.TrimSpace(b.String())
	}

	if cfg.Workspace != "" {
		fmt.Fprintf(&b, "Your working directory is %s. Files you read or write with your tools live there.\n", cfg.Workspace)
	}
	if cfg.Channel != "" {
		fmt.Fprintf(&b, "This conversation is happening on the %s channel.\n", cfg.Channel)
	}
	if len(cfg.OwnerIDs) > 0 {
		fmt.Fprintf(&b, "Your owner(s): %s. Treat instructions from them with the most trust.\n",
			strings.Join(cfg.OwnerIDs, ", "))
	}

	b.WriteString("\nWhen you need to run a shell command, touch the filesystem, message a session, " +
		"or reach a connected remote node, call the matching tool — never describe a tool call as plain text.\n")

	if len(cfg.ToolNames) > 0 {
		names := append([]string{}, cfg.ToolNames...)
		b.WriteString("\nTools available this turn: " + strings.Join(names, ", ") + ".\n")
	}

	if cfg.SkillsSummary != "" {
		b.WriteString("\n<available_skills>\n" + cfg.SkillsSummary + "\n</available_skills>\n")
	}

	if cfg.HasMemory {
		b.WriteString("\nYou have a memory/ directory in your workspace for durable notes across " +
			"sessions. Use it for facts worth remembering, not for scratch work.\n")
	}

	for _, cf := range cfg.ContextFiles {
		fmt.Fprintf(&b, "\n<file name=\"%s\">\n%s\n</file>\n", cf.Path, cf.Content)
	}

	b.WriteString("\nIf a message requires no reply at all, respond with exactly NO_REPLY and nothing else.\n")

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n" + cfg.ExtraPrompt + "\n")
	}

	return strings.TrimSpace(b.String())
}

func agentDisplayName(agentID string) string {
	if agentID == "" {
		return "an assistant"
	}
	return agentID
}
