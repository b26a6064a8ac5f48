package tools

import (
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// toolGroups maps group names to tool names for "group:xxx" specs.
var toolGroups = map[string][]string{
	"memory":     {"memory_search", "memory_get"},
	"web":        {"web_search", "web_fetch"},
	"fs":         {"read_file", "write_file", "list_files", "edit_file", "search", "glob"},
	"runtime":    {"exec", "process"},
	"sessions":   {"sessions_list", "sessions_history", "sessions_send", "sessions_spawn", "subagents", "session_status"},
	"ui":         {"browser", "canvas"},
	"automation": {"cron", "gateway"},
	"messaging":  {"message"},
	"nodes":      {"nodes"},
	// Composite group: every native tool this binary ships, excluding
	// provider/MCP plugins.
	"goclaw": {
		"browser", "canvas", "nodes", "cron", "message", "gateway",
		"agents_list", "sessions_list", "sessions_history", "sessions_send",
		"sessions_spawn", "subagents", "session_status",
		"memory_search", "memory_get", "web_search", "web_fetch", "read_image", "create_image",
	},
}

// ownerOnlyTools are tools that only the instance owner can execute,
// regardless of what the policy layers otherwise admit.
var ownerOnlyTools = map[string]bool{
	"whatsapp_login": true,
}

// RegisterToolGroup adds or replaces a dynamic tool group. Used by the MCP
// manager to register "mcp" and "mcp:{serverName}" groups as servers connect.
func RegisterToolGroup(name string, members []string) {
	toolGroups[name] = members
}

// UnregisterToolGroup removes a dynamic tool group.
func UnregisterToolGroup(name string) {
	delete(toolGroups, name)
}

// toolProfiles define named preset allow-specs for the global layer's Profile field.
var toolProfiles = map[string][]string{
	"minimal":   {"session_status"},
	"coding":    {"group:fs", "group:runtime", "group:sessions", "group:memory", "read_image", "create_image"},
	"messaging": {"group:messaging", "sessions_list", "sessions_history", "sessions_send", "session_status"},
	"full":      {}, // empty = no restriction
}

// toolAliases map alternative names to the canonical registry name.
var toolAliases = map[string]string{
	"bash":        "exec",
	"apply-patch": "apply_patch",
}

// subagentDenyList is the subagent policy layer's deny set: a subagent
// should never shell out, recurse into spawning further subagents at will,
// or reach tools whose effects belong to the parent conversation.
var subagentDenyList = []string{
	"exec", "gateway", "agents_list", "whatsapp_login", "session_status",
	"cron", "memory_search", "memory_get", "sessions_send",
}

// leafSubagentDenyList adds further restriction once a subagent has reached
// the maximum spawn depth and can no longer spawn its own children.
var leafSubagentDenyList = []string{
	"sessions_list", "sessions_history", "sessions_spawn",
}

// PolicyLayer is one tier of the global→agent→sandbox→subagent chain.
// Allow/Deny entries are bare tool names or "group:name" specs.
type PolicyLayer struct {
	Name  string
	Allow []string
	Deny  []string
}

// PolicyEngine composes the effective tool allow set by narrowing through
// successive layers. Each layer may only restrict what survived the layer
// before it — no layer's Allow can re-grant a tool an earlier layer denied.
type PolicyEngine struct {
	globalPolicy *config.ToolsConfig
}

// NewPolicyEngine creates a policy engine from the global tools config.
func NewPolicyEngine(cfg *config.ToolsConfig) *PolicyEngine {
	return &PolicyEngine{globalPolicy: cfg}
}

// FilterTools narrows the registry's tools through the global, agent,
// sandbox, and subagent layers and returns provider-facing definitions for
// whatever survives.
func (pe *PolicyEngine) FilterTools(
	registry *Registry,
	agentID string,
	providerName string,
	agentToolPolicy *config.ToolPolicySpec,
	sandboxTools []string,
	isSubagent bool,
	isLeafAgent bool,
) []providers.ToolDefinition {
	allTools := registry.List()
	layers := pe.buildLayers(providerName, agentToolPolicy, sandboxTools, isSubagent, isLeafAgent)
	allowed := pe.Evaluate(allTools, layers)

	var defs []providers.ToolDefinition
	for _, name := range allowed {
		canonical := resolveAlias(name)
		if tool, ok := registry.Get(canonical); ok {
			defs = append(defs, ToProviderDef(tool))
		}
	}

	slog.Debug("tool policy applied",
		"agent", agentID,
		"provider", providerName,
		"total_tools", len(allTools),
		"allowed", len(defs),
		"is_subagent", isSubagent,
	)

	return defs
}

// Evaluate narrows allTools through layers in order. Exported so the session
// orchestrator's turn loop can run a single tool-call name through the same
// chain without materializing full provider definitions.
func (pe *PolicyEngine) Evaluate(allTools []string, layers []PolicyLayer) []string {
	allowed := copySlice(allTools)
	for _, layer := range layers {
		if len(layer.Deny) > 0 {
			allowed = subtractSpec(allowed, layer.Deny)
		}
		if len(layer.Allow) > 0 {
			allowed = intersectWithSpec(allowed, layer.Allow)
		}
	}
	return allowed
}

// Allowed reports whether a single tool name survives the full layer chain.
func (pe *PolicyEngine) Allowed(allTools []string, layers []PolicyLayer, name string) bool {
	for _, t := range pe.Evaluate(allTools, layers) {
		if t == name {
			return true
		}
	}
	return false
}

// buildLayers assembles the spec's four layers from global config plus the
// call site's agent policy, sandbox replacement tools, and subagent state.
func (pe *PolicyEngine) buildLayers(
	providerName string,
	agentToolPolicy *config.ToolPolicySpec,
	sandboxTools []string,
	isSubagent bool,
	isLeafAgent bool,
) []PolicyLayer {
	g := pe.globalPolicy
	var layers []PolicyLayer

	globalAllow := append([]string{}, g.Allow...)
	globalDeny := append([]string{}, g.Deny...)
	if g.Profile != "" && g.Profile != "full" {
		if spec, ok := toolProfiles[g.Profile]; ok {
			globalAllow = append(globalAllow, spec...)
		}
	}
	if g.ByProvider != nil {
		if pp, ok := g.ByProvider[providerName]; ok {
			if pp.Profile != "" && pp.Profile != "full" {
				if spec, ok := toolProfiles[pp.Profile]; ok {
					globalAllow = spec
				}
			}
			if len(pp.Allow) > 0 {
				globalAllow = pp.Allow
			}
			if len(pp.Deny) > 0 {
				globalDeny = append(globalDeny, pp.Deny...)
			}
		}
	}
	layers = append(layers, PolicyLayer{Name: "global", Allow: globalAllow, Deny: globalDeny})

	if agentToolPolicy != nil {
		agentAllow := append([]string{}, agentToolPolicy.Allow...)
		agentDeny := append([]string{}, agentToolPolicy.Deny...)
		if agentToolPolicy.Profile != "" && agentToolPolicy.Profile != "full" {
			if spec, ok := toolProfiles[agentToolPolicy.Profile]; ok {
				agentAllow = append(agentAllow, spec...)
			}
		}
		if agentToolPolicy.ByProvider != nil {
			if pp, ok := agentToolPolicy.ByProvider[providerName]; ok {
				if len(pp.Allow) > 0 {
					agentAllow = pp.Allow
				}
				if len(pp.Deny) > 0 {
					agentDeny = append(agentDeny, pp.Deny...)
				}
			}
		}
		layers = append(layers, PolicyLayer{Name: "agent", Allow: agentAllow, Deny: agentDeny})
	}

	// sandboxTools (routing.agents[id].sandbox.tools, falling back to the
	// agent's own sandbox.tools) *replaces* rather than merges with whatever
	// survived so far — spec's sandbox-layer special case.
	if len(sandboxTools) > 0 {
		layers = append(layers, PolicyLayer{Name: "sandbox", Allow: sandboxTools})
	}

	if isSubagent {
		deny := append([]string{}, subagentDenyList...)
		if isLeafAgent {
			deny = append(deny, leafSubagentDenyList...)
		}
		layers = append(layers, PolicyLayer{Name: "subagent", Deny: deny})
	}

	return layers
}

// --- Set operations with group expansion ---

// expandSpec expands a spec list (which may contain "group:xxx") into
// concrete tool names, filtered against available tools.
func expandSpec(available []string, spec []string) []string {
	expanded := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			groupName := strings.TrimPrefix(s, "group:")
			if members, ok := toolGroups[groupName]; ok {
				for _, m := range members {
					expanded[m] = true
				}
			}
		} else {
			expanded[s] = true
		}
	}

	var result []string
	for _, t := range available {
		if expanded[t] {
			result = append(result, t)
		}
	}
	return result
}

// intersectWithSpec keeps only tools in current that match spec (with group expansion).
func intersectWithSpec(current []string, spec []string) []string {
	expanded := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			groupName := strings.TrimPrefix(s, "group:")
			if members, ok := toolGroups[groupName]; ok {
				for _, m := range members {
					expanded[m] = true
				}
			}
		} else {
			expanded[s] = true
		}
	}

	var result []string
	for _, t := range current {
		if expanded[t] {
			result = append(result, t)
		}
	}
	return result
}

// subtractSpec removes tools matching spec (with group expansion) from current.
func subtractSpec(current []string, spec []string) []string {
	denied := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			groupName := strings.TrimPrefix(s, "group:")
			if members, ok := toolGroups[groupName]; ok {
				for _, m := range members {
					denied[m] = true
				}
			}
		} else {
			denied[s] = true
		}
	}

	var result []string
	for _, t := range current {
		if !denied[t] {
			result = append(result, t)
		}
	}
	return result
}

func resolveAlias(name string) string {
	if canonical, ok := toolAliases[name]; ok {
		return canonical
	}
	return name
}

func copySlice(s []string) []string {
	c := make([]string, len(s))
	copy(c, s)
	return c
}
