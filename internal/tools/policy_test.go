package tools

import (
	"testing"

	"github.com/nextlevelbuilder/goclaw/internal/config"
)

func containsTool(tools []string, name string) bool {
	for _, t := range tools {
		if t == name {
			return true
		}
	}
	return false
}

func TestPolicyEngine_GlobalDenyCannotBeReGrantedByAgentAllow(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{Deny: []string{"exec"}})
	layers := pe.buildLayers("", &config.ToolPolicySpec{Allow: []string{"exec", "read_file"}}, nil, false, false)

	allowed := pe.Evaluate([]string{"exec", "read_file", "write_file"}, layers)
	if containsTool(allowed, "exec") {
		t.Errorf("exec should stay denied: agent layer cannot re-grant what global denied, got %v", allowed)
	}
	if !containsTool(allowed, "read_file") {
		t.Errorf("read_file should survive, got %v", allowed)
	}
}

func TestPolicyEngine_SandboxToolsReplaceNotMerge(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{})
	agentPolicy := &config.ToolPolicySpec{Allow: []string{"exec", "read_file", "write_file"}}
	layers := pe.buildLayers("", agentPolicy, []string{"read_file"}, false, false)

	allowed := pe.Evaluate([]string{"exec", "read_file", "write_file"}, layers)
	if len(allowed) != 1 || allowed[0] != "read_file" {
		t.Errorf("sandbox layer should replace agent allow set entirely, got %v", allowed)
	}
}

func TestPolicyEngine_SubagentDenyList(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{})
	layers := pe.buildLayers("", nil, nil, true, false)

	allowed := pe.Evaluate([]string{"exec", "read_file", "sessions_send"}, layers)
	if containsTool(allowed, "exec") {
		t.Errorf("subagents must never reach exec, got %v", allowed)
	}
	if !containsTool(allowed, "read_file") {
		t.Errorf("read_file should survive for non-leaf subagents, got %v", allowed)
	}
}

func TestPolicyEngine_LeafSubagentAddsFurtherRestriction(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{})
	layers := pe.buildLayers("", nil, nil, true, true)

	allowed := pe.Evaluate([]string{"sessions_list", "read_file"}, layers)
	if containsTool(allowed, "sessions_list") {
		t.Errorf("leaf subagents should additionally lose sessions_list, got %v", allowed)
	}
	if !containsTool(allowed, "read_file") {
		t.Errorf("read_file should survive, got %v", allowed)
	}
}

func TestPolicyEngine_ProfileExpandsToGroupMembers(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "messaging"})
	layers := pe.buildLayers("", nil, nil, false, false)

	allowed := pe.Evaluate([]string{"message", "exec", "sessions_send"}, layers)
	if !containsTool(allowed, "message") {
		t.Errorf("messaging profile should allow group:messaging member 'message', got %v", allowed)
	}
	if containsTool(allowed, "exec") {
		t.Errorf("messaging profile should not allow exec, got %v", allowed)
	}
}

func TestPolicyEngine_ProviderOverrideReplacesGlobalAllow(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{
		Allow: []string{"exec", "read_file"},
		ByProvider: map[string]*config.ToolPolicySpec{
			"anthropic": {Allow: []string{"read_file"}},
		},
	})

	layers := pe.buildLayers("anthropic", nil, nil, false, false)
	allowed := pe.Evaluate([]string{"exec", "read_file"}, layers)
	if containsTool(allowed, "exec") {
		t.Errorf("provider override should replace the global allow list, got %v", allowed)
	}
}
