package store

import "time"

// ApprovalEntry is one allowlist pattern for the exec approval pipeline.
// Patterns are globs: "**" matches any characters including path
// separators, "*" matches anything except a path separator, "?" matches
// one character. Patterns containing a path separator match the resolved
// absolute path; otherwise they match the executable basename
// (case-insensitive).
type ApprovalEntry struct {
	Pattern         string    `json:"pattern"`
	LastUsedAt      time.Time `json:"lastUsedAt,omitempty"`
	LastUsedCommand string    `json:"lastUsedCommand,omitempty"`
	LastResolvedPath string   `json:"lastResolvedPath,omitempty"`
}

// ApprovalDefaults are the security/ask knobs shared by the top-level
// defaults block and every per-agent override block.
type ApprovalDefaults struct {
	Security        string `json:"security,omitempty"`        // "deny", "allowlist", "full"
	Ask             string `json:"ask,omitempty"`             // "off", "on-miss", "always"
	AskFallback     string `json:"askFallback,omitempty"`     // "full", "allowlist", "deny"
	AutoAllowSkills bool   `json:"autoAllowSkills,omitempty"`
}

// AgentApprovalConfig is one agent's override block, keyed by agent id (or
// "*" for the catch-all that merges into every agent).
type AgentApprovalConfig struct {
	ApprovalDefaults
	Allowlist []ApprovalEntry `json:"allowlist,omitempty"`
}

// ApprovalsSocketConfig records the approval socket's path and auth token.
type ApprovalsSocketConfig struct {
	Path  string `json:"path"`
	Token string `json:"token"`
}

// ApprovalsFile is the on-disk shape of exec-approvals.json.
type ApprovalsFile struct {
	Version  int                             `json:"version"`
	Socket   ApprovalsSocketConfig           `json:"socket"`
	Defaults ApprovalDefaults                `json:"defaults"`
	Agents   map[string]*AgentApprovalConfig `json:"agents,omitempty"`
}

// ResolvedApproval is the fully composed security/ask configuration for one
// agent, after merging file defaults, per-agent overrides, the "*" agent,
// and the hardcoded safety baseline.
type ResolvedApproval struct {
	ApprovalDefaults
	Allowlist []ApprovalEntry
}

// ApprovalStore persists and resolves the exec approval configuration
// (spec §4.D): the approvals file, its socket credentials, and the
// allowlist each agent composes against.
type ApprovalStore interface {
	// SocketPath and SocketToken return the approval socket's address and
	// auth token, generating and persisting both on first use.
	SocketPath() string
	SocketToken() string

	// Resolve composes defaults = file.defaults ⊕ hardcoded baseline;
	// agent = agents[agentID] ⊕ agents["*"] ⊕ defaults; allowlist =
	// agents["*"].allowlist ++ agents[agentID].allowlist.
	Resolve(agentID string) ResolvedApproval

	// MatchAllowlist iterates entries in order and returns the first
	// pattern that matches command (or resolvedPath, if non-empty), and
	// whether any entry matched.
	MatchAllowlist(agentID, command, resolvedPath string) (pattern string, matched bool)

	// RecordAllowlistUse updates an existing entry's lastUsedAt/
	// lastUsedCommand/lastResolvedPath. No-op if pattern isn't present.
	RecordAllowlistUse(agentID, pattern, command, resolvedPath string) error

	// AddAllowlistEntry appends pattern to agentID's allowlist. A no-op
	// when the pattern is already present.
	AddAllowlistEntry(agentID, pattern string) error
}
