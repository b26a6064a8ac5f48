package file

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// FileApprovalStore persists exec-approvals.json (spec §4.D): socket
// credentials, global defaults, and per-agent allowlists. All mutation
// goes through save(), which reads-parses-applies-writes atomically
// (temp file + rename) under a single path mutex — exec-approvals.json
// has exactly one writer path, unlike the per-agent session files.
type FileApprovalStore struct {
	path string
	mu   sync.Mutex
}

func NewFileApprovalStore(path string) (*FileApprovalStore, error) {
	s := &FileApprovalStore{path: path}
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureLoaded creates the file with fresh defaults (new socket path +
// random 24-byte token) if it doesn't exist yet.
func (s *FileApprovalStore) ensureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	}

	token, err := newSocketToken()
	if err != nil {
		return err
	}

	f := &store.ApprovalsFile{
		Version: 1,
		Socket: store.ApprovalsSocketConfig{
			Path:  defaultSocketPath(s.path),
			Token: token,
		},
		Defaults: store.ApprovalDefaults{
			Security:    "deny",
			Ask:         "on-miss",
			AskFallback: "deny",
		},
		Agents: make(map[string]*store.AgentApprovalConfig),
	}
	return s.writeLocked(f)
}

func defaultSocketPath(approvalsPath string) string {
	return filepath.Join(filepath.Dir(approvalsPath), "exec-approvals.sock")
}

func newSocketToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *FileApprovalStore) readLocked() (*store.ApprovalsFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var f store.ApprovalsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Agents == nil {
		f.Agents = make(map[string]*store.AgentApprovalConfig)
	}
	return &f, nil
}

// writeLocked marshals f and writes it atomically with 0600 permissions.
// Caller must hold s.mu.
func (s *FileApprovalStore) writeLocked(f *store.ApprovalsFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	os.MkdirAll(dir, 0700)

	tmp, err := os.CreateTemp(dir, "exec-approvals-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Chmod(tmpPath, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// mutate performs an atomic read-modify-write: read → parse → fn → write.
func (s *FileApprovalStore) mutate(fn func(f *store.ApprovalsFile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.readLocked()
	if err != nil {
		return err
	}
	fn(f)
	return s.writeLocked(f)
}

func (s *FileApprovalStore) SocketPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.readLocked()
	if err != nil {
		return defaultSocketPath(s.path)
	}
	return f.Socket.Path
}

func (s *FileApprovalStore) SocketToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.readLocked()
	if err != nil {
		return ""
	}
	return f.Socket.Token
}

// Resolve composes defaults = file.defaults ⊕ hardcoded(security=deny,
// ask=on-miss, askFallback=deny, autoAllowSkills=false); agent =
// agents[agentID] ⊕ agents["*"] ⊕ defaults; allowlist =
// agents["*"].allowlist ++ agents[agentID].allowlist.
func (s *FileApprovalStore) Resolve(agentID string) store.ResolvedApproval {
	s.mu.Lock()
	f, err := s.readLocked()
	s.mu.Unlock()
	if err != nil {
		return store.ResolvedApproval{
			ApprovalDefaults: store.ApprovalDefaults{Security: "deny", Ask: "on-miss", AskFallback: "deny"},
		}
	}

	defaults := store.ApprovalDefaults{Security: "deny", Ask: "on-miss", AskFallback: "deny", AutoAllowSkills: false}
	overlayDefaults(&defaults, f.Defaults)

	resolved := defaults
	var allowlist []store.ApprovalEntry

	if star, ok := f.Agents["*"]; ok {
		overlayDefaults(&resolved, star.ApprovalDefaults)
		allowlist = append(allowlist, star.Allowlist...)
	}
	if agent, ok := f.Agents[agentID]; ok {
		overlayDefaults(&resolved, agent.ApprovalDefaults)
		allowlist = append(allowlist, agent.Allowlist...)
	}

	return store.ResolvedApproval{ApprovalDefaults: resolved, Allowlist: allowlist}
}

// overlayDefaults applies any non-zero field of override on top of base.
func overlayDefaults(base *store.ApprovalDefaults, override store.ApprovalDefaults) {
	if override.Security != "" {
		base.Security = override.Security
	}
	if override.Ask != "" {
		base.Ask = override.Ask
	}
	if override.AskFallback != "" {
		base.AskFallback = override.AskFallback
	}
	if override.AutoAllowSkills {
		base.AutoAllowSkills = true
	}
}

// SetGlobalDefaults reconciles config-driven defaults into the persisted
// file: non-empty fields of defaults overlay the top-level Defaults block,
// and allowlist patterns are merged (idempotently) into the "*" agent's
// allowlist. Called once at startup so operator edits to config.json keep
// taking effect while allow-always decisions recorded at runtime persist.
func (s *FileApprovalStore) SetGlobalDefaults(defaults store.ApprovalDefaults, allowlist []string) error {
	return s.mutate(func(f *store.ApprovalsFile) {
		overlayDefaults(&f.Defaults, defaults)

		star, ok := f.Agents["*"]
		if !ok {
			star = &store.AgentApprovalConfig{}
			f.Agents["*"] = star
		}
		existing := make(map[string]bool, len(star.Allowlist))
		for _, e := range star.Allowlist {
			existing[e.Pattern] = true
		}
		for _, p := range allowlist {
			if p == "" || existing[p] {
				continue
			}
			star.Allowlist = append(star.Allowlist, store.ApprovalEntry{Pattern: p})
			existing[p] = true
		}
	})
}

// MatchAllowlist iterates Resolve(agentID).Allowlist in order and returns
// the first pattern matching resolvedPath (if non-empty and the pattern
// contains a path separator) or command's executable basename otherwise.
func (s *FileApprovalStore) MatchAllowlist(agentID, command, resolvedPath string) (string, bool) {
	resolved := s.Resolve(agentID)
	token := firstToken(command)
	base := filepath.Base(token)

	for _, entry := range resolved.Allowlist {
		target := base
		if strings.ContainsAny(entry.Pattern, `/\`) && resolvedPath != "" {
			target = resolvedPath
		}
		if globMatch(entry.Pattern, target) || globMatch(entry.Pattern, command) {
			return entry.Pattern, true
		}
	}
	return "", false
}

func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// globMatch supports "*" (matches within a path segment), "**" (crosses
// "/"), and "?" (one character), matching spec's allowlist glob semantics.
// Matching is case-insensitive per spec's basename-match rule.
func globMatch(pattern, s string) bool {
	return globRegexp(pattern).MatchString(strings.ToLower(s))
}

func globRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	lower := strings.ToLower(pattern)
	for i := 0; i < len(lower); {
		switch {
		case strings.HasPrefix(lower[i:], "**"):
			b.WriteString(".*")
			i += 2
		case lower[i] == '*':
			b.WriteString("[^/]*")
			i++
		case lower[i] == '?':
			b.WriteString("[^/]")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(lower[i])))
			i++
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// RecordAllowlistUse updates an existing allowlist entry's usage metadata.
// No-op if pattern isn't present under agentID.
func (s *FileApprovalStore) RecordAllowlistUse(agentID, pattern, command, resolvedPath string) error {
	return s.mutate(func(f *store.ApprovalsFile) {
		agent, ok := f.Agents[agentID]
		if !ok {
			return
		}
		for i := range agent.Allowlist {
			if agent.Allowlist[i].Pattern == pattern {
				agent.Allowlist[i].LastUsedAt = time.Now()
				agent.Allowlist[i].LastUsedCommand = command
				agent.Allowlist[i].LastResolvedPath = resolvedPath
				return
			}
		}
	})
}

// AddAllowlistEntry appends pattern to agentID's allowlist. A no-op when
// the pattern is already present.
func (s *FileApprovalStore) AddAllowlistEntry(agentID, pattern string) error {
	return s.mutate(func(f *store.ApprovalsFile) {
		agent, ok := f.Agents[agentID]
		if !ok {
			agent = &store.AgentApprovalConfig{}
			f.Agents[agentID] = agent
		}
		for _, e := range agent.Allowlist {
			if e.Pattern == pattern {
				return
			}
		}
		agent.Allowlist = append(agent.Allowlist, store.ApprovalEntry{Pattern: pattern})
	})
}
