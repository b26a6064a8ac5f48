package sessions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

func TestManager_GetOrCreateAndAddMessage(t *testing.T) {
	m := NewManager("")
	key := BuildSessionKey("default", "telegram", PeerDirect, "1")

	s := m.GetOrCreate(key)
	if s.Key != key {
		t.Fatalf("got key %q, want %q", s.Key, key)
	}

	m.AddMessage(key, providers.Message{Role: "user", Content: "hi"})
	history := m.GetHistory(key)
	if len(history) != 1 || history[0].Content != "hi" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestManager_TruncateHistory(t *testing.T) {
	m := NewManager("")
	key := BuildSessionKey("default", "telegram", PeerDirect, "1")
	for i := 0; i < 5; i++ {
		m.AddMessage(key, providers.Message{Role: "user", Content: "x"})
	}
	m.TruncateHistory(key, 2)
	if got := len(m.GetHistory(key)); got != 2 {
		t.Errorf("expected 2 messages after truncate, got %d", got)
	}
}

func TestManager_SaveGroupsSessionsByAgentIntoOneFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	keyA := BuildSessionKey("agentA", "telegram", PeerDirect, "1")
	keyB := BuildSessionKey("agentA", "telegram", PeerDirect, "2")
	keyC := BuildSessionKey("agentB", "telegram", PeerDirect, "1")

	m.AddMessage(keyA, providers.Message{Role: "user", Content: "a"})
	m.AddMessage(keyB, providers.Message{Role: "user", Content: "b"})
	m.AddMessage(keyC, providers.Message{Role: "user", Content: "c"})

	if err := m.Save(keyA); err != nil {
		t.Fatalf("save keyA: %v", err)
	}
	if err := m.Save(keyB); err != nil {
		t.Fatalf("save keyB: %v", err)
	}
	if err := m.Save(keyC); err != nil {
		t.Fatalf("save keyC: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "agentA.json")); err != nil {
		t.Errorf("expected agentA.json to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "agentB.json")); err != nil {
		t.Errorf("expected agentB.json to exist: %v", err)
	}

	// agentA's file must contain both of agentA's sessions, not a
	// separate file per session key.
	reloaded := NewManager(dir)
	if got := reloaded.GetHistory(keyA); len(got) != 1 || got[0].Content != "a" {
		t.Errorf("expected keyA to round-trip, got %+v", got)
	}
	if got := reloaded.GetHistory(keyB); len(got) != 1 || got[0].Content != "b" {
		t.Errorf("expected keyB to round-trip, got %+v", got)
	}
	if got := reloaded.GetHistory(keyC); len(got) != 1 || got[0].Content != "c" {
		t.Errorf("expected keyC to round-trip, got %+v", got)
	}
}

func TestManager_GetOrCreate_LookupFallbackChain(t *testing.T) {
	m := NewManager("")
	m.SetLookupDefaults("default", "main")

	main := m.GetOrCreate(BuildAgentMainSessionKey("default", "main"))
	m.AddMessage(main.Key, providers.Message{Role: "user", Content: "main session"})

	// A bare lookup key with no exact match should fall through to the
	// canonical main session key for the default agent.
	resolved := m.GetOrCreate("some-bare-key")
	if resolved.Key != main.Key {
		t.Errorf("expected fallback to resolve to %q, got %q", main.Key, resolved.Key)
	}
}

func TestManager_Delete(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := BuildSessionKey("default", "telegram", PeerDirect, "1")
	m.AddMessage(key, providers.Message{Role: "user", Content: "hi"})
	m.Save(key)

	if err := m.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := m.GetHistory(key); got != nil {
		t.Errorf("expected deleted session to have no history, got %+v", got)
	}
}

func TestManager_LastUsedChannel_SkipsNonChannelSessions(t *testing.T) {
	m := NewManager("")
	m.AddMessage(BuildSubagentSessionKey("default", "task1"), providers.Message{Role: "user", Content: "x"})
	m.AddMessage(BuildSessionKey("default", "telegram", PeerDirect, "42"), providers.Message{Role: "user", Content: "y"})

	channel, chatID := m.LastUsedChannel("default")
	if channel != "telegram" || chatID != "42" {
		t.Errorf("got (%q, %q), want (telegram, 42)", channel, chatID)
	}
}
