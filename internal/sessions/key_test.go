package sessions

import "testing"

func TestBuildSessionKey(t *testing.T) {
	got := BuildSessionKey("default", "telegram", PeerDirect, "386246614")
	want := "agent:default:telegram:direct:386246614"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildGroupTopicSessionKey(t *testing.T) {
	got := BuildGroupTopicSessionKey("default", "telegram", "-100123456", 99)
	want := "agent:default:telegram:group:-100123456:topic:99"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildCronSessionKey_GuardsDoublePrefix(t *testing.T) {
	jobID := BuildCronSessionKey("default", "reminder", "run1")
	got := BuildCronSessionKey("default", jobID, "run2")
	want := "agent:default:cron:cron:reminder:run:run1:run:run2"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildAgentMainSessionKey_DefaultsMainKey(t *testing.T) {
	got := BuildAgentMainSessionKey("default", "")
	want := "agent:default:main"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildScopedSessionKey_Global(t *testing.T) {
	got := BuildScopedSessionKey("default", "telegram", PeerDirect, "123", "global", "", "")
	if got != "global" {
		t.Errorf("got %q, want global", got)
	}
}

func TestBuildScopedSessionKey_GroupAlwaysFullKey(t *testing.T) {
	got := BuildScopedSessionKey("default", "telegram", PeerGroup, "-100", "per-sender", "main", "")
	want := "agent:default:telegram:group:-100"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildScopedSessionKey_DMModes(t *testing.T) {
	cases := []struct {
		dmScope string
		want    string
	}{
		{"main", "agent:default:main"},
		{"per-peer", "agent:default:direct:123"},
		{"per-channel-peer", "agent:default:telegram:direct:123"},
		{"", "agent:default:telegram:direct:123"},
	}
	for _, c := range cases {
		got := BuildScopedSessionKey("default", "telegram", PeerDirect, "123", "per-sender", c.dmScope, "")
		if got != c.want {
			t.Errorf("dmScope=%q: got %q, want %q", c.dmScope, got, c.want)
		}
	}
}

func TestParseSessionKey(t *testing.T) {
	agentID, rest := ParseSessionKey("agent:default:telegram:direct:123")
	if agentID != "default" || rest != "telegram:direct:123" {
		t.Errorf("got (%q, %q)", agentID, rest)
	}
}

func TestParseSessionKey_Invalid(t *testing.T) {
	agentID, rest := ParseSessionKey("not-a-session-key")
	if agentID != "" || rest != "" {
		t.Errorf("expected empty result for malformed key, got (%q, %q)", agentID, rest)
	}
}

func TestIsSubagentSession(t *testing.T) {
	if !IsSubagentSession(BuildSubagentSessionKey("default", "my-task")) {
		t.Error("expected subagent session to be detected")
	}
	if IsSubagentSession(BuildSessionKey("default", "telegram", PeerDirect, "1")) {
		t.Error("expected channel session to not be a subagent session")
	}
}

func TestIsCronSession(t *testing.T) {
	if !IsCronSession(BuildCronSessionKey("default", "job1", "run1")) {
		t.Error("expected cron session to be detected")
	}
}

func TestPeerKindFromGroup(t *testing.T) {
	if PeerKindFromGroup(true) != PeerGroup {
		t.Error("expected PeerGroup")
	}
	if PeerKindFromGroup(false) != PeerDirect {
		t.Error("expected PeerDirect")
	}
}
