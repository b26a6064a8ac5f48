package tools

import (
	"testing"
	"time"
)

func TestCheckCommand_DenyMode(t *testing.T) {
	mgr := NewExecApprovalManager(ExecApprovalConfig{Security: ExecSecurityDeny})
	if got := mgr.CheckCommand("ls -la"); got != "deny" {
		t.Errorf("expected deny, got %s", got)
	}
}

func TestCheckCommand_FullMode(t *testing.T) {
	mgr := NewExecApprovalManager(ExecApprovalConfig{Security: ExecSecurityFull, Ask: AskOff})
	if got := mgr.CheckCommand("ls -la"); got != "allow" {
		t.Errorf("expected allow, got %s", got)
	}
}

func TestCheckCommand_FullModeAlwaysAsk(t *testing.T) {
	mgr := NewExecApprovalManager(ExecApprovalConfig{Security: ExecSecurityFull, Ask: AskAlways})
	if got := mgr.CheckCommand("ls -la"); got != "ask" {
		t.Errorf("expected ask, got %s", got)
	}
}

func TestCheckCommand_AllowlistMatch(t *testing.T) {
	mgr := NewExecApprovalManager(ExecApprovalConfig{
		Security:  ExecSecurityAllowlist,
		Ask:       AskOnMiss,
		Allowlist: []string{"ls", "git"},
	})
	if got := mgr.CheckCommand("ls -la"); got != "allow" {
		t.Errorf("expected allow for allowlisted command, got %s", got)
	}
}

func TestCheckCommand_AllowlistMiss(t *testing.T) {
	mgr := NewExecApprovalManager(ExecApprovalConfig{
		Security:  ExecSecurityAllowlist,
		Ask:       AskOnMiss,
		Allowlist: []string{"ls"},
	})
	if got := mgr.CheckCommand("rm -rf /tmp/x"); got != "ask" {
		t.Errorf("expected ask on allowlist miss, got %s", got)
	}
}

func TestCheckCommand_AllowlistMissNoAsk(t *testing.T) {
	mgr := NewExecApprovalManager(ExecApprovalConfig{
		Security:  ExecSecurityAllowlist,
		Ask:       AskOff,
		Allowlist: []string{"ls"},
	})
	if got := mgr.CheckCommand("rm -rf /tmp/x"); got != "deny" {
		t.Errorf("expected deny when ask is off and no match, got %s", got)
	}
}

func TestMinSecurity(t *testing.T) {
	if got := MinSecurity(ExecSecurityFull, ExecSecurityAllowlist); got != ExecSecurityAllowlist {
		t.Errorf("expected allowlist, got %s", got)
	}
	if got := MinSecurity(ExecSecurityDeny, ExecSecurityFull); got != ExecSecurityDeny {
		t.Errorf("expected deny, got %s", got)
	}
}

func TestMaxAsk(t *testing.T) {
	if got := MaxAsk(AskOff, AskAlways); got != AskAlways {
		t.Errorf("expected always, got %s", got)
	}
	if got := MaxAsk(AskOnMiss, AskOff); got != AskOnMiss {
		t.Errorf("expected on-miss, got %s", got)
	}
}

func TestRequestApproval_Resolved(t *testing.T) {
	mgr := NewExecApprovalManager(DefaultExecApprovalConfig())

	go func() {
		for {
			pending := mgr.ListPending()
			if len(pending) > 0 {
				mgr.Resolve(pending[0].ID, ApprovalAllowOnce)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	decision, err := mgr.RequestApproval("rm -rf /tmp/foo", "agent-1", 2*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != ApprovalAllowOnce {
		t.Errorf("expected allow-once, got %s", decision)
	}
}

func TestRequestApproval_TimeoutFallsBackToDeny(t *testing.T) {
	mgr := NewExecApprovalManager(ExecApprovalConfig{
		Security:    ExecSecurityAllowlist,
		Ask:         AskOnMiss,
		AskFallback: ExecSecurityDeny,
	})

	decision, err := mgr.RequestApproval("rm -rf /tmp/foo", "agent-1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != ApprovalDeny {
		t.Errorf("expected deny on timeout fallback, got %s", decision)
	}
}

func TestRequestApproval_AllowAlwaysAddsToAllowlist(t *testing.T) {
	mgr := NewExecApprovalManager(DefaultExecApprovalConfig())

	go func() {
		for {
			pending := mgr.ListPending()
			if len(pending) > 0 {
				mgr.Resolve(pending[0].ID, ApprovalAllowAlways)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	if _, err := mgr.RequestApproval("git status", "agent-1", 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !matchAllowlist(mgr.allowlist, "git status") {
		t.Error("expected git to be added to the allowlist after allow-always")
	}
}

func TestListPending_OrderedOldestFirst(t *testing.T) {
	mgr := NewExecApprovalManager(DefaultExecApprovalConfig())

	done := make(chan struct{})
	go func() {
		mgr.RequestApproval("cmd-a", "agent-1", 2*time.Second)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	go mgr.RequestApproval("cmd-b", "agent-1", 2*time.Second)
	time.Sleep(10 * time.Millisecond)

	pending := mgr.ListPending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending approvals, got %d", len(pending))
	}
	if pending[0].Command != "cmd-a" || pending[1].Command != "cmd-b" {
		t.Errorf("expected oldest-first ordering, got %v", pending)
	}

	for _, p := range pending {
		mgr.Resolve(p.ID, ApprovalDeny)
	}
	<-done
}

func TestResolve_UnknownID(t *testing.T) {
	mgr := NewExecApprovalManager(DefaultExecApprovalConfig())
	if err := mgr.Resolve("does-not-exist", ApprovalDeny); err == nil {
		t.Error("expected error resolving an unknown id")
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"git", "git", true},
		{"git*", "git-status", true},
		{"**/bin/ls", "/usr/local/bin/ls", true},
		{"*/bin/ls", "/usr/local/bin/ls", false}, // * doesn't cross /
		{"rm", "rm -rf /", false},
	}
	for _, c := range cases {
		if got := globMatch(c.pattern, c.input); got != c.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", c.pattern, c.input, got, c.want)
		}
	}
}
