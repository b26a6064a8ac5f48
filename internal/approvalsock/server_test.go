package approvalsock

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/tools"
)

func TestServer_RoundTripDecision(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "exec-approvals.sock")
	token := "test-token"

	mgr := tools.NewExecApprovalManager(tools.DefaultExecApprovalConfig())
	srv := NewServer(sockPath, token, mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx)
	time.Sleep(50 * time.Millisecond) // let the listener bind

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	decisionDone := make(chan tools.ApprovalDecision, 1)
	go func() {
		decision, err := mgr.RequestApproval("rm -rf /tmp/x", "agent-1", 5*time.Second)
		if err != nil {
			t.Errorf("request approval: %v", err)
			return
		}
		decisionDone <- decision
	}()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("expected a request frame, scan error: %v", scanner.Err())
	}

	var req requestFrame
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		t.Fatalf("unmarshal request frame: %v", err)
	}
	if req.Type != "request" || req.Request.Command != "rm -rf /tmp/x" {
		t.Fatalf("unexpected request frame: %+v", req)
	}

	resp := decisionFrame{Type: "decision", Token: token, ID: req.ID, Decision: "allow-once"}
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write decision: %v", err)
	}

	select {
	case d := <-decisionDone:
		if d != tools.ApprovalAllowOnce {
			t.Errorf("expected allow-once, got %s", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for decision to resolve")
	}
}

func TestServer_WrongTokenDropsConnection(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "exec-approvals.sock")

	mgr := tools.NewExecApprovalManager(tools.DefaultExecApprovalConfig())
	srv := NewServer(sockPath, "correct-token", mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	bad := decisionFrame{Type: "decision", Token: "wrong-token", ID: "whatever", Decision: "deny"}
	data, _ := json.Marshal(bad)
	data = append(data, '\n')
	conn.Write(data)

	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected connection to be dropped on bad token")
	}
}
