package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goclaw/internal/agent"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

func newTestServer(t *testing.T, token string) (*Server, string, func()) {
	t.Helper()
	cfg := &config.Config{
		Gateway: config.GatewayConfig{Token: token},
	}
	msgBus := bus.New()
	srv := NewServer(cfg, msgBus, agent.NewRouter(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	addr, start := StartTestServer(srv, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	return srv, addr, func() { cancel() }
}

func dialAndHello(t *testing.T, addr string, hello protocol.HelloFrame) (*websocket.Conn, *protocol.HelloOkFrame) {
	t.Helper()
	wsURL := "ws://" + addr + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	hello.Type = protocol.FrameTypeHello
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ok protocol.HelloOkFrame
	if err := conn.ReadJSON(&ok); err != nil {
		t.Fatalf("read hello.ok: %v", err)
	}
	return conn, &ok
}

// TestHelloAuthenticatesWithValidToken verifies the hello/hello.ok handshake
// grants admin and returns a populated snapshot (§4.H, §6).
func TestHelloAuthenticatesWithValidToken(t *testing.T) {
	_, addr, closeSrv := newTestServer(t, "secret")
	defer closeSrv()

	conn, ok := dialAndHello(t, addr, protocol.HelloFrame{Token: "secret", ClientName: "test"})
	defer conn.Close()

	if ok.Type != protocol.FrameTypeHello {
		t.Errorf("hello.ok type = %q, want %q", ok.Type, protocol.FrameTypeHello)
	}
	if ok.Snapshot == nil {
		t.Fatal("hello.ok missing snapshot")
	}
	if ok.ServerSeq != 1 {
		t.Errorf("first hello.ok serverSeq = %d, want 1", ok.ServerSeq)
	}
	if len(ok.Snapshot.Presence) != 1 {
		t.Errorf("snapshot presence = %d entries, want 1", len(ok.Snapshot.Presence))
	}
}

// TestHelloWrongTokenFallsBackToViewer mirrors the old connect handshake's
// fallback path: an invalid token with no pairing service yields viewer.
func TestHelloWrongTokenFallsBackToViewer(t *testing.T) {
	_, addr, closeSrv := newTestServer(t, "secret")
	defer closeSrv()

	conn, ok := dialAndHello(t, addr, protocol.HelloFrame{Token: "wrong"})
	defer conn.Close()

	if ok.Pending {
		t.Fatal("expected immediate viewer fallback, got pending pairing")
	}
	if ok.Snapshot == nil {
		t.Fatal("hello.ok missing snapshot")
	}
}

// TestSeqGapResendsFullSnapshot verifies the hub answers a client-reported
// seq gap with a full push.snapshot rather than a partial replay (§4.H, §8).
func TestSeqGapResendsFullSnapshot(t *testing.T) {
	_, addr, closeSrv := newTestServer(t, "")
	defer closeSrv()

	conn, _ := dialAndHello(t, addr, protocol.HelloFrame{})
	defer conn.Close()

	if err := conn.WriteJSON(protocol.SeqGapFrame{Type: protocol.FrameTypeSeqGap, LastSeq: 1, CurrentSeq: 9}); err != nil {
		t.Fatalf("write seqGap: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read push.snapshot: %v", err)
	}

	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		t.Fatalf("parse frame type: %v", err)
	}
	if frameType != protocol.FrameTypePushSnapshot {
		t.Fatalf("frame type = %q, want %q", frameType, protocol.FrameTypePushSnapshot)
	}
}

// TestRequestBeforeHelloRejected ensures an RPC sent before a completed
// hello handshake is rejected rather than dispatched.
func TestRequestBeforeHelloRejected(t *testing.T) {
	_, addr, closeSrv := newTestServer(t, "secret")
	defer closeSrv()

	wsURL := "ws://" + addr + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: "1", Method: protocol.MethodStatus}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp protocol.ResponseFrame
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.OK {
		t.Fatal("expected request before hello to be rejected")
	}
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "hello") {
		t.Errorf("error message = %+v, want mention of hello", resp.Error)
	}
}
