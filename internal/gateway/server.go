package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goclaw/internal/agent"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	httpapi "github.com/nextlevelbuilder/goclaw/internal/http"
	"github.com/nextlevelbuilder/goclaw/internal/noderegistry"
	"github.com/nextlevelbuilder/goclaw/internal/permissions"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// Server is the gateway hub: it terminates WebSocket connections, dispatches
// RPC methods through a MethodRouter, and fans bus events back out to every
// connected client.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	agents   *agent.Router
	sessions store.SessionStore
	tools    *tools.Registry
	router   *MethodRouter

	policyEngine   *permissions.PolicyEngine
	pairingService store.PairingStore
	agentStore     store.AgentStore // optional; enables context injection in /v1/tools/invoke
	nodes          *noderegistry.Registry

	startedAt time.Time
	cfgPath   string
	stateDir  string

	// presenceVersion/healthVersion back stateVersion(), bumped whenever a
	// client connects/disconnects or a health tick changes ok status.
	presenceVersion atomic.Int64
	healthVersion   atomic.Int64

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new gateway server.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, agents *agent.Router, sess store.SessionStore, nodes *noderegistry.Registry, toolsReg ...*tools.Registry) *Server {
	s := &Server{
		cfg:       cfg,
		eventPub:  eventPub,
		agents:    agents,
		sessions:  sess,
		nodes:     nodes,
		clients:   make(map[string]*Client),
		startedAt: time.Now(),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	if len(toolsReg) > 0 && toolsReg[0] != nil {
		s.tools = toolsReg[0]
	}

	// rate_limit_rpm > 0  → enabled at that RPM
	// rate_limit_rpm == 0 → disabled (default, backward compat)
	// rate_limit_rpm < 0  → disabled explicitly
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)

	s.router = NewMethodRouter(s)
	return s
}

// RateLimiter returns the server's rate limiter for use by method handlers.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// Nodes returns the node registry backing node.* RPC methods.
func (s *Server) Nodes() *noderegistry.Registry { return s.nodes }

// checkOrigin validates WebSocket connection origin against the allowed
// origins whitelist. An empty whitelist or an empty Origin header (CLI/SDK
// clients, not browsers) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered. Call
// this before Start() if you need the mux for additional listeners.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	isManaged := s.agentStore != nil
	chatHandler := httpapi.NewChatCompletionsHandler(s.agents, s.sessions, s.cfg.Gateway.Token, isManaged)
	if s.rateLimiter.Enabled() {
		chatHandler.SetRateLimiter(s.rateLimiter.Allow)
	}
	mux.Handle("/v1/chat/completions", chatHandler)

	responsesHandler := httpapi.NewResponsesHandler(s.agents, s.sessions, s.cfg.Gateway.Token)
	mux.Handle("/v1/responses", responsesHandler)

	if s.tools != nil {
		toolsHandler := httpapi.NewToolsInvokeHandler(s.tools, s.cfg.Gateway.Token, s.agentStore)
		mux.Handle("/v1/tools/invoke", toolsHandler)
	}

	s.mux = mux
	return mux
}

// Start begins listening for WebSocket and HTTP connections until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)

	// registerClient happens inside handleHello, once the client
	// authenticates — the event stream only begins after HelloOk (§4.H).
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// Router returns the method router for registering additional handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// SetPolicyEngine sets the permission policy engine for RPC method authorization.
func (s *Server) SetPolicyEngine(pe *permissions.PolicyEngine) { s.policyEngine = pe }

// SetPairingService sets the pairing store used to authenticate browser
// reconnects during connect.
func (s *Server) SetPairingService(ps store.PairingStore) { s.pairingService = ps }

// SetAgentStore sets the agent store for context injection in tools_invoke.
func (s *Server) SetAgentStore(as store.AgentStore) { s.agentStore = as }

// SetConfigPath records the on-disk config path reported in hello snapshots.
func (s *Server) SetConfigPath(path string) { s.cfgPath = path }

// SetStateDir records the data directory reported in hello snapshots.
func (s *Server) SetStateDir(dir string) { s.stateDir = dir }

// stateVersion returns the current presence/health version pair, stamped
// onto every outbound event and snapshot so clients can detect gaps.
func (s *Server) stateVersion() *protocol.StateVersion {
	return &protocol.StateVersion{
		Presence: s.presenceVersion.Load(),
		Health:   s.healthVersion.Load(),
	}
}

// buildSnapshot composes the full state snapshot sent in HelloOk and
// resent whole on seqGap (§4.H: a gap is answered with a full snapshot,
// never a partial replay).
func (s *Server) buildSnapshot() *protocol.SnapshotPayload {
	s.mu.RLock()
	presence := make([]protocol.PresenceEntry, 0, len(s.clients))
	for _, c := range s.clients {
		presence = append(presence, protocol.PresenceEntry{
			ID:          c.ID(),
			Role:        string(c.Role()),
			ConnectedAt: c.connectedAt.UnixMilli(),
		})
	}
	s.mu.RUnlock()

	var sessionDefaults interface{}
	if s.cfg != nil {
		sessionDefaults = map[string]interface{}{
			"scope":   s.cfg.Sessions.Scope,
			"dmScope": s.cfg.Sessions.DmScope,
		}
	}

	return &protocol.SnapshotPayload{
		Presence:        presence,
		Health:          map[string]interface{}{"ok": true},
		StateVersion:    *s.stateVersion(),
		UptimeMs:        time.Since(s.startedAt).Milliseconds(),
		ConfigPath:      s.cfgPath,
		StateDir:        s.stateDir,
		SessionDefaults: sessionDefaults,
	}
}

func (s *Server) serverInfo() map[string]interface{} {
	return map[string]interface{}{
		"name":    "goclaw",
		"version": "0.2.0",
	}
}

// handleHello authenticates a connection from its HelloFrame and, on
// success, subscribes it to the event stream and replies with HelloOk
// carrying the current snapshot (§4.H). Unauthenticated browser clients
// without a token may instead enter pairing, polling browser.pairing.status
// until an admin approves them.
func (s *Server) handleHello(ctx context.Context, client *Client, hello *protocol.HelloFrame) {
	configToken := s.cfg.Gateway.Token

	authenticate := func(role permissions.Role) {
		client.role = role
		client.authenticated = true
		client.userID = hello.UserID
		client.connectedAt = time.Now()
		s.registerClient(client)
		client.sendFrame(protocol.NewHelloOk(s.serverInfo(), nil, nil, nil, s.buildSnapshot(), client.nextSeq()))
		slog.Info("client authenticated", "client", client.id, "role", string(role), "clientName", hello.ClientName, "platform", hello.Platform)
	}

	// Path 1: valid token → admin.
	if configToken != "" && hello.Token == configToken {
		authenticate(permissions.RoleAdmin)
		return
	}

	// Path 2: no token configured → operator (backward compat).
	if configToken == "" {
		authenticate(permissions.RoleOperator)
		return
	}

	// Path 3: token configured but missing/wrong → check browser pairing.
	ps := s.pairingService

	// Path 3a: reconnecting with a previously-paired sender id.
	if ps != nil && hello.SenderID != "" && ps.IsPaired(hello.SenderID, "browser") {
		slog.Info("browser pairing authenticated", "sender_id", hello.SenderID, "client", client.id)
		authenticate(permissions.RoleOperator)
		return
	}

	// Path 3b: no token, no valid pairing → initiate browser pairing.
	if ps != nil && hello.Token == "" {
		code, err := ps.RequestPairing(client.id, "browser", "", "default")
		if err != nil {
			slog.Warn("browser pairing request failed", "error", err, "client", client.id)
			// Fall through to viewer role.
		} else {
			client.pairingCode = code
			client.pairingPending = true
			client.sendFrame(&protocol.HelloOkFrame{
				Type:            protocol.FrameTypeHello,
				ProtocolVersion: protocol.ProtocolVersion,
				Server:          s.serverInfo(),
				Pending:         true,
				PairingCode:     code,
			})
			return
		}
	}

	// Path 4: fallback → viewer (wrong token or pairing unavailable).
	authenticate(permissions.RoleViewer)
}

// handleSeqGap answers a client-detected gap with a full snapshot rather
// than a partial replay, per §4.H.
func (s *Server) handleSeqGap(client *Client, gap *protocol.SeqGapFrame) {
	slog.Warn("seq gap reported", "client", client.id, "lastSeq", gap.LastSeq, "currentSeq", gap.CurrentSeq)
	client.sendFrame(protocol.NewPushSnapshot("full", s.buildSnapshot(), client.nextSeq()))
}

// BroadcastEvent sends an event to all connected clients.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.presenceVersion.Add(1)

	// Subscribe to bus events for this client (skip internal cache events).
	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if strings.HasPrefix(event.Name, "cache.") {
			return
		}
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
	})

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	_, wasRegistered := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()

	if !wasRegistered {
		return
	}
	s.presenceVersion.Add(1)
	s.eventPub.Unsubscribe(c.id)

	if nodeID := c.NodeID(); nodeID != "" && s.nodes != nil {
		s.nodes.Unregister(nodeID)
	}

	slog.Info("client disconnected", "id", c.id)
}

// StartTestServer creates a listener on :0 (random port) and returns the
// actual address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	isManaged := s.agentStore != nil
	chatHandler := httpapi.NewChatCompletionsHandler(s.agents, s.sessions, s.cfg.Gateway.Token, isManaged)
	if s.rateLimiter.Enabled() {
		chatHandler.SetRateLimiter(s.rateLimiter.Allow)
	}
	mux.Handle("/v1/chat/completions", chatHandler)

	responsesHandler := httpapi.NewResponsesHandler(s.agents, s.sessions, s.cfg.Gateway.Token)
	mux.Handle("/v1/responses", responsesHandler)

	if s.tools != nil {
		toolsHandler := httpapi.NewToolsInvokeHandler(s.tools, s.cfg.Gateway.Token, s.agentStore)
		mux.Handle("/v1/tools/invoke", toolsHandler)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
