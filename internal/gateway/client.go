package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goclaw/internal/permissions"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// Client represents a single WebSocket connection.
type Client struct {
	id            string
	conn          *websocket.Conn
	server        *Server
	authenticated bool
	role          permissions.Role
	userID        string // external user ID (TEXT, free-form), set during hello
	connectedAt   time.Time
	seq           atomic.Int64 // monotonic per-client event seq, starts at 1 after hello.ok
	send          chan []byte
	mu            sync.Mutex

	// Browser pairing state
	pairingCode    string // 8-char code if pending approval
	pairingPending bool   // true while waiting for admin approval

	// Node identity, set when hello declares role=node.
	nodeID string
}

func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		send:   make(chan []byte, 256),
	}
}

// nextSeq returns the next monotonic seq for this client's event stream.
func (c *Client) nextSeq() int64 { return c.seq.Add(1) }

// Run starts the read and write pumps for this client.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// maxWSMessageSize is the maximum allowed WebSocket message size (512KB).
// Gorilla/websocket closes the connection with ErrReadLimit if exceeded.
const maxWSMessageSize = 512 * 1024

// readPump reads frames from the WebSocket connection.
func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		// Reset read deadline on activity
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		c.handleFrame(ctx, data)
	}
}

// writePump writes frames and pings to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame parses and dispatches a single frame.
func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error())
		return
	}

	switch frameType {
	case protocol.FrameTypeHello:
		var hello protocol.HelloFrame
		if err := json.Unmarshal(data, &hello); err != nil {
			c.sendError("", protocol.ErrInvalidRequest, "malformed hello: "+err.Error())
			return
		}
		c.server.handleHello(ctx, c, &hello)

	case protocol.FrameTypeSeqGap:
		var gap protocol.SeqGapFrame
		if err := json.Unmarshal(data, &gap); err != nil {
			c.sendError("", protocol.ErrInvalidRequest, "malformed seqGap: "+err.Error())
			return
		}
		c.server.handleSeqGap(c, &gap)

	case protocol.FrameTypeRequest:
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("", protocol.ErrInvalidRequest, "malformed request: "+err.Error())
			return
		}

		// Every request but browser.pairing.status (for a client mid-pairing)
		// requires a completed hello handshake first.
		if !c.authenticated {
			if !(c.pairingPending && req.Method == protocol.MethodBrowserPairingStatus) {
				c.sendError(req.ID, protocol.ErrUnauthorized, "must send 'hello' first")
				return
			}
		}

		// Dispatch to method router
		c.server.router.Handle(ctx, c, &req)

	default:
		c.sendError("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType)
	}
}

// SendResponse sends a response frame to this client.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping message", "client", c.id)
	}
}

// SendEvent sends an event frame to this client, stamping it with this
// client's next monotonic seq and the server's current state version so
// the client can detect gaps (§8: events to a single client are strictly
// ordered by seq).
func (c *Client) SendEvent(event protocol.EventFrame) {
	event.Seq = c.nextSeq()
	event.StateVersion = c.server.stateVersion()
	c.sendFrame(event)
}

// sendFrame marshals and enqueues any frame value for the write pump.
func (c *Client) sendFrame(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal frame failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping frame", "client", c.id)
	}
}

func (c *Client) sendError(id, code, message string) {
	c.SendResponse(protocol.NewErrorResponse(id, code, message))
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Role returns the client's permission role.
func (c *Client) Role() permissions.Role { return c.role }

// UserID returns the external user ID set during connect.
func (c *Client) UserID() string { return c.userID }

// NodeID returns the node identifier this client registered under, or ""
// if it never declared role=node.
func (c *Client) NodeID() string { return c.nodeID }

// SetNodeID records this client as the live connection for a node, called
// by gateway/methods.NodeMethods on node.hello.
func (c *Client) SetNodeID(id string) { c.nodeID = id }

// SendNodeInvokeRequest pushes a node.invoke.request event to this client.
// Satisfies noderegistry.Sender.
func (c *Client) SendNodeInvokeRequest(ticketID, command string, params json.RawMessage) error {
	c.SendEvent(*protocol.NewEvent(protocol.EventNodeInvokeRequest, map[string]interface{}{
		"id":      ticketID,
		"nodeId":  c.nodeID,
		"command": command,
		"params":  params,
	}))
	return nil
}

// Close shuts down the client connection.
func (c *Client) Close() {
	close(c.send)
}
