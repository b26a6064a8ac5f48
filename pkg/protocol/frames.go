// Package protocol defines the wire format for the GoClaw Gateway WebSocket protocol.
// This package is importable by Service 2 and other clients.
package protocol

import "encoding/json"

// Protocol version. Clients must negotiate this during the hello handshake.
const ProtocolVersion = 3

// Frame types. Note hello.ok replies carry Type == FrameTypeHello ("hello"),
// not a distinct "hello.ok" literal — see HelloOkFrame.
const (
	FrameTypeRequest      = "req"
	FrameTypeResponse     = "res"
	FrameTypeEvent        = "event"
	FrameTypeHello        = "hello"
	FrameTypePushSnapshot = "push.snapshot"
	FrameTypeSeqGap       = "seqGap"
)

// MaxFrameBytes caps a single inbound WS message. Frames over this size are
// rejected with CloseFrameTooLarge rather than parsed.
const MaxFrameBytes = 8 * 1024 * 1024

// CloseFrameTooLarge is the WS close code used when an inbound frame exceeds
// MaxFrameBytes.
const CloseFrameTooLarge = 4009

// RawFrame is used for initial parsing to determine frame type.
type RawFrame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"` // original bytes for re-parsing
}

// RequestFrame is sent by clients to invoke an RPC method.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // unique request ID (client-generated)
	Method string          `json:"method"` // RPC method name
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is sent by the server in response to a request.
type ResponseFrame struct {
	Type    string      `json:"type"`          // always "res"
	ID      string      `json:"id"`            // matches request ID
	OK      bool        `json:"ok"`            // true if success
	Payload interface{} `json:"payload,omitempty"` // response data (when ok=true)
	Error   *ErrorShape `json:"error,omitempty"`   // error info (when ok=false)
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code         string      `json:"code"`
	Message      string      `json:"message"`
	Details      interface{} `json:"details,omitempty"`
	Retryable    bool        `json:"retryable,omitempty"`
	RetryAfterMs int         `json:"retryAfterMs,omitempty"`
}

// EventFrame is pushed from server to client without a preceding request.
type EventFrame struct {
	Type         string        `json:"type"`                   // always "event"
	Event        string        `json:"event"`                  // event name
	Payload      interface{}   `json:"payload,omitempty"`      // event data
	Seq          int64         `json:"seq,omitempty"`          // ordering sequence number
	StateVersion *StateVersion `json:"stateVersion,omitempty"` // version counters for state sync
}

// StateVersion tracks version counters for optimistic state sync.
type StateVersion struct {
	Presence int64 `json:"presence"`
	Health   int64 `json:"health"`
}

// HelloFrame is the first frame a client sends after the WS upgrade. It
// replaces a connect RPC: the hub authenticates from its fields and, on
// success, the socket is live for the event stream starting at seq 1.
type HelloFrame struct {
	Type            string          `json:"type"` // always "hello"
	ProtocolVersion int             `json:"protocolVersion,omitempty"`
	Role            string          `json:"role,omitempty"` // "chat-ui", "node", "cli"
	ClientName      string          `json:"clientName,omitempty"`
	ClientVersion   string          `json:"clientVersion,omitempty"`
	Platform        string          `json:"platform,omitempty"`
	Mode            string          `json:"mode,omitempty"`
	InstanceID      string          `json:"instanceId,omitempty"`
	Scopes          []string        `json:"scopes,omitempty"`
	Commands        []string        `json:"commands,omitempty"` // node role: declared command allowlist
	Token           string          `json:"token,omitempty"`
	Password        string          `json:"password,omitempty"`
	LastSeq         int64           `json:"lastSeq,omitempty"`
	ClientID        string          `json:"clientId,omitempty"`
	SenderID        string          `json:"senderId,omitempty"` // browser pairing: reconnect identity
	UserID          string          `json:"userId,omitempty"`
}

// PresenceEntry describes one connected client in a snapshot's presence list.
type PresenceEntry struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	ConnectedAt int64  `json:"connectedAt"` // unix millis
}

// SnapshotPayload is the state snapshot handed back in HelloOk and resent
// whole on a seqGap (§4.H: the hub answers a gap with a full snapshot,
// never a partial replay).
type SnapshotPayload struct {
	Presence        []PresenceEntry        `json:"presence"`
	Health          map[string]interface{} `json:"health"`
	StateVersion    StateVersion            `json:"stateVersion"`
	UptimeMs        int64                   `json:"uptimeMs"`
	ConfigPath      string                  `json:"configPath,omitempty"`
	StateDir        string                  `json:"stateDir,omitempty"`
	SessionDefaults interface{}             `json:"sessionDefaults,omitempty"`
}

// HelloOkFrame acknowledges a HelloFrame: it carries the protocol version,
// server identity, feature flags, the full state snapshot, and this
// client's starting sequence number for the event stream.
type HelloOkFrame struct {
	Type            string                 `json:"type"` // always "hello"
	ProtocolVersion int                    `json:"_protocol"`
	Server          map[string]interface{} `json:"server"`
	Features        map[string]interface{} `json:"features,omitempty"`
	Snapshot        *SnapshotPayload        `json:"snapshot"`
	CanvasHostURL   string                  `json:"canvasHostUrl,omitempty"`
	Auth            map[string]interface{}  `json:"auth,omitempty"`
	Policy          map[string]interface{}  `json:"policy,omitempty"`
	ServerSeq       int64                   `json:"serverSeq"`

	// Pending is true while a browser-pairing request is awaiting admin
	// approval; the client may only poll browser.pairing.status until then.
	Pending     bool   `json:"pending,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
}

// PushSnapshotFrame carries a full state snapshot, sent either after a
// HelloOkFrame with resume=false or on demand. Payload shape is
// method-specific (agents, sessions, channel status, etc.).
type PushSnapshotFrame struct {
	Type    string      `json:"type"` // always "push.snapshot"
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
	Seq     int64       `json:"seq"`
}

// SeqGapFrame tells a client its last known seq is behind what the hub can
// replay (buffer evicted) and it must request a fresh snapshot.
type SeqGapFrame struct {
	Type      string `json:"type"` // always "seqGap"
	LastSeq   int64  `json:"lastSeq"`
	CurrentSeq int64 `json:"currentSeq"`
}

// NewHelloOk creates a hello.ok frame carrying the full handshake snapshot.
func NewHelloOk(server, features, auth, policy map[string]interface{}, snapshot *SnapshotPayload, serverSeq int64) *HelloOkFrame {
	return &HelloOkFrame{
		Type:            FrameTypeHello,
		ProtocolVersion: ProtocolVersion,
		Server:          server,
		Features:        features,
		Snapshot:        snapshot,
		Auth:            auth,
		Policy:          policy,
		ServerSeq:       serverSeq,
	}
}

// NewPushSnapshot creates a push.snapshot frame.
func NewPushSnapshot(kind string, payload interface{}, seq int64) *PushSnapshotFrame {
	return &PushSnapshotFrame{
		Type:    FrameTypePushSnapshot,
		Kind:    kind,
		Payload: payload,
		Seq:     seq,
	}
}

// NewSeqGap creates a seqGap frame.
func NewSeqGap(lastSeq, currentSeq int64) *SeqGapFrame {
	return &SeqGapFrame{
		Type:       FrameTypeSeqGap,
		LastSeq:    lastSeq,
		CurrentSeq: currentSeq,
	}
}

// NewOKResponse creates a success response frame.
func NewOKResponse(id string, payload interface{}) *ResponseFrame {
	return &ResponseFrame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      true,
		Payload: payload,
	}
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload interface{}) *EventFrame {
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: payload,
	}
}

// ParseFrameType extracts the frame type from raw JSON bytes.
// Returns the type string and remaining bytes for re-parsing.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
