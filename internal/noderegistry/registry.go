// Package noderegistry tracks connected node peers (spec §4.G) and routes
// node.invoke calls to them. A node is a remote peer — phone, desktop — that
// exposes a small set of platform-specific commands (system.run,
// canvas.snapshot, ...) over its own gateway socket.
package noderegistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Platform identifies the OS a node is running on. The invoke router
// consults this, independent of what the node itself declares, to enforce
// a per-platform command catalog.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformMac     Platform = "mac"
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "windows"
)

// platformCatalog is the hardcoded set of commands each platform is allowed
// to expose. A node's own declared allowlist is intersected with this —
// a node cannot grant itself a command its platform doesn't support.
var platformCatalog = map[Platform]map[string]bool{
	PlatformMac:     {"system.run": true, "canvas.snapshot": true, "notify.show": true},
	PlatformLinux:   {"system.run": true, "canvas.snapshot": true},
	PlatformWindows: {"system.run": true, "canvas.snapshot": true, "notify.show": true},
	PlatformIOS:     {"canvas.snapshot": true, "notify.show": true},
}

// platformAllows reports whether p's command catalog includes command.
func platformAllows(p Platform, command string) bool {
	set, ok := platformCatalog[p]
	if !ok {
		return false
	}
	return set[command]
}

var (
	// ErrNodeNotConnected is returned when invoking a node that isn't
	// currently registered.
	ErrNodeNotConnected = errors.New("node not connected")
	// ErrInvokeTimeout is returned when a ticket's deadline passes before
	// any result arrives.
	ErrInvokeTimeout = errors.New("node invoke timed out")
)

// Sender delivers a node.invoke.request frame over a node's live socket.
// The gateway's Client implements this; noderegistry stays transport-agnostic
// so it can be unit tested without a real websocket.
type Sender interface {
	SendNodeInvokeRequest(ticketID, command string, params json.RawMessage) error
}

// Node is a connected peer that declared role=node during hello.
type Node struct {
	NodeID      string
	DisplayName string
	Platform    Platform
	Commands    []string
	LastSeenAt  time.Time
	Sender      Sender
}

func (n *Node) declares(command string) bool {
	for _, c := range n.Commands {
		if c == command {
			return true
		}
	}
	return false
}

// NodeInfo is the node.list-friendly snapshot of a registered node.
type NodeInfo struct {
	NodeID      string    `json:"nodeId"`
	DisplayName string    `json:"displayName"`
	Platform    string    `json:"platform"`
	Commands    []string  `json:"commands"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// InvokeResult is what a node.invoke caller ultimately observes.
type InvokeResult struct {
	OK      bool
	Payload json.RawMessage
	Error   string
}

// invokeTicket correlates a single in-flight (or idempotency-collapsed)
// node.invoke call with its eventual node.invoke.result. Every caller that
// attaches to the same ticket observes the same resolution exactly once,
// via the shared done channel closing.
type invokeTicket struct {
	ID             string
	NodeID         string
	Command        string
	Params         json.RawMessage
	IdempotencyKey string
	Deadline       time.Time

	once   sync.Once
	done   chan struct{}
	result InvokeResult
}

func (t *invokeTicket) resolve(res InvokeResult) {
	t.once.Do(func() {
		t.result = res
		close(t.done)
	})
}

// defaultInvokeTimeout is used when a caller doesn't supply one.
const defaultInvokeTimeout = 30 * time.Second

// dedupeCacheSize bounds the recent-ticket LRU used to collapse identical
// (nodeId, idempotencyKey) invokes within their retention window.
const dedupeCacheSize = 4096

// Registry tracks connected nodes and routes node.invoke calls to them,
// collapsing duplicate idempotency-keyed invokes onto a single ticket.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node

	ticketsMu sync.Mutex
	tickets   map[string]*invokeTicket // by ticket ID, while in flight
	dedupe    *lru.Cache[string, string]

	newID func() string
}

// NewRegistry constructs an empty Registry. newID generates ticket IDs (the
// caller normally supplies uuid.NewString); it's a parameter so tests can
// pin predictable IDs.
func NewRegistry(newID func() string) *Registry {
	dedupe, _ := lru.New[string, string](dedupeCacheSize)
	return &Registry{
		nodes:   make(map[string]*Node),
		tickets: make(map[string]*invokeTicket),
		dedupe:  dedupe,
		newID:   newID,
	}
}

// Register records a node peer as connected, replacing any prior entry
// under the same nodeId (e.g. a reconnect).
func (r *Registry) Register(n *Node) {
	n.LastSeenAt = time.Now()
	r.mu.Lock()
	r.nodes[n.NodeID] = n
	r.mu.Unlock()
}

// Touch refreshes a node's LastSeenAt, used on any traffic from it.
func (r *Registry) Touch(nodeID string) {
	r.mu.Lock()
	if n, ok := r.nodes[nodeID]; ok {
		n.LastSeenAt = time.Now()
	}
	r.mu.Unlock()
}

// Unregister removes a node on socket close and fails every ticket still
// waiting on it with "node-disconnected".
func (r *Registry) Unregister(nodeID string) {
	r.mu.Lock()
	_, existed := r.nodes[nodeID]
	delete(r.nodes, nodeID)
	r.mu.Unlock()

	if !existed {
		return
	}

	r.ticketsMu.Lock()
	var stale []*invokeTicket
	for id, t := range r.tickets {
		if t.NodeID == nodeID {
			stale = append(stale, t)
			delete(r.tickets, id)
		}
	}
	r.ticketsMu.Unlock()

	for _, t := range stale {
		t.resolve(InvokeResult{OK: false, Error: "node-disconnected"})
	}
}

// Get returns a connected node by ID.
func (r *Registry) Get(nodeID string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	return n, ok
}

// List returns a snapshot of every connected node, for node.list.
func (r *Registry) List() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, NodeInfo{
			NodeID:      n.NodeID,
			DisplayName: n.DisplayName,
			Platform:    string(n.Platform),
			Commands:    n.Commands,
			LastSeenAt:  n.LastSeenAt,
		})
	}
	return out
}

func dedupeKey(nodeID, idempotencyKey string) string {
	return nodeID + "\x00" + idempotencyKey
}

// ticketFor returns the ticket to wait on for this invoke: either a fresh
// one (attached=false, request must still be sent to the node) or an
// existing one collapsed onto an earlier identical idempotency-keyed call
// (attached=true, nothing more to send).
func (r *Registry) ticketFor(nodeID, command string, params json.RawMessage, idempotencyKey string, deadline time.Time) (*invokeTicket, bool) {
	r.ticketsMu.Lock()
	defer r.ticketsMu.Unlock()

	if idempotencyKey != "" {
		key := dedupeKey(nodeID, idempotencyKey)
		if id, ok := r.dedupe.Get(key); ok {
			if t, ok := r.tickets[id]; ok {
				return t, true
			}
		}
	}

	id := r.newID()
	t := &invokeTicket{
		ID:             id,
		NodeID:         nodeID,
		Command:        command,
		Params:         params,
		IdempotencyKey: idempotencyKey,
		Deadline:       deadline,
		done:           make(chan struct{}),
	}
	r.tickets[id] = t
	if idempotencyKey != "" {
		r.dedupe.Add(dedupeKey(nodeID, idempotencyKey), id)
	}
	return t, false
}

// Invoke routes a node.invoke call. It rejects commands the node didn't
// declare or that the node's platform doesn't support at all, otherwise
// creates or attaches to an Invoke Ticket and waits for the node's result
// (or the timeout, or ctx cancellation).
func (r *Registry) Invoke(ctx context.Context, nodeID, command string, params json.RawMessage, idempotencyKey string, timeout time.Duration) (InvokeResult, error) {
	node, ok := r.Get(nodeID)
	if !ok {
		return InvokeResult{}, fmt.Errorf("%w: %s", ErrNodeNotConnected, nodeID)
	}
	if !node.declares(command) || !platformAllows(node.Platform, command) {
		return InvokeResult{}, fmt.Errorf("node command not allowed: %s", command)
	}

	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}
	deadline := time.Now().Add(timeout)

	ticket, attached := r.ticketFor(node.NodeID, command, params, idempotencyKey, deadline)

	if !attached {
		if err := node.Sender.SendNodeInvokeRequest(ticket.ID, ticket.Command, ticket.Params); err != nil {
			r.Resolve(ticket.ID, false, nil, "send failed: "+err.Error())
		}
	}

	timer := time.NewTimer(time.Until(ticket.Deadline))
	defer timer.Stop()

	select {
	case <-ticket.done:
		return ticket.result, nil
	case <-timer.C:
		return InvokeResult{}, ErrInvokeTimeout
	case <-ctx.Done():
		return InvokeResult{}, ctx.Err()
	}
}

// Resolve applies a node.invoke.result to the matching ticket, waking every
// caller attached to it. Returns an error if the ticket id is unknown (e.g.
// already resolved, or the node replied after eviction).
func (r *Registry) Resolve(id string, ok bool, payload json.RawMessage, errMsg string) error {
	r.ticketsMu.Lock()
	t, found := r.tickets[id]
	if found {
		delete(r.tickets, id)
	}
	r.ticketsMu.Unlock()

	if !found {
		return fmt.Errorf("unknown invoke ticket: %s", id)
	}
	t.resolve(InvokeResult{OK: ok, Payload: payload, Error: errMsg})
	return nil
}
