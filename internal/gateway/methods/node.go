package methods

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/gateway"
	"github.com/nextlevelbuilder/goclaw/internal/noderegistry"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// NodeMethods handles node.hello, node.list, node.invoke, and the
// node.invoke.result a node sends back after running a command.
type NodeMethods struct {
	registry *noderegistry.Registry
}

func NewNodeMethods(registry *noderegistry.Registry) *NodeMethods {
	return &NodeMethods{registry: registry}
}

func (m *NodeMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodNodeHello, m.handleHello)
	router.Register(protocol.MethodNodeList, m.handleList)
	router.Register(protocol.MethodNodeInvoke, m.handleInvoke)
	router.Register(protocol.MethodNodeInvokeResult, m.handleInvokeResult)
}

type nodeHelloParams struct {
	NodeID      string   `json:"nodeId"`
	DisplayName string   `json:"displayName"`
	Platform    string   `json:"platform"`
	Commands    []string `json:"commands"`
}

func (m *NodeMethods) handleHello(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params nodeHelloParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.NodeID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "nodeId is required"))
		return
	}

	client.SetNodeID(params.NodeID)
	m.registry.Register(&noderegistry.Node{
		NodeID:      params.NodeID,
		DisplayName: params.DisplayName,
		Platform:    noderegistry.Platform(params.Platform),
		Commands:    params.Commands,
		Sender:      client,
	})

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"registered": true,
	}))
}

func (m *NodeMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"nodes": m.registry.List(),
	}))
}

type nodeInvokeParams struct {
	NodeID         string          `json:"nodeId"`
	Command        string          `json:"command"`
	Params         json.RawMessage `json:"params"`
	IdempotencyKey string          `json:"idempotencyKey"`
	TimeoutMs      int64           `json:"timeoutMs"`
}

func (m *NodeMethods) handleInvoke(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params nodeInvokeParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.NodeID == "" || params.Command == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "nodeId and command are required"))
		return
	}

	var timeout time.Duration
	if params.TimeoutMs > 0 {
		timeout = time.Duration(params.TimeoutMs) * time.Millisecond
	}

	res, err := m.registry.Invoke(ctx, params.NodeID, params.Command, params.Params, params.IdempotencyKey, timeout)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrFailedPrecondition, err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"ok":      res.OK,
		"payload": res.Payload,
		"error":   res.Error,
	}))
}

type nodeInvokeResultParams struct {
	ID      string          `json:"id"`
	NodeID  string          `json:"nodeId"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payloadJSON"`
	Error   string          `json:"error"`
}

// handleInvokeResult is called when a node replies to a node.invoke.request
// it was forwarded earlier.
func (m *NodeMethods) handleInvokeResult(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params nodeInvokeResultParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.ID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "id is required"))
		return
	}

	if err := m.registry.Resolve(params.ID, params.OK, params.Payload, params.Error); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"acked": true,
	}))
}
