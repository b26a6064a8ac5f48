package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/noderegistry"
)

// NodesTool lets an agent invoke a command on a connected remote peer —
// phone, desktop — the same way a human operator would through node.invoke.
// It exists so the turn loop's tool dispatch and the gateway's RPC surface
// share one admission path: both end up calling noderegistry.Registry.Invoke.
type NodesTool struct {
	registry *noderegistry.Registry
}

func NewNodesTool(registry *noderegistry.Registry) *NodesTool {
	return &NodesTool{registry: registry}
}

func (t *NodesTool) Name() string        { return "nodes" }
func (t *NodesTool) Description() string { return "List connected nodes or invoke a command on one (e.g. system.run, canvas.snapshot)." }

func (t *NodesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"list", "invoke"},
				"description": "\"list\" to enumerate connected nodes, \"invoke\" to run a command on one.",
			},
			"nodeId":  map[string]interface{}{"type": "string"},
			"command": map[string]interface{}{"type": "string"},
			"params":  map[string]interface{}{"type": "object"},
		},
		"required": []string{"action"},
	}
}

func (t *NodesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.registry == nil {
		return ErrorResult("node registry not configured")
	}

	action, _ := args["action"].(string)
	switch action {
	case "list":
		nodes := t.registry.List()
		b, _ := json.Marshal(nodes)
		return NewResult(string(b))

	case "invoke":
		nodeID, _ := args["nodeId"].(string)
		command, _ := args["command"].(string)
		if nodeID == "" || command == "" {
			return ErrorResult("nodeId and command are required for action=invoke")
		}

		var params json.RawMessage
		if p, ok := args["params"]; ok {
			if b, err := json.Marshal(p); err == nil {
				params = b
			}
		}

		res, err := t.registry.Invoke(ctx, nodeID, command, params, "", 30*time.Second)
		if err != nil {
			return ErrorResult(fmt.Sprintf("node invoke failed: %s", err.Error()))
		}
		if !res.OK {
			return ErrorResult(fmt.Sprintf("node reported failure: %s", res.Error))
		}
		return NewResult(string(res.Payload))

	default:
		return ErrorResult(`action must be "list" or "invoke"`)
	}
}
