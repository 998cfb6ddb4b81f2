package tool

import (
	"context"
	"fmt"
)

// DelegateToolName is recognized by the routing layer: a function call with
// this name is interpreted as a delegation request instead of being executed
// as a regular tool.
const DelegateToolName = "delegate_to_agent"

// delegateToAgentTool requests delegation of a subtask to a named sub-agent.
type delegateToAgentTool struct{}

// NewDelegateToAgentTool constructs the delegation tool instance.
func NewDelegateToAgentTool() Tool { return &delegateToAgentTool{} }

func (t *delegateToAgentTool) Name() string { return DelegateToolName }

func (t *delegateToAgentTool) Description() string {
	return "Delegate a subtask to another agent by name. Use when another agent is better suited for the task."
}

func (t *delegateToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Target agent name"},
			"task":  map[string]any{"type": "string", "description": "Subtask description for the target agent"},
		},
		"required": []string{"agent", "task"},
	}
}

// Call only validates arguments; the router intercepts calls to this tool
// and performs the delegation itself.
func (t *delegateToAgentTool) Call(_ context.Context, args map[string]any) (any, error) {
	agent, task, err := ParseDelegation(args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"delegated": true, "agent": agent, "task": task}, nil
}

// ParseDelegation extracts and validates the target agent and subtask from
// delegation tool arguments.
func ParseDelegation(args map[string]any) (agent, task string, err error) {
	raw, ok := args["agent"]
	if !ok {
		return "", "", fmt.Errorf("missing required field 'agent'")
	}
	agent, ok = raw.(string)
	if !ok || agent == "" {
		return "", "", fmt.Errorf("field 'agent' must be non-empty string")
	}
	if raw, ok := args["task"]; ok {
		task, _ = raw.(string)
	}
	if task == "" {
		return "", "", fmt.Errorf("field 'task' must be non-empty string")
	}
	return agent, task, nil
}
