package router

import "strings"

// Action classifies what the router does with a routed message.
type Action string

const (
	// ActionRespond answers directly through the graph's model.
	ActionRespond Action = "respond"
	// ActionDelegate hands the message to a subgraph.
	ActionDelegate Action = "delegate"
	// ActionTool runs a registered tool before responding.
	ActionTool Action = "tool"
)

// Decision is the outcome of routing one message.
type Decision struct {
	Action Action
	// Target is the subgraph for delegations, the tool name for tool
	// actions, and the responder name otherwise.
	Target string
	// Task is the instruction forwarded on delegation.
	Task string
}

// Route classifies a message against the graph configuration. It is a pure
// function of its inputs: no store access, no randomness, no clock, so
// replaying the same state yields the same decision.
func Route(cfg GraphConfig, state *RunState) Decision {
	msg, ok := state.lastMessage()
	if !ok {
		return Decision{Action: ActionRespond, Target: cfg.DefaultTarget}
	}

	// An explicit target naming a known subgraph overrides keyword rules.
	if msg.Target != "" && msg.Target != cfg.GraphID && cfg.KnowsSubgraph(msg.Target) {
		return Decision{Action: ActionDelegate, Target: msg.Target, Task: msg.Content}
	}

	content := strings.ToLower(msg.Content)
	for _, rule := range cfg.DelegationRules {
		if matchKeywords(content, rule.Keywords) {
			return Decision{Action: ActionDelegate, Target: rule.Target, Task: msg.Content}
		}
	}
	for _, rule := range cfg.ToolRules {
		if matchKeywords(content, rule.Keywords) {
			return Decision{Action: ActionTool, Target: rule.Tool, Task: msg.Content}
		}
	}
	return Decision{Action: ActionRespond, Target: cfg.DefaultTarget}
}

func matchKeywords(content string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(content, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
