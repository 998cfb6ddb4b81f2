package router

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultResponder answers when no delegation or tool rule matches.
	DefaultResponder = "valet"

	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 100 * time.Millisecond
)

// DelegationRule hands a message off to a subgraph when any of its keywords
// appears in the message content. Rules are evaluated in declaration order
// and the first match wins, keeping routing deterministic.
type DelegationRule struct {
	Keywords []string `json:"keywords"`
	Target   string   `json:"target"`
}

// ToolRule triggers a registered tool before the responder answers.
type ToolRule struct {
	Keywords []string `json:"keywords"`
	Tool     string   `json:"tool"`
}

// GraphConfig is the per-graph routing configuration. It is stored as the
// Config blob of the graph's registry entry and must stay JSON-serializable.
type GraphConfig struct {
	GraphID string `json:"graph_id"`

	// Instructions is a text/template rendered with the run state before
	// each model invocation.
	Instructions string `json:"instructions,omitempty"`

	// Subgraphs are the delegation targets this graph may invoke. Routing
	// to any other target is a routing error.
	Subgraphs []string `json:"subgraphs,omitempty"`

	DelegationRules []DelegationRule `json:"delegation_rules,omitempty"`
	ToolRules       []ToolRule       `json:"tool_rules,omitempty"`

	// DefaultTarget names the responder agent used when nothing else
	// matches; empty means DefaultResponder.
	DefaultTarget string `json:"default_target,omitempty"`

	MaxRetries  int           `json:"max_retries,omitempty"`
	BaseBackoff time.Duration `json:"base_backoff,omitempty"`
}

// ParseConfig decodes a registry Config blob, applying defaults for
// anything left unset.
func ParseConfig(raw json.RawMessage) (GraphConfig, error) {
	var cfg GraphConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return GraphConfig{}, fmt.Errorf("decode graph config: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *GraphConfig) applyDefaults() {
	if c.DefaultTarget == "" {
		c.DefaultTarget = DefaultResponder
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
}

// KnowsSubgraph reports whether name is a declared delegation target.
func (c GraphConfig) KnowsSubgraph(name string) bool {
	for _, s := range c.Subgraphs {
		if s == name {
			return true
		}
	}
	return false
}
