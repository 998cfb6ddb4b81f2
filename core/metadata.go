package core

import "reflect"

// Metadata is the structured metadata document attached to messages and
// checkpoints. The well-known keys the system itself reads are explicit
// fields; everything else travels in Extra so callers can attach arbitrary
// context without losing type safety on the known part.
type Metadata struct {
	ParentThreadID string         `json:"parent_thread_id,omitempty"`
	ParentRunID    string         `json:"parent_run_id,omitempty"`
	SubgraphName   string         `json:"subgraph_name,omitempty"`
	Status         string         `json:"status,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// asMap flattens the metadata into a single lookup map. Known fields use
// their JSON key names so filters address them uniformly with Extra keys.
func (m Metadata) asMap() map[string]any {
	flat := make(map[string]any, len(m.Extra)+5)
	for k, v := range m.Extra {
		flat[k] = v
	}
	if m.ParentThreadID != "" {
		flat["parent_thread_id"] = m.ParentThreadID
	}
	if m.ParentRunID != "" {
		flat["parent_run_id"] = m.ParentRunID
	}
	if m.SubgraphName != "" {
		flat["subgraph_name"] = m.SubgraphName
	}
	if m.Status != "" {
		flat["status"] = m.Status
	}
	if m.UserID != "" {
		flat["user_id"] = m.UserID
	}
	return flat
}

// Contains reports whether the metadata document is a superset of filter:
// every filter key must be present with a matching value. Nested maps are
// compared by containment again, so a filter only needs the keys it cares
// about at any depth; slices and scalars must match exactly. An empty
// filter matches everything.
func (m Metadata) Contains(filter map[string]any) bool {
	return containsAll(m.asMap(), filter)
}

func containsAll(doc, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !containsValue(got, want) {
			return false
		}
	}
	return true
}

func containsValue(got, want any) bool {
	if wantMap, ok := want.(map[string]any); ok {
		gotMap, ok := got.(map[string]any)
		return ok && containsAll(gotMap, wantMap)
	}
	// JSON decoding turns every number into float64; line them up so a
	// decoded filter still matches metadata built with Go integer literals.
	if wantNum, ok := asFloat(want); ok {
		gotNum, ok := asFloat(got)
		return ok && gotNum == wantNum
	}
	return reflect.DeepEqual(got, want)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Clone returns a deep copy safe for independent mutation.
func (m Metadata) Clone() Metadata {
	c := m
	if m.Extra != nil {
		c.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}
