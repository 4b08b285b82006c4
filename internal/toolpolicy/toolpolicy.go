// Package toolpolicy resolves allow/deny/ask decisions for tool_call events
// observed by the runner driver (spec §4.3.4). Each configured policy entry
// is represented as an mcp.Tool-shaped schema rather than a bare name match,
// grounded on HendryAvila-Hoofy's internal/memtools package (mcp.NewTool +
// mcp.WithString field declarations), so a tool_call's arguments can be
// validated against a declared JSON-schema, not just its name.
package toolpolicy

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Decision is the outcome of resolving a tool_call against the policy
// (spec §4.3.4).
type Decision int

const (
	Allow Decision = iota
	Deny
	Ask
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Entry is one allow/deny/ask-listed tool, declared as an mcp.Tool so its
// argument shape can be validated, not just its name.
type Entry struct {
	Decision Decision
	Schema   mcp.Tool
}

// Policy holds the configured allow/deny lists (spec §6 "policy"). Any tool
// name not found in either list resolves to Ask.
type Policy struct {
	allow map[string]Entry
	deny  map[string]Entry
}

// New builds a Policy from plain name lists (as loaded from config.toml's
// [policy] section), synthesizing a minimal no-argument-required mcp.Tool
// schema for each.
func New(allowNames, denyNames []string) *Policy {
	p := &Policy{
		allow: make(map[string]Entry, len(allowNames)),
		deny:  make(map[string]Entry, len(denyNames)),
	}
	for _, name := range allowNames {
		p.allow[name] = Entry{Decision: Allow, Schema: mcp.NewTool(name, mcp.WithDescription("allow-listed tool"))}
	}
	for _, name := range denyNames {
		p.deny[name] = Entry{Decision: Deny, Schema: mcp.NewTool(name, mcp.WithDescription("deny-listed tool"))}
	}
	return p
}

// RegisterSchema overrides the synthesized schema for name with an explicit
// mcp.Tool definition, enabling argument-shape validation beyond a bare name
// match.
func (p *Policy) RegisterSchema(name string, decision Decision, schema mcp.Tool) {
	entry := Entry{Decision: decision, Schema: schema}
	switch decision {
	case Allow:
		p.allow[name] = entry
	case Deny:
		p.deny[name] = entry
	}
}

// Resolve decides allow/deny/ask for a tool_call event's name and raw JSON
// arguments (spec §4.3.4). Deny takes precedence over allow when a tool
// name is (mis)configured into both lists.
func (p *Policy) Resolve(name string, args json.RawMessage) Decision {
	if _, ok := p.deny[name]; ok {
		return Deny
	}
	if _, ok := p.allow[name]; ok {
		return Allow
	}
	return Ask
}

// ValidateArgs checks args against name's declared schema's required
// properties, when a schema has been registered for it. Used by the
// runner's policy hook to reject malformed arguments before a tool runs.
func (p *Policy) ValidateArgs(name string, args json.RawMessage) error {
	entry, ok := p.allow[name]
	if !ok {
		entry, ok = p.deny[name]
	}
	if !ok {
		return nil // no declared schema to validate against
	}

	var parsed map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return fmt.Errorf("tool %s: arguments are not valid JSON: %w", name, err)
		}
	}

	schema := entry.Schema.InputSchema
	for _, req := range schema.Required {
		if _, present := parsed[req]; !present {
			return fmt.Errorf("tool %s: missing required argument %q", name, req)
		}
	}
	return nil
}
