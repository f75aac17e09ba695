// Package tools holds the fixed set of investigation tools the agent can
// select. Every tool takes a textual query and returns a textual report;
// tools never return an error value, a failed lookup is reported in the
// observation text itself.
package tools

import "context"

// Tool is one named capability exposed to the reasoning loop.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) string
}

// Registry is the ordered tool set injected into the executor. Order matters
// only for prompt rendering.
type Registry []Tool

// Lookup finds a tool by name.
func (r Registry) Lookup(name string) (Tool, bool) {
	for _, t := range r {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Names lists tool names in registration order.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for _, t := range r {
		out = append(out, t.Name())
	}
	return out
}
