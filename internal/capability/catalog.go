package capability

import (
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Catalog is an immutable snapshot of discovered tools. A new snapshot with
// a higher Version replaces it on reload.
type Catalog struct {
	Version  int64
	Checksum string
	BuiltAt  time.Time

	servers     []ServerStatus
	tools       map[string]ToolDescriptor
	order       []string
	schemas     map[string]*jsonschema.Schema
	descriptors map[string]ServerDescriptor
}

func emptyCatalog() *Catalog {
	return &Catalog{
		tools:       map[string]ToolDescriptor{},
		schemas:     map[string]*jsonschema.Schema{},
		descriptors: map[string]ServerDescriptor{},
	}
}

// Len is the number of tools.
func (c *Catalog) Len() int { return len(c.order) }

// Tool looks a tool up by name.
func (c *Catalog) Tool(name string) (ToolDescriptor, bool) {
	td, ok := c.tools[name]
	return td, ok
}

// Tools returns all tools in discovery order.
func (c *Catalog) Tools() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.tools[n])
	}
	return out
}

// ToolsForServers returns the tools owned by the given servers, in discovery
// order. Unknown or dead server ids contribute nothing.
func (c *Catalog) ToolsForServers(ids []string) []ToolDescriptor {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[strings.TrimSpace(id)] = struct{}{}
	}
	var out []ToolDescriptor
	for _, n := range c.order {
		td := c.tools[n]
		if _, ok := want[td.ServerID]; ok {
			out = append(out, td)
		}
	}
	return out
}

// Servers reports the discovery status of every configured server.
func (c *Catalog) Servers() []ServerStatus {
	return append([]ServerStatus(nil), c.servers...)
}

// LiveServers counts servers that were discovered successfully.
func (c *Catalog) LiveServers() int {
	n := 0
	for _, s := range c.servers {
		if s.Live {
			n++
		}
	}
	return n
}

// Summaries describes live servers for server selection.
func (c *Catalog) Summaries() []ServerSummary {
	out := make([]ServerSummary, 0, len(c.servers))
	for _, s := range c.servers {
		if !s.Live {
			continue
		}
		out = append(out, ServerSummary{
			ID:           s.Descriptor.ID,
			Description:  s.Descriptor.Description,
			Capabilities: append([]string(nil), s.Descriptor.Capabilities...),
			Tools:        append([]string(nil), s.Tools...),
		})
	}
	return out
}

// Require fails with ErrToolMissing naming the first absent tool.
func (c *Catalog) Require(names ...string) error {
	for _, n := range names {
		if _, ok := c.tools[n]; !ok {
			return fmt.Errorf("%w: %s", ErrToolMissing, n)
		}
	}
	return nil
}

// SummarizeTools renders tools as "- name: description" lines.
func SummarizeTools(tools []ToolDescriptor) string {
	if len(tools) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	for i, t := range tools {
		if i > 0 {
			b.WriteByte('\n')
		}
		desc := t.Description
		if desc == "" {
			desc = "No description provided."
		}
		fmt.Fprintf(&b, "- %s: %s", t.Name, desc)
	}
	return b.String()
}

// FilterByHint narrows tools to those whose name appears in hint. With no
// hint or no match the input is returned unchanged.
func FilterByHint(tools []ToolDescriptor, hint string) []ToolDescriptor {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return tools
	}
	var out []ToolDescriptor
	for _, t := range tools {
		if strings.Contains(hint, strings.ToLower(t.Name)) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return tools
	}
	return out
}
