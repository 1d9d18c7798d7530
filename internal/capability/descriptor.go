package capability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/mcp"
)

// ServerDescriptor describes how to launch one capability server. Built from
// configuration and never mutated afterwards.
type ServerDescriptor struct {
	ID           string   `json:"id"`
	Command      string   `json:"command"`
	Args         []string `json:"args,omitempty"`
	Cwd          string   `json:"cwd,omitempty"`
	Env          []string `json:"-"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Disabled     bool     `json:"disabled,omitempty"`
}

// DescriptorsFromConfig converts configured servers, preserving order.
func DescriptorsFromConfig(servers []config.ServerConfig) []ServerDescriptor {
	out := make([]ServerDescriptor, 0, len(servers))
	for _, s := range servers {
		out = append(out, ServerDescriptor{
			ID:           s.ID,
			Command:      s.Command,
			Args:         append([]string(nil), s.Args...),
			Cwd:          s.Cwd,
			Env:          append([]string(nil), s.Env...),
			Description:  s.Description,
			Capabilities: append([]string(nil), s.Capabilities...),
			Disabled:     s.Disabled,
		})
	}
	return out
}

func (d ServerDescriptor) processSpec() mcp.ProcessSpec {
	return mcp.ProcessSpec{Name: d.ID, Command: d.Command, Args: d.Args, Dir: d.Cwd, Env: d.Env}
}

// ToolDescriptor is a discovered tool. Read-only after discovery.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	ServerID     string          `json:"server_id"`
	Checksum     string          `json:"checksum"`
}

// ComputeChecksum returns a deterministic hash of the descriptor payload
// (excluding the checksum field).
func ComputeChecksum(td ToolDescriptor) (string, error) {
	payload := map[string]interface{}{
		"name":          td.Name,
		"description":   td.Description,
		"input_schema":  td.InputSchema,
		"output_schema": td.OutputSchema,
		"server_id":     td.ServerID,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// catalogChecksum hashes the sorted tool checksums.
func catalogChecksum(tools map[string]ToolDescriptor) string {
	names := make([]string, 0, len(tools))
	for n := range tools {
		names = append(names, n)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
		h.Write([]byte(tools[n].Checksum))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ServerStatus reports the discovery outcome for one server.
type ServerStatus struct {
	Descriptor   ServerDescriptor   `json:"descriptor"`
	Live         bool               `json:"live"`
	Error        string             `json:"error,omitempty"`
	Tools        []string           `json:"tools"`
	ServerInfo   mcp.Implementation `json:"server_info"`
	DiscoveredAt time.Time          `json:"discovered_at"`
}

// ServerSummary is the view of a server handed to the reasoner.
type ServerSummary struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Tools        []string `json:"tools"`
}

// Invocation is a single tool call request.
type Invocation struct {
	Tool          string         `json:"tool"`
	Args          map[string]any `json:"args"`
	CorrelationID string         `json:"correlation_id"`
}

// InvocationResult is the outcome of one call that reached a server.
type InvocationResult struct {
	CorrelationID string            `json:"correlation_id"`
	Tool          string            `json:"tool"`
	ServerID      string            `json:"server_id"`
	Parts         []mcp.ContentPart `json:"parts"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	Latency       time.Duration     `json:"latency"`
}

// Text concatenates the text parts.
func (r InvocationResult) Text() string {
	var out string
	for _, p := range r.Parts {
		if p.IsText() {
			out += p.Text
		}
	}
	return out
}
