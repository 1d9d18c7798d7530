package server

import (
	"time"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/capability"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// CatalogResponse describes the installed catalog.
type CatalogResponse struct {
	Version  int64                       `json:"version"`
	Checksum string                      `json:"checksum"`
	BuiltAt  time.Time                   `json:"built_at"`
	Servers  []capability.ServerStatus   `json:"servers"`
	Tools    []capability.ToolDescriptor `json:"tools"`
}

func catalogResponse(c *capability.Catalog) CatalogResponse {
	return CatalogResponse{
		Version:  c.Version,
		Checksum: c.Checksum,
		BuiltAt:  c.BuiltAt,
		Servers:  c.Servers(),
		Tools:    c.Tools(),
	}
}

// RunRequest starts a run.
type RunRequest struct {
	Input string `json:"input"`
}

// RunResponse is the terminal outcome of a run.
type RunResponse struct {
	SessionID string            `json:"session_id"`
	State     core.State        `json:"state"`
	Answer    string            `json:"answer"`
	Reason    string            `json:"reason,omitempty"`
	Steps     []core.StepRecord `json:"steps"`
	Duration  string            `json:"duration"`
}

func runResponse(res core.Result) RunResponse {
	out := RunResponse{
		SessionID: res.SessionID,
		State:     res.State,
		Answer:    res.Answer,
		Steps:     res.Steps,
		Duration:  res.Duration.String(),
	}
	if res.Reason != nil {
		out.Reason = res.Reason.Error()
	}
	return out
}

// SessionsResponse lists session ids known to run memory.
type SessionsResponse struct {
	Sessions []string `json:"sessions"`
}
