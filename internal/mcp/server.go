package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler executes one tool call. Its return value is sent to the client as
// a text part holding {"result": value}. A handler may return a
// *CallToolResult to control the content parts directly.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Server serves a fixed set of tools over a stdio-style stream. Tools remain
// pure; all state a tool needs is captured by its handler.
type Server struct {
	info        Implementation
	callTimeout time.Duration
	logger      *zap.Logger

	mu       sync.RWMutex
	tools    []Tool
	handlers map[string]Handler
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCallTimeout bounds each handler invocation.
func WithCallTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.callTimeout = d }
}

// WithServerLogger sets the server logger. Logs must not go to stdout.
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an empty server.
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		info:        Implementation{Name: name, Version: version},
		callTimeout: 60 * time.Second,
		logger:      zap.NewNop(),
		handlers:    make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a tool. Registering the same name twice replaces the handler.
func (s *Server) Register(tool Tool, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[tool.Name]; !exists {
		s.tools = append(s.tools, tool)
	} else {
		for i := range s.tools {
			if s.tools[i].Name == tool.Name {
				s.tools[i] = tool
			}
		}
	}
	s.handlers[tool.Name] = h
}

// Tools returns the advertised tools in registration order.
func (s *Server) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Tool(nil), s.tools...)
}

// Serve runs the request loop until in reaches EOF or ctx ends.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(out)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req message
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(enc, nil, CodeParseError, "parse error")
			continue
		}
		if req.isNotification() {
			continue
		}
		if req.Method == "" {
			s.writeError(enc, req.ID, CodeInvalidRequest, "missing method")
			continue
		}

		switch req.Method {
		case MethodInitialize:
			s.writeResult(enc, req.ID, InitializeResult{
				ProtocolVersion: ProtocolVersion,
				Capabilities:    map[string]any{"tools": map[string]any{}},
				ServerInfo:      s.info,
			})
		case MethodPing:
			s.writeResult(enc, req.ID, map[string]any{})
		case MethodToolsList:
			s.writeResult(enc, req.ID, ListToolsResult{Tools: s.Tools()})
		case MethodToolsCall:
			var p CallToolParams
			if len(req.Params) > 0 {
				if err := json.Unmarshal(req.Params, &p); err != nil {
					s.writeError(enc, req.ID, CodeInvalidParams, "invalid tools/call params")
					continue
				}
			}
			res, rpcErr := s.callTool(ctx, p.Name, p.Arguments)
			if rpcErr != nil {
				s.writeError(enc, req.ID, rpcErr.Code, rpcErr.Message)
				continue
			}
			s.writeResult(enc, req.ID, res)
		default:
			s.writeError(enc, req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
		}
	}
	return sc.Err()
}

func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, *RPCError) {
	s.mu.RLock()
	h, ok := s.handlers[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("unknown tool: %s", name)}
	}
	if args == nil {
		args = map[string]any{}
	}

	// Per-call timeout to avoid stuck handlers
	cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	started := time.Now()
	v, err := h(cctx, args)
	if err != nil {
		s.logger.Info("tool failed", zap.String("tool", name), zap.Error(err), zap.Duration("took", time.Since(started)))
		return TextResult(err.Error(), true), nil
	}
	if direct, ok := v.(*CallToolResult); ok {
		return direct, nil
	}
	payload, err := json.Marshal(map[string]any{"result": v})
	if err != nil {
		return TextResult(fmt.Sprintf("encode result: %v", err), true), nil
	}
	s.logger.Debug("tool ok", zap.String("tool", name), zap.Duration("took", time.Since(started)))
	return TextResult(string(payload), false), nil
}

func (s *Server) writeResult(enc *json.Encoder, id json.RawMessage, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.writeError(enc, id, CodeInternalError, err.Error())
		return
	}
	if err := enc.Encode(message{JSONRPC: JSONRPCVersion, ID: id, Result: raw}); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func (s *Server) writeError(enc *json.Encoder, id json.RawMessage, code int, msg string) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	if err := enc.Encode(message{JSONRPC: JSONRPCVersion, ID: id, Error: &RPCError{Code: code, Message: msg}}); err != nil {
		s.logger.Warn("write error response", zap.Error(err))
	}
}
