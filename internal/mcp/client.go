package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// ErrSessionClosed is returned for requests on a closed session.
var ErrSessionClosed = errors.New("mcp session closed")

const maxLineBytes = 16 << 20

// Session is a client connection to one capability server. Requests are
// serialized; a cancelled context closes the underlying connection, which
// also terminates the worker behind it.
type Session struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	enc    *json.Encoder
	lines  *bufio.Scanner
	nextID int64
	closed bool
}

// NewSession wraps conn. The session owns conn and closes it on Close.
func NewSession(conn io.ReadWriteCloser) *Session {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Session{conn: conn, enc: json.NewEncoder(conn), lines: sc}
}

// Initialize performs the protocol handshake.
func (s *Session) Initialize(ctx context.Context, client Implementation) (InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      client,
	}
	var res InitializeResult
	if err := s.call(ctx, MethodInitialize, params, &res); err != nil {
		return InitializeResult{}, fmt.Errorf("initialize: %w", err)
	}
	if err := s.notify(MethodInitialized, nil); err != nil {
		return InitializeResult{}, fmt.Errorf("initialized notification: %w", err)
	}
	return res, nil
}

// ListTools returns the server's advertised tools.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	var res ListToolsResult
	if err := s.call(ctx, MethodToolsList, map[string]any{}, &res); err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	return res.Tools, nil
}

// CallTool invokes a tool. Tool-level failures come back with IsError set.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	var res CallToolResult
	if err := s.call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return &res, nil
}

// Ping checks liveness.
func (s *Session) Ping(ctx context.Context) error {
	return s.call(ctx, MethodPing, nil, nil)
}

// Close closes the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Session) notify(method string, params any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	msg := message{JSONRPC: JSONRPCVersion, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		msg.Params = raw
	}
	return s.enc.Encode(msg)
}

func (s *Session) call(ctx context.Context, method string, params any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.nextID++
	id := strconv.FormatInt(s.nextID, 10)
	msg := message{JSONRPC: JSONRPCVersion, ID: json.RawMessage(id), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		msg.Params = raw
	}

	// Unblock the pending read when ctx ends; the connection is unusable after.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	if err := s.enc.Encode(msg); err != nil {
		return s.transportErr(ctx, fmt.Errorf("write request: %w", err))
	}

	for {
		if !s.lines.Scan() {
			err := s.lines.Err()
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return s.transportErr(ctx, fmt.Errorf("read response: %w", err))
		}
		line := s.lines.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp message
		if err := json.Unmarshal(line, &resp); err != nil {
			// non-protocol output on stdout
			continue
		}
		if resp.Method != "" || string(resp.ID) != id {
			// server notifications, server-initiated requests and stale replies
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (s *Session) transportErr(ctx context.Context, err error) error {
	s.closed = true
	_ = s.conn.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
