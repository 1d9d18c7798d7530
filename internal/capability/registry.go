package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/cortex/internal/mcp"
)

// Launcher starts a worker process and returns its stdio stream.
type Launcher interface {
	Start(ctx context.Context, spec mcp.ProcessSpec) (io.ReadWriteCloser, error)
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	ToolCall func(tool, serverID, outcome string, took time.Duration)
	Catalog  func(version int64, liveServers, tools int)
}

// Call outcomes reported to Metrics.ToolCall.
const (
	OutcomeOK          = "ok"
	OutcomeToolError   = "tool_error"
	OutcomeNotFound    = "not_found"
	OutcomeInvalidArgs = "invalid_args"
	OutcomeUnavailable = "unavailable"
	OutcomeCancelled   = "cancelled"
)

// Option configures the registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCallTimeout bounds every tool call, including worker launch.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) { r.callTimeout = d }
}

// WithDiscoveryTimeout bounds discovery of a single server.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(r *Registry) { r.discoveryTimeout = d }
}

// WithMetrics sets tool call and catalog callbacks.
func WithMetrics(m Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithSchemaCacheSize sets how many compiled input schemas are retained.
func WithSchemaCacheSize(n int) Option {
	return func(r *Registry) { r.schemaCacheSize = n }
}

// WithClientInfo sets the implementation name sent during the handshake.
func WithClientInfo(info mcp.Implementation) Option {
	return func(r *Registry) { r.client = info }
}

// Registry discovers tools across capability servers and dispatches calls to
// them. Every call runs in a fresh worker process, so no state leaks between
// calls. Safe for concurrent use.
type Registry struct {
	launcher         Launcher
	logger           *zap.Logger
	tracer           trace.Tracer
	metrics          Metrics
	callTimeout      time.Duration
	discoveryTimeout time.Duration
	schemaCacheSize  int
	client           mcp.Implementation
	schemas          *schemaCache

	reloadMu sync.Mutex // serializes Initialize/Reload
	mu       sync.RWMutex
	catalog  *Catalog
}

// New creates a registry with an empty catalog.
func New(launcher Launcher, opts ...Option) (*Registry, error) {
	if launcher == nil {
		return nil, errors.New("capability: nil launcher")
	}
	r := &Registry{
		launcher:         launcher,
		logger:           zap.NewNop(),
		tracer:           otel.Tracer("cortex/internal/capability"),
		callTimeout:      20 * time.Second,
		discoveryTimeout: 15 * time.Second,
		client:           mcp.Implementation{Name: "cortex", Version: "1"},
		catalog:          emptyCatalog(),
	}
	for _, opt := range opts {
		opt(r)
	}
	sc, err := newSchemaCache(r.schemaCacheSize)
	if err != nil {
		return nil, err
	}
	r.schemas = sc
	return r, nil
}

// Initialize discovers every server and installs the first catalog. Servers
// that fail are logged and left out; that is never fatal.
func (r *Registry) Initialize(ctx context.Context, servers []ServerDescriptor) error {
	return r.install(ctx, servers, "initialize")
}

// Reload rediscovers servers and swaps the catalog. The swap waits for
// in-flight calls to finish; calls never see a partially built catalog.
func (r *Registry) Reload(ctx context.Context, servers []ServerDescriptor) error {
	return r.install(ctx, servers, "reload")
}

func (r *Registry) install(ctx context.Context, servers []ServerDescriptor, op string) error {
	if len(servers) == 0 {
		return ErrNoServers
	}
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	ctx, span := r.tracer.Start(ctx, "capability."+op)
	defer span.End()

	prev := r.Catalog()
	next, err := r.build(ctx, servers, prev.Version+1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	r.mu.Lock()
	r.catalog = next
	r.mu.Unlock()

	live := next.LiveServers()
	r.logger.Info("capability catalog installed",
		zap.String("op", op),
		zap.Int64("version", next.Version),
		zap.String("checksum", next.Checksum),
		zap.Int("servers_live", live),
		zap.Int("servers_total", len(servers)),
		zap.Int("tools", len(next.order)),
		zap.Bool("changed", next.Checksum != prev.Checksum),
	)
	span.SetAttributes(attribute.Int64("catalog.version", next.Version), attribute.Int("catalog.tools", len(next.order)))
	if r.metrics.Catalog != nil {
		r.metrics.Catalog(next.Version, live, len(next.order))
	}
	return nil
}

type discovery struct {
	info  mcp.Implementation
	tools []mcp.Tool
	err   error
}

func (r *Registry) build(ctx context.Context, servers []ServerDescriptor, version int64) (*Catalog, error) {
	results := make([]discovery, len(servers))
	var g errgroup.Group
	g.SetLimit(8)
	for i, d := range servers {
		if d.Disabled {
			results[i].err = errors.New("disabled")
			continue
		}
		g.Go(func() error {
			results[i] = r.discover(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cat := &Catalog{
		Version:     version,
		BuiltAt:     now,
		tools:       make(map[string]ToolDescriptor),
		schemas:     make(map[string]*jsonschema.Schema),
		descriptors: make(map[string]ServerDescriptor, len(servers)),
	}
	// Merge in configuration order so the first server to claim a name wins
	// regardless of which discovery finished first.
	for i, d := range servers {
		res := results[i]
		status := ServerStatus{Descriptor: d, DiscoveredAt: now, ServerInfo: res.info}
		cat.descriptors[d.ID] = d
		if res.err != nil {
			status.Error = res.err.Error()
			cat.servers = append(cat.servers, status)
			if !d.Disabled {
				r.logger.Warn("capability server excluded", zap.String("server", d.ID), zap.Error(res.err))
			}
			continue
		}
		status.Live = true
		for _, t := range res.tools {
			if t.Name == "" {
				continue
			}
			if owner, taken := cat.tools[t.Name]; taken {
				r.logger.Warn("tool name collision, keeping first registration",
					zap.String("tool", t.Name),
					zap.String("kept", owner.ServerID),
					zap.String("dropped", d.ID))
				continue
			}
			td := ToolDescriptor{
				Name:         t.Name,
				Description:  t.Description,
				InputSchema:  t.InputSchema,
				OutputSchema: t.OutputSchema,
				ServerID:     d.ID,
			}
			sum, err := ComputeChecksum(td)
			if err != nil {
				r.logger.Warn("tool checksum failed", zap.String("tool", t.Name), zap.Error(err))
				continue
			}
			td.Checksum = sum
			sch, err := r.schemas.compile(sum, td.InputSchema)
			if err != nil {
				r.logger.Warn("tool excluded: invalid input schema", zap.String("tool", t.Name), zap.String("server", d.ID), zap.Error(err))
				continue
			}
			cat.tools[t.Name] = td
			cat.schemas[t.Name] = sch
			cat.order = append(cat.order, t.Name)
			status.Tools = append(status.Tools, t.Name)
		}
		cat.servers = append(cat.servers, status)
	}
	cat.Checksum = catalogChecksum(cat.tools)
	return cat, nil
}

func (r *Registry) discover(ctx context.Context, d ServerDescriptor) discovery {
	ctx, cancel := context.WithTimeout(ctx, r.discoveryTimeout)
	defer cancel()

	conn, err := r.launcher.Start(ctx, d.processSpec())
	if err != nil {
		return discovery{err: fmt.Errorf("launch: %w", err)}
	}
	sess := mcp.NewSession(conn)
	defer sess.Close()

	hs, err := sess.Initialize(ctx, r.client)
	if err != nil {
		return discovery{err: err}
	}
	tools, err := sess.ListTools(ctx)
	if err != nil {
		return discovery{info: hs.ServerInfo, err: err}
	}
	return discovery{info: hs.ServerInfo, tools: tools}
}

// Catalog returns the current snapshot. Snapshots are immutable.
func (r *Registry) Catalog() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

// Call dispatches toolName with args to its owning server.
func (r *Registry) Call(ctx context.Context, toolName string, args map[string]any) (InvocationResult, error) {
	inv := Invocation{Tool: toolName, Args: args, CorrelationID: uuid.NewString()}
	return r.Invoke(ctx, inv)
}

// Invoke is Call with a caller-supplied correlation id.
func (r *Registry) Invoke(ctx context.Context, inv Invocation) (InvocationResult, error) {
	if inv.CorrelationID == "" {
		inv.CorrelationID = uuid.NewString()
	}
	ctx, span := r.tracer.Start(ctx, "capability.call", trace.WithAttributes(
		attribute.String("tool", inv.Tool),
		attribute.String("correlation_id", inv.CorrelationID),
	))
	defer span.End()

	// Shared hold for the whole call: a catalog swap waits for us.
	r.mu.RLock()
	defer r.mu.RUnlock()
	cat := r.catalog

	started := time.Now()
	result := InvocationResult{CorrelationID: inv.CorrelationID, Tool: inv.Tool}
	fail := func(serverID, outcome string, err error) (InvocationResult, error) {
		result.Latency = time.Since(started)
		r.observe(inv.Tool, serverID, outcome, result.Latency)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return result, &CallError{Tool: inv.Tool, ServerID: serverID, Err: err}
	}

	td, ok := cat.tools[inv.Tool]
	if !ok {
		return fail("", OutcomeNotFound, ErrToolNotFound)
	}
	result.ServerID = td.ServerID
	span.SetAttributes(attribute.String("server", td.ServerID))

	if err := validateArgs(cat.schemas[inv.Tool], inv.Args); err != nil {
		return fail(td.ServerID, OutcomeInvalidArgs, fmt.Errorf("%w: %v", ErrSchemaValidation, err))
	}

	desc := cat.descriptors[td.ServerID]
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	unavailable := func(stage string, err error) (InvocationResult, error) {
		if ctx.Err() != nil {
			return fail(td.ServerID, OutcomeCancelled, ctx.Err())
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", r.callTimeout)
		}
		return fail(td.ServerID, OutcomeUnavailable, fmt.Errorf("%w: %s: %v", ErrServerUnavailable, stage, err))
	}

	conn, err := r.launcher.Start(cctx, desc.processSpec())
	if err != nil {
		return unavailable("launch", err)
	}
	sess := mcp.NewSession(conn)
	defer sess.Close()

	if _, err := sess.Initialize(cctx, r.client); err != nil {
		return unavailable("initialize", err)
	}
	res, err := sess.CallTool(cctx, inv.Tool, inv.Args)
	if err != nil {
		var rpcErr *mcp.RPCError
		if errors.As(err, &rpcErr) {
			// The server answered but rejected the call.
			result.Success = false
			result.Error = rpcErr.Message
			result.Latency = time.Since(started)
			r.observe(inv.Tool, td.ServerID, OutcomeToolError, result.Latency)
			return result, nil
		}
		return unavailable("call", err)
	}

	result.Parts = res.Content
	result.Success = !res.IsError
	if res.IsError {
		result.Error = res.Text()
	}
	result.Latency = time.Since(started)
	outcome := OutcomeOK
	if !result.Success {
		outcome = OutcomeToolError
		span.SetStatus(codes.Error, outcome)
	}
	r.observe(inv.Tool, td.ServerID, outcome, result.Latency)
	r.logger.Debug("tool call",
		zap.String("tool", inv.Tool),
		zap.String("server", td.ServerID),
		zap.String("correlation_id", inv.CorrelationID),
		zap.Bool("success", result.Success),
		zap.Duration("took", result.Latency))
	return result, nil
}

func (r *Registry) observe(tool, serverID, outcome string, took time.Duration) {
	if r.metrics.ToolCall != nil {
		r.metrics.ToolCall(tool, serverID, outcome, took)
	}
}
