// Package mcptest runs capability servers in-process over pipes so dispatch
// can be exercised without spawning binaries.
package mcptest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mohammad-safakhou/cortex/internal/mcp"
)

// Launcher starts in-process servers keyed by ProcessSpec.Command.
type Launcher struct {
	mu      sync.Mutex
	servers map[string]*mcp.Server
	failing map[string]error

	starts atomic.Int64
	live   atomic.Int64
}

func NewLauncher() *Launcher {
	return &Launcher{servers: map[string]*mcp.Server{}, failing: map[string]error{}}
}

// Add makes command resolve to srv.
func (l *Launcher) Add(command string, srv *mcp.Server) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.servers[command] = srv
	delete(l.failing, command)
}

// Fail makes every launch of command fail with err.
func (l *Launcher) Fail(command string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing[command] = err
}

// Starts counts successful launches.
func (l *Launcher) Starts() int64 { return l.starts.Load() }

// Live counts connections not yet closed.
func (l *Launcher) Live() int64 { return l.live.Load() }

func (l *Launcher) Start(ctx context.Context, spec mcp.ProcessSpec) (io.ReadWriteCloser, error) {
	l.mu.Lock()
	srv, ok := l.servers[spec.Command]
	ferr := l.failing[spec.Command]
	l.mu.Unlock()
	if ferr != nil {
		return nil, ferr
	}
	if !ok {
		return nil, fmt.Errorf("start %s: executable not found", spec.Command)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	sctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(sctx, inR, outW)
		_ = outW.Close()
		_ = inR.Close()
	}()

	c := &conn{r: outR, w: inW, cancel: cancel, done: done, onClose: func() { l.live.Add(-1) }}
	context.AfterFunc(ctx, func() { _ = c.Close() })
	l.starts.Add(1)
	l.live.Add(1)
	return c, nil
}

type conn struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func (c *conn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *conn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *conn) Close() error {
	c.once.Do(func() {
		c.cancel()
		_ = c.w.Close()
		_ = c.r.Close()
		<-c.done
		c.onClose()
	})
	return nil
}
