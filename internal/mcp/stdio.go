package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProcessSpec describes a worker process to launch.
type ProcessSpec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// StdioLauncher starts workers as child processes speaking the protocol on
// stdin/stdout. Worker stderr is forwarded to the logger.
type StdioLauncher struct {
	Logger *zap.Logger
	// Grace is how long Close waits for a clean exit before killing.
	Grace time.Duration
}

// NewStdioLauncher returns a launcher with a one second shutdown grace.
func NewStdioLauncher(logger *zap.Logger) *StdioLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioLauncher{Logger: logger, Grace: time.Second}
}

// Start launches the worker. The process is killed when ctx ends or when the
// returned connection is closed.
func (l *StdioLauncher) Start(ctx context.Context, spec ProcessSpec) (io.ReadWriteCloser, error) {
	if spec.Command == "" {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.WaitDelay = l.Grace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	pc := &processConn{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		grace:  l.Grace,
		exited: make(chan struct{}),
	}
	logger := l.Logger.With(zap.String("server", spec.Name), zap.Int("pid", cmd.Process.Pid))

	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			logger.Debug("worker stderr", zap.String("line", sc.Text()))
		}
	}()
	go func() {
		// Wait must not run before stderr is drained.
		drained.Wait()
		pc.waitErr = cmd.Wait()
		close(pc.exited)
	}()
	return pc, nil
}

type processConn struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	grace   time.Duration
	exited  chan struct{}
	waitErr error
	once    sync.Once
}

func (c *processConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *processConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Close ends stdin, gives the worker a grace period to exit, then kills it.
// It returns after the process has been reaped.
func (c *processConn) Close() error {
	c.once.Do(func() {
		_ = c.stdin.Close()
		select {
		case <-c.exited:
		case <-time.After(c.grace):
			_ = c.cmd.Process.Kill()
			<-c.exited
		}
	})
	return nil
}
