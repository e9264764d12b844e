// Package canvas keeps the canvas MCP server running alongside the host.
//
// The Coordinator holds at most one server process. Start is idempotent
// while the server runs, Restart replaces it, and Stop terminates it in two
// phases so it never outlives the host.
package canvas

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zette-dev/heyjamie/internal/process"
)

// Config locates the canvas server.
type Config struct {
	// MCPConfig is the MCP configuration file holding the server entry.
	MCPConfig string
	// Server is the entry name under mcpServers.
	Server string
	// Command runs the entry point, usually node.
	Command string
	// EntryPoint is the server script, relative to the entry's cwd.
	EntryPoint string
	// Grace is the termination grace window.
	Grace time.Duration
}

// Coordinator owns the canvas server process.
type Coordinator struct {
	cfg Config

	mu     sync.Mutex
	handle *process.Handle
}

// NewCoordinator creates a coordinator with no running server.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Server == "" {
		cfg.Server = "excalidraw"
	}
	if cfg.Command == "" {
		cfg.Command = "node"
	}
	if cfg.EntryPoint == "" {
		cfg.EntryPoint = "dist/server.js"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = process.DefaultGrace
	}
	return &Coordinator{cfg: cfg}
}

// Start launches the server unless one is already running. It reports
// whether a server is running afterwards. A missing, disabled or
// incomplete configuration is not an error: it is logged and no server runs.
func (c *Coordinator) Start(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil && c.handle.Running() {
		slog.DebugContext(ctx, "canvas server already running", "pid", c.handle.PID())
		return true, nil
	}
	if c.handle != nil {
		_ = c.handle.Close()
		c.handle = nil
	}
	return c.spawnLocked(ctx)
}

// Restart terminates the running server, if any, and starts a fresh one
// from the current configuration.
func (c *Coordinator) Restart(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked(ctx)
	return c.spawnLocked(ctx)
}

// Stop terminates the server, if any. It returns once the process is reaped.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked(ctx)
}

// Running reports whether a server process is alive.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil && c.handle.Running()
}

// PID returns the server's process id, or 0 when none runs.
func (c *Coordinator) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || !c.handle.Running() {
		return 0
	}
	return c.handle.PID()
}

func (c *Coordinator) spawnLocked(ctx context.Context) (bool, error) {
	entry, err := ReadEntry(c.cfg.MCPConfig, c.cfg.Server, c.cfg.EntryPoint)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrDisabled) || errors.Is(err, ErrNoEntryPoint) {
			slog.InfoContext(ctx, "canvas server not started", "server", c.cfg.Server, "reason", err)
			return false, nil
		}
		return false, err
	}

	h, err := process.Spawn(process.Spec{
		Path: c.cfg.Command,
		Args: []string{entry.EntryPoint},
		Env:  entry.Env,
		Dir:  entry.Dir,
	})
	if err != nil {
		slog.ErrorContext(ctx, "canvas server spawn failed", "server", c.cfg.Server, "error", err)
		return false, err
	}
	c.handle = h
	slog.InfoContext(ctx, "canvas server started", "server", c.cfg.Server, "pid", h.PID(), "dir", entry.Dir)
	return true, nil
}

func (c *Coordinator) stopLocked(ctx context.Context) {
	h := c.handle
	c.handle = nil
	if h == nil {
		return
	}
	outcome := h.Terminate(c.cfg.Grace)
	_ = h.Close()
	if process.Alive(h.PID()) {
		slog.WarnContext(ctx, "canvas server pid still present after stop", "server", c.cfg.Server, "pid", h.PID())
		return
	}
	slog.InfoContext(ctx, "canvas server stopped", "server", c.cfg.Server, "pid", h.PID(), "outcome", outcome)
}
