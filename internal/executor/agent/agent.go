// Package agent runs the Node.js LLM agent helper over the process
// supervisor. Each request is one short-lived helper process fed a JSON
// envelope on stdin.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/zette-dev/heyjamie/internal/executor"
	"github.com/zette-dev/heyjamie/internal/log"
	"github.com/zette-dev/heyjamie/internal/session"
	"github.com/zette-dev/heyjamie/internal/supervisor"
)

// Config locates the helper.
type Config struct {
	// Node is the JavaScript runtime executable.
	Node string
	// Script is the helper entry point, relative to RootDir unless absolute.
	Script string
	// RootDir is the helper's working directory.
	RootDir string
	// MCPConfig is the path of the MCP server configuration handed to the helper.
	MCPConfig string
	// Env is a KEY=VALUE overlay for the helper's environment.
	Env []string
}

// Executor implements executor.Runner.
type Executor struct {
	cfg      Config
	sup      *supervisor.Supervisor
	sessions *session.Manager
}

// New creates an agent executor.
func New(cfg Config, sup *supervisor.Supervisor, sessions *session.Manager) *Executor {
	return &Executor{cfg: cfg, sup: sup, sessions: sessions}
}

func (e *Executor) Name() string { return "agent" }

// Run executes req. The session's cancellation flag is cleared first, so
// only a cancel issued while this request runs can stop it.
func (e *Executor) Run(ctx context.Context, req executor.Request) (string, error) {
	mode := supervisor.ParseMode(req.Mode)

	script, err := e.script()
	if err != nil {
		return "", &supervisor.Error{Kind: supervisor.ErrSpawnFailed, Mode: mode, Err: err}
	}

	envelope, err := BuildEnvelope(req, e.cfg.MCPConfig)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	id := req.SessionID()
	flag, release, err := e.sessions.Begin(ctx, id, string(mode))
	if err != nil {
		return "", err
	}
	defer release()

	ctx = log.ContextAttrs(ctx,
		slog.String("request_id", uuid.NewString()),
		slog.String("session", id),
	)
	slog.InfoContext(ctx, "agent request", "prompt_chars", len(req.Prompt), "model", req.Settings.Model)

	return e.sup.Execute(ctx, supervisor.Command{
		Mode:  mode,
		Path:  e.node(),
		Args:  []string{script},
		Env:   e.cfg.Env,
		Dir:   e.cfg.RootDir,
		Stdin: envelope,
	}, flag)
}

// MCPTest asks the helper to connect to every configured MCP server and
// returns its JSON report, pretty-printed.
func (e *Executor) MCPTest(ctx context.Context) (string, error) {
	script, err := e.script()
	if err != nil {
		return "", &supervisor.Error{Kind: supervisor.ErrSpawnFailed, Mode: supervisor.ModeMCPTest, Err: err}
	}

	envelope, err := sjson.SetBytes([]byte(`{}`), "mode", string(supervisor.ModeMCPTest))
	if err == nil && e.cfg.MCPConfig != "" {
		envelope, err = sjson.SetBytes(envelope, "mcpConfigPath", e.cfg.MCPConfig)
	}
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	ctx = log.ContextAttrs(ctx, slog.String("request_id", uuid.NewString()))
	out, err := e.sup.Execute(ctx, supervisor.Command{
		Mode:  supervisor.ModeMCPTest,
		Path:  e.node(),
		Args:  []string{script},
		Env:   e.cfg.Env,
		Dir:   e.cfg.RootDir,
		Stdin: envelope,
	}, nil)
	if err != nil {
		return "", err
	}

	if !gjson.Valid(out) {
		return "", fmt.Errorf("mcp test returned invalid JSON: %s", log.Truncate(out, 200))
	}
	return strings.TrimSpace(string(pretty.Pretty([]byte(out)))), nil
}

func (e *Executor) Cancel(sessionID string) bool {
	return e.sessions.Cancel(sessionID)
}

func (e *Executor) Status(sessionID string) session.StatusInfo {
	return e.sessions.Status(sessionID)
}

var _ executor.Runner = (*Executor)(nil)

func (e *Executor) node() string {
	if e.cfg.Node == "" {
		return "node"
	}
	return e.cfg.Node
}

func (e *Executor) script() (string, error) {
	if e.cfg.Script == "" {
		return "", errors.New("agent script is not configured")
	}
	path := e.cfg.Script
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.cfg.RootDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("agent script not found at %s: %w", path, err)
	}
	return path, nil
}

// BuildEnvelope serializes req into the helper's stdin document. The
// free-form context is embedded verbatim and must be valid JSON.
func BuildEnvelope(req executor.Request, mcpConfigPath string) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err == nil {
			doc, err = sjson.SetBytes(doc, path, value)
		}
	}

	if req.Mode != "" {
		set("mode", req.Mode)
	}
	set("settings.apiKey", req.Settings.APIKey)
	set("settings.model", req.Settings.Model)
	if req.Settings.Reasoning != "" {
		set("settings.reasoning", req.Settings.Reasoning)
	}
	set("instructions", req.Instructions)
	set("prompt", req.Prompt)
	if mcpConfigPath != "" {
		set("mcpConfigPath", mcpConfigPath)
	}
	if err != nil {
		return nil, err
	}

	if len(req.Context) > 0 {
		if !gjson.ValidBytes(req.Context) {
			return nil, errors.New("context is not valid JSON")
		}
		doc, err = sjson.SetRawBytes(doc, "context", req.Context)
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}
