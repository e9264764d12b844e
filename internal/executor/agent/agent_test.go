//go:build !windows

package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/zette-dev/heyjamie/internal/executor"
	"github.com/zette-dev/heyjamie/internal/session"
	"github.com/zette-dev/heyjamie/internal/supervisor"
	"github.com/zette-dev/heyjamie/internal/testutil"
)

func TestMain(m *testing.M) {
	testutil.RunHelperIfRequested()
	goleak.VerifyTestMain(m)
}

func newExecutor(t *testing.T, behavior string, extra ...string) (*Executor, *session.Manager) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "llm-agent.mjs"), []byte("// stub\n"), 0o644))

	sessions := session.NewManager()
	e := New(Config{
		Node:      testutil.Executable(),
		Script:    "scripts/llm-agent.mjs",
		RootDir:   root,
		MCPConfig: filepath.Join(root, "mcp.json"),
		Env:       testutil.Env(behavior, extra...),
	}, supervisor.New(supervisor.WithGrace(100*time.Millisecond)), sessions)
	return e, sessions
}

func TestRun_SendsEnvelope(t *testing.T) {
	e, _ := newExecutor(t, testutil.Echo)

	out, err := e.Run(context.Background(), executor.Request{
		Mode:         "excalidraw-act",
		Settings:     executor.Settings{APIKey: "sk-test", Model: "gpt-4.1-mini", Reasoning: "low"},
		Instructions: "You are a drawing assistant.",
		Prompt:       "draw a cat",
		Context:      json.RawMessage(`{"elements":[{"id":"a1"}]}`),
	})
	require.NoError(t, err)

	doc := gjson.Parse(out)
	require.Equal(t, "excalidraw-act", doc.Get("mode").String())
	require.Equal(t, "sk-test", doc.Get("settings.apiKey").String())
	require.Equal(t, "gpt-4.1-mini", doc.Get("settings.model").String())
	require.Equal(t, "low", doc.Get("settings.reasoning").String())
	require.Equal(t, "draw a cat", doc.Get("prompt").String())
	require.Equal(t, "a1", doc.Get("context.elements.0.id").String())
	require.True(t, strings.HasSuffix(doc.Get("mcpConfigPath").String(), "mcp.json"))
}

func TestRun_MissingScript(t *testing.T) {
	e := New(Config{Node: testutil.Executable(), Script: "missing.mjs", RootDir: t.TempDir()},
		supervisor.New(), session.NewManager())

	_, err := e.Run(context.Background(), executor.Request{Prompt: "hi"})
	require.ErrorIs(t, err, supervisor.ErrSpawnFailed)
}

func TestRun_InvalidContext(t *testing.T) {
	e, _ := newExecutor(t, testutil.Echo)

	_, err := e.Run(context.Background(), executor.Request{Prompt: "hi", Context: json.RawMessage(`{"open":`)})
	require.ErrorContains(t, err, "context is not valid JSON")
}

func TestRun_CancelStopsInFlightRequest(t *testing.T) {
	e, sessions := newExecutor(t, testutil.Sleep)

	errc := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), executor.Request{Session: "chat-1", Mode: "browseros-act", Prompt: "open mail"})
		errc <- err
	}()

	require.Eventually(t, func() bool { return sessions.Status("chat-1").Active }, 5*time.Second, 10*time.Millisecond)
	require.True(t, e.Cancel("chat-1"))

	select {
	case err := <-errc:
		require.ErrorIs(t, err, supervisor.ErrCancelled)
	case <-time.After(10 * time.Second):
		t.Fatal("request did not observe cancellation")
	}
	require.False(t, e.Status("chat-1").Active)
}

func TestRun_StaleCancelDoesNotLeak(t *testing.T) {
	e, _ := newExecutor(t, testutil.Print, "HELPER_STDOUT=ok")
	ctx := context.Background()

	_, err := e.Run(ctx, executor.Request{Session: "chat-2", Prompt: "first"})
	require.NoError(t, err)
	require.False(t, e.Cancel("chat-2"))

	out, err := e.Run(ctx, executor.Request{Session: "chat-2", Prompt: "second"})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestMCPTest_PrettyPrintsReport(t *testing.T) {
	e, _ := newExecutor(t, testutil.Print, `HELPER_STDOUT={"servers":[{"name":"excalidraw","ok":true}]}`)

	out, err := e.MCPTest(context.Background())
	require.NoError(t, err)
	require.Contains(t, out, "\n")
	require.Equal(t, "excalidraw", gjson.Get(out, "servers.0.name").String())
	require.True(t, gjson.Get(out, "servers.0.ok").Bool())
}

func TestMCPTest_RejectsInvalidJSON(t *testing.T) {
	e, _ := newExecutor(t, testutil.Print, "HELPER_STDOUT=connection refused")

	_, err := e.MCPTest(context.Background())
	require.ErrorContains(t, err, "invalid JSON")
}

func TestMCPTest_SendsMode(t *testing.T) {
	e, _ := newExecutor(t, testutil.Echo)

	out, err := e.MCPTest(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mcp-test", gjson.Get(out, "mode").String())
	require.True(t, gjson.Get(out, "mcpConfigPath").Exists())
}

func TestBuildEnvelope_OmitsOptionalFields(t *testing.T) {
	doc, err := BuildEnvelope(executor.Request{Prompt: "hello"}, "")
	require.NoError(t, err)

	parsed := gjson.ParseBytes(doc)
	require.False(t, parsed.Get("mode").Exists())
	require.False(t, parsed.Get("context").Exists())
	require.False(t, parsed.Get("mcpConfigPath").Exists())
	require.False(t, parsed.Get("settings.reasoning").Exists())
	require.Equal(t, "hello", parsed.Get("prompt").String())
}
