package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("WHISPER_CLI_PATH", "")
	t.Setenv("WHISPER_MODEL_PATH", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	require.Equal(t, "node", cfg.Agent.Node)
	require.Equal(t, filepath.Join("scripts", "llm-agent.mjs"), cfg.Agent.Script)
	require.NotEmpty(t, cfg.Agent.RootDir)
	require.Equal(t, "whisper-cli", cfg.Whisper.CLIPath)
	require.Equal(t, filepath.Join("scripts", "setup-whisper.sh"), cfg.Whisper.SetupScript)
	require.Equal(t, "excalidraw", cfg.Canvas.ServerName)
	require.Equal(t, "node", cfg.Canvas.Command)
	require.Equal(t, filepath.Join("dist", "server.js"), cfg.Canvas.EntryPoint)
	require.Equal(t, 50*time.Millisecond, cfg.Supervisor.PollInterval)
	require.Equal(t, 2*time.Second, cfg.Supervisor.GracePeriod)
	require.False(t, cfg.Telegram.Enabled())
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("HEYJAMIE_TEST_TOKEN", "123:abc")
	t.Setenv("WHISPER_CLI_PATH", "")
	t.Setenv("WHISPER_MODEL_PATH", "")

	path := writeConfig(t, `
agent:
  node: /usr/local/bin/node
  root_dir: /opt/heyjamie
  mcp_config: /opt/heyjamie/mcp.json
  settings:
    api_key: sk-live
    model: gpt-4.1-mini
whisper:
  cli_path: /opt/whisper/whisper-cli
  model_path: /opt/whisper/ggml-base.en.bin
canvas:
  watch: true
supervisor:
  grace_period: 500ms
telegram:
  bot_token: ${HEYJAMIE_TEST_TOKEN}
  allowed_user_ids: [42]
log:
  verbose: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "123:abc", cfg.Telegram.BotToken)
	require.True(t, cfg.Telegram.Enabled())
	require.Equal(t, []int64{42}, cfg.Telegram.AllowedUserIDs)
	require.Equal(t, "/usr/local/bin/node", cfg.Canvas.Command, "canvas command follows the agent runtime")
	require.Equal(t, "sk-live", cfg.Agent.Settings.APIKey)
	require.Equal(t, 500*time.Millisecond, cfg.Supervisor.GracePeriod)
	require.Equal(t, 50*time.Millisecond, cfg.Supervisor.PollInterval)
	require.True(t, cfg.Canvas.Watch)
	require.True(t, cfg.Log.Verbose)
}

func TestLoad_WhisperEnvOverrides(t *testing.T) {
	t.Setenv("WHISPER_CLI_PATH", "/env/whisper-cli")
	t.Setenv("WHISPER_MODEL_PATH", "/env/model.bin")

	cfg, err := Load(writeConfig(t, "whisper:\n  cli_path: /file/whisper-cli\n"))
	require.NoError(t, err)
	require.Equal(t, "/env/whisper-cli", cfg.Whisper.CLIPath)
	require.Equal(t, "/env/model.bin", cfg.Whisper.ModelPath)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bot without users", "telegram:\n  bot_token: abc\n"},
		{"negative grace", "supervisor:\n  grace_period: -1s\n"},
		{"malformed yaml", "agent: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}
