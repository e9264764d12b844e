package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zette-dev/heyjamie/internal/executor"
)

type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Whisper    WhisperConfig    `yaml:"whisper"`
	Canvas     CanvasConfig     `yaml:"canvas"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Log        LogConfig        `yaml:"log"`
}

type AgentConfig struct {
	Node      string            `yaml:"node"`
	Script    string            `yaml:"script"`
	RootDir   string            `yaml:"root_dir"`
	MCPConfig string            `yaml:"mcp_config"`
	Settings  executor.Settings `yaml:"settings"`
}

type WhisperConfig struct {
	CLIPath   string `yaml:"cli_path"`
	ModelPath string `yaml:"model_path"`
	// SetupScript installs whisper-cli and the model. Relative paths are
	// resolved against agent.root_dir.
	SetupScript string `yaml:"setup_script"`
}

type CanvasConfig struct {
	ServerName string `yaml:"server_name"`
	Command    string `yaml:"command"`
	EntryPoint string `yaml:"entry_point"`
	// Watch restarts the server when the MCP config changes.
	Watch bool `yaml:"watch"`
}

type SupervisorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	GracePeriod  time.Duration `yaml:"grace_period"`
}

type TelegramConfig struct {
	BotToken       string  `yaml:"bot_token"`
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`
}

// Enabled reports whether the remote-control bot should run.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != ""
}

type LogConfig struct {
	Path    string `yaml:"path"`
	Verbose bool   `yaml:"verbose"`
}

// Load reads the YAML file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		// Expand environment variables in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath is $XDG_CONFIG_HOME/heyjamie/config.yaml or its platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "heyjamie", "config.yaml")
}

// applyEnv lets the recognizer locations be set without a config file.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("WHISPER_CLI_PATH"); v != "" {
		c.Whisper.CLIPath = v
	}
	if v := getenv("WHISPER_MODEL_PATH"); v != "" {
		c.Whisper.ModelPath = v
	}
}

func (c *Config) validate() error {
	if c.Telegram.Enabled() && len(c.Telegram.AllowedUserIDs) == 0 {
		return fmt.Errorf("telegram.allowed_user_ids must have at least one entry when bot_token is set")
	}
	if c.Supervisor.PollInterval < 0 || c.Supervisor.GracePeriod < 0 {
		return fmt.Errorf("supervisor durations must not be negative")
	}

	// Apply defaults
	if c.Agent.Node == "" {
		c.Agent.Node = "node"
	}
	if c.Agent.Script == "" {
		c.Agent.Script = filepath.Join("scripts", "llm-agent.mjs")
	}
	if c.Agent.RootDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("agent.root_dir: %w", err)
		}
		c.Agent.RootDir = wd
	}
	if c.Agent.MCPConfig == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.Agent.MCPConfig = filepath.Join(dir, "heyjamie", "mcp.json")
		}
	}
	if c.Whisper.CLIPath == "" {
		c.Whisper.CLIPath = "whisper-cli"
	}
	if c.Whisper.SetupScript == "" {
		c.Whisper.SetupScript = filepath.Join("scripts", "setup-whisper.sh")
	}
	if c.Canvas.ServerName == "" {
		c.Canvas.ServerName = "excalidraw"
	}
	if c.Canvas.Command == "" {
		c.Canvas.Command = c.Agent.Node
	}
	if c.Canvas.EntryPoint == "" {
		c.Canvas.EntryPoint = filepath.Join("dist", "server.js")
	}
	if c.Supervisor.PollInterval == 0 {
		c.Supervisor.PollInterval = 50 * time.Millisecond
	}
	if c.Supervisor.GracePeriod == 0 {
		c.Supervisor.GracePeriod = 2 * time.Second
	}

	return nil
}
