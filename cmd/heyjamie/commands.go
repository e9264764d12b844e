package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zette-dev/heyjamie/internal/bot"
	"github.com/zette-dev/heyjamie/internal/canvas"
	"github.com/zette-dev/heyjamie/internal/executor"
	"github.com/zette-dev/heyjamie/internal/executor/agent"
	"github.com/zette-dev/heyjamie/internal/executor/whisper"
	"github.com/zette-dev/heyjamie/internal/log"
	"github.com/zette-dev/heyjamie/internal/session"
	"github.com/zette-dev/heyjamie/internal/supervisor"
)

var (
	flagRequestFile string
	flagMode        string
	flagPrompt      string
	flagBotMode     string
	flagBase64      bool
)

func init() {
	agentCmd.Flags().StringVar(&flagRequestFile, "file", "", "request JSON file; default reads stdin")
	agentCmd.Flags().StringVar(&flagMode, "mode", "", "override the request mode")
	agentCmd.Flags().StringVar(&flagPrompt, "prompt", "", "prompt text; skips reading a request document")

	serveCmd.Flags().StringVar(&flagBotMode, "bot-mode", string(supervisor.ModeInteractive), "agent mode for telegram prompts")

	transcribeCmd.Flags().BoolVar(&flagBase64, "base64", false, "the input file holds base64-encoded audio")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the canvas server and the remote-control bot until interrupted",
	RunE:  doServe,
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "run one LLM agent request and print its response",
	RunE:  doAgent,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE",
	Short: "transcribe a WAV recording",
	Args:  cobra.ExactArgs(1),
	RunE:  doTranscribe,
}

var setupWhisperCmd = &cobra.Command{
	Use:   "setup-whisper",
	Short: "install whisper-cli and the speech model",
	Args:  cobra.NoArgs,
	RunE:  doSetupWhisper,
}

var mcpTestCmd = &cobra.Command{
	Use:   "mcp-test",
	Short: "check connectivity to the configured MCP servers",
	RunE:  doMCPTest,
}

func newSupervisor() *supervisor.Supervisor {
	return supervisor.New(
		supervisor.WithPollInterval(cfg.Supervisor.PollInterval),
		supervisor.WithGrace(cfg.Supervisor.GracePeriod),
	)
}

func newAgent(sup *supervisor.Supervisor, sessions *session.Manager) *agent.Executor {
	return agent.New(agent.Config{
		Node:      cfg.Agent.Node,
		Script:    cfg.Agent.Script,
		RootDir:   cfg.Agent.RootDir,
		MCPConfig: cfg.Agent.MCPConfig,
	}, sup, sessions)
}

func newTranscriber() *whisper.Transcriber {
	return whisper.New(whisper.Config{
		CLIPath:     cfg.Whisper.CLIPath,
		ModelPath:   cfg.Whisper.ModelPath,
		RootDir:     cfg.Agent.RootDir,
		SetupScript: cfg.Whisper.SetupScript,
	}, newSupervisor(), session.NewManager(), nil)
}

func newCanvas() *canvas.Coordinator {
	return canvas.NewCoordinator(canvas.Config{
		MCPConfig:  cfg.Agent.MCPConfig,
		Server:     cfg.Canvas.ServerName,
		Command:    cfg.Canvas.Command,
		EntryPoint: cfg.Canvas.EntryPoint,
		Grace:      cfg.Supervisor.GracePeriod,
	})
}

// interruptible returns a context cancelled by SIGINT or SIGTERM.
func interruptible(cmd *cobra.Command, name string) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	attrs := slog.Group("heyjamie",
		slog.String("cmd", name),
		slog.Int("pid", os.Getpid()),
	)
	return log.ContextAttrs(ctx, attrs), stop
}

// newBot is replaced in tests.
var newBot = bot.New

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := interruptible(cmd, "serve")
	defer stop()

	sessions := session.NewManager()
	runner := newAgent(newSupervisor(), sessions)

	// The bot is built before anything is started so a bad token leaves
	// nothing running.
	var b *bot.Bot
	if cfg.Telegram.Enabled() {
		var err error
		if b, err = newBot(cfg.Telegram, cfg.Agent.Settings, flagBotMode, runner); err != nil {
			return err
		}
	} else {
		slog.InfoContext(ctx, "telegram bot disabled")
	}

	coordinator := newCanvas()
	if _, err := coordinator.Start(ctx); err != nil {
		slog.WarnContext(ctx, "canvas server unavailable", "error", err)
	}
	// Stop must run on every exit path; the server may not outlive the host.
	defer coordinator.Stop(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Canvas.Watch {
		w := canvas.NewWatcher(cfg.Agent.MCPConfig, canvas.DefaultDebounce, coordinator)
		g.Go(func() error { return w.Run(gctx) })
	}

	if b != nil {
		g.Go(func() error {
			b.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		sessions.CancelAll()
		return nil
	})

	err := g.Wait()
	slog.InfoContext(ctx, "shutting down")
	return err
}

func doAgent(cmd *cobra.Command, _ []string) error {
	ctx, stop := interruptible(cmd, "agent")
	defer stop()

	req, err := readRequest(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if req.Settings == (executor.Settings{}) {
		req.Settings = cfg.Agent.Settings
	}

	out, err := newAgent(newSupervisor(), session.NewManager()).Run(ctx, req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

func readRequest(stdin io.Reader) (executor.Request, error) {
	var req executor.Request
	if flagPrompt == "" {
		var data []byte
		var err error
		if flagRequestFile != "" {
			data, err = os.ReadFile(flagRequestFile)
		} else {
			data, err = io.ReadAll(stdin)
		}
		if err != nil {
			return req, fmt.Errorf("read request: %w", err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse request: %w", err)
		}
	} else {
		req.Prompt = flagPrompt
	}
	if flagMode != "" {
		req.Mode = flagMode
	}
	if req.Prompt == "" {
		return req, errors.New("request has no prompt")
	}
	return req, nil
}

func doTranscribe(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd, "transcribe")
	defer stop()

	audio, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	if flagBase64 {
		audio, err = base64.StdEncoding.DecodeString(string(audio))
		if err != nil {
			return fmt.Errorf("decode audio: %w", err)
		}
	}

	text, err := newTranscriber().Transcribe(ctx, "", audio)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func doSetupWhisper(cmd *cobra.Command, _ []string) error {
	ctx, stop := interruptible(cmd, "setup-whisper")
	defer stop()

	out, err := newTranscriber().Setup(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

func doMCPTest(cmd *cobra.Command, _ []string) error {
	ctx, stop := interruptible(cmd, "mcp-test")
	defer stop()

	report, err := newAgent(newSupervisor(), session.NewManager()).MCPTest(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), report)
	return err
}
