// Package whisper transcribes recorded speech with the whisper.cpp command
// line tool and cleans up its output.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/zette-dev/heyjamie/internal/executor"
	"github.com/zette-dev/heyjamie/internal/log"
	"github.com/zette-dev/heyjamie/internal/session"
	"github.com/zette-dev/heyjamie/internal/supervisor"
	"github.com/zette-dev/heyjamie/internal/transcript"
)

// Threshold overrides read from the environment.
const (
	LogprobThresholdEnv  = "HEYJAMIE_WHISPER_LOGPROB_THOLD"
	NoSpeechThresholdEnv = "HEYJAMIE_WHISPER_NO_SPEECH_THOLD"
)

// maxStderrSummary bounds the recognizer diagnostics logged on failure.
const maxStderrSummary = 300

// Config locates the recognizer.
type Config struct {
	CLIPath   string
	ModelPath string
	// Env is a KEY=VALUE overlay for the recognizer's environment.
	Env []string
	// TempDir holds the per-request WAV file. Empty means os.TempDir.
	TempDir string
	// RootDir is the working directory of the setup script.
	RootDir string
	// SetupScript installs the recognizer. Relative paths are resolved
	// against RootDir.
	SetupScript string
}

// Transcriber implements executor.Transcriber.
type Transcriber struct {
	cfg      Config
	sup      *supervisor.Supervisor
	sessions *session.Manager
	getenv   func(string) string
}

// New creates a transcriber. getenv supplies the threshold overrides; nil
// means os.Getenv.
func New(cfg Config, sup *supervisor.Supervisor, sessions *session.Manager, getenv func(string) string) *Transcriber {
	if getenv == nil {
		getenv = os.Getenv
	}
	return &Transcriber{cfg: cfg, sup: sup, sessions: sessions, getenv: getenv}
}

// Check reports whether the CLI and the model file are present.
func (t *Transcriber) Check() error {
	if t.cfg.CLIPath == "" {
		return errors.New("whisper-cli path is not configured")
	}
	if _, err := exec.LookPath(t.cfg.CLIPath); err != nil {
		return fmt.Errorf("whisper-cli not found at %s: %w", t.cfg.CLIPath, err)
	}
	if t.cfg.ModelPath == "" {
		return errors.New("whisper model path is not configured")
	}
	if _, err := os.Stat(t.cfg.ModelPath); err != nil {
		return fmt.Errorf("whisper model not found at %s: %w", t.cfg.ModelPath, err)
	}
	return nil
}

// Transcribe writes wav to a temporary file, runs the recognizer over it,
// and returns the sanitized transcript. The file is removed afterwards.
func (t *Transcriber) Transcribe(ctx context.Context, sessionID string, wav []byte) (string, error) {
	if err := t.Check(); err != nil {
		return "", &supervisor.Error{Kind: supervisor.ErrSpawnFailed, Mode: supervisor.ModeTranscribe, Err: err}
	}
	if len(wav) == 0 {
		return "", errors.New("transcribe: audio is empty")
	}
	if sessionID == "" {
		sessionID = session.DefaultID
	}

	dir := t.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	wavPath, err := writeTemp(dir, wav)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(wavPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("remove audio file failed", "path", wavPath, "error", err)
		}
	}()

	flag, release, err := t.sessions.Begin(ctx, sessionID, string(supervisor.ModeTranscribe))
	if err != nil {
		return "", err
	}
	defer release()

	ctx = log.ContextAttrs(ctx,
		slog.String("request_id", uuid.NewString()),
		slog.String("session", sessionID),
	)
	slog.InfoContext(ctx, "transcribing", "audio_bytes", len(wav))

	out, err := t.sup.Execute(ctx, supervisor.Command{
		Mode: supervisor.ModeTranscribe,
		Path: t.cfg.CLIPath,
		Args: Args(t.cfg.ModelPath, wavPath, t.getenv),
		Env:  t.cfg.Env,
	}, flag)
	if err != nil {
		var serr *supervisor.Error
		if errors.As(err, &serr) && serr.Tail != "" {
			slog.WarnContext(ctx, "whisper-cli failed", "stderr", log.TruncateTail(serr.Tail, maxStderrSummary))
		}
		return "", err
	}

	text := transcript.Sanitize(out)
	slog.InfoContext(ctx, "transcript ready", "chars", len(text))
	return text, nil
}

// Setup runs the install script from RootDir. On success it returns the
// script's stdout followed by its stderr tail.
func (t *Transcriber) Setup(ctx context.Context) (string, error) {
	script := t.cfg.SetupScript
	if script == "" {
		script = filepath.Join("scripts", "setup-whisper.sh")
	}
	if !filepath.IsAbs(script) {
		script = filepath.Join(t.cfg.RootDir, script)
	}
	if _, err := os.Stat(script); err != nil {
		return "", fmt.Errorf("setup script not found at %s: %w", script, err)
	}

	ctx = log.ContextAttrs(ctx, slog.String("request_id", uuid.NewString()))
	slog.InfoContext(ctx, "running whisper setup", "script", script)

	res, err := t.sup.Run(ctx, supervisor.Command{
		Mode: supervisor.ModeSetup,
		Path: script,
		Env:  t.cfg.Env,
		Dir:  t.cfg.RootDir,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("setup-whisper failed: %w", err)
	}
	if res.Stderr != "" {
		slog.InfoContext(ctx, "whisper setup finished", "stderr", log.TruncateTail(res.Stderr, maxStderrSummary))
	}
	return strings.TrimSpace(res.Stdout + "\n" + res.Stderr), nil
}

var _ executor.Transcriber = (*Transcriber)(nil)

// writeTemp stores wav under a unique name in dir.
func writeTemp(dir string, wav []byte) (string, error) {
	f, err := os.CreateTemp(dir, "heyjamie-*.wav")
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	if _, err := f.Write(wav); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write audio: %w", err)
	}
	return f.Name(), nil
}

// Args returns the recognizer command line: no timestamps, no special or
// progress output, plus any valid threshold overrides.
func Args(modelPath, wavPath string, getenv func(string) string) []string {
	args := []string{"-m", modelPath, "-f", wavPath, "-nt", "-sns", "-np"}
	if getenv == nil {
		return args
	}
	if v, ok := threshold(getenv(LogprobThresholdEnv), -2, 1); ok {
		args = append(args, "-lpt", v)
	}
	if v, ok := threshold(getenv(NoSpeechThresholdEnv), 0, 1); ok {
		args = append(args, "-nth", v)
	}
	return args
}

func threshold(raw string, lo, hi float64) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', 2, 64), true
}
