// Package supervisor runs one external helper per request under a deadline,
// with cooperative cancellation and bounded diagnostics.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/zette-dev/heyjamie/internal/log"
	"github.com/zette-dev/heyjamie/internal/process"
)

const (
	// DefaultPollInterval is the status check cadence of the wait loop.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultDrainLinger bounds how long output readers may outlive the child.
	DefaultDrainLinger = 2 * time.Second
	// MaxFailureTail bounds the diagnostic excerpt carried by ErrProcessFailed.
	MaxFailureTail = 500
)

// Canceller is the cooperative cancellation signal observed by Execute.
type Canceller interface {
	Cancelled() bool
}

// Command is one helper invocation.
type Command struct {
	Mode Mode
	Path string
	Args []string
	// Env is a KEY=VALUE overlay on the host environment.
	Env []string
	Dir string
	// Stdin is written whole to the child's input, which is then closed.
	Stdin []byte
}

// Supervisor executes commands. The zero value is not usable; call New.
type Supervisor struct {
	pollInterval time.Duration
	grace        time.Duration
	drainLinger  time.Duration
	getenv       func(string) string
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPollInterval sets the wait loop cadence.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithGrace sets the window between the graceful signal and the kill.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithDrainLinger bounds how long Execute waits for output readers after exit.
func WithDrainLinger(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.drainLinger = d
		}
	}
}

// WithGetenv replaces the environment lookup used for timeout overrides.
func WithGetenv(getenv func(string) string) Option {
	return func(s *Supervisor) {
		if getenv != nil {
			s.getenv = getenv
		}
	}
}

// New returns a Supervisor with default timings.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		pollInterval: DefaultPollInterval,
		grace:        process.DefaultGrace,
		drainLinger:  DefaultDrainLinger,
		getenv:       os.Getenv,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeout returns the budget Execute applies to mode.
func (s *Supervisor) Timeout(mode Mode) time.Duration {
	return ResolveTimeout(mode, s.getenv)
}

// Result is the output of a helper that exited zero.
type Result struct {
	// Stdout is the trimmed standard output.
	Stdout string
	// Stderr holds the last lines of diagnostic output.
	Stderr string
}

// Execute spawns cmd, writes its input, and waits for it to finish. It
// returns the child's trimmed standard output after a zero exit.
//
// cancel is checked on every poll tick, as is ctx; either ends the request
// with ErrCancelled. No child outlives Execute: on timeout or cancellation it
// is terminated, and every output reader is joined before returning.
func (s *Supervisor) Execute(ctx context.Context, cmd Command, cancel Canceller) (string, error) {
	res, err := s.Run(ctx, cmd, cancel)
	if err != nil {
		return "", err
	}
	if res.Stdout == "" {
		return "", &Error{Kind: ErrEmptyOutput, Mode: modeOf(cmd)}
	}
	return res.Stdout, nil
}

// Run is Execute for helpers whose standard output may be empty. The stderr
// tail is returned alongside stdout after a zero exit.
func (s *Supervisor) Run(ctx context.Context, cmd Command, cancel Canceller) (Result, error) {
	mode := modeOf(cmd)
	budget := s.Timeout(mode)
	ctx = log.ContextAttrs(ctx, slog.String("mode", string(mode)))

	h, err := process.Spawn(process.Spec{
		Path:   cmd.Path,
		Args:   cmd.Args,
		Env:    cmd.Env,
		Dir:    cmd.Dir,
		Stdin:  true,
		Output: true,
	})
	if err != nil {
		slog.ErrorContext(ctx, "helper spawn failed", "path", cmd.Path, "error", err)
		return Result{}, &Error{Kind: ErrSpawnFailed, Mode: mode, Err: err}
	}
	defer func() { _ = h.Close() }()

	ctx = log.ContextAttrs(ctx, slog.Int("pid", h.PID()))
	slog.InfoContext(ctx, "helper started", "path", cmd.Path, "timeout", budget)

	stderr := process.StartDrain(h.Stderr(), func(line string) {
		slog.DebugContext(ctx, "helper stderr", "line", line)
	})
	stdout := process.StartCapture(h.Stdout())

	if err := h.WriteInput(cmd.Stdin); err != nil {
		h.Terminate(s.grace)
		s.join(h, stdout.Done(), stderr.Done())
		slog.ErrorContext(ctx, "helper input write failed", "error", err)
		return Result{}, &Error{Kind: ErrWriteFailed, Mode: mode, Err: err}
	}

	if err := s.wait(ctx, h, mode, budget, cancel); err != nil {
		s.join(h, stdout.Done(), stderr.Done())
		return Result{}, err
	}
	s.join(h, stdout.Done(), stderr.Done())

	elapsed := time.Since(h.Started())
	if code := h.ExitCode(); code != 0 {
		tail := log.TruncateTail(stderr.Tail(), MaxFailureTail)
		slog.WarnContext(ctx, "helper failed", "exit_code", code, "elapsed", elapsed)
		return Result{}, &Error{Kind: ErrProcessFailed, Mode: mode, Tail: tail, ExitCode: code}
	}

	data, err := stdout.Bytes()
	if err != nil {
		return Result{}, &Error{Kind: ErrProcessFailed, Mode: mode, Err: err}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		slog.WarnContext(ctx, "helper returned no output", "elapsed", elapsed)
	} else {
		slog.InfoContext(ctx, "helper completed", "elapsed", elapsed, "bytes", len(text))
	}
	return Result{Stdout: text, Stderr: stderr.Tail()}, nil
}

func modeOf(cmd Command) Mode {
	if cmd.Mode == "" {
		return ModeGeneric
	}
	return cmd.Mode
}

// wait polls h until it exits, the budget runs out, or the request is
// cancelled. A nil return means the child exited and was reaped.
func (s *Supervisor) wait(ctx context.Context, h *process.Handle, mode Mode, budget time.Duration, cancel Canceller) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil || (cancel != nil && cancel.Cancelled()) {
			outcome := h.Terminate(s.grace)
			slog.InfoContext(ctx, "helper cancelled", "outcome", outcome)
			return &Error{Kind: ErrCancelled, Mode: mode, Err: context.Cause(ctx)}
		}

		if time.Since(h.Started()) >= budget {
			outcome := h.Terminate(s.grace)
			slog.WarnContext(ctx, "helper timed out", "timeout", budget, "outcome", outcome)
			return &Error{Kind: ErrTimedOut, Mode: mode, Budget: budget}
		}

		exited, err := h.Poll()
		if err != nil {
			slog.ErrorContext(ctx, "helper status poll failed", "error", err)
			return &Error{Kind: ErrPollFailed, Mode: mode, Err: err}
		}
		if exited {
			return nil
		}

		select {
		case <-ticker.C:
		case <-h.Done():
		case <-ctx.Done():
		}
	}
}

// join waits for every output reader to reach end-of-stream. A grandchild
// that inherited the pipes can hold them open past the child's exit; after
// the linger the read ends are closed so the readers return.
func (s *Supervisor) join(h *process.Handle, readers ...<-chan struct{}) {
	timer := time.NewTimer(s.drainLinger)
	defer timer.Stop()

	for _, done := range readers {
		select {
		case <-done:
		case <-timer.C:
			slog.Debug("helper output still open after exit, closing", "pid", h.PID())
			_ = h.Close()
			<-done
		}
	}
}
