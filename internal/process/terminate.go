package process

import (
	"errors"
	"log/slog"
	"os"
	"time"
)

// DefaultGrace is how long Terminate waits for a graceful exit.
const DefaultGrace = 2 * time.Second

// Outcome reports how Terminate ended a child.
type Outcome int

const (
	// AlreadyExited means the child was gone before any signal was sent.
	AlreadyExited Outcome = iota
	// Graceful means the child exited within the grace window.
	Graceful
	// Forced means the child was killed after the grace window.
	Forced
)

func (o Outcome) String() string {
	switch o {
	case AlreadyExited:
		return "already-exited"
	case Graceful:
		return "graceful"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}

// Terminate stops the child in two phases: a graceful termination signal,
// then a forced kill if it is still running after grace. The child is always
// reaped before Terminate returns. Signal failures are logged, never returned.
//
// On platforms without a graceful signal the grace window is zero.
func (h *Handle) Terminate(grace time.Duration) Outcome {
	if h.Exited() {
		return AlreadyExited
	}

	if err := gracefulSignal(h.cmd.Process); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-h.done
			return AlreadyExited
		}
		slog.Debug("graceful signal failed", "pid", h.PID(), "error", err)
		grace = 0
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return Graceful
	case <-timer.C:
	}

	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("kill failed", "pid", h.PID(), "error", err)
	}
	<-h.done
	return Forced
}
