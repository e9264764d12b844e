// Package process spawns and terminates helper executables.
//
// A Handle owns one child process, its input pipe and its two output pipes.
// The exit status is collected by a single waiter goroutine, so Exited and
// Poll never block and are safe to call from any goroutine. Output pipes are
// plain os.Pipe files: reaping the child never closes them, and readers may
// keep consuming buffered output after exit.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Spec describes one child to spawn.
type Spec struct {
	Path string
	Args []string
	// Env is a KEY=VALUE overlay on the inherited environment. Later entries win.
	Env []string
	Dir string

	// Stdin creates an input pipe. Without it the child reads from the null device.
	Stdin bool
	// Output pipes stdout and stderr back to the caller. Without it both are discarded.
	Output bool
}

// Handle is a running or exited child process.
type Handle struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *os.File
	started time.Time

	done    chan struct{}
	waitErr error
}

// Spawn starts the child described by spec.
func Spawn(spec Spec) (*Handle, error) {
	if spec.Path == "" {
		return nil, errors.New("spawn: executable path is required")
	}

	// #nosec G204 -- executable and args come from host configuration
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	h := &Handle{cmd: cmd, done: make(chan struct{})}

	var childEnds []*os.File
	cleanup := func() {
		for _, f := range childEnds {
			_ = f.Close()
		}
		h.closeOutputs()
		if h.stdin != nil {
			_ = h.stdin.Close()
		}
	}

	if spec.Stdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		h.stdin = stdin
	}

	if spec.Output {
		outR, outW, err := os.Pipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		h.stdout = outR
		childEnds = append(childEnds, outW)
		cmd.Stdout = outW

		errR, errW, err := os.Pipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		h.stderr = errR
		childEnds = append(childEnds, errW)
		cmd.Stderr = errW
	}

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}
	h.started = time.Now()

	// The child holds its own copies; ours must go so readers see EOF on exit.
	for _, f := range childEnds {
		_ = f.Close()
	}

	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	h.waitErr = h.cmd.Wait()
	close(h.done)
}

// PID returns the OS process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Started returns the spawn time.
func (h *Handle) Started() time.Time {
	return h.started
}

// WriteInput writes payload to the child's input and closes it. The input is
// closed even when payload is empty or the write fails, so a child reading to
// end-of-stream never waits for more.
func (h *Handle) WriteInput(payload []byte) error {
	if h.stdin == nil {
		if len(payload) > 0 {
			return errors.New("write input: process was spawned without stdin")
		}
		return nil
	}

	var writeErr error
	if len(payload) > 0 {
		if _, err := h.stdin.Write(payload); err != nil {
			writeErr = fmt.Errorf("write input: %w", err)
		}
	}
	if err := h.stdin.Close(); err != nil && writeErr == nil && !errors.Is(err, os.ErrClosed) {
		writeErr = fmt.Errorf("close input: %w", err)
	}
	return writeErr
}

// Stdout returns the child's standard output, or nil without Spec.Output.
func (h *Handle) Stdout() io.ReadCloser {
	if h.stdout == nil {
		return nil
	}
	return h.stdout
}

// Stderr returns the child's standard error, or nil without Spec.Output.
func (h *Handle) Stderr() io.ReadCloser {
	if h.stderr == nil {
		return nil
	}
	return h.stderr
}

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the child has exited. It never blocks.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Running is the negation of Exited.
func (h *Handle) Running() bool {
	return !h.Exited()
}

// Poll reports whether the child has exited. A non-nil error means the
// operating system could not report the child's status; the exit code is
// then meaningless.
func (h *Handle) Poll() (bool, error) {
	if !h.Exited() {
		return false, nil
	}
	var exitErr *exec.ExitError
	if h.waitErr != nil && !errors.As(h.waitErr, &exitErr) {
		return true, fmt.Errorf("wait: %w", h.waitErr)
	}
	return true, nil
}

// ExitCode returns the exit status, or -1 while running or when the child
// was ended by a signal.
func (h *Handle) ExitCode() int {
	if !h.Exited() || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Wait blocks until the child has exited and returns its exit error.
func (h *Handle) Wait() error {
	<-h.done
	return h.waitErr
}

// Close releases the output pipes. It does not stop the child.
func (h *Handle) Close() error {
	h.closeOutputs()
	return nil
}

func (h *Handle) closeOutputs() {
	if h.stdout != nil {
		_ = h.stdout.Close()
	}
	if h.stderr != nil {
		_ = h.stderr.Close()
	}
}
