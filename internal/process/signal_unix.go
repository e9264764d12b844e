//go:build !windows

package process

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// gracefulSignal asks the child to exit so it can close its own clients first.
func gracefulSignal(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}

// Alive reports whether a process with the given pid exists. A process owned
// by another user counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
