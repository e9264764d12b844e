//go:build windows

package process

import (
	"errors"
	"os"
)

var errNoGracefulSignal = errors.New("graceful termination is not supported on windows")

func gracefulSignal(_ *os.Process) error {
	return errNoGracefulSignal
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
