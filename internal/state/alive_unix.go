//go:build unix

package state

import (
	"errors"
	"os"
	"syscall"
)

// processAlive reports whether a process with the given pid exists. Signal 0
// probes existence without delivering anything; EPERM still means alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
