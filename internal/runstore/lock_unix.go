//go:build !windows

package runstore

import (
	"errors"
	"syscall"
)

// processAlive reports whether pid names a running process. A process owned
// by another user still counts as alive.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || !errors.Is(err, syscall.ESRCH)
}
