//go:build !windows

package process

import (
	"syscall"
)

// sendTerminationSignal sends SIGTERM to the process group
func sendTerminationSignal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// forceKill sends SIGKILL to the process group
func forceKill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
