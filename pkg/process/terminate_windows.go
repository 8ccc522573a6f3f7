//go:build windows

package process

import (
	"fmt"
	"os"
)

// Windows has no SIGTERM for console-less children, both paths kill the process
func sendTerminationSignal(pid int) error {
	return forceKill(pid)
}

func forceKill(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
