//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// Isolate starts the command in its own process group so the converter and
// any helper it spawns can be killed together.
func Isolate(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillProcessGroup sends SIGKILL to the process group (negative PID).
func KillProcessGroup(pid int) {
	// Best-effort; exec.Cmd kills the leader itself when this fails.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
