//go:build !linux

// Package procattr configures backend subprocesses so the whole process tree
// can be signalled and is reaped if the bridge itself dies.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set places the child in its own process group. Pdeathsig is Linux-only, so
// other platforms rely on Terminate reaching the group.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
