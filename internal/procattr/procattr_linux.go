//go:build linux

// Package procattr configures backend subprocesses so the whole process tree
// can be signalled and is reaped if the bridge itself dies.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set places the child in its own process group and asks the kernel to send
// it SIGTERM if the parent dies first.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
