package procattr

import (
	"errors"
	"os"
	"syscall"
)

// SignalGroup delivers sig to every process in p's group. A group that has
// already gone away is not an error.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// InterruptGroup sends SIGINT, the signal the agent CLIs treat as "stop the
// current turn and exit".
func InterruptGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGINT)
}

// KillGroup sends SIGKILL to the group.
func KillGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGKILL)
}
