// Package transport owns one backend child process and exposes it as a
// line-oriented channel: write one line to stdin, read the next line from
// stdout or stderr, observe exit, terminate.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bazelment/agentbridge/internal/ndjson"
	"github.com/bazelment/agentbridge/internal/procattr"
)

const (
	// DefaultGracePeriod is how long Terminate waits after SIGINT before
	// escalating to SIGKILL.
	DefaultGracePeriod = 2 * time.Second

	killWait = 500 * time.Millisecond
)

// Command describes a backend invocation.
type Command struct {
	// Env entries are appended to the parent environment.
	Env  []string
	Args []string
	Path string
	Dir  string
	// Stdin opens a pipe to the child's stdin. Argument-driven backends
	// leave it false and the child reads from /dev/null.
	Stdin bool
	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code     int
	Signal   syscall.Signal
	Signaled bool
}

// Success reports a zero exit code.
func (s ExitStatus) Success() bool {
	return !s.Signaled && s.Code == 0
}

func (s ExitStatus) String() string {
	if s.Signaled {
		return fmt.Sprintf("terminated by signal %s", s.Signal)
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Process is a live (or exited) backend process.
type Process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writer  *ndjson.Writer
	stdout  *ndjson.Reader
	stderr  *ndjson.Reader
	outFile *os.File
	errFile *os.File
	exited  chan struct{}
	status  ExitStatus
	waitErr error

	grace     time.Duration
	termOnce  sync.Once
	closeOnce sync.Once
	dead      atomic.Bool
}

// Spawn starts cmd in its own process group.
func Spawn(c Command) (*Process, error) {
	if c.Path == "" {
		return nil, &SpawnError{Path: c.Path, Err: exec.ErrNotFound}
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	procattr.Set(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Path: c.Path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, &SpawnError{Path: c.Path, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	p := &Process{
		cmd:     cmd,
		stdout:  ndjson.NewReader(outR),
		stderr:  ndjson.NewReader(errR),
		outFile: outR,
		errFile: errR,
		exited:  make(chan struct{}),
		grace:   DefaultGracePeriod,
	}
	if c.GracePeriod > 0 {
		p.grace = c.GracePeriod
	}

	if c.Stdin {
		p.stdin, err = cmd.StdinPipe()
		if err != nil {
			closeAll(outR, outW, errR, errW)
			return nil, &SpawnError{Path: c.Path, Err: fmt.Errorf("stdin pipe: %w", err)}
		}
		p.writer = ndjson.NewWriter(p.stdin)
	}

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, &SpawnError{Path: c.Path, Err: err}
	}

	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()

	go p.wait()
	return p, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	if ps := p.cmd.ProcessState; ps != nil {
		p.status.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			p.status.Signaled = true
			p.status.Signal = ws.Signal()
		}
	}
	close(p.exited)
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// HasStdin reports whether the process accepts WriteLine.
func (p *Process) HasStdin() bool {
	return p.writer != nil
}

// WriteLine writes data plus a newline. It fails once the process is dead.
func (p *Process) WriteLine(data []byte) error {
	if p.writer == nil {
		return &WriteError{Err: ErrNoStdin}
	}
	if p.dead.Load() || p.hasExited() {
		return &WriteError{Err: ErrProcessExited}
	}
	if err := p.writer.WriteRaw(data); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
			return &WriteError{Err: fmt.Errorf("%w: %v", ErrProcessExited, err)}
		}
		return &WriteError{Err: err}
	}
	return nil
}

// ReadLine returns the next stdout line. io.EOF marks orderly closure.
func (p *Process) ReadLine() ([]byte, error) {
	return readFrom(p.stdout, "stdout")
}

// ReadErrLine returns the next stderr line. io.EOF marks orderly closure.
func (p *Process) ReadErrLine() ([]byte, error) {
	return readFrom(p.stderr, "stderr")
}

func readFrom(r *ndjson.Reader, stream string) ([]byte, error) {
	line, err := r.ReadLine()
	if err == nil {
		return line, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return nil, io.EOF
	}
	return nil, &ReadError{Stream: stream, Err: err}
}

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

func (p *Process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// ExitStatus polls without blocking. ok is false while the process runs.
func (p *Process) ExitStatus() (status ExitStatus, ok bool) {
	if !p.hasExited() {
		return ExitStatus{}, false
	}
	return p.status, true
}

// MarkDead flips the handle to dead. It returns true only for the first
// caller, which owns reporting the loss.
func (p *Process) MarkDead() bool {
	return p.dead.CompareAndSwap(false, true)
}

// Dead reports whether MarkDead has been called.
func (p *Process) Dead() bool {
	return p.dead.Load()
}

// Terminate interrupts the process group, waits the grace period, then
// kills it. Safe to call repeatedly and on an exited process.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		if p.hasExited() {
			return
		}
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		_ = procattr.InterruptGroup(p.cmd.Process)

		select {
		case <-p.exited:
			return
		case <-time.After(p.grace):
		}

		_ = procattr.KillGroup(p.cmd.Process)
		select {
		case <-p.exited:
		case <-time.After(killWait):
		}
	})
}

// Close releases the stdout/stderr read ends, unblocking any reader. Call
// it once the process has exited and readers have drained.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		err = errors.Join(p.outFile.Close(), p.errFile.Close())
	})
	return err
}
