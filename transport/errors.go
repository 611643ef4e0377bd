package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for process I/O.
var (
	ErrProcessExited = errors.New("process has exited")
	ErrNoStdin       = errors.New("process was spawned without stdin")
)

// SpawnError reports that the backend executable could not be started.
// errors.Is(err, exec.ErrNotFound) identifies a missing binary.
type SpawnError struct {
	Err  error
	Path string
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// WriteError reports a failed write to the process's stdin.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to process stdin: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ReadError reports an I/O failure other than orderly end-of-stream.
type ReadError struct {
	Err    error
	Stream string
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read process %s: %v", e.Stream, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
