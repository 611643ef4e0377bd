package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownLine matches lines whose "type" this package does not model.
var ErrUnknownLine = errors.New("unknown message type")

// DecodeError reports a line that is not valid JSON for its type.
type DecodeError struct {
	Err  error
	Line string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", truncate(e.Line, 120), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownLineError reports a well-formed line of an unmodeled type.
type UnknownLineError struct {
	Type string
}

func (e *UnknownLineError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownLine, e.Type)
}

func (e *UnknownLineError) Unwrap() error { return ErrUnknownLine }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
