package cursor

import (
	"errors"
	"fmt"
)

// ErrUnknownMessage matches well-formed lines of a type the normalizer
// does not model.
var ErrUnknownMessage = errors.New("unknown cursor message")

// ProtocolError represents a line that could not be decoded.
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
