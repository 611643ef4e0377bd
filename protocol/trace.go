package protocol

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trace directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// TraceEntry is one line of a trace file: a protocol line wrapped with
// metadata for debugging and fixtures.
type TraceEntry struct {
	ID         string          `json:"id"`
	Timestamp  string          `json:"timestamp"`
	Direction  string          `json:"direction"`
	Message    json.RawMessage `json:"message"`
	TurnNumber int             `json:"turnNumber,omitempty"`
}

// ParseTraceEntry decodes the protocol message inside a trace line. Lines
// that are not trace entries are decoded as raw protocol lines.
func ParseTraceEntry(line []byte) (Message, error) {
	var entry TraceEntry
	if err := json.Unmarshal(line, &entry); err != nil || len(entry.Message) == 0 {
		return Decode(line)
	}
	return Decode(entry.Message)
}

// TraceWriter appends TraceEntry lines to w. Safe for concurrent use.
type TraceWriter struct {
	w   io.Writer
	now func() time.Time
	mu  sync.Mutex
}

// NewTraceWriter returns a writer recording to w.
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{w: w, now: time.Now}
}

// Record writes one entry. Lines that are not valid JSON are stored as a
// JSON string so the trace file stays parseable.
func (t *TraceWriter) Record(direction string, line []byte, turn int) error {
	msg := json.RawMessage(line)
	if !json.Valid(line) {
		quoted, err := json.Marshal(string(line))
		if err != nil {
			return err
		}
		msg = quoted
	}
	b, err := json.Marshal(TraceEntry{
		ID:         uuid.NewString(),
		Timestamp:  t.now().UTC().Format(time.RFC3339Nano),
		Direction:  direction,
		Message:    msg,
		TurnNumber: turn,
	})
	if err != nil {
		return err
	}
	b = append(b, '\n')
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err = t.w.Write(b)
	return err
}
