// Package sessiontest provides a recording session.Host for normalizer
// tests.
package sessiontest

import (
	"io"
	"log/slog"
	"sync"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/control"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

// Host records emitted events and written lines.
type Host struct {
	UserSettings    *permission.Settings
	ctrl            *control.Channel
	Mode            permission.Mode
	events          []agentstream.Event
	written         [][]byte
	mu              sync.Mutex
	AbortInProgress bool
}

var _ session.Host = (*Host)(nil)

// NewHost returns a host in the default permission mode.
func NewHost() *Host {
	return &Host{ctrl: control.New(), Mode: permission.ModeDefault}
}

func (h *Host) Emit(events ...agentstream.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, events...)
}

func (h *Host) WriteLine(line []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, append([]byte(nil), line...))
	return nil
}

func (h *Host) PermissionMode() permission.Mode { return h.Mode }
func (h *Host) Settings() *permission.Settings  { return h.UserSettings }
func (h *Host) Control() *control.Channel       { return h.ctrl }
func (h *Host) Aborting() bool                  { return h.AbortInProgress }

func (h *Host) ControlResponse(string, error) {}

func (h *Host) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Events returns a copy of everything emitted so far.
func (h *Host) Events() []agentstream.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]agentstream.Event(nil), h.events...)
}

// Types returns the types of the emitted events, in order.
func (h *Host) Types() []agentstream.Type {
	var out []agentstream.Type
	for _, ev := range h.Events() {
		out = append(out, ev.EventType())
	}
	return out
}

// Reset forgets recorded events.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

// Written returns the lines sent to the backend.
func (h *Host) Written() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.written...)
}
