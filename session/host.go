package session

import (
	"log/slog"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/control"
	"github.com/bazelment/agentbridge/permission"
)

// sessionHost is the Host handed to normalizers. It keeps these methods
// off the public Session API.
type sessionHost struct {
	s *Session
}

// Emit is only called from within Normalizer.HandleLine, where normMu is
// held and source names the process being read.
func (h sessionHost) Emit(events ...agentstream.Event) {
	h.s.emitFrom(h.s.source, events...)
}

func (h sessionHost) WriteLine(line []byte) error {
	h.s.mu.Lock()
	proc := h.s.proc
	h.s.mu.Unlock()
	if err := h.s.writeTo(proc, line); err != nil {
		h.s.writeFailed(proc, err)
		return err
	}
	return nil
}

func (h sessionHost) PermissionMode() permission.Mode {
	return h.s.PermissionMode()
}

func (h sessionHost) Settings() *permission.Settings {
	if h.s.cfg.Settings == nil {
		return nil
	}
	return h.s.cfg.Settings.Current()
}

func (h sessionHost) Control() *control.Channel {
	return h.s.control
}

func (h sessionHost) Aborting() bool {
	return h.s.aborting.Load()
}

func (h sessionHost) ControlResponse(requestID string, err error) {
	h.s.finishHandshake(requestID, err)
}

func (h sessionHost) Logger() *slog.Logger {
	return h.s.logger
}
