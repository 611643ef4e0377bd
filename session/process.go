package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/protocol"
	"github.com/bazelment/agentbridge/transport"
)

const reasonProcessExited = "Process exited"

var errHandshakeTimeout = errors.New("no initialize response")

// procHandle is one spawned backend process and the goroutines reading it.
type procHandle struct {
	p       *transport.Process
	done    chan struct{} // closed when the monitor returns
	readers sync.WaitGroup
	// requested is set before the session terminates the process itself,
	// so the exit is not reported as a crash.
	requested atomic.Bool
	// stop is closed once nobody waits for this process's output; its
	// readers then drop events the consumer has no room for.
	stop     chan struct{}
	stopOnce sync.Once
}

func (h *procHandle) halt() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (s *Session) binary() (string, error) {
	path := s.cfg.CLIPath
	if path == "" {
		path = s.adapter.DefaultBinary()
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", &transport.SpawnError{Path: path, Err: err}
	}
	return resolved, nil
}

func (s *Session) spawn(req SpawnRequest) (*procHandle, error) {
	path, err := s.binary()
	if err != nil {
		return nil, err
	}
	p, err := transport.Spawn(transport.Command{
		Path:        path,
		Args:        s.adapter.BuildArgs(req),
		Dir:         req.WorkDir,
		Env:         s.cfg.Env,
		Stdin:       s.codec != nil,
		GracePeriod: s.cfg.GracePeriod,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("backend spawned",
		"pid", p.Pid(),
		"resume", req.ResumeID != "",
		"model", req.Model,
		"mode", string(req.Mode))

	h := &procHandle{p: p, done: make(chan struct{}), stop: make(chan struct{})}
	s.mu.Lock()
	s.proc = h
	s.spawnedModel = req.Model
	s.mu.Unlock()

	h.readers.Add(2)
	go s.readStdout(h)
	go s.readStderr(h)
	s.wg.Add(1)
	go s.monitor(h)
	return h, nil
}

// spawnInteractive spawns a stdin-driven backend and sends the initialize
// handshake. User lines sent before the response arrives are queued.
func (s *Session) spawnInteractive(req SpawnRequest) error {
	h, err := s.spawn(req)
	if err != nil {
		return err
	}
	id, line, err := s.codec.EncodeInitialize()
	if err != nil {
		s.retire(context.Background(), h)
		return err
	}

	s.mu.Lock()
	s.initID = id
	s.handshaking = true
	s.queued = nil
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
	}
	s.handshakeTimer = time.AfterFunc(s.cfg.HandshakeTimeout, func() {
		s.finishHandshake(id, errHandshakeTimeout)
	})
	s.mu.Unlock()

	if err := s.writeTo(h, line); err != nil {
		s.writeFailed(h, err)
		return err
	}
	return nil
}

// finishHandshake flushes queued user lines once the initialize request
// with id is answered or times out.
func (s *Session) finishHandshake(id string, cause error) {
	s.writeMu.Lock()
	s.mu.Lock()
	if !s.handshaking || s.initID != id {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return
	}
	s.handshaking = false
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
	}
	queued := s.queued
	s.queued = nil
	h := s.proc
	s.mu.Unlock()

	if cause != nil {
		s.logger.Warn("initialize handshake incomplete, sending queued messages", "error", cause, "queued", len(queued))
	}
	var werr error
	for _, line := range queued {
		if werr = s.writeLocked(h, line); werr != nil {
			break
		}
	}
	s.writeMu.Unlock()

	if werr != nil {
		s.writeFailed(h, werr)
		s.endTurn()
	}
}

func (s *Session) writeTo(h *procHandle, line []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(h, line)
}

func (s *Session) writeLocked(h *procHandle, line []byte) error {
	if h == nil {
		return &transport.WriteError{Err: transport.ErrProcessExited}
	}
	if err := h.p.WriteLine(line); err != nil {
		return err
	}
	s.record(protocol.DirectionSent, line)
	return nil
}

// writeFailed treats a failed stdin write as the process going away: it is
// terminated without being marked requested, so the monitor reports it.
func (s *Session) writeFailed(h *procHandle, err error) {
	var we *transport.WriteError
	if h == nil || !errors.As(err, &we) {
		return
	}
	s.logger.Warn("write to backend failed", "error", err)
	h.p.Terminate()
}

// retire terminates a process the session no longer wants and waits for
// its monitor, or for ctx.
func (s *Session) retire(ctx context.Context, h *procHandle) {
	if h == nil {
		return
	}
	h.requested.Store(true)
	h.halt()
	h.p.Terminate()
	select {
	case <-h.done:
	case <-ctx.Done():
		s.logger.Warn("gave up waiting for backend shutdown", "error", ctx.Err())
	}
}

func (s *Session) monitor(h *procHandle) {
	defer s.wg.Done()
	defer close(h.done)

	<-h.p.Exited()
	status, _ := h.p.ExitStatus()
	s.logger.Debug("backend exited", "status", status.String(), "requested", h.requested.Load())

	// A stdin-driven backend is meant to outlive every turn.
	if s.codec != nil && !h.requested.Load() && h.p.MarkDead() {
		s.control.CancelAll(reasonProcessExited)
		s.drain(h)
		s.reportCrash(h, status)
		return
	}

	// An argument-driven backend exits after each turn; only an exit before
	// the turn completed is a crash. Buffered output is read first since it
	// may hold the completion.
	s.drain(h)
	if s.codec == nil && !h.requested.Load() && s.turnOpen() && h.p.MarkDead() {
		s.reportCrash(h, status)
		return
	}
	h.p.MarkDead()
	s.detach(h)
}

// drain waits for both readers, closing the pipes if they outlive the
// drain timeout (a grandchild may still hold them open).
func (s *Session) drain(h *procHandle) {
	drained := make(chan struct{})
	go func() {
		h.readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.Warn("backend output not drained, closing pipes")
		h.halt()
		_ = h.p.Close()
		<-drained
	}
	_ = h.p.Close()
}

func (s *Session) reportCrash(h *procHandle, status transport.ExitStatus) {
	perr := &ProcessError{Backend: s.adapter.DisplayName(), Status: status}
	s.logger.Error("backend exited unexpectedly", "status", status.String())

	s.normMu.Lock()
	aborted := s.norm.AbortOpenTools()
	s.normMu.Unlock()

	s.mu.Lock()
	s.turnActive = false
	s.handshaking = false
	s.queued = nil
	s.mu.Unlock()
	s.detach(h)
	s.state.SetTerminated()

	s.emit(aborted...)
	s.emit(agentstream.Error{
		Message:  perr.Error() + ".",
		Code:     agentstream.CodeProcessCrashed,
		Terminal: true,
	})
}

func (s *Session) detach(h *procHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == h {
		s.proc = nil
	}
}

func (s *Session) readStdout(h *procHandle) {
	defer h.readers.Done()
	for {
		line, err := h.p.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("stdout read failed", "error", err)
			}
			return
		}
		s.record(protocol.DirectionReceived, line)
		if !s.handleLine(h, line) {
			s.logger.Debug("unrecognized backend line", "line", truncate(line))
		}
	}
}

// readStderr logs stderr, except JSON lines the normalizer recognizes:
// some backends report events there.
func (s *Session) readStderr(h *procHandle) {
	defer h.readers.Done()
	for {
		line, err := h.p.ReadErrLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("stderr read failed", "error", err)
			}
			return
		}
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("{")) && s.handleLine(h, line) {
			s.record(protocol.DirectionReceived, line)
			continue
		}
		s.logStderr(line)
	}
}

func (s *Session) handleLine(h *procHandle, line []byte) bool {
	s.normMu.Lock()
	defer s.normMu.Unlock()
	s.source = h
	defer func() { s.source = nil }()
	return s.norm.HandleLine(s.ctx, line)
}

func (s *Session) logStderr(line []byte) {
	if !s.stderrLimit.Allow() {
		s.suppressed.Add(1)
		return
	}
	if n := s.suppressed.Swap(0); n > 0 {
		s.stderrLog.Warn("stderr lines suppressed", "count", n)
	}
	s.stderrLog.Info("backend stderr", "line", string(line))
}

func truncate(line []byte) string {
	const limit = 200
	if len(line) <= limit {
		return string(line)
	}
	return string(line[:limit]) + "..."
}
