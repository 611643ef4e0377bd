// Package session runs one conversation with a backend CLI: it owns the
// backend process across respawns, feeds its output through the family's
// normalizer, and exposes a uniform operation set regardless of whether the
// backend reads turns from stdin or takes each turn as a spawn argument.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/control"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/protocol"
)

const reasonClosed = "Session closed"

// Session manages one backend conversation.
type Session struct {
	ctx         context.Context
	adapter     Adapter
	codec       ControlCodec
	norm        Normalizer
	control     *control.Channel
	logger      *slog.Logger
	stderrLog   *slog.Logger
	trace       *protocol.TraceWriter
	stderrLimit *rate.Limiter
	state       *stateManager
	events      chan agentstream.Envelope
	done        chan struct{}
	cancel      context.CancelFunc
	id          string
	cfg         Config

	// Guarded by mu.
	handshakeTimer *time.Timer
	proc           *procHandle
	backendID      string
	mode           permission.Mode
	model          string
	thinking       ThinkingLevel
	spawnedModel   string
	turnID         string
	initID         string
	queued         [][]byte
	turnNumber     int
	turnActive     bool
	handshaking    bool

	wg          sync.WaitGroup
	opMu        sync.Mutex // serializes lifecycle operations
	mu          sync.Mutex
	normMu      sync.Mutex
	source      *procHandle // process whose line is being normalized; guarded by normMu
	writeMu     sync.Mutex
	emitMu      sync.RWMutex
	suppressed  atomic.Int64
	aborting    atomic.Bool
	destroyOnce sync.Once
	closed      bool
}

// New creates a session for the given backend family. Nothing is spawned
// until Start.
func New(adapter Adapter, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(nopHandler{})
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = permission.ModeDefault
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	s := &Session{
		cfg:         cfg,
		adapter:     adapter,
		id:          uuid.NewString(),
		state:       newStateManager(),
		events:      make(chan agentstream.Envelope, cfg.EventBuffer),
		done:        make(chan struct{}),
		stderrLimit: rate.NewLimiter(cfg.StderrRate, cfg.StderrBurst),
		backendID:   cfg.ResumeID,
		mode:        cfg.PermissionMode,
		model:       cfg.Model,
		thinking:    cfg.ThinkingLevel,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.logger = cfg.Logger.With("session_id", s.id, "backend", string(adapter.Kind()))
	s.stderrLog = s.logger.With("component", "stderr")
	s.control = control.New(control.WithTimeout(cfg.PermissionTimeout), control.WithLogger(s.logger))
	s.codec, _ = adapter.(ControlCodec)
	if cfg.Trace != nil {
		s.trace = protocol.NewTraceWriter(cfg.Trace)
	}
	s.norm = adapter.NewNormalizer(sessionHost{s})
	return s
}

// Start brings the session to Active. Stdin-driven backends are spawned
// and sent the initialize handshake; argument-driven backends only have
// their executable resolved, since every Send spawns.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.state.transition("start", StateSpawning, StateCreated); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.control.Run(s.ctx, s.cfg.SweepInterval)
	}()

	if err := s.launch(ctx); err != nil {
		s.state.SetTerminated()
		return err
	}
	return s.state.SetActive()
}

// Resume revives a session whose backend crashed, continuing the backend
// conversation it had reported.
func (s *Session) Resume(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.state.require("resume", StateTerminated); err != nil {
		return err
	}
	if s.BackendSessionID() == "" {
		return ErrNoResumeID
	}
	if err := s.state.SetSpawning("resume"); err != nil {
		return err
	}
	if err := s.launch(ctx); err != nil {
		s.state.SetTerminated()
		return err
	}
	s.logger.Info("session resumed", "backend_session_id", s.BackendSessionID())
	return s.state.SetActive()
}

func (s *Session) launch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.codec == nil {
		_, err := s.binary()
		return err
	}
	s.mu.Lock()
	req := s.spawnRequestLocked("")
	s.mu.Unlock()
	return s.spawnInteractive(req)
}

// Send starts a turn with text.
func (s *Session) Send(ctx context.Context, text string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.state.require("send", StateActive); err != nil {
		return err
	}
	if s.codec == nil {
		return s.sendArgument(ctx, text)
	}
	return s.sendStdin(ctx, text)
}

func (s *Session) sendArgument(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.turnActive {
		s.mu.Unlock()
		return ErrTurnInProgress
	}
	prev := s.proc
	s.mu.Unlock()

	// The previous turn's process must be gone before the new turn opens,
	// or its exit would be judged against the new turn.
	s.retire(ctx, prev)

	s.mu.Lock()
	s.beginTurnLocked()
	req := s.spawnRequestLocked(text)
	s.mu.Unlock()
	if _, err := s.spawn(req); err != nil {
		return s.spawnFailed(err)
	}
	return nil
}

func (s *Session) sendStdin(ctx context.Context, text string) error {
	s.mu.Lock()
	h := s.proc
	// A model change needs a new process. The thinking level does not: no
	// stdin-driven family takes it on its command line.
	respawn := h == nil || h.p.Dead() || s.spawnedModel != s.model
	s.beginTurnLocked()
	req := s.spawnRequestLocked("")
	s.mu.Unlock()

	if respawn {
		if h != nil {
			s.logger.Info("respawning backend with new model", "model", req.Model)
		}
		s.retire(ctx, h)
		if err := s.spawnInteractive(req); err != nil {
			return s.spawnFailed(err)
		}
	}

	line, err := s.codec.EncodeUserMessage(text, s.BackendSessionID())
	if err != nil {
		s.endTurn()
		return err
	}
	return s.writeUser(line)
}

// writeUser writes a user line, or queues it while the handshake is
// outstanding.
func (s *Session) writeUser(line []byte) error {
	s.writeMu.Lock()
	s.mu.Lock()
	if s.handshaking {
		s.queued = append(s.queued, line)
		s.mu.Unlock()
		s.writeMu.Unlock()
		return nil
	}
	h := s.proc
	s.mu.Unlock()
	err := s.writeLocked(h, line)
	s.writeMu.Unlock()

	if err != nil {
		s.writeFailed(h, err)
		s.endTurn()
		return err
	}
	return nil
}

func (s *Session) spawnFailed(err error) error {
	s.endTurn()
	s.logger.Error("failed to spawn backend", "error", err)
	s.emit(agentstream.Error{
		Message: fmt.Sprintf("Failed to start %s CLI: %v", s.adapter.DisplayName(), err),
		Code:    agentstream.CodeSpawnFailed,
	})
	return err
}

// Abort stops the current turn. Pending permission prompts are cancelled,
// the process is terminated, open tools end as aborted, and exactly one
// abort-complete event is emitted. The backend session id is kept so the
// next Send resumes the conversation.
//
// Output of the terminated process that does not fit in the events buffer
// is dropped. abort-complete itself is delivered like any other event, so
// Abort must not be called from the goroutine draining Events.
func (s *Session) Abort(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.state.SetAborting(); err != nil {
		return err
	}
	s.aborting.Store(true)
	defer s.aborting.Store(false)

	if n := s.control.CancelAll(permission.ReasonSessionAborted); n > 0 {
		s.logger.Debug("cancelled pending permission requests", "count", n)
	}

	s.mu.Lock()
	h := s.proc
	s.mu.Unlock()
	if h != nil {
		if s.codec != nil {
			s.interrupt(h)
		}
		s.retire(ctx, h)
	}

	s.normMu.Lock()
	aborted := s.norm.AbortOpenTools()
	s.normMu.Unlock()
	s.emit(aborted...)

	s.mu.Lock()
	s.turnActive = false
	s.handshaking = false
	s.queued = nil
	backendID := s.backendID
	s.mu.Unlock()
	s.emit(agentstream.AbortComplete{SessionID: backendID})

	if err := s.state.SetActive(); err != nil {
		// The process crashed while aborting; the session stays terminated.
		s.logger.Debug("abort finished outside aborting state", "state", s.state.Current().String())
	}
	return nil
}

func (s *Session) interrupt(h *procHandle) {
	line, err := s.codec.EncodeInterrupt()
	if err != nil {
		s.logger.Warn("failed to encode interrupt", "error", err)
		return
	}
	if err := s.writeTo(h, line); err != nil {
		s.logger.Debug("interrupt not delivered", "error", err)
	}
}

// RespondToPermission answers a pending permission prompt.
func (s *Session) RespondToPermission(requestID string, verdict permission.Verdict) error {
	if s.codec == nil {
		return ErrControlProtocolUnsupported
	}
	if s.state.Current() == StateClosed {
		return ErrSessionClosed
	}
	reason := permission.ReasonUserDenied
	if verdict == permission.VerdictAllow {
		reason = permission.ReasonUserApproved
	}
	if !s.control.Has(requestID) || !s.control.Fulfill(requestID, control.FromVerdict(verdict, reason)) {
		return fmt.Errorf("%w: %s", ErrUnknownPermissionRequest, requestID)
	}
	return nil
}

// SetPermissionMode changes the permission mode. Backends with a control
// protocol apply it immediately; the others on the next spawn.
func (s *Session) SetPermissionMode(mode permission.Mode) (agentstream.Effect, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.state.require("set permission mode", StateCreated, StateActive, StateTerminated); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.mode = mode
	model := s.model
	h := s.proc
	s.mu.Unlock()

	effect := agentstream.EffectNextSpawn
	if s.codec != nil {
		effect = agentstream.EffectImmediate
		if h != nil && !h.p.Dead() {
			if line, err := s.codec.EncodeSetPermissionMode(mode); err != nil {
				s.logger.Warn("failed to encode set_permission_mode", "error", err)
			} else if err := s.writeTo(h, line); err != nil {
				s.logger.Debug("set_permission_mode not delivered", "error", err)
			}
		}
	}

	s.logger.Info("permission mode changed", "mode", string(mode), "effect", string(effect))
	s.emit(agentstream.PermissionModeChanged{PermissionMode: string(mode), Model: model, Effect: effect})
	return effect, nil
}

// SetModel changes the model. It always takes effect on the next spawn;
// stdin-driven backends are respawned with resume on the next Send.
func (s *Session) SetModel(model string) (agentstream.Effect, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.state.require("set model", StateCreated, StateActive, StateTerminated); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.model = model
	mode := s.mode
	s.mu.Unlock()

	s.logger.Info("model changed", "model", model)
	s.emit(agentstream.PermissionModeChanged{PermissionMode: string(mode), Model: model, Effect: agentstream.EffectNextSpawn})
	return agentstream.EffectNextSpawn, nil
}

// SetThinkingLevel changes the reasoning effort for the next spawn.
// Families whose CLI has no effort setting ignore it.
func (s *Session) SetThinkingLevel(level ThinkingLevel) (agentstream.Effect, error) {
	if _, err := ParseThinkingLevel(string(level)); err != nil {
		return "", err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.state.require("set thinking level", StateCreated, StateActive, StateTerminated); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.thinking = level
	s.mu.Unlock()
	return agentstream.EffectNextSpawn, nil
}

// Destroy terminates the backend, joins every background task and closes
// the events channel. It is safe to call more than once.
func (s *Session) Destroy() {
	s.destroyOnce.Do(func() {
		s.state.SetClosed()
		s.control.Close(reasonClosed)
		s.cancel()
		close(s.done)

		// Wait out any in-flight operation; everything it could block on
		// has been released above.
		s.opMu.Lock()
		defer s.opMu.Unlock()

		s.mu.Lock()
		h := s.proc
		if s.handshakeTimer != nil {
			s.handshakeTimer.Stop()
		}
		s.mu.Unlock()
		if h != nil {
			h.requested.Store(true)
			h.p.Terminate()
		}

		s.wg.Wait()

		s.emitMu.Lock()
		s.closed = true
		close(s.events)
		s.emitMu.Unlock()
		s.logger.Debug("session destroyed")
	})
}

// Events returns the unified event stream. It is closed by Destroy. The
// caller must keep draining it; backend output stalls while it is full.
func (s *Session) Events() <-chan agentstream.Envelope {
	return s.events
}

// ID returns the local session id.
func (s *Session) ID() string { return s.id }

// Kind returns the backend family.
func (s *Session) Kind() Kind { return s.adapter.Kind() }

// Capabilities returns the backend family's capabilities.
func (s *Session) Capabilities() Capabilities { return s.adapter.Capabilities() }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state.Current() }

// BackendSessionID returns the id the backend reported, or the configured
// resume id before that.
func (s *Session) BackendSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendID
}

// PermissionMode returns the current permission mode.
func (s *Session) PermissionMode() permission.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Model returns the model requested for the next spawn.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// ThinkingLevel returns the requested reasoning effort.
func (s *Session) ThinkingLevel() ThinkingLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thinking
}

// TurnNumber returns how many turns have been started.
func (s *Session) TurnNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnNumber
}

func (s *Session) beginTurnLocked() {
	s.turnID = uuid.NewString()
	s.turnNumber++
	s.turnActive = true
}

func (s *Session) endTurn() {
	s.mu.Lock()
	s.turnActive = false
	s.mu.Unlock()
}

func (s *Session) turnOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnActive
}

func (s *Session) spawnRequestLocked(prompt string) SpawnRequest {
	return SpawnRequest{
		Prompt:        prompt,
		ResumeID:      s.backendID,
		Model:         s.model,
		Mode:          s.mode,
		ThinkingLevel: s.thinking,
		WorkDir:       s.cfg.WorkDir,
		ExtraArgs:     s.cfg.ExtraArgs,
	}
}

// emit wraps events in envelopes for the current turn. Turn completion and
// the backend session id are tracked here so every family gets them the
// same way.
func (s *Session) emit(events ...agentstream.Event) {
	s.emitFrom(nil, events...)
}

// emitFrom is emit for events produced by src's output. Once src is
// halted, events that do not fit in the buffer are dropped instead of
// blocking its reader.
func (s *Session) emitFrom(src *procHandle, events ...agentstream.Event) {
	var stop <-chan struct{}
	if src != nil {
		stop = src.stop
	}
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	for _, ev := range events {
		switch ev := ev.(type) {
		case agentstream.TurnComplete:
			s.turnActive = false
		case agentstream.Error:
			if ev.Code == agentstream.CodeBackendError {
				s.turnActive = false
			}
		case agentstream.SessionInitialized:
			if ev.SessionID != "" {
				s.backendID = ev.SessionID
			}
		}
	}
	turnID := s.turnID
	s.mu.Unlock()

	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed {
		return
	}
	for i, ev := range events {
		env := agentstream.Envelope{Event: ev, SessionID: s.id, TurnID: turnID}
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.events <- env:
			continue
		default:
		}
		select {
		case s.events <- env:
		case <-s.done:
			return
		case <-stop:
			s.logger.Debug("dropping output of retired backend", "events", len(events)-i)
			return
		}
	}
}

func (s *Session) record(direction string, line []byte) {
	if s.trace == nil {
		return
	}
	if err := s.trace.Record(direction, line, s.TurnNumber()); err != nil {
		s.logger.Debug("trace write failed", "error", err)
	}
}
