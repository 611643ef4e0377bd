// Package control correlates outbound permission requests with their
// responses. Every registered request is fulfilled exactly once: by the
// caller's answer, by expiry, or by cancellation.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bazelment/agentbridge/permission"
)

// DefaultTimeout bounds how long a request waits for an answer.
const DefaultTimeout = 60 * time.Second

var (
	// ErrDuplicateRequest is returned when an id is registered twice.
	ErrDuplicateRequest = errors.New("duplicate control request id")
	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("control channel closed")
)

// Outcome is how a request was fulfilled.
type Outcome string

const (
	OutcomeAllow   Outcome = "allow"
	OutcomeDeny    Outcome = "deny"
	OutcomeTimeout Outcome = "timeout"
	OutcomeCancel  Outcome = "cancel"
)

// Resolution is the wire-level fulfillment of a request.
type Resolution struct {
	Outcome Outcome
	Reason  string
}

// FromVerdict converts a caller's answer. Anything but allow denies.
func FromVerdict(v permission.Verdict, reason string) Resolution {
	if v == permission.VerdictAllow {
		return Resolution{Outcome: OutcomeAllow, Reason: reason}
	}
	return Resolution{Outcome: OutcomeDeny, Reason: reason}
}

// Verdict maps the resolution back to a caller-facing verdict. Timeouts and
// cancellations deny.
func (r Resolution) Verdict() permission.Verdict {
	if r.Outcome == OutcomeAllow {
		return permission.VerdictAllow
	}
	return permission.VerdictDeny
}

// Allowed reports an allow outcome.
func (r Resolution) Allowed() bool { return r.Outcome == OutcomeAllow }

// Request is one pending control request.
type Request struct {
	Created  time.Time
	Deadline time.Time
	done     chan struct{}
	ID       string
	res      Resolution
	once     sync.Once
}

func (r *Request) fulfill(res Resolution) bool {
	won := false
	r.once.Do(func() {
		r.res = res
		close(r.done)
		won = true
	})
	return won
}

// Done is closed once the request is fulfilled.
func (r *Request) Done() <-chan struct{} { return r.done }

// Resolution returns the fulfillment. Valid only after Done is closed.
func (r *Request) Resolution() Resolution {
	<-r.done
	return r.res
}

// Wait blocks until the request is fulfilled or ctx ends.
func (r *Request) Wait(ctx context.Context) (Resolution, error) {
	select {
	case <-r.done:
		return r.res, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Option configures a Channel.
type Option func(*Channel)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for protocol anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// Channel is the set of pending requests of one session.
type Channel struct {
	now     func() time.Time
	logger  *slog.Logger
	pending map[string]*Request
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
}

// New returns an empty channel.
func New(opts ...Option) *Channel {
	c := &Channel{
		pending: make(map[string]*Request),
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-request deadline offset.
func (c *Channel) Timeout() time.Duration { return c.timeout }

// Register adds a pending request with the default deadline.
func (c *Channel) Register(id string) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, ok := c.pending[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}
	now := c.now()
	r := &Request{
		ID:       id,
		Created:  now,
		Deadline: now.Add(c.timeout),
		done:     make(chan struct{}),
	}
	c.pending[id] = r
	return r, nil
}

// Fulfill resolves the request with id. Unknown or already-fulfilled ids
// are logged and report false.
func (c *Channel) Fulfill(id string, res Resolution) bool {
	c.mu.Lock()
	r, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok || !r.fulfill(res) {
		c.logger.Warn("protocol anomaly: response for unknown control request",
			"request_id", id, "outcome", res.Outcome)
		return false
	}
	return true
}

// Has reports whether id is pending.
func (c *Channel) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Len returns the number of pending requests.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Expire fulfils every request whose deadline is not after now with
// OutcomeTimeout and returns them.
func (c *Channel) Expire(now time.Time) []*Request {
	c.mu.Lock()
	var expired []*Request
	for id, r := range c.pending {
		if !r.Deadline.After(now) {
			delete(c.pending, id)
			expired = append(expired, r)
		}
	}
	c.mu.Unlock()

	for _, r := range expired {
		r.fulfill(Resolution{Outcome: OutcomeTimeout, Reason: "permission request timed out"})
	}
	return expired
}

// CancelAll fulfils every pending request with OutcomeCancel and returns
// how many there were.
func (c *Channel) CancelAll(reason string) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*Request)
	c.mu.Unlock()

	n := 0
	for _, r := range pending {
		if r.fulfill(Resolution{Outcome: OutcomeCancel, Reason: reason}) {
			n++
		}
	}
	return n
}

// Close cancels everything and rejects further registrations.
func (c *Channel) Close(reason string) int {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.CancelAll(reason)
}

// Run expires requests every interval until ctx ends.
func (c *Channel) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, r := range c.Expire(c.now()) {
				c.logger.Debug("control request expired", "request_id", r.ID)
			}
		}
	}
}

// NewID returns prefix followed by a random UUID.
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}
