package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/internal/render"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

type chatFlags struct {
	resume  string
	trace   string
	noColor bool
}

func newChatCmd(a *app) *cobra.Command {
	flags := &chatFlags{}

	cmd := &cobra.Command{
		Use:   "chat [flags] [prompt]",
		Short: "Chat with a backend from the terminal",
		Long: `Chat sends a prompt to the configured backend and prints its events.

With a prompt argument, one turn is run and the command exits. Otherwise
prompts are read line by line from stdin. Lines starting with '/' are
commands: /mode <mode>, /model <model>, /thinking <level>, /abort, /quit.

Ctrl-C aborts the running turn; a second Ctrl-C exits. When stdin is not a
terminal, tools that need permission are denied.`,
		Example: `  agentbridge chat "Summarize this repository"
  agentbridge chat --backend codex --permission-mode acceptEdits
  agentbridge chat --resume 3f9c... "Continue where we left off"`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			return runChat(cmd, args, a, flags)
		},
	}

	cmd.Flags().StringVar(&flags.resume, "resume", "", "Backend session id to continue")
	cmd.Flags().StringVar(&flags.trace, "trace", "", "Record every protocol line to this file")
	cmd.Flags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	return cmd
}

func runChat(cmd *cobra.Command, args []string, a *app, flags *chatFlags) error {
	kind, err := a.kind("")
	if err != nil {
		return err
	}

	var extra []session.Option
	if flags.resume != "" {
		extra = append(extra, session.WithResume(flags.resume))
	}
	trace := flags.trace
	if trace == "" {
		trace = a.cfg.Log.Trace
	}
	if trace != "" {
		f, err := os.Create(trace)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer f.Close()
		extra = append(extra, session.WithTrace(f))
	}

	sess, err := a.newSession(kind, extra...)
	if err != nil {
		return err
	}
	defer sess.Destroy()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	in := cmd.InOrStdin()
	interactive := render.IsTerminal(in)
	read := scanLines(in)
	if interactive {
		read = terminalLines()
	}
	lines := newLineSource(read)
	defer lines.close()

	c := &chat{
		sess:        sess,
		r:           render.NewRenderer(cmd.OutOrStdout(), a.verbose, flags.noColor),
		in:          lines,
		sigs:        sigs,
		interactive: interactive,
	}

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start %s session: %w", kind, err)
	}

	if len(args) > 0 {
		return c.turn(ctx, strings.Join(args, " "))
	}
	return c.loop(ctx)
}

// chat runs turns against one session and answers permission prompts.
type chat struct {
	sess        *session.Session
	r           *render.Renderer
	in          *lineSource
	sigs        <-chan os.Signal
	interactive bool

	// aborting is set from the start of an Abort until its abort-complete
	// is rendered; abortDone delivers Abort's result and is nil once read.
	aborting  bool
	abortDone <-chan error
	// pending permission requests, oldest first; the head is being asked
	// when asking is set.
	pending []agentstream.ToolStarted
	asking  bool
}

var errQuit = errors.New("quit")

func (c *chat) loop(ctx context.Context) error {
	for {
		c.in.request("> ")
		var line string
		select {
		case res := <-c.in.results:
			if !c.in.accept() {
				continue
			}
			if errors.Is(res.err, io.EOF) || errors.Is(res.err, errInterrupted) {
				return nil
			}
			if res.err != nil {
				return res.err
			}
			line = strings.TrimSpace(res.line)
		case <-c.sigs:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if err := c.command(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.r.Status(err.Error())
			}
			continue
		}
		if err := c.turn(ctx, line); err != nil {
			return err
		}
	}
}

func (c *chat) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	var (
		effect agentstream.Effect
		err    error
	)
	switch name {
	case "quit", "exit":
		return errQuit
	case "abort":
		c.startAbort(ctx)
		return c.wait(ctx)
	case "mode":
		mode, perr := permission.ParseMode(arg)
		if perr != nil {
			return perr
		}
		effect, err = c.sess.SetPermissionMode(mode)
	case "model":
		effect, err = c.sess.SetModel(arg)
	case "thinking":
		level, perr := session.ParseThinkingLevel(arg)
		if perr != nil {
			return perr
		}
		effect, err = c.sess.SetThinkingLevel(level)
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
	if err != nil {
		return err
	}
	c.r.Status(fmt.Sprintf("%s applies %s", name, effect))
	return nil
}

// turn sends text and waits for the turn to end.
func (c *chat) turn(ctx context.Context, text string) error {
	if err := c.sess.Send(ctx, text); err != nil {
		return err
	}
	return c.wait(ctx)
}

// wait renders events until the turn completes, is aborted or fails.
// A terminal error ends the session and is returned. Once an abort is
// under way only abort-complete ends the wait.
func (c *chat) wait(ctx context.Context) error {
	defer c.dropPrompts()
	for {
		select {
		case env, ok := <-c.sess.Events():
			if !ok {
				return session.ErrSessionClosed
			}
			c.r.Render(env)
			switch ev := env.Event.(type) {
			case agentstream.AbortComplete:
				c.aborting = false
				return c.joinAbort()
			case agentstream.TurnComplete:
				if !c.aborting {
					return nil
				}
			case agentstream.Error:
				if ev.Terminal {
					return errors.New(ev.Message)
				}
				if ev.Code == agentstream.CodeBackendError && !c.aborting {
					return nil
				}
			case agentstream.ToolStarted:
				if ev.Status == agentstream.ToolAwaitingPermission {
					if err := c.enqueue(ev); err != nil {
						return err
					}
				}
			case agentstream.PermissionExpired:
				c.expire(ev.PermissionRequestID)
			}
		case res := <-c.in.results:
			if !c.in.accept() || !c.asking {
				continue
			}
			if errors.Is(res.err, errInterrupted) {
				if err := c.interrupt(ctx); err != nil {
					return err
				}
				continue
			}
			if err := c.answer(res); err != nil {
				return err
			}
		case <-c.sigs:
			if err := c.interrupt(ctx); err != nil {
				return err
			}
		case err := <-c.abortDone:
			c.abortDone = nil
			if err != nil {
				c.aborting = false
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// interrupt handles Ctrl-C during a turn: the first aborts, the second
// quits.
func (c *chat) interrupt(ctx context.Context) error {
	if c.aborting {
		return context.Canceled
	}
	c.r.Status("aborting, press Ctrl-C again to quit")
	c.dropPrompts()
	c.startAbort(ctx)
	return nil
}

// startAbort runs Abort off this goroutine, which must keep draining events
// for abort-complete to be delivered.
func (c *chat) startAbort(ctx context.Context) {
	done := make(chan error, 1)
	c.aborting = true
	c.abortDone = done
	go func() { done <- c.sess.Abort(ctx) }()
}

// joinAbort waits for Abort to return once its abort-complete arrived.
func (c *chat) joinAbort() error {
	if c.abortDone == nil {
		return nil
	}
	err := <-c.abortDone
	c.abortDone = nil
	return err
}

// enqueue queues a permission prompt. Without a terminal nobody can be
// asked, so it is denied.
func (c *chat) enqueue(ev agentstream.ToolStarted) error {
	if !c.interactive {
		return c.respond(ev.PermissionRequestID, permission.VerdictDeny)
	}
	c.pending = append(c.pending, ev)
	c.askNext()
	return nil
}

func (c *chat) askNext() {
	if c.asking || len(c.pending) == 0 {
		return
	}
	ev := c.pending[0]
	c.asking = true
	c.in.request(fmt.Sprintf("Allow %s %s? [y/N] ", ev.ToolType, ev.Target))
}

// answer resolves the prompt at the head of the queue. Anything but a yes
// denies.
func (c *chat) answer(res lineResult) error {
	ev := c.pending[0]
	c.pending = c.pending[1:]
	c.asking = false

	verdict := permission.VerdictDeny
	if res.err == nil {
		if v, err := permission.ParseVerdict(res.line); err == nil {
			verdict = v
		}
	}
	if err := c.respond(ev.PermissionRequestID, verdict); err != nil {
		return err
	}
	c.askNext()
	return nil
}

// expire forgets a request the session already timed out.
func (c *chat) expire(requestID string) {
	for i, ev := range c.pending {
		if ev.PermissionRequestID != requestID {
			continue
		}
		if i == 0 && c.asking {
			c.in.abandon()
			c.asking = false
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		break
	}
	c.askNext()
}

// dropPrompts forgets every pending prompt; the session cancels them on
// abort and they cannot outlive a turn.
func (c *chat) dropPrompts() {
	if c.asking {
		c.in.abandon()
		c.asking = false
	}
	c.pending = nil
}

func (c *chat) respond(requestID string, verdict permission.Verdict) error {
	err := c.sess.RespondToPermission(requestID, verdict)
	if errors.Is(err, session.ErrUnknownPermissionRequest) {
		// Already expired or cancelled; the session reports that itself.
		return nil
	}
	return err
}
