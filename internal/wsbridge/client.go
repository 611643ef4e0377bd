package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/internal/logging"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

// client is one connection and the session it owns.
type client struct {
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger
	sess   *session.Session

	out        chan any
	writerDone chan struct{}
}

func newClient(conn *websocket.Conn, cfg Config, logger *slog.Logger) *client {
	return &client{
		conn:       conn,
		cfg:        cfg,
		logger:     logger,
		out:        make(chan any, cfg.SendBuffer),
		writerDone: make(chan struct{}),
	}
}

func (c *client) serve(r *http.Request, factory Factory) {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	go c.writePump()
	defer func() {
		close(c.out)
		<-c.writerDone
	}()

	sess, err := factory(r)
	if err != nil {
		c.logger.Warn("failed to create session", "error", err)
		c.enqueue(errReply("", err))
		return
	}
	c.sess = sess
	c.logger = logging.WithSession(c.logger, sess.ID(), string(sess.Kind()))
	defer sess.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.enqueue(newHello(sess))
	if err := sess.Start(ctx); err != nil {
		c.logger.Warn("failed to start session", "error", err)
		c.enqueue(errReply("", err))
		return
	}
	c.logger.Info("session connected")

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for env := range sess.Events() {
			c.enqueue(env)
		}
	}()

	c.readLoop(ctx)
	cancel()
	sess.Destroy()
	<-forwarded
	c.logger.Info("session disconnected")
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		cmd, err := decodeCommand(data)
		if err != nil {
			c.enqueue(errReply("", fmt.Errorf("invalid command: %w", err)))
			continue
		}
		effect, err := c.dispatch(ctx, cmd)
		if err != nil {
			c.logger.Debug("command failed", "type", cmd.Type, "error", err)
			c.enqueue(errReply(cmd.ID, err))
			continue
		}
		c.enqueue(okReply(cmd.ID, effect))
	}
}

func (c *client) dispatch(ctx context.Context, cmd Command) (agentstream.Effect, error) {
	switch cmd.Type {
	case CmdSend:
		if cmd.Text == "" {
			return "", errors.New("text is required")
		}
		return "", c.sess.Send(ctx, cmd.Text)
	case CmdAbort:
		return "", c.sess.Abort(ctx)
	case CmdResume:
		return "", c.sess.Resume(ctx)
	case CmdRespond:
		verdict, err := permission.ParseVerdict(cmd.Verdict)
		if err != nil {
			return "", err
		}
		return "", c.sess.RespondToPermission(cmd.RequestID, verdict)
	case CmdSetMode:
		if cmd.Mode == "" {
			return "", errors.New("mode is required")
		}
		mode, err := permission.ParseMode(cmd.Mode)
		if err != nil {
			return "", err
		}
		return c.sess.SetPermissionMode(mode)
	case CmdSetModel:
		return c.sess.SetModel(cmd.Model)
	case CmdSetThinking:
		level, err := session.ParseThinkingLevel(cmd.Level)
		if err != nil {
			return "", err
		}
		return c.sess.SetThinkingLevel(level)
	}
	return "", fmt.Errorf("unknown command %q", cmd.Type)
}

// enqueue hands a frame to the writer. Frames are dropped once the writer
// has stopped.
func (c *client) enqueue(frame any) {
	select {
	case c.out <- frame:
	case <-c.writerDone:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case frame, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
