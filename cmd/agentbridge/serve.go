package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentbridge/internal/wsbridge"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

type serveFlags struct {
	addr string
}

func newServeCmd(a *app) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose agent sessions over WebSocket",
		Long: `Serve accepts WebSocket connections on /ws. Each connection gets its own
session; the query parameters backend, model, mode and resume override the
config for that session. Clients send JSON commands (send, abort, respond,
set_mode, set_model, set_thinking, resume) and receive event envelopes.`,
		Example: `  agentbridge serve --addr 127.0.0.1:8765
  websocat 'ws://127.0.0.1:8765/ws?backend=codex'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			return runServe(cmd, a, flags)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address (default from config, 127.0.0.1:8765)")
	return cmd
}

func runServe(cmd *cobra.Command, a *app, flags *serveFlags) error {
	addr := flags.addr
	if addr == "" {
		addr = a.cfg.Serve.Addr
	}

	bridge := wsbridge.New(wsbridge.Config{
		AllowedOrigins: a.cfg.Serve.AllowedOrigins,
		Logger:         a.logger.With("component", "wsbridge"),
	}, a.sessionFromRequest)

	mux := http.NewServeMux()
	mux.Handle("/ws", bridge)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok %d\n", bridge.Connections())
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.logger.Info("serving", "addr", ln.Addr().String())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		bridge.Close()
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	bridge.Close()
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return err
}

// sessionFromRequest builds a connection's session, letting query
// parameters override the config.
func (a *app) sessionFromRequest(r *http.Request) (*session.Session, error) {
	q := r.URL.Query()
	kind, err := a.kind(q.Get("backend"))
	if err != nil {
		return nil, err
	}
	var extra []session.Option
	if model := q.Get("model"); model != "" {
		extra = append(extra, session.WithModel(model))
	}
	if m := q.Get("mode"); m != "" {
		mode, err := permission.ParseMode(m)
		if err != nil {
			return nil, err
		}
		extra = append(extra, session.WithPermissionMode(mode))
	}
	if id := q.Get("resume"); id != "" {
		extra = append(extra, session.WithResume(id))
	}
	return a.newSession(kind, extra...)
}
