package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentbridge/config"
	"github.com/bazelment/agentbridge/internal/logging"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

// Root command flags; each overrides the matching config file field.
type rootFlags struct {
	configPath string
	backend    string
	model      string
	mode       string
	thinking   string
	workDir    string
	logFile    string
	verbose    bool
}

// app is the state shared by subcommands once flags are parsed.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	settings *permission.SettingsWatcher
	closers  []io.Closer
	verbose  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "agentbridge",
		Short: "Drive AI coding agent CLIs through one event stream",
		Long: `agentbridge spawns the Claude, Codex or Cursor command-line agent, normalizes
its output into one event stream and negotiates tool permissions.

Use 'chat' for a terminal conversation and 'serve' to expose sessions over WebSocket.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(flags, cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Config file, YAML or TOML (default ~/.config/agentbridge/config.yaml)")
	pf.StringVarP(&flags.backend, "backend", "b", "", "Backend: claude, codex, cursor")
	pf.StringVar(&flags.model, "model", "", "Model to request from the backend")
	pf.StringVar(&flags.mode, "permission-mode", "", "Permission mode: default, acceptEdits, bypassPermissions, plan")
	pf.StringVar(&flags.thinking, "thinking", "", "Thinking level: low, medium, high")
	pf.StringVar(&flags.workDir, "dir", "", "Working directory (defaults to current directory)")
	pf.StringVar(&flags.logFile, "log-file", "", "Also write debug logs to this file, rotated")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging and tool output")

	rootCmd.AddCommand(newChatCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func (a *app) init(flags *rootFlags, stderr io.Writer) error {
	path := flags.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.verbose = flags.verbose

	level := cfg.Log.Level
	if flags.verbose {
		level = "debug"
	}
	logger, closer, err := logging.New(logging.Config{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	}, stderr)
	if err != nil {
		return err
	}
	a.logger = logger
	a.closers = append(a.closers, closer)
	return nil
}

func (f *rootFlags) apply(cfg *config.Config) {
	if f.backend != "" {
		cfg.Backend = f.backend
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.mode != "" {
		cfg.PermissionMode = f.mode
	}
	if f.thinking != "" {
		cfg.ThinkingLevel = f.thinking
	}
	if f.workDir != "" {
		cfg.WorkDir = f.workDir
	}
	if f.logFile != "" {
		cfg.Log.File = f.logFile
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
	a.closers = nil
}

// newSession builds an unstarted session for kind from the config file,
// with extra options applied last.
func (a *app) newSession(kind session.Kind, extra ...session.Option) (*session.Session, error) {
	adapter, err := a.cfg.Adapter(kind)
	if err != nil {
		return nil, err
	}
	opts, err := a.cfg.SessionOptions(kind)
	if err != nil {
		return nil, err
	}
	opts = append(opts, session.WithLogger(a.logger.With("backend", string(kind))))
	if adapter.Capabilities().PermissionModel == session.PermissionPerOperation {
		if src := a.settingsSource(); src != nil {
			opts = append(opts, session.WithSettings(src))
		}
	}
	opts = append(opts, extra...)
	return session.New(adapter, opts...), nil
}

// settingsSource starts watching the user settings file on first use.
func (a *app) settingsSource() permission.SettingsSource {
	if a.settings != nil {
		return a.settings
	}
	path := a.cfg.SettingsFile
	if path == "" {
		var err error
		if path, err = permission.DefaultSettingsPath(); err != nil {
			a.logger.Warn("no user settings", "error", err)
			return nil
		}
	}
	w, err := permission.WatchSettings(path, permission.WithWatcherLogger(a.logger.With("component", "settings")))
	if err != nil {
		a.logger.Warn("failed to watch user settings", "path", path, "error", err)
		return nil
	}
	a.settings = w
	a.closers = append(a.closers, w)
	return w
}

func (a *app) kind(backend string) (session.Kind, error) {
	if backend == "" {
		backend = a.cfg.Backend
	}
	kind, err := config.ParseKind(backend)
	if err != nil {
		return "", fmt.Errorf("%w (want claude, codex or cursor)", err)
	}
	return kind, nil
}
