// Package config loads the agentbridge CLI configuration from YAML or TOML
// and turns it into session options.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/bazelment/agentbridge/claude"
	"github.com/bazelment/agentbridge/codex"
	"github.com/bazelment/agentbridge/cursor"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

// Defaults applied by Default and to zero fields after Load.
const (
	DefaultBackend    = session.KindClaude
	DefaultListenAddr = "127.0.0.1:8765"
)

// Config is the on-disk CLI configuration.
type Config struct {
	// Backend is the family used when a command names none.
	Backend string `yaml:"backend" toml:"backend" json:"backend,omitempty" jsonschema:"enum=claude,enum=codex,enum=cursor"`
	// WorkDir is the backend working directory; empty means the current one.
	WorkDir        string `yaml:"work_dir" toml:"work_dir" json:"work_dir,omitempty"`
	Model          string `yaml:"model" toml:"model" json:"model,omitempty"`
	PermissionMode string `yaml:"permission_mode" toml:"permission_mode" json:"permission_mode,omitempty" jsonschema:"enum=default,enum=acceptEdits,enum=bypassPermissions,enum=plan"`
	ThinkingLevel  string `yaml:"thinking_level" toml:"thinking_level" json:"thinking_level,omitempty" jsonschema:"enum=low,enum=medium,enum=high"`
	// PermissionTimeout is a Go duration such as "5m".
	PermissionTimeout string `yaml:"permission_timeout" toml:"permission_timeout" json:"permission_timeout,omitempty"`
	// SettingsFile is the Claude settings.json whose allow-list is honored.
	// Defaults to ~/.claude/settings.json.
	SettingsFile string `yaml:"settings_file" toml:"settings_file" json:"settings_file,omitempty"`

	Backends map[string]Backend `yaml:"backends" toml:"backends" json:"backends,omitempty"`
	Log      Log                `yaml:"log" toml:"log" json:"log"`
	Serve    Serve              `yaml:"serve" toml:"serve" json:"serve"`
}

// Backend configures one family.
type Backend struct {
	// Command is the executable plus leading arguments, shell-quoted, e.g.
	// "claude --add-dir '/my dir'".
	Command string   `yaml:"command" toml:"command" json:"command,omitempty"`
	Env     []string `yaml:"env" toml:"env" json:"env,omitempty"`
	// PartialMessages streams Claude text as it is generated.
	PartialMessages bool `yaml:"partial_messages" toml:"partial_messages" json:"partial_messages,omitempty"`
	// Trust and Sandbox pass --trust and --sandbox to Cursor.
	Trust   bool `yaml:"trust" toml:"trust" json:"trust,omitempty"`
	Sandbox bool `yaml:"sandbox" toml:"sandbox" json:"sandbox,omitempty"`
}

// Log configures diagnostics.
type Log struct {
	Level      string `yaml:"level" toml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	File       string `yaml:"file" toml:"file" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups" json:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress" toml:"compress" json:"compress,omitempty"`
	// Trace records every protocol line to this file as JSON.
	Trace string `yaml:"trace" toml:"trace" json:"trace,omitempty"`
}

// Serve configures the WebSocket bridge.
type Serve struct {
	Addr string `yaml:"addr" toml:"addr" json:"addr,omitempty"`
	// AllowedOrigins lists browser origins allowed to connect. Empty allows
	// same-host origins only.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" json:"allowed_origins,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend:        string(DefaultBackend),
		PermissionMode: string(permission.ModeDefault),
		Log:            Log{Level: "info", MaxSizeMB: 10, MaxBackups: 3},
		Serve:          Serve{Addr: DefaultListenAddr},
	}
}

// DefaultPath returns ~/.config/agentbridge/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agentbridge", "config.yaml"), nil
}

// Load reads path as TOML when it ends in .toml and as YAML otherwise.
// A missing file yields Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.PermissionMode == "" {
		c.PermissionMode = d.PermissionMode
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = d.Serve.Addr
	}
}

// Validate checks enumerated fields, durations and backend commands.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseKind(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if _, err := permission.ParseMode(c.PermissionMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := session.ParseThinkingLevel(c.ThinkingLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.permissionTimeout(); err != nil {
		errs = append(errs, err)
	}
	for name, b := range c.Backends {
		if _, err := ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("backends: %w", err))
		}
		if b.Command != "" {
			if _, err := ParseCommand(b.Command); err != nil {
				errs = append(errs, fmt.Errorf("backends.%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Config) permissionTimeout() (time.Duration, error) {
	if c.PermissionTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.PermissionTimeout)
	if err != nil {
		return 0, fmt.Errorf("permission_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("permission_timeout must be positive, got %s", d)
	}
	return d, nil
}

// ParseKind validates a backend family name.
func ParseKind(s string) (session.Kind, error) {
	switch k := session.Kind(s); k {
	case session.KindClaude, session.KindCodex, session.KindCursor:
		return k, nil
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// ParseCommand splits a command string into arguments using shell-aware
// tokenization, for example:
//   - "sh -c 'cd /dir && cmd'" -> ["sh", "-c", "cd /dir && cmd"]
//   - "claude --add-dir \"my dir\"" -> ["claude", "--add-dir", "my dir"]
func ParseCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return args, nil
}

// Adapter returns the adapter for kind, configured from its backend entry.
func (c *Config) Adapter(kind session.Kind) (session.Adapter, error) {
	b := c.Backends[string(kind)]
	switch kind {
	case session.KindClaude:
		return &claude.Adapter{PartialMessages: b.PartialMessages}, nil
	case session.KindCodex:
		return codex.New(), nil
	case session.KindCursor:
		return &cursor.Adapter{Trust: b.Trust, Sandbox: b.Sandbox}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

// SessionOptions returns the session options the file implies for kind.
// Callers append their own options after these to override them.
func (c *Config) SessionOptions(kind session.Kind) ([]session.Option, error) {
	mode, err := permission.ParseMode(c.PermissionMode)
	if err != nil {
		return nil, err
	}
	level, err := session.ParseThinkingLevel(c.ThinkingLevel)
	if err != nil {
		return nil, err
	}
	opts := []session.Option{
		session.WithPermissionMode(mode),
		session.WithThinkingLevel(level),
	}
	if c.WorkDir != "" {
		opts = append(opts, session.WithWorkDir(c.WorkDir))
	}
	if c.Model != "" {
		opts = append(opts, session.WithModel(c.Model))
	}
	timeout, err := c.permissionTimeout()
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		opts = append(opts, session.WithPermissionTimeout(timeout))
	}

	b := c.Backends[string(kind)]
	if b.Command != "" {
		args, err := ParseCommand(b.Command)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithCLIPath(args[0]))
		if len(args) > 1 {
			opts = append(opts, session.WithExtraArgs(args[1:]...))
		}
	}
	if len(b.Env) > 0 {
		opts = append(opts, session.WithEnv(b.Env...))
	}
	return opts, nil
}

// Schema returns the JSON Schema of the configuration file.
func Schema() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{DoNotReference: true}
	return json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
}
