package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Settings is the subset of the Claude user settings file the policy reads.
type Settings struct {
	Permissions struct {
		Allow []string `json:"allow"`
		Deny  []string `json:"deny"`
	} `json:"permissions"`
}

// DefaultSettingsPath returns ~/.claude/settings.json.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

// LoadSettings reads path. A missing file yields empty settings.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseSettings(data)
}

// ParseSettings decodes a settings document.
func ParseSettings(data []byte) (*Settings, error) {
	s := &Settings{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// AllowSettings builds settings from an allow list.
func AllowSettings(patterns ...string) *Settings {
	s := &Settings{}
	s.Permissions.Allow = patterns
	return s
}

// IsToolAllowed reports whether any allow pattern matches the invocation.
// Patterns are "Tool", "Tool(arg)" for an exact argument, or
// "Tool(prefix:*)" for an argument prefix. Bash matches against command,
// Skill against skill, and other tools against the first of pattern, path,
// file_path, url or query.
func (s *Settings) IsToolAllowed(tool string, input json.RawMessage) bool {
	if s == nil || len(s.Permissions.Allow) == 0 {
		return false
	}
	var fields map[string]any
	if len(input) > 0 {
		_ = json.Unmarshal(input, &fields)
	}
	for _, p := range s.Permissions.Allow {
		if matchPattern(p, tool, fields) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, tool string, fields map[string]any) bool {
	open := strings.IndexByte(pattern, '(')
	if open < 0 {
		return pattern == tool
	}
	if !strings.HasSuffix(pattern, ")") || pattern[:open] != tool {
		return false
	}
	want := pattern[open+1 : len(pattern)-1]

	var got string
	switch tool {
	case "Bash":
		got = stringField(fields, "command")
	case "Skill":
		got = stringField(fields, "skill")
	default:
		got = stringField(fields, "pattern", "path", "file_path", "url", "query")
	}
	if prefix, ok := strings.CutSuffix(want, ":*"); ok {
		return strings.HasPrefix(got, prefix)
	}
	return got == want
}

// stringField returns the first key present in fields; a present key with a
// non-string value yields "".
func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		s, _ := v.(string)
		return s
	}
	return ""
}
