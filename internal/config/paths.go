package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultBaseDir  = ".codexm"
	defaultAgentDir = ".codex"
)

// Paths holds resolved filesystem paths for codexm data. Every component
// that touches disk receives its paths from here.
type Paths struct {
	Base      string // ~/.codexm
	Config    string // ~/.codexm/config.yaml
	Data      string // ~/.codexm/data
	Database  string // ~/.codexm/data/codexm.db
	Logs      string // ~/.codexm/logs
	AgentHome string // ~/.codex, holds the agent's config.toml and auth.json
}

// ResolvePaths computes all standard paths from the home directory.
// CODEXM_HOME overrides the base directory and CODEX_HOME the agent home.
func ResolvePaths() (Paths, error) {
	home, err := os.UserHomeDir()
	base := os.Getenv("CODEXM_HOME")
	if base == "" {
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}
	agentHome := os.Getenv("CODEX_HOME")
	if agentHome == "" {
		if err != nil {
			return Paths{}, err
		}
		agentHome = filepath.Join(home, defaultAgentDir)
	}
	return PathsAt(base, agentHome), nil
}

// PathsAt lays out the standard paths under base.
func PathsAt(base, agentHome string) Paths {
	data := filepath.Join(base, "data")
	return Paths{
		Base:      base,
		Config:    filepath.Join(base, "config.yaml"),
		Data:      data,
		Database:  filepath.Join(data, "codexm.db"),
		Logs:      filepath.Join(base, "logs"),
		AgentHome: agentHome,
	}
}

// WithConfig applies config overrides to the resolved paths.
func (p Paths) WithConfig(cfg Config) Paths {
	if cfg.Storage.Database != "" {
		p.Database = cfg.Storage.Database
	}
	if cfg.Agent.Home != "" {
		p.AgentHome = cfg.Agent.Home
	}
	return p
}

// SettingsFile is the agent's TOML settings file.
func (p Paths) SettingsFile() string {
	return filepath.Join(p.AgentHome, "config.toml")
}

// CredentialsFile is where the agent stores its login.
func (p Paths) CredentialsFile() string {
	return filepath.Join(p.AgentHome, "auth.json")
}

// EnsureDirs creates codexm's own directories if they don't exist.
func (p Paths) EnsureDirs() error {
	dirs := []string{p.Base, p.Data, p.Logs}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// blockedKeys are keys that must never appear in config paths.
var blockedKeys = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ParseConfigPath splits a dot-separated config path into segments.
// Returns an error if any segment is blocked or empty.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
		if blockedKeys[p] {
			return nil, &ConfigError{Message: "config path contains blocked key: " + p}
		}
	}
	return parts, nil
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath sets a value in a nested map, creating intermediate maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	current[path[len(path)-1]] = value
}

// UnsetValueAtPath removes a value at the given path. Returns true if removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			return false
		}
		m, ok := next.(map[string]any)
		if !ok {
			return false
		}
		current = m
	}
	last := path[len(path)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)
	return true
}
