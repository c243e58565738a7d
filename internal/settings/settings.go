// Package settings reads and edits the agent's TOML settings file. Only the
// keys codexm manages are touched; everything else in the file is kept.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ApprovalPolicies are the values accepted for approval_policy.
var ApprovalPolicies = []string{"untrusted", "on-failure", "on-request", "never"}

// Settings is the subset of the agent settings codexm reads and writes.
type Settings struct {
	Model          string          `toml:"model"`
	ApprovalPolicy string          `toml:"approval_policy"`
	Personality    string          `toml:"personality"`
	Features       map[string]bool `toml:"features"`
}

// FeatureNames returns the configured feature flags in sorted order.
func (s Settings) FeatureNames() []string {
	names := make([]string, 0, len(s.Features))
	for name := range s.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// File is a settings file on disk. Writes are serialized.
type File struct {
	path string
	mu   sync.Mutex
}

// Open returns a handle to the settings file at path. The file need not exist.
func Open(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Load reads the file. A missing file yields zero settings.
func (f *File) Load() (Settings, error) {
	var s Settings
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if _, err := toml.DecodeFile(f.path, &s); err != nil {
		return s, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return s, nil
}

// SetModel stores the default model.
func (f *File) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("model id is required")
	}
	return f.update(func(raw map[string]any) { raw["model"] = model })
}

// SetApprovalPolicy stores the approval policy.
func (f *File) SetApprovalPolicy(policy string) error {
	if !slices.Contains(ApprovalPolicies, policy) {
		return fmt.Errorf("approval policy must be one of %s", strings.Join(ApprovalPolicies, ", "))
	}
	return f.update(func(raw map[string]any) { raw["approval_policy"] = policy })
}

// SetPersonality stores the response personality.
func (f *File) SetPersonality(style string) error {
	style = strings.TrimSpace(style)
	if style == "" || strings.ContainsAny(style, " \t\n") {
		return errors.New("personality must be a single word")
	}
	return f.update(func(raw map[string]any) { raw["personality"] = style })
}

// SetFeature turns an experimental feature on or off.
func (f *File) SetFeature(name string, on bool) error {
	if name == "" {
		return errors.New("feature name is required")
	}
	return f.update(func(raw map[string]any) {
		features, ok := raw["features"].(map[string]any)
		if !ok {
			features = map[string]any{}
			raw["features"] = features
		}
		features[name] = on
	})
}

// update applies fn to the decoded file and writes the result back
// through a temp file and rename.
func (f *File) update(fn func(raw map[string]any)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw := map[string]any{}
	if _, err := os.Stat(f.path); err == nil {
		if _, err := toml.DecodeFile(f.path, &raw); err != nil {
			return fmt.Errorf("failed to parse settings file: %w", err)
		}
	}
	fn(raw)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// RemoveCredentials deletes the agent's stored login. It reports whether a
// file was removed.
func RemoveCredentials(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("removing credentials: %w", err)
	}
	return true, nil
}
