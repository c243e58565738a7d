package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ParseConfigPath extended tests ---

func TestParseConfigPath_Extended(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "agent", []string{"agent"}, false},
		{"two segments", "agent.command", []string{"agent", "command"}, false},
		{"three segments", "agent.env.PATH", []string{"agent", "env", "PATH"}, false},
		{"empty", "", nil, true},
		{"empty segment", "agent..command", nil, true},
		{"leading dot", ".agent", nil, true},
		{"trailing dot", "agent.", nil, true},
		{"blocked __proto__", "foo.__proto__.bar", nil, true},
		{"blocked prototype", "prototype.x", nil, true},
		{"blocked constructor", "constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// --- GetValueAtPath extended tests ---

func TestGetValueAtPath_Extended(t *testing.T) {
	root := map[string]any{
		"agent": map[string]any{
			"command": "codex",
			"options": map[string]any{
				"mentionLimit": 16,
			},
		},
		"simple": "value",
	}

	tests := []struct {
		name string
		path []string
		want any
		ok   bool
	}{
		{"nested value", []string{"agent", "command"}, "codex", true},
		{"deeply nested", []string{"agent", "options", "mentionLimit"}, 16, true},
		{"top level", []string{"simple"}, "value", true},
		{"missing key", []string{"nonexistent"}, nil, false},
		{"missing nested", []string{"agent", "nonexistent"}, nil, false},
		{"non-map intermediate", []string{"simple", "sub"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := GetValueAtPath(root, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, val)
			}
		})
	}
}

// --- SetValueAtPath extended tests ---

func TestSetValueAtPath_Update(t *testing.T) {
	root := map[string]any{
		"agent": map[string]any{
			"requestTimeout": 60,
		},
	}

	SetValueAtPath(root, []string{"agent", "requestTimeout"}, 90)
	val, ok := GetValueAtPath(root, []string{"agent", "requestTimeout"})
	assert.True(t, ok)
	assert.Equal(t, 90, val)
}

func TestSetValueAtPath_CreatesIntermediates(t *testing.T) {
	root := map[string]any{}

	SetValueAtPath(root, []string{"a", "b", "c"}, "deep")
	val, ok := GetValueAtPath(root, []string{"a", "b", "c"})
	assert.True(t, ok)
	assert.Equal(t, "deep", val)
}

func TestSetValueAtPath_OverwritesNonMap(t *testing.T) {
	root := map[string]any{
		"agent": "string-not-map",
	}

	SetValueAtPath(root, []string{"agent", "requestTimeout"}, 30)
	val, ok := GetValueAtPath(root, []string{"agent", "requestTimeout"})
	assert.True(t, ok)
	assert.Equal(t, 30, val)
}

func TestSetValueAtPath_SingleKey(t *testing.T) {
	root := map[string]any{}

	SetValueAtPath(root, []string{"version"}, "1.0.0")
	assert.Equal(t, "1.0.0", root["version"])
}

// --- UnsetValueAtPath extended tests ---

func TestUnsetValueAtPath_PreserveSiblings(t *testing.T) {
	root := map[string]any{
		"agent": map[string]any{
			"requestTimeout": 60,
			"command":        "codex",
		},
	}

	ok := UnsetValueAtPath(root, []string{"agent", "requestTimeout"})
	assert.True(t, ok)

	_, found := GetValueAtPath(root, []string{"agent", "requestTimeout"})
	assert.False(t, found)

	val, found := GetValueAtPath(root, []string{"agent", "command"})
	assert.True(t, found)
	assert.Equal(t, "codex", val)
}

func TestUnsetValueAtPath_NotFound(t *testing.T) {
	root := map[string]any{
		"agent": map[string]any{
			"requestTimeout": 60,
		},
	}

	ok := UnsetValueAtPath(root, []string{"agent", "nonexistent"})
	assert.False(t, ok)
}

func TestUnsetValueAtPath_MissingIntermediate(t *testing.T) {
	root := map[string]any{}
	ok := UnsetValueAtPath(root, []string{"a", "b", "c"})
	assert.False(t, ok)
}

func TestUnsetValueAtPath_NonMapIntermediate(t *testing.T) {
	root := map[string]any{
		"agent": "string",
	}
	ok := UnsetValueAtPath(root, []string{"agent", "requestTimeout"})
	assert.False(t, ok)
}

// --- ResolvePaths tests ---

func TestResolvePaths_Defaults(t *testing.T) {
	t.Setenv("CODEXM_HOME", "")
	t.Setenv("CODEX_HOME", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".codexm"), paths.Base)
	assert.Equal(t, filepath.Join(home, ".codexm", "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(home, ".codexm", "data"), paths.Data)
	assert.Equal(t, filepath.Join(home, ".codexm", "data", "codexm.db"), paths.Database)
	assert.Equal(t, filepath.Join(home, ".codexm", "logs"), paths.Logs)
	assert.Equal(t, filepath.Join(home, ".codex"), paths.AgentHome)
	assert.Equal(t, filepath.Join(home, ".codex", "config.toml"), paths.SettingsFile())
	assert.Equal(t, filepath.Join(home, ".codex", "auth.json"), paths.CredentialsFile())
}

func TestResolvePaths_CustomHomes(t *testing.T) {
	t.Setenv("CODEXM_HOME", "/tmp/testcm")
	t.Setenv("CODEX_HOME", "/tmp/testcodex")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/testcm", paths.Base)
	assert.Equal(t, "/tmp/testcm/config.yaml", paths.Config)
	assert.Equal(t, "/tmp/testcm/data/codexm.db", paths.Database)
	assert.Equal(t, "/tmp/testcodex/config.toml", paths.SettingsFile())
}

func TestPaths_WithConfig(t *testing.T) {
	paths := PathsAt("/base", "/agent")
	cfg := Defaults()

	assert.Equal(t, paths, paths.WithConfig(cfg), "defaults change nothing")

	cfg.Storage.Database = "/elsewhere/db.sqlite"
	cfg.Agent.Home = "/other-agent"
	got := paths.WithConfig(cfg)
	assert.Equal(t, "/elsewhere/db.sqlite", got.Database)
	assert.Equal(t, "/other-agent/auth.json", got.CredentialsFile())
	assert.Equal(t, "/base/config.yaml", got.Config)
}

func TestEnsureDirs_CreatesAll(t *testing.T) {
	tmpDir := t.TempDir()
	paths := PathsAt(filepath.Join(tmpDir, "codexm"), filepath.Join(tmpDir, "codex"))

	err := paths.EnsureDirs()
	require.NoError(t, err)

	for _, dir := range []string{paths.Base, paths.Data, paths.Logs} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	_, err = os.Stat(paths.AgentHome)
	assert.True(t, os.IsNotExist(err), "the agent home belongs to the agent")
}

func TestEnsureDirs_Idempotent(t *testing.T) {
	paths := PathsAt(t.TempDir(), t.TempDir())

	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs()) // second call should succeed
}

// --- blockedKeys tests ---

func TestBlockedKeys(t *testing.T) {
	assert.True(t, blockedKeys["__proto__"])
	assert.True(t, blockedKeys["prototype"])
	assert.True(t, blockedKeys["constructor"])
	assert.False(t, blockedKeys["agent"])
	assert.False(t, blockedKeys["command"])
}
