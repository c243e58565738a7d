package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)
	assert.Empty(t, issues)
}

func TestValidate_MissingCommand(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.Command = ""
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Equal(t, "agent.command", issues[0].Path)

	cfg.Agent.URL = "ws://localhost:4000"
	assert.Empty(t, Validate(&cfg), "a remote agent needs no command")
}

func TestValidate_AgentURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"ws://localhost:4000", true},
		{"wss://agent.example.com/rpc", true},
		{"http://agent.example.com", false},
		{"localhost:4000", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg := Defaults()
			cfg.Agent.URL = tt.url
			issues := Validate(&cfg)
			if tt.valid {
				assert.Empty(t, issues)
			} else {
				assert.NotEmpty(t, issues)
				assert.Equal(t, "agent.url", issues[0].Path)
			}
		})
	}
}

func TestValidate_ApprovalDecision(t *testing.T) {
	for _, decision := range []string{"accept", "decline", ""} {
		cfg := Defaults()
		cfg.Agent.ApprovalDecision = decision
		assert.Empty(t, Validate(&cfg), "decision %q should be valid", decision)
	}

	cfg := Defaults()
	cfg.Agent.ApprovalDecision = "always"
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "agent.approvalDecision")
}

func TestValidate_NegativeDurations(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.RequestTimeout = -1
	cfg.Agent.InterruptGrace = -1

	var paths []string
	for _, i := range Validate(&cfg) {
		paths = append(paths, i.Path)
	}
	assert.Equal(t, []string{"agent.requestTimeout", "agent.interruptGrace"}, paths)
}

func TestValidate_LogLevels(t *testing.T) {
	for _, level := range []string{"silent", "fatal", "error", "warn", "info", "debug", "trace", ""} {
		cfg := Defaults()
		cfg.Logging.Level = level
		assert.Empty(t, Validate(&cfg), "level %q should be valid", level)
	}

	cfg := Defaults()
	cfg.Logging.Level = "verbose"
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Equal(t, "logging.level", issues[0].Path)
}

func TestValidate_MentionLimit(t *testing.T) {
	cfg := Defaults()
	cfg.Chat.MentionLimit = 0
	assert.Empty(t, Validate(&cfg))

	cfg.Chat.MentionLimit = 1000
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Equal(t, "chat.mentionLimit", issues[0].Path)
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.ApprovalDecision = "maybe"
	cfg.Logging.Level = "loud"

	issues := Validate(&cfg)
	assert.Len(t, issues, 2)
}

func TestValidationIssue_String(t *testing.T) {
	issue := ValidationIssue{
		Path:    "agent.url",
		Message: "must be a ws:// or wss:// URL",
	}
	assert.Equal(t, "agent.url: must be a ws:// or wss:// URL", issue.String())
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Message: "broken"}
	assert.Equal(t, "config: broken", err.Error())
}
