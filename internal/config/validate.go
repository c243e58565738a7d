package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Agent validation
	if cfg.Agent.URL == "" && cfg.Agent.Command == "" {
		issues = append(issues, ValidationIssue{
			Path:    "agent.command",
			Message: "command is required when agent.url is not set",
		})
	}
	if cfg.Agent.URL != "" {
		u, err := url.Parse(cfg.Agent.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			issues = append(issues, ValidationIssue{
				Path:    "agent.url",
				Message: fmt.Sprintf("must be a ws:// or wss:// URL, got %q", cfg.Agent.URL),
			})
		}
	}

	validDecisions := []string{"accept", "decline"}
	if cfg.Agent.ApprovalDecision != "" && !slices.Contains(validDecisions, cfg.Agent.ApprovalDecision) {
		issues = append(issues, ValidationIssue{
			Path:    "agent.approvalDecision",
			Message: fmt.Sprintf("must be one of %v, got %q", validDecisions, cfg.Agent.ApprovalDecision),
		})
	}
	if cfg.Agent.RequestTimeout < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.requestTimeout",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Agent.RequestTimeout),
		})
	}
	if cfg.Agent.InterruptGrace < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.interruptGrace",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Agent.InterruptGrace),
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	// Chat validation
	if cfg.Chat.MentionLimit < 0 || cfg.Chat.MentionLimit > 256 {
		issues = append(issues, ValidationIssue{
			Path:    "chat.mentionLimit",
			Message: fmt.Sprintf("must be 0-256, got %d", cfg.Chat.MentionLimit),
		})
	}

	return issues
}
