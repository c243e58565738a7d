package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Agent: AgentConfig{
			Command:          "codex",
			Args:             []string{"app-server"},
			ApprovalDecision: "decline",
			RequestTimeout:   60,
			InterruptGrace:   5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Chat: ChatConfig{
			MentionLimit: 16,
		},
	}
}
