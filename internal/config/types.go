package config

import "time"

// Config is the root configuration for codexm.
type Config struct {
	Agent   AgentConfig   `yaml:"agent,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`
	Chat    ChatConfig    `yaml:"chat,omitempty"`
}

// AgentConfig selects and tunes the agent connection. When URL is set the
// agent is reached over a WebSocket; otherwise Command is spawned locally.
type AgentConfig struct {
	Command          string   `yaml:"command,omitempty"`
	Args             []string `yaml:"args,omitempty"`
	Dir              string   `yaml:"dir,omitempty"`
	URL              string   `yaml:"url,omitempty"`
	Token            string   `yaml:"token,omitempty"`
	Home             string   `yaml:"home,omitempty"`             // agent home holding config.toml and auth.json
	ApprovalDecision string   `yaml:"approvalDecision,omitempty"` // "accept" | "decline"
	RequestTimeout   int      `yaml:"requestTimeout,omitempty"`   // seconds
	InterruptGrace   int      `yaml:"interruptGrace,omitempty"`   // seconds
}

// Remote reports whether the agent is reached over the network.
func (a AgentConfig) Remote() bool {
	return a.URL != ""
}

// Timeout returns RequestTimeout as a duration.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.RequestTimeout) * time.Second
}

// Grace returns InterruptGrace as a duration.
func (a AgentConfig) Grace() time.Duration {
	return time.Duration(a.InterruptGrace) * time.Second
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File  string `yaml:"file,omitempty"`
}

// StorageConfig locates the session database.
type StorageConfig struct {
	Database string `yaml:"database,omitempty"`
}

// ChatConfig tunes the interactive chat.
type ChatConfig struct {
	MentionLimit int  `yaml:"mentionLimit,omitempty"`
	ShowStderr   bool `yaml:"showStderr,omitempty"`
}
