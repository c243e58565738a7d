package config

import (
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Agent.Token = expandEnvVars(cfg.Agent.Token)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = d.Agent.Command
		if len(cfg.Agent.Args) == 0 {
			cfg.Agent.Args = d.Agent.Args
		}
	}
	if cfg.Agent.ApprovalDecision == "" {
		cfg.Agent.ApprovalDecision = d.Agent.ApprovalDecision
	}
	if cfg.Agent.RequestTimeout == 0 {
		cfg.Agent.RequestTimeout = d.Agent.RequestTimeout
	}
	if cfg.Agent.InterruptGrace == 0 {
		cfg.Agent.InterruptGrace = d.Agent.InterruptGrace
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Chat.MentionLimit == 0 {
		cfg.Chat.MentionLimit = d.Chat.MentionLimit
	}
}

// applyEnvOverrides reads CODEXM_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if fields := strings.Fields(os.Getenv("CODEXM_AGENT_COMMAND")); len(fields) > 0 {
		cfg.Agent.Command = fields[0]
		cfg.Agent.Args = fields[1:]
	}
	if v := os.Getenv("CODEXM_AGENT_URL"); v != "" {
		cfg.Agent.URL = v
	}
	if v := os.Getenv("CODEXM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CODEXM_APPROVAL"); v != "" {
		cfg.Agent.ApprovalDecision = strings.ToLower(v)
	}
}
