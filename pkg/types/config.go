package types

// Config represents the threadbridge configuration.
// Durations are Go duration strings ("30m", "5s").
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Session limits
	MaxSessions     int    `json:"maxSessions,omitempty" yaml:"maxSessions,omitempty"`
	SessionTimeout  string `json:"sessionTimeout,omitempty" yaml:"sessionTimeout,omitempty"`
	WarningBefore   string `json:"warningBefore,omitempty" yaml:"warningBefore,omitempty"`
	ReclaimInterval string `json:"reclaimInterval,omitempty" yaml:"reclaimInterval,omitempty"`

	// Users allowed to start sessions. Empty means anyone.
	AllowedUsers []string `json:"allowedUsers,omitempty" yaml:"allowedUsers,omitempty"`

	// Worktree reclamation
	WorktreeRoot   string `json:"worktreeRoot,omitempty" yaml:"worktreeRoot,omitempty"`
	WorktreeMaxAge string `json:"worktreeMaxAge,omitempty" yaml:"worktreeMaxAge,omitempty"`

	// Subagent elapsed-time refresh interval
	SubagentPollInterval string `json:"subagentPollInterval,omitempty" yaml:"subagentPollInterval,omitempty"`

	// Content breaking thresholds
	Breaker *BreakerConfig `json:"breaker,omitempty" yaml:"breaker,omitempty"`

	// Agent process
	Agent *AgentConfig `json:"agent,omitempty" yaml:"agent,omitempty"`

	// HTTP server
	Server *ServerConfig `json:"server,omitempty" yaml:"server,omitempty"`

	// Log level (DEBUG|INFO|WARN|ERROR)
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
}

// BreakerConfig overrides the content breaker thresholds.
type BreakerConfig struct {
	SoftLimit int `json:"softLimit,omitempty" yaml:"softLimit,omitempty"`
	HardLimit int `json:"hardLimit,omitempty" yaml:"hardLimit,omitempty"`
	MaxLines  int `json:"maxLines,omitempty" yaml:"maxLines,omitempty"`
}

// AgentConfig describes how to spawn the agent process.
type AgentConfig struct {
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
}
