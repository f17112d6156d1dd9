package config

import (
	"fmt"
	"time"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

// Defaults for settings left unset in the configuration.
const (
	DefaultMaxSessions          = 5
	DefaultSessionTimeout       = 30 * time.Minute
	DefaultWarningBefore        = 5 * time.Minute
	DefaultReclaimInterval      = time.Minute
	DefaultWorktreeMaxAge       = 24 * time.Hour
	DefaultSubagentPollInterval = 5 * time.Second
	DefaultPort                 = 4590
)

// Settings is a Config with defaults applied and durations parsed.
type Settings struct {
	MaxSessions          int
	SessionTimeout       time.Duration
	WarningBefore        time.Duration
	ReclaimInterval      time.Duration
	WorktreeRoot         string
	WorktreeMaxAge       time.Duration
	SubagentPollInterval time.Duration
	AllowedUsers         []string
	SoftLimit            int
	HardLimit            int
	MaxLines             int
	AgentCommand         string
	AgentArgs            []string
	AgentEnv             map[string]string
	Hostname             string
	Port                 int
	LogLevel             string
}

// Resolve validates cfg and fills in defaults.
func Resolve(cfg *types.Config) (Settings, error) {
	s := Settings{
		MaxSessions:  cfg.MaxSessions,
		WorktreeRoot: cfg.WorktreeRoot,
		AllowedUsers: cfg.AllowedUsers,
		Hostname:     "127.0.0.1",
		Port:         DefaultPort,
		LogLevel:     cfg.LogLevel,
	}
	if s.MaxSessions <= 0 {
		s.MaxSessions = DefaultMaxSessions
	}

	durations := []struct {
		name  string
		value string
		def   time.Duration
		dst   *time.Duration
	}{
		{"sessionTimeout", cfg.SessionTimeout, DefaultSessionTimeout, &s.SessionTimeout},
		{"warningBefore", cfg.WarningBefore, DefaultWarningBefore, &s.WarningBefore},
		{"reclaimInterval", cfg.ReclaimInterval, DefaultReclaimInterval, &s.ReclaimInterval},
		{"worktreeMaxAge", cfg.WorktreeMaxAge, DefaultWorktreeMaxAge, &s.WorktreeMaxAge},
		{"subagentPollInterval", cfg.SubagentPollInterval, DefaultSubagentPollInterval, &s.SubagentPollInterval},
	}
	for _, d := range durations {
		*d.dst = d.def
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Settings{}, fmt.Errorf("config %s: %w", d.name, err)
		}
		if v <= 0 {
			return Settings{}, fmt.Errorf("config %s: must be positive, got %s", d.name, d.value)
		}
		*d.dst = v
	}
	if s.WarningBefore >= s.SessionTimeout {
		s.WarningBefore = s.SessionTimeout / 2
	}

	if b := cfg.Breaker; b != nil {
		s.SoftLimit, s.HardLimit, s.MaxLines = b.SoftLimit, b.HardLimit, b.MaxLines
	}

	if a := cfg.Agent; a != nil {
		s.AgentCommand = a.Command
		s.AgentArgs = a.Args
		s.AgentEnv = a.Environment
	}

	if srv := cfg.Server; srv != nil {
		if srv.Hostname != "" {
			s.Hostname = srv.Hostname
		}
		if srv.Port != 0 {
			s.Port = srv.Port
		}
	}
	return s, nil
}
