package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/threadbridge/)
// 2. Project config (threadbridge.json[c], threadbridge.yaml)
// 3. THREADBRIDGE_CONFIG file
// 4. THREADBRIDGE_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1-3. Global, project and THREADBRIDGE_CONFIG files
	for _, path := range ConfigFiles(directory) {
		loadOnce(path, filepath.Dir(path))
	}

	// 4. THREADBRIDGE_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("THREADBRIDGE_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
// The format is chosen by extension: .yaml/.yml, otherwise JSON with comments.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	var fileConfig types.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data = interpolate(data, baseDir, false)
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	default:
		// Strip JSONC comments using tidwall/jsonc
		data = jsonc.ToJSON(data)
		data = interpolate(data, baseDir, true)
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders. File
// contents are escaped for a JSON string when escapeJSON is set.
func interpolate(data []byte, baseDir string, escapeJSON bool) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		text := strings.TrimRight(string(content), "\n")
		if !escapeJSON {
			return text
		}

		escaped := strings.ReplaceAll(text, "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.MaxSessions != 0 {
		target.MaxSessions = source.MaxSessions
	}
	if source.SessionTimeout != "" {
		target.SessionTimeout = source.SessionTimeout
	}
	if source.WarningBefore != "" {
		target.WarningBefore = source.WarningBefore
	}
	if source.ReclaimInterval != "" {
		target.ReclaimInterval = source.ReclaimInterval
	}
	if source.WorktreeRoot != "" {
		target.WorktreeRoot = source.WorktreeRoot
	}
	if source.WorktreeMaxAge != "" {
		target.WorktreeMaxAge = source.WorktreeMaxAge
	}
	if source.SubagentPollInterval != "" {
		target.SubagentPollInterval = source.SubagentPollInterval
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	// Merge allowed users
	if len(source.AllowedUsers) > 0 {
		target.AllowedUsers = appendUnique(target.AllowedUsers, source.AllowedUsers...)
	}

	// Merge breaker thresholds field by field
	if source.Breaker != nil {
		if target.Breaker == nil {
			target.Breaker = &types.BreakerConfig{}
		}
		if source.Breaker.SoftLimit != 0 {
			target.Breaker.SoftLimit = source.Breaker.SoftLimit
		}
		if source.Breaker.HardLimit != 0 {
			target.Breaker.HardLimit = source.Breaker.HardLimit
		}
		if source.Breaker.MaxLines != 0 {
			target.Breaker.MaxLines = source.Breaker.MaxLines
		}
	}

	// Merge agent
	if source.Agent != nil {
		if target.Agent == nil {
			target.Agent = &types.AgentConfig{}
		}
		if source.Agent.Command != "" {
			target.Agent.Command = source.Agent.Command
			target.Agent.Args = source.Agent.Args
		}
		if source.Agent.Environment != nil {
			if target.Agent.Environment == nil {
				target.Agent.Environment = make(map[string]string)
			}
			for k, v := range source.Agent.Environment {
				target.Agent.Environment[k] = v
			}
		}
	}

	// Merge server
	if source.Server != nil {
		if target.Server == nil {
			target.Server = &types.ServerConfig{}
		}
		if source.Server.Hostname != "" {
			target.Server.Hostname = source.Server.Hostname
		}
		if source.Server.Port != 0 {
			target.Server.Port = source.Server.Port
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("THREADBRIDGE_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxSessions = n
		}
	}

	if v := os.Getenv("THREADBRIDGE_SESSION_TIMEOUT"); v != "" {
		config.SessionTimeout = v
	}

	if v := os.Getenv("THREADBRIDGE_AGENT_COMMAND"); v != "" {
		fields := strings.Fields(v)
		if config.Agent == nil {
			config.Agent = &types.AgentConfig{}
		}
		config.Agent.Command = fields[0]
		config.Agent.Args = fields[1:]
	}

	if v := os.Getenv("THREADBRIDGE_ALLOWED_USERS"); v != "" {
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				config.AllowedUsers = appendUnique(config.AllowedUsers, u)
			}
		}
	}

	if v := os.Getenv("THREADBRIDGE_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
