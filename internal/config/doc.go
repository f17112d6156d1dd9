// Package config provides configuration loading, merging, and path management
// for threadbridge.
//
// # Configuration Loading
//
// Load searches for configuration in priority order, later sources
// overriding earlier ones:
//
//  1. Global config (~/.config/threadbridge/threadbridge.json, .jsonc, .yaml)
//  2. Project config in the given directory (threadbridge.json, .jsonc, .yaml, .yml)
//  3. THREADBRIDGE_CONFIG file
//  4. THREADBRIDGE_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// JSON files may carry comments (processed with tidwall/jsonc). YAML files are
// decoded with gopkg.in/yaml.v3 using the same field names.
//
// # Variable Interpolation
//
// Configuration files support two placeholders:
//   - {env:VAR_NAME} expands to an environment variable
//   - {file:path} expands to file contents (escaped for JSON files)
//
// Example:
//
//	{
//	  "maxSessions": 3,
//	  "sessionTimeout": "45m",
//	  "agent": {
//	    "command": "claude-bridge",
//	    "environment": {"ANTHROPIC_API_KEY": "{env:ANTHROPIC_API_KEY}"}
//	  }
//	}
//
// # Settings
//
// Resolve turns a loaded Config into Settings: durations parsed and defaults
// applied (5 sessions, 30m idle timeout, 5m warning, 5s subagent refresh).
//
// # Environment Variable Overrides
//
//   - THREADBRIDGE_MAX_SESSIONS
//   - THREADBRIDGE_SESSION_TIMEOUT
//   - THREADBRIDGE_AGENT_COMMAND (split on whitespace)
//   - THREADBRIDGE_ALLOWED_USERS (comma separated, added to the list)
//   - THREADBRIDGE_LOG_LEVEL
//
// # Path Management
//
// Paths follows the XDG Base Directory Specification:
//   - Data: ~/.local/share/threadbridge (XDG_DATA_HOME)
//   - Config: ~/.config/threadbridge (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/threadbridge (XDG_CACHE_HOME)
//   - State: ~/.local/state/threadbridge (XDG_STATE_HOME)
package config
