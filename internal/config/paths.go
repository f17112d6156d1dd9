package config

import (
	"os"
	"path/filepath"
)

const appName = "threadbridge"

// configNames are the file names looked up in a config directory, in merge
// order.
var configNames = []string{
	appName + ".json",
	appName + ".jsonc",
	appName + ".yaml",
	appName + ".yml",
}

// Paths are the per-user directories of threadbridge, laid out after the
// XDG base directory spec.
type Paths struct {
	Config string // $XDG_CONFIG_HOME/threadbridge
	Data   string // $XDG_DATA_HOME/threadbridge
	State  string // $XDG_STATE_HOME/threadbridge
}

// GetPaths resolves Paths from the environment.
func GetPaths() *Paths {
	home, _ := os.UserHomeDir()
	return &Paths{
		Config: xdgDir("XDG_CONFIG_HOME", home, ".config"),
		Data:   xdgDir("XDG_DATA_HOME", home, ".local", "share"),
		State:  xdgDir("XDG_STATE_HOME", home, ".local", "state"),
	}
}

func xdgDir(env, home string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{home}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// EnsurePaths creates the directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Config, p.Data, p.State} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath is the root of the snapshot store.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// LogPath is where log files go when logs are not printed.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "log")
}

// ConfigFiles lists the files Load reads for directory, lowest priority
// first: the global config, the project config, then THREADBRIDGE_CONFIG.
// The files need not exist.
func ConfigFiles(directory string) []string {
	var files []string
	global := GetPaths().Config
	for _, name := range configNames {
		files = append(files, filepath.Join(global, name))
	}
	if directory != "" {
		for _, name := range configNames {
			files = append(files, filepath.Join(directory, name))
		}
	}
	if path := os.Getenv("THREADBRIDGE_CONFIG"); path != "" {
		files = append(files, path)
	}
	return files
}
