// Package commands provides the CLI commands for threadbridge.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/threadbridge/internal/config"
	"github.com/opencode-ai/threadbridge/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:   "threadbridge",
	Short: "threadbridge - run coding agents from chat threads",
	Long: `threadbridge connects chat threads to coding-agent processes.

Each thread that mentions the bot gets its own agent session; the agent's
output is rendered into the thread and reactions answer its questions.

Run 'threadbridge serve' to start the bridge and its HTTP API.`,
	Version:           Version,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before configuration")

	rootCmd.SetVersionTemplate(fmt.Sprintf("threadbridge %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads the env file and configures logging.
func setup(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	level := logLevel
	if level == "" {
		level = os.Getenv("THREADBRIDGE_LOG_LEVEL")
	}
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(level)
	cfg.Pretty = printLogs
	if !printLogs {
		cfg.LogToFile = true
		cfg.LogDir = config.GetPaths().LogPath()
		cfg.Output = io.Discard
	}
	logging.Init(cfg)
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
