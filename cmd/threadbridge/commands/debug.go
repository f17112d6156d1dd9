package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/threadbridge/internal/config"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting threadbridge configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the merged configuration and resolved settings",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

func init() {
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	settings, err := config.Resolve(appConfig)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(map[string]any{
		"config":   appConfig,
		"settings": settings,
	}, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	paths := config.GetPaths()

	fmt.Println("threadbridge paths:")
	fmt.Println()
	fmt.Printf("  Config:   %s\n", paths.Config)
	fmt.Printf("  Data:     %s\n", paths.Data)
	fmt.Printf("  State:    %s\n", paths.State)
	fmt.Printf("  Storage:  %s\n", paths.StoragePath())
	fmt.Printf("  Logs:     %s\n", paths.LogPath())
	fmt.Println()
	fmt.Println("config files (lowest priority first):")
	for _, file := range config.ConfigFiles(workDir) {
		mark := " "
		if _, err := os.Stat(file); err == nil {
			mark = "*"
		}
		fmt.Printf("  %s %s\n", mark, file)
	}
	return nil
}
