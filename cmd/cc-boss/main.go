package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "cc-boss",
		Short: "cc-boss - parallel coding-agent orchestrator",
		Long: `cc-boss dispatches natural-language coding tasks to a pool of coding-agent
subprocesses, each working in its own git worktree. Failed attempts are
retried, persistent failures spawn follow-up fix tasks, and plans can be
reviewed before any execution happens.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
