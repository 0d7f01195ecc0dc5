// Package commands provides the CLI commands for linguabridge.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	pretty   bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "linguabridge",
	Short: "linguabridge - session bridge for agent-driven language tutoring",
	Long: `linguabridge mediates a tutoring conversation between a real-time
client and an external agent process. It owns the session lifecycle,
feeds client messages into the agent's input stream, relays the agent's
narration and tool requests, and commits the durable lesson notes when a
session ends.

Run 'linguabridge serve' to start the server.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human-readable log output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("linguabridge %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
