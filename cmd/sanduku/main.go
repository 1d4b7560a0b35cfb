// Sanduku is a sandboxed filesystem and shell toolbox for tool-calling agents.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sanduku",
	Short: "Sanduku, a sandboxed filesystem and shell toolbox for AI agents.",
	Long: `Sanduku confines file operations, text search, live tailing, and
allowlisted shell execution to a single sandbox root, and exposes them as
tools over HTTP (REST + SSE) or the Model Context Protocol (stdio).`,
	RunE:          runServe, // Default to HTTP serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
