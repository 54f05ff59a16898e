package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mcp-colab application
var rootCmd = &cobra.Command{
	Use:   "mcp-colab",
	Short: "MCP server that gives AI assistants access to Google Colab",
	Long: `mcp-colab is an MCP (Model Context Protocol) server that lets AI
assistants create Google Colab notebooks, execute code on Colab runtimes
and manage the browser sessions this requires.

It can run as:
  - An MCP server over stdio for local assistants (default)
  - An MCP server over streamable HTTP with Google OAuth for remote access

Run 'mcp-colab setup' once to configure Google API credentials.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcp-colab version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSetupCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
