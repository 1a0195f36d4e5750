package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Global flag values.
var (
	configPath string
	logLevel   string
	logFormat  string
	rootDir    string
	noColor    bool
)

// rootCmd is the base command for devtools-mcp.
var rootCmd = &cobra.Command{
	Use:   "devtools-mcp",
	Short: "Developer tools for AI assistants over the Model Context Protocol",
	Long: `devtools-mcp exposes code search, dependency manifest analysis and package
documentation lookup to MCP clients. It speaks newline-delimited JSON-RPC over
stdio, or over Server-Sent Events with a POST endpoint for client messages.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default ./devtools-mcp.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "workspace root the tools are confined to (default working directory)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)
}
