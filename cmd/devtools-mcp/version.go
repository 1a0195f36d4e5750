package main

import (
	"fmt"

	"github.com/spf13/cobra"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

// versionCmd prints the devtools-mcp version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "devtools-mcp %s (protocol %s)\n", Version, mcp.ProtocolVersion)
	},
}
