package main

import (
	"github.com/spf13/cobra"

	bizmcp "github.com/run-bigpig/bizassist/internal/adk/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the assistant as an MCP server over stdio",
	Long: `Expose search_knowledge, send_message and lookup_lead as MCP tools.
Logs go to stderr so stdout stays reserved for the protocol.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.StartJobs(); err != nil {
			return err
		}
		return bizmcp.ServeStdio(ctx, a.MCPServer())
	},
}
