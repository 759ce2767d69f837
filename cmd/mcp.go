package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rgoodman/agentcal/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This allows Claude Code to query agentcal natively for calibration
history and live agent scoring status. Configure in Claude Code with:

  {
    "mcpServers": {
      "agentcal": { "command": "agentcal", "args": ["mcp"] }
    }
  }

Available tools: agentcal_list_runs, agentcal_show_run,
agentcal_agent_status, agentcal_criteria`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		be, err := getBackend()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(s, be)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
