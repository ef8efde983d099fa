package main

import (
	"context"

	"github.com/dontdude/pystudio/internal/mcpserver"
	"github.com/dontdude/pystudio/internal/session"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the session as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Confirmation prompts would corrupt the protocol stream.
		assumeYes = true
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			return mcpserver.Serve(ctx, s)
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
