package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	guardmcp "github.com/ppiankov/callguard/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs callguard as an MCP (Model Context Protocol) server over stdio.\nExposes tools: callguard_session, callguard_ack, callguard_evaluate, callguard_catalog.",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	srv := guardmcp.New(e, guardmcp.Config{Version: version})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	logger.Info().Str("mode", string(e.Mode())).Msg("callguard MCP server running on stdio")
	return srv.Run(ctx)
}
