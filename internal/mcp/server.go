// Package mcp exposes the guard to MCP clients over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/callguard/internal/engine"
)

// Config holds MCP server configuration.
type Config struct {
	Version string
}

// Server wraps the MCP SDK server around an engine.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *engine.Engine
}

// New creates an MCP server with the callguard tools registered.
func New(e *engine.Engine, cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{engine: e}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "callguard",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all callguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "callguard_session",
		Description: "Open a capability session for a task. Returns the readback token the agent must echo.",
	}, s.handleSession)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "callguard_ack",
		Description: "Echo the readback token of a session. A wrong token is recorded as por.mismatch.",
	}, s.handleAck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "callguard_evaluate",
		Description: "Check a proposed tool call against its session and policy. Blocked calls return the violations.",
	}, s.handleEvaluate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "callguard_catalog",
		Description: "List the tools in the catalog with their rings.",
	}, s.handleCatalog)
}
