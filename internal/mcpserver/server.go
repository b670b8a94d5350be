package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all gate tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("autofi-gate", "1.0.0")
	client := NewGateClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCheckTransactionRisk, h.HandleCheckTransactionRisk)
	s.AddTool(ToolSubmitTransaction, h.HandleSubmitTransaction)
	s.AddTool(ToolGetApprovalStatus, h.HandleGetApprovalStatus)
	s.AddTool(ToolListPendingApprovals, h.HandleListPendingApprovals)

	return s
}
