package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the AutoFi gate MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckTransactionRisk = mcp.NewTool("check_transaction_risk",
	mcp.WithDescription(
		"Score a proposed blockchain transaction against the AutoFi risk engine "+
			"without submitting it. Returns the overall risk score (0-1), the risk "+
			"level, which factors triggered, and whether the transaction would be "+
			"blocked or sent to human approval. Use this before submit_transaction "+
			"to know the outcome in advance."),
	mcp.WithString("to",
		mcp.Required(),
		mcp.Description("Destination address (e.g. '0x1234...')")),
	mcp.WithString("value",
		mcp.Description("Transfer amount in wei as a base-10 string (e.g. '1000000000000000000' for 1 ETH). Defaults to 0.")),
	mcp.WithString("data",
		mcp.Description("Hex-encoded call data for contract interactions. Omit for plain transfers.")),
)

var ToolSubmitTransaction = mcp.NewTool("submit_transaction",
	mcp.WithDescription(
		"Submit a transaction through the AutoFi gate. Low-risk transactions are "+
			"queued for execution immediately. Risky transactions are held for human "+
			"approval; the result includes an approval ID you can poll with "+
			"get_approval_status. Transactions above the block threshold are refused "+
			"outright."),
	mcp.WithString("to",
		mcp.Required(),
		mcp.Description("Destination address (e.g. '0x1234...')")),
	mcp.WithString("value",
		mcp.Description("Transfer amount in wei as a base-10 string. Defaults to 0.")),
	mcp.WithString("data",
		mcp.Description("Hex-encoded call data for contract interactions. Omit for plain transfers.")),
	mcp.WithBoolean("simulate_only",
		mcp.Description("If true, the transaction stops after risk clearance and is never broadcast.")),
)

var ToolGetApprovalStatus = mcp.NewTool("get_approval_status",
	mcp.WithDescription(
		"Check the status of a pending approval request. Returns pending, approved, "+
			"rejected, cancelled, or expired, plus the risk snapshot and the deadline. "+
			"A request that passes its deadline flips to expired and can no longer "+
			"be approved."),
	mcp.WithString("approval_id",
		mcp.Required(),
		mcp.Description("The approval ID from a previous submit_transaction result (e.g. 'apr_...')")),
)

var ToolListPendingApprovals = mcp.NewTool("list_pending_approvals",
	mcp.WithDescription(
		"List transactions currently waiting for human approval, ordered by "+
			"priority (urgent first) and recency. Shows risk scores, deadlines, and "+
			"the transaction each request is holding."),
	mcp.WithString("priority",
		mcp.Description("Filter by priority"),
		mcp.Enum("urgent", "high", "medium", "normal")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of requests to return (default 20)")),
)
