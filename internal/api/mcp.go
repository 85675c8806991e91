package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer exposes the retrieval flow as an MCP tool so agent
// frontends can query policies without going through HTTP.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"policyrag",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("policyrag: retrieval over a user's ingested insurance policy documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("query_policies",
			mcp.WithDescription("Answer a natural-language question about a user's insurance policies, with source attributions."),
			mcp.WithNumber("user_id", mcp.Description("Owning user id"), mcp.Required()),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of PDF chunks to retrieve")),
		),
		mcpQueryPolicies(deps),
	)

	return s
}

func mcpQueryPolicies(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		userID, err := req.RequireInt("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		topK := req.GetInt("top_k", 0)

		resp, qerr := runQuery(ctx, deps, QueryRequest{
			UserID: int64(userID),
			Query:  query,
			TopK:   topK,
		})
		if qerr != nil {
			return mcpError(fmt.Sprintf("query failed: %s", qerr.message)), nil
		}

		// The raw provider response is an HTTP-audit concern; the tool
		// result carries just the answer and attributions.
		out, err := json.Marshal(struct {
			Answer  string   `json:"answer"`
			Sources []Source `json:"sources"`
		}{Answer: resp.Answer, Sources: resp.Sources})
		if err != nil {
			return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
		}

		return mcpText(string(out)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
