// Package mcptool implements ports.ToolInvoker over the Model Context
// Protocol, so workflow tool nodes can call out to MCP tool servers
// (balance lookups, identity checks, dispute filing) over stdio or SSE.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/relaydesk/switchboard/pkg/ports"
)

// caller is the slice of the MCP client the invoker needs; tests fake it.
type caller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Invoker executes workflow tools against one MCP server.
type Invoker struct {
	client caller
}

var _ ports.ToolInvoker = (*Invoker)(nil)

// NewInvoker wraps an already-initialized MCP client.
func NewInvoker(c caller) *Invoker {
	return &Invoker{client: c}
}

// NewStdioInvoker launches an MCP tool server as a subprocess and
// initializes the session.
func NewStdioInvoker(ctx context.Context, command string, env []string, args ...string) (*Invoker, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start MCP tool server: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "switchboard", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("MCP initialize failed: %w", err)
	}
	return &Invoker{client: c}, nil
}

// Invoke implements ports.ToolInvoker. The MCP result's text content is
// decoded as JSON when possible, otherwise returned verbatim.
func (i *Invoker) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := i.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tool %q call failed: %w", toolName, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return nil, fmt.Errorf("tool %q reported an error: %s", toolName, text)
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded, nil
	}
	return text, nil
}

func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
