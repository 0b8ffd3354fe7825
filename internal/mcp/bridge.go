package mcp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the registry's Tool
// interface. It never requires a linked user; user-scoped actions
// stay built-in.
type BridgeTool struct {
	serverName string
	original   mcpgo.Tool
	client     *mcpclient.Client
	name       string
	timeout    time.Duration
	connected  *atomic.Bool
}

// NewBridgeTool wraps an MCP tool discovered on serverName. prefix,
// when non-empty, namespaces the registry name to avoid collisions
// between servers.
func NewBridgeTool(serverName string, tool mcpgo.Tool, client *mcpclient.Client, prefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	name := tool.Name
	if prefix != "" {
		name = prefix + "_" + tool.Name
	}
	return &BridgeTool{
		serverName: serverName,
		original:   tool,
		client:     client,
		name:       name,
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
	}
}

func (b *BridgeTool) Name() string { return b.name }

// OriginalName returns the tool name as the server advertises it.
func (b *BridgeTool) OriginalName() string { return b.original.Name }

// ServerName returns the configured name of the backing server.
func (b *BridgeTool) ServerName() string { return b.serverName }

func (b *BridgeTool) Description() string {
	if b.original.Description != "" {
		return b.original.Description
	}
	return "Herramienta externa " + b.original.Name + " del servidor " + b.serverName + "."
}

// Parameters converts the server's JSON Schema into the catalog shape
// Phase A understands. Nested schemas flatten to their top-level type
// and description.
func (b *BridgeTool) Parameters() ai.ToolParams {
	in := b.original.InputSchema
	params := ai.ToolParams{
		Type:       in.Type,
		Properties: make(map[string]ai.ToolParam, len(in.Properties)),
		Required:   in.Required,
	}
	if params.Type == "" {
		params.Type = "object"
	}
	if params.Required == nil {
		params.Required = []string{}
	}
	for field, raw := range in.Properties {
		p := ai.ToolParam{Type: "string"}
		if spec, ok := raw.(map[string]any); ok {
			if t, ok := spec["type"].(string); ok && t != "" {
				p.Type = t
			}
			if d, ok := spec["description"].(string); ok {
				p.Description = d
			}
		}
		params.Properties[field] = p
	}
	return params
}

func (b *BridgeTool) RequiresContext() bool { return false }

// Execute proxies the call to the remote server and flattens its text
// content for Phase B to phrase.
func (b *BridgeTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	if !b.connected.Load() {
		return tools.ErrorResult(b.name, tools.CodeExternal,
			"Ese servicio externo anda caído, intenta de nuevo en un rato.")
	}

	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.original.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(cctx, req)
	if err != nil {
		slog.Warn("mcp.tool.call_failed",
			"server", b.serverName,
			"tool", b.original.Name,
			"error", err,
		)
		return tools.ErrorResult(b.name, tools.CodeExternal,
			"No pude consultar ese servicio, intenta de nuevo.").WithError(err)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		return tools.ErrorResult(b.name, tools.CodeExternal,
			"Ese servicio respondió con un error, intenta de nuevo.").
			WithError(errors.New(text))
	}

	return tools.OKResult(b.name, map[string]any{"output": text})
}

// flattenContent joins the text blocks of a tool result. Non-text
// content (images, resources) is dropped.
func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
