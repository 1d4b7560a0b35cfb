// Package mcpserver exposes the sanduku tool registry over the Model
// Context Protocol. The server speaks MCP over stdio so agent hosts can
// launch sanduku as a subprocess; every registered tool is published
// with its JSON schema and executed through the same validation path as
// the HTTP gateway.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/sanduku/internal/tools"
)

// Server bridges the tool registry to an MCP stdio server.
type Server struct {
	registry *tools.Registry
	mcp      *server.MCPServer
	logger   *slog.Logger
}

// New creates an MCP server publishing every tool in the registry.
func New(reg *tools.Registry, version string, logger *slog.Logger) *Server {
	s := &Server{
		registry: reg,
		logger:   logger,
		mcp: server.NewMCPServer(
			"sanduku",
			version,
			server.WithToolCapabilities(false),
		),
	}

	for _, tool := range reg.All() {
		s.addTool(tool)
	}
	return s
}

// ServeStdio runs the MCP server on stdin/stdout until the stream closes
// or ctx is canceled.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("mcp server starting", slog.Int("tools", len(s.registry.List())))
	return server.ServeStdio(s.mcp, server.WithStdioContextFunc(
		func(context.Context) context.Context { return ctx },
	))
}

func (s *Server) addTool(tool tools.Tool) {
	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		// Schemas are static maps of strings; a marshal failure is a bug.
		panic(fmt.Sprintf("marshaling schema for %s: %v", tool.Name(), err))
	}

	s.mcp.AddTool(
		mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema),
		s.handler(tool),
	)
}

// handler adapts one tools.Tool to an MCP tool handler. Validation and
// sandbox errors are reported as tool errors, not protocol errors, so
// the calling model sees them and can correct its input.
func (s *Server) handler(tool tools.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := req.GetArguments()
		if params == nil {
			params = map[string]any{}
		}

		if err := tool.Validate(params); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		requestID := uuid.New().String()
		ctx = tools.ContextWithRequestID(ctx, requestID)

		s.logger.Info("mcp tool call",
			slog.String("tool", tool.Name()),
			slog.String("request_id", requestID),
		)

		res, err := tool.Execute(ctx, params)
		if err != nil {
			s.logger.Warn("mcp tool call failed",
				slog.String("tool", tool.Name()),
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
			return mcp.NewToolResultError(err.Error()), nil
		}

		if !res.Success {
			return mcp.NewToolResultError(res.Output), nil
		}
		return mcp.NewToolResultText(res.Output), nil
	}
}
