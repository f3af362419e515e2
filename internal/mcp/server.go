// Package mcp serves the bookmark tools over the Model Context Protocol.
//
// The protocol layer is github.com/mark3labs/mcp-go: it owns the JSON-RPC
// framing on stdin/stdout, the initialize handshake, ping and tools/list.
// This package registers the tool definitions and turns every tools/call
// into a tools.Handler call whose envelope becomes the text result.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pdmimpulse/raindrop-mcp/internal/tools"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

// Server identity reported by initialize
const (
	ServerName    = "raindrop-mcp"
	ServerVersion = "0.1.0"
)

// JSON-RPC error codes
const (
	CodeParseError     = mcpgo.PARSE_ERROR
	CodeInvalidRequest = mcpgo.INVALID_REQUEST
	CodeMethodNotFound = mcpgo.METHOD_NOT_FOUND
	CodeInvalidParams  = mcpgo.INVALID_PARAMS
	CodeInternalError  = mcpgo.INTERNAL_ERROR
)

// ToolCaller executes a named tool
type ToolCaller interface {
	Call(ctx context.Context, name string, args tools.Args) tools.Envelope
}

// Server answers MCP requests
type Server struct {
	caller ToolCaller
	mcp    *server.MCPServer
	logger *utils.Logger
	tools  int
}

// NewServer creates a Server exposing definitions and dispatching calls to
// caller
func NewServer(caller ToolCaller, definitions []tools.Definition, logger *utils.Logger) (*Server, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &Server{
		caller: caller,
		logger: logger.Component("mcp"),
		tools:  len(definitions),
	}

	s.mcp = server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(s.hooks()),
	)

	for _, def := range definitions {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("encode input schema of %s: %w", def.Name, err)
		}
		s.mcp.AddTool(mcpgo.NewToolWithRawSchema(def.Name, def.Description, schema), s.toolHandler(def.Name))
	}
	return s, nil
}

func (s *Server) hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeAny(func(ctx context.Context, id any, method mcpgo.MCPMethod, message any) {
		s.logger.Debug("Handling request", map[string]interface{}{
			"method": string(method),
			"id":     id,
		})
	})
	hooks.AddOnError(func(ctx context.Context, id any, method mcpgo.MCPMethod, message any, err error) {
		s.logger.Warn("Request failed", map[string]interface{}{
			"method": string(method),
			"id":     id,
			"error":  err.Error(),
		})
	})
	return hooks
}

// toolHandler renders the envelope of one tool as indented JSON text. Tool
// failures are carried in the envelope and flagged with isError, never as
// protocol errors.
func (s *Server) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		ctx = utils.WithRequestID(ctx, utils.NewRequestID())
		env := s.caller.Call(ctx, name, tools.Args(req.GetArguments()))

		text, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode tool result: %w", err)
		}
		result := mcpgo.NewToolResultText(string(text))
		result.IsError = env.IsError()
		return result, nil
	}
}

// HandleMessage answers a single JSON-RPC message. The result is nil for
// notifications.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcpgo.JSONRPCMessage {
	return s.mcp.HandleMessage(ctx, message)
}

// Serve reads requests from in until EOF or ctx is done, writing responses
// to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.logger.Zerolog(), "", 0))

	s.logger.Info("MCP server listening", map[string]interface{}{
		"tools": s.tools,
	})

	err := stdio.Listen(ctx, in, out)
	switch {
	case err == nil:
		s.logger.Info("Input closed, MCP server stopping", nil)
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		s.logger.Info("MCP server stopping", nil)
		return nil
	}
	return fmt.Errorf("serve mcp: %w", err)
}
