//go:build mcp

// Package mcpserver exports the global capability registry over the Model
// Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/protean-ai/protean/pkg/capability"
	"github.com/protean-ai/protean/pkg/errmodel"
)

// Server wraps the SDK server.
type Server struct {
	srv *mcp.Server
}

// New creates an MCP server identifying itself with the given version.
func New(_ context.Context, version string) (*Server, error) {
	return &Server{
		srv: mcp.NewServer(&mcp.Implementation{Name: "protean", Version: version}, nil),
	}, nil
}

// ExportRegistry publishes every registered capability as an MCP tool.
// Invocations materialize a fresh unit per call, so registry edits made
// after export still take effect.
func (s *Server) ExportRegistry(reg *capability.Registry) error {
	for _, d := range reg.List() {
		unit, err := capability.NewUnit(d, 0)
		if err != nil {
			return fmt.Errorf("mcpserver: export %q: %w", d.Name, err)
		}
		var schema jsonschema.Schema
		if err := json.Unmarshal(unit.Schema(), &schema); err != nil {
			return fmt.Errorf("mcpserver: schema for %q: %w", d.Name, err)
		}
		name := d.Name
		mcp.AddTool(s.srv, &mcp.Tool{
			Name:        name,
			Description: d.Description,
			InputSchema: &schema,
		}, func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
			u, err := capability.Materialize(reg, name, 0)
			if err != nil {
				return nil, errmodel.Payload(err), nil
			}
			out, err := u.Invoke(ctx, args)
			if err != nil {
				return nil, errmodel.Payload(err), nil
			}
			_ = reg.IncrementUsage(name)
			return nil, map[string]any{
				"success": true,
				"result":  out.Result,
				"log":     out.Log,
			}, nil
		})
	}
	return nil
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}
