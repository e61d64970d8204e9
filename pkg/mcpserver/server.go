//go:build !mcp

// Package mcpserver exports the global capability registry over the Model
// Context Protocol. The real server lives behind the mcp build tag; this
// stub lets the rest of the repo compile without the SDK wired in.
package mcpserver

import (
	"context"
	"errors"

	"github.com/protean-ai/protean/pkg/capability"
)

// Server is a placeholder when the mcp build tag is not set.
type Server struct{}

// New creates an MCP server (no-op without the mcp tag).
func New(_ context.Context, _ string) (*Server, error) { return &Server{}, nil }

// ExportRegistry would publish every registered capability as an MCP tool.
func (s *Server) ExportRegistry(_ *capability.Registry) error { return nil }

// Serve starts the server (always an error without the mcp tag).
func (s *Server) Serve(_ context.Context) error {
	return errors.New("mcp server not enabled in this build")
}
