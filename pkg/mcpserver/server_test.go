//go:build !mcp

package mcpserver

import (
	"context"
	"testing"

	"github.com/protean-ai/protean/pkg/capability"
)

func TestStubCompilesAndRefusesToServe(t *testing.T) {
	s, err := New(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	reg, err := capability.OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ExportRegistry(reg); err != nil {
		t.Fatal(err)
	}
	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("stub Serve should error")
	}
}
