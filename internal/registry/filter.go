package registry

import (
	"context"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ReadOnlyEnv enables read-only discovery when set to true, 1 or yes.
const ReadOnlyEnv = "LEVERLAB_READ_ONLY"

// ReadOnlyFilter hides tools that change loaded datasets when read-only mode
// is on. Scenario sessions stay available since they never touch the data.
type ReadOnlyFilter struct {
	reg      *Registry
	readOnly bool
}

// NewReadOnlyFilter returns a filter backed by reg's mutating flags.
func NewReadOnlyFilter(reg *Registry, readOnly bool) *ReadOnlyFilter {
	return &ReadOnlyFilter{reg: reg, readOnly: readOnly}
}

// NewReadOnlyFilterFromEnv reads ReadOnlyEnv.
func NewReadOnlyFilterFromEnv(reg *Registry) *ReadOnlyFilter {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(ReadOnlyEnv)))
	return NewReadOnlyFilter(reg, v == "1" || v == "true" || v == "yes")
}

// FilterTools implements server tool filtering semantics.
func (f *ReadOnlyFilter) FilterTools(_ context.Context, tools []mcp.Tool) []mcp.Tool {
	if !f.readOnly {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if f.reg.Mutating(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}
