package registry

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vinodismyname/leverlab/internal/datasets"
	"github.com/vinodismyname/leverlab/internal/security"
	"github.com/vinodismyname/leverlab/internal/simulation"
	"github.com/vinodismyname/leverlab/pkg/mcperr"
)

// codeFor maps a service error to its catalog code, falling back to fallback.
func codeFor(err error, fallback mcperr.Code) mcperr.Code {
	switch {
	case errors.Is(err, datasets.ErrDatasetNotFound):
		return mcperr.InvalidDataset
	case errors.Is(err, simulation.ErrSessionNotFound):
		return mcperr.InvalidSession
	case errors.Is(err, simulation.ErrUnknownLever):
		return mcperr.UnknownLever
	case errors.Is(err, simulation.ErrUnknownPeriod):
		return mcperr.UnknownPeriod
	case errors.Is(err, simulation.ErrStaleCursor):
		return mcperr.CursorInvalid
	case errors.Is(err, simulation.ErrInvalidNaming):
		return mcperr.NamingInvalid
	case errors.Is(err, datasets.ErrCapacity), errors.Is(err, simulation.ErrTooManySessions):
		return mcperr.LimitExceeded
	case errors.Is(err, datasets.ErrUnsupportedFormat), errors.Is(err, security.ErrUnsupportedExtension):
		return mcperr.UnsupportedFormat
	case errors.Is(err, datasets.ErrNoSheets):
		return mcperr.NoSheets
	case errors.Is(err, security.ErrNotAllowed):
		return mcperr.PermissionDenied
	case errors.Is(err, security.ErrFileTooLarge):
		return mcperr.FileTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return mcperr.Timeout
	}
	return fallback
}

// toolError converts err into a normalized MCP error result.
func toolError(err error, fallback mcperr.Code) *mcp.CallToolResult {
	code := codeFor(err, fallback)
	if code == mcperr.Timeout {
		return mcperr.New(code, "")
	}
	return mcperr.New(code, err.Error())
}
