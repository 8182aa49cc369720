package mcperr

import (
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNew_UsesCatalogMessageAndNextSteps(t *testing.T) {
	txt := resultText(t, New(InvalidDataset, ""))
	require.True(t, strings.HasPrefix(txt, "INVALID_DATASET: dataset not found or expired"))
	require.Contains(t, txt, "| nextSteps: Reload the workbook")
}

func TestWrapf_OverridesMessage(t *testing.T) {
	txt := resultText(t, Wrapf(UnknownLever, "lever %q", "Price"))
	require.True(t, strings.HasPrefix(txt, `UNKNOWN_LEVER: lever "Price" | nextSteps:`))
}

func TestFromText(t *testing.T) {
	require.Contains(t, resultText(t, FromText("")), "VALIDATION: invalid inputs")
	require.Contains(t, resultText(t, FromText("TIMEOUT: too slow")), "TIMEOUT: too slow | nextSteps:")
	require.Equal(t, "CUSTOM: kept", resultText(t, FromText("CUSTOM: kept")))
}

func TestEveryCodeHasGuidance(t *testing.T) {
	for code, e := range catalog {
		require.Equal(t, code, e.Code)
		require.NotEmpty(t, e.Message, string(code))
		require.NotEmpty(t, e.NextSteps, string(code))
	}
	_, ok := Lookup("NOPE")
	require.False(t, ok)
}
