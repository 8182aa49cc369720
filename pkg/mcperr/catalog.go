package mcperr

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Code is the stable prefix of every tool error text, e.g. "UNKNOWN_LEVER".
type Code string

// Input errors.
const (
	Validation        Code = "VALIDATION"
	InvalidDataset    Code = "INVALID_DATASET"
	InvalidSession    Code = "INVALID_SESSION"
	UnknownLever      Code = "UNKNOWN_LEVER"
	UnknownPeriod     Code = "UNKNOWN_PERIOD"
	CursorInvalid     Code = "CURSOR_INVALID"
	CursorBuildFailed Code = "CURSOR_BUILD_FAILED"
	NamingInvalid     Code = "NAMING_INVALID"
)

// Capacity errors.
const (
	BusyResource    Code = "BUSY_RESOURCE"
	Timeout         Code = "TIMEOUT"
	LimitExceeded   Code = "LIMIT_EXCEEDED"
	PayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	FileTooLarge    Code = "FILE_TOO_LARGE"
)

// Workbook and computation errors.
const (
	LoadFailed        Code = "LOAD_FAILED"
	NoSheets          Code = "NO_SHEETS"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	PermissionDenied  Code = "PERMISSION_DENIED"
	ScenarioFailed    Code = "SCENARIO_FAILED"
)

// Entry is the catalog record of a code.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

// Format renders "CODE: message | nextSteps: a; b". An empty msg falls back
// to the entry's default message.
func (e Entry) Format(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = e.Message
	}
	var b strings.Builder
	b.WriteString(string(e.Code))
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if len(e.NextSteps) > 0 {
		b.WriteString(" | nextSteps: ")
		b.WriteString(strings.Join(e.NextSteps, "; "))
	}
	return b.String()
}

func entry(code Code, msg string, retry bool, next ...string) Entry {
	return Entry{Code: code, Message: msg, Retryable: retry, NextSteps: next}
}

var catalog = map[Code]Entry{
	Validation:        entry(Validation, "invalid inputs", true, "Correct the inputs per schema and retry", "See examples in tool description"),
	InvalidDataset:    entry(InvalidDataset, "dataset not found or expired", true, "Reload the workbook with load_dataset and retry"),
	InvalidSession:    entry(InvalidSession, "scenario session not found", true, "Call open_scenario for the dataset and retry"),
	UnknownLever:      entry(UnknownLever, "lever not declared for dataset", true, "Call list_levers to see valid lever ids"),
	UnknownPeriod:     entry(UnknownPeriod, "period not present in dataset", true, "Call dataset_summary to see available periods"),
	CursorInvalid:     entry(CursorInvalid, "cursor is invalid for current context", true, "Restart pagination from the first page", "Replacing the naming table invalidates cursors"),
	CursorBuildFailed: entry(CursorBuildFailed, "failed to encode next page cursor", true, "Retry or request a smaller page"),
	NamingInvalid:     entry(NamingInvalid, "naming table is invalid", true, "Provide a header row with a Fact_Margin Naming column"),

	BusyResource:    entry(BusyResource, "concurrent request limit reached", true, "Retry after a short delay"),
	Timeout:         entry(Timeout, "operation exceeded configured time limit", true, "Restrict periods or increase operation_timeout"),
	LimitExceeded:   entry(LimitExceeded, "operation exceeded configured limits", true, "Close unused datasets with close_dataset and retry"),
	PayloadTooLarge: entry(PayloadTooLarge, "payload exceeds configured size", true, "Lower page size, restrict periods or omit include_nodes"),
	FileTooLarge:    entry(FileTooLarge, "workbook exceeds configured size", false, "Use a smaller workbook or raise max_file_bytes"),

	LoadFailed:        entry(LoadFailed, "failed to load dataset", true, "Verify path, permissions, and sheet layout"),
	NoSheets:          entry(NoSheets, "workbook contains no recognised sheets", false, "Name sheets Driver Tree, Accounting, Naming, Dim* or add a period column"),
	UnsupportedFormat: entry(UnsupportedFormat, "unsupported workbook format", false, "Convert to .xlsx and retry"),
	PermissionDenied:  entry(PermissionDenied, "path is outside the allowed directories", false, "Move the workbook into an allowed directory"),
	ScenarioFailed:    entry(ScenarioFailed, "scenario computation failed", true, "Reset levers and retry"),
}

// Lookup returns the catalog entry for code.
func Lookup(code Code) (Entry, bool) {
	e, ok := catalog[code]
	return e, ok
}

// Text renders code and message. Codes outside the catalog are kept as-is
// without guidance.
func Text(code Code, message string) string {
	if e, ok := catalog[code]; ok {
		return e.Format(message)
	}
	return Entry{Code: code}.Format(message)
}

// New returns a tool error result for code.
func New(code Code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(Text(code, message))
}

// Wrapf is New with a formatted message.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return New(code, fmt.Sprintf(format, args...))
}

// FromText splits "CODE: message", as produced by validation helpers, and
// returns it as a tool error enriched with guidance.
func FromText(text string) *mcp.CallToolResult {
	head, msg, _ := strings.Cut(strings.TrimSpace(text), ":")
	code := Code(strings.TrimSpace(head))
	if code == "" {
		code = Validation
	}
	return New(code, msg)
}
