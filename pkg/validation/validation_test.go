package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/leverlab/pkg/pagination"
)

type loadInput struct {
	Path string `validate:"required,xlsx_path"`
}

type pageInput struct {
	DatasetID string   `validate:"required_without=Cursor"`
	Cursor    string   `validate:"omitempty,cursor"`
	PageSize  int      `validate:"omitempty,min=1,max=2000"`
	Periods   []string `validate:"omitempty,dive,period"`
}

func TestValidateStruct_XlsxPath(t *testing.T) {
	require.Empty(t, ValidateStruct(loadInput{Path: "/data/pnl.XLSX"}))
	require.Equal(t, "VALIDATION: path is required", ValidateStruct(loadInput{}))
	require.Contains(t, ValidateStruct(loadInput{Path: "/data/pnl.csv"}), "must be an Excel file")
}

func TestValidateStruct_Cursor(t *testing.T) {
	tok, err := pagination.EncodeCursor(pagination.Cursor{Did: "ds", U: pagination.UnitNodes, Ps: 10})
	require.NoError(t, err)

	require.Empty(t, ValidateStruct(pageInput{Cursor: tok}))
	require.True(t, strings.HasPrefix(ValidateStruct(pageInput{Cursor: "garbage!"}), "CURSOR_INVALID:"))
	require.Contains(t, ValidateStruct(pageInput{}), "datasetid is required (or supply cursor)")
}

func TestValidateStruct_BoundsAndPeriods(t *testing.T) {
	require.Contains(t, ValidateStruct(pageInput{DatasetID: "x", PageSize: 5000}), "pagesize must satisfy max=2000")
	require.Contains(t, ValidateStruct(pageInput{DatasetID: "x", Periods: []string{"Q1", " "}}), "periods must be non-empty")
	require.Empty(t, ValidateStruct(pageInput{DatasetID: "x", Periods: []string{"Q1"}}))
}
