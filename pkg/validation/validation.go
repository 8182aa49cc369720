// Package validation checks tool inputs with go-playground/validator and
// renders the first failure as a "CODE: message" string.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/vinodismyname/leverlab/pkg/pagination"
)

var excelExts = []string{".xlsx", ".xlsm", ".xltx", ".xltm"}

// rules are the custom tags usable in `validate` struct tags.
var rules = map[string]validator.Func{
	"xlsx_path": func(fl validator.FieldLevel) bool {
		return slices.Contains(excelExts, strings.ToLower(filepath.Ext(strings.TrimSpace(fl.Field().String()))))
	},
	// Pair with omitempty; a blank cursor is accepted here.
	"cursor": func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.TrimSpace(s) == "" {
			return true
		}
		_, err := pagination.DecodeCursor(s)
		return err == nil
	},
	"period": func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	},
}

var Validator = sync.OnceValue(func() *validator.Validate {
	v := validator.New()
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("validation: register %s: %v", tag, err))
		}
	}
	return v
})

// ValidateStruct returns "" when s is valid and otherwise a message for the
// first failing field.
func ValidateStruct(s any) string {
	err := Validator().Struct(s)
	if err == nil {
		return ""
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "VALIDATION: invalid inputs"
	}
	return describe(ve[0])
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch tag := fe.Tag(); tag {
	case "required":
		return "VALIDATION: " + field + " is required"
	case "required_without":
		return fmt.Sprintf("VALIDATION: %s is required (or supply %s)", field, strings.ToLower(fe.Param()))
	case "xlsx_path":
		return "VALIDATION: path must be an Excel file (" + strings.Join(excelExts, ", ") + ")"
	case "cursor":
		return "CURSOR_INVALID: failed to decode cursor; restart pagination from the first page"
	case "period":
		return "VALIDATION: periods must be non-empty labels such as Q1 or 2024-Q3"
	case "uuid", "uuid4":
		return "VALIDATION: " + field + " must be an id returned by a previous call"
	case "min", "max", "gte", "lte":
		return fmt.Sprintf("VALIDATION: %s must satisfy %s=%s", field, tag, fe.Param())
	default:
		return "VALIDATION: invalid " + field
	}
}
