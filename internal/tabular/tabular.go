// Package tabular turns an uploaded payload into a SheetSet, dispatching on
// the declared format to the delimited-text or workbook parser.
package tabular

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/tabular-import/internal/config"
	"github.com/ginjaninja78/tabular-import/internal/csvparser"
	rowtransform "github.com/ginjaninja78/tabular-import/internal/transform"
	"github.com/ginjaninja78/tabular-import/internal/types"
	"github.com/ginjaninja78/tabular-import/internal/xlsxparser"
)

// Format is the declared payload format.
type Format string

const (
	FormatDelimited Format = "csv"
	FormatWorkbook  Format = "xlsx"
)

// ParseError reports a payload that could not be read.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s payload: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FormatFromFilename picks the format from a file extension.
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatDelimited, nil
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatWorkbook, nil
	default:
		return "", &ParseError{Format: Format(strings.TrimPrefix(filepath.Ext(name), ".")), Err: errors.New("unsupported file type")}
	}
}

// Parse reads r in the given format and returns every sheet it contains.
// Delimited text always yields a single sheet named "Sheet1".
//
// Parsing is all-or-nothing: a FiscalDateResolutionError from any row is
// returned as is (wrapped with position context) and no SheetSet is
// produced. Any other failure is a *ParseError.
func Parse(r io.Reader, format Format, tr *rowtransform.Transformer, settings config.CSVSettings) (*types.SheetSet, error) {
	if tr == nil {
		tr = rowtransform.Passthrough()
	}

	switch format {
	case FormatDelimited:
		records, err := csvparser.Parse(r, settings, tr)
		if err != nil {
			return nil, classify(format, err)
		}
		set := types.NewSheetSet()
		if err := set.Add(csvparser.SheetName, records); err != nil {
			return nil, err
		}
		return set, nil

	case FormatWorkbook:
		set, err := xlsxparser.Parse(r, tr)
		if err != nil {
			return nil, classify(format, err)
		}
		return set, nil

	default:
		return nil, &ParseError{Format: format, Err: errors.New("unknown format")}
	}
}

// classify leaves fiscal resolution failures alone and turns everything
// else into a ParseError.
func classify(format Format, err error) error {
	var fe *rowtransform.FiscalDateResolutionError
	if errors.As(err, &fe) {
		return err
	}
	return &ParseError{Format: format, Err: err}
}

// Select returns the records of the named sheet. An empty name selects the
// first sheet.
func Select(set *types.SheetSet, name string) (string, []types.Record, error) {
	if name == "" {
		first, ok := set.First()
		if !ok {
			return "", nil, config.Errorf("job.sheet", "file contains no sheets")
		}
		return first.Name, first.Records, nil
	}
	records, ok := set.Sheet(name)
	if !ok {
		return "", nil, config.Errorf("job.sheet", "sheet %q not found (have %s)", name, strings.Join(set.Names(), ", "))
	}
	return name, records, nil
}
