// =============================================================================
// Tabular Importer - XLSX Workbook Parser
// =============================================================================
//
// This module parses spreadsheet uploads. Every sheet in the workbook
// becomes one entry in the resulting SheetSet, in workbook order.
//
// SHEET STRUCTURE:
//   The first non-blank row of a sheet is its header. Each following
//   non-blank row is one record keyed by header.
//
//   | Column A   | Column B | Column C   |
//   |------------|----------|------------|
//   | Account    | Date     | SignedData |   <- header
//   | REV100     | 45306    | 1200.5     |   <- Date is a date-formatted cell
//
// DATE CELLS:
//   Numeric cells whose number format is a date format are handed to the
//   field transformer as native dates (time.Time). Built-in date formats and
//   custom formats containing year or day tokens are recognized.
//
// =============================================================================

package xlsxparser

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	rowtransform "github.com/ginjaninja78/tabular-import/internal/transform"
	"github.com/ginjaninja78/tabular-import/internal/types"
)

// ErrNoSheets is returned for a workbook without any sheet.
var ErrNoSheets = errors.New("workbook has no sheets")

// builtinDateFormats are the built-in number format IDs that render dates.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true, 21: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 32: true, 33: true, 34: true, 35: true, 36: true,
	45: true, 46: true, 47: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

// formatNoise strips quoted literals, bracketed sections and escapes from a
// number format code before looking for date tokens.
var formatNoise = regexp.MustCompile(`"[^"]*"|\[[^\]]*\]|\\.`)

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads a workbook and returns one record sequence per sheet.
//
// PARAMETERS:
//   - r: The raw workbook payload.
//   - tr: The field transformer applied to every row.
//
// RETURNS:
//   - The SheetSet, sheets in workbook order.
//   - An error if the workbook cannot be opened or any row fails to
//     transform. No partial result is returned.
func Parse(r io.Reader, tr *rowtransform.Transformer) (*types.SheetSet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheetNames := f.GetSheetList()
	if len(sheetNames) == 0 {
		return nil, ErrNoSheets
	}

	p := &sheetParser{
		file:      f,
		tr:        tr,
		date1904:  usesDate1904(f),
		dateStyle: make(map[int]bool),
	}

	set := types.NewSheetSet()
	for _, name := range sheetNames {
		records, err := p.parseSheet(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		if err := set.Add(name, records); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// sheetParser holds per-workbook state shared across sheets.
type sheetParser struct {
	file     *excelize.File
	tr       *rowtransform.Transformer
	date1904 bool

	// dateStyle caches whether a style ID renders as a date.
	dateStyle map[int]bool
}

// parseSheet converts one sheet into records.
func (p *sheetParser) parseSheet(sheet string) ([]types.Record, error) {
	rows, err := p.file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	headerIndex := -1
	for i, row := range rows {
		if !isRowEmpty(row) {
			headerIndex = i
			break
		}
	}
	if headerIndex < 0 {
		return []types.Record{}, nil
	}
	headers := cleanHeaders(rows[headerIndex])

	records := make([]types.Record, 0, len(rows)-headerIndex-1)
	for i := headerIndex + 1; i < len(rows); i++ {
		row := rows[i]
		if isRowEmpty(row) {
			continue
		}

		raw := types.NewRecord(len(headers))
		for col, h := range headers {
			if col >= len(row) {
				raw.Set(h, "")
				continue
			}
			value, err := p.cellValue(sheet, col+1, i+1, row[col])
			if err != nil {
				return nil, err
			}
			raw.Set(h, value)
		}

		rec, err := p.tr.TransformRow(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// cellValue returns the raw cell text, or a time.Time when the cell is a
// numeric cell holding a serial date.
func (p *sheetParser) cellValue(sheet string, col, row int, raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return raw, nil
	}
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw, nil
	}

	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return nil, err
	}

	// Only numeric cells hold serials; text that looks like a number stays
	// text even in a date-formatted column.
	cellType, err := p.file.GetCellType(sheet, cell)
	if err != nil {
		return nil, fmt.Errorf("failed to read type of %s: %w", cell, err)
	}
	if cellType != excelize.CellTypeNumber && cellType != excelize.CellTypeUnset {
		return raw, nil
	}

	styleID, err := p.file.GetCellStyle(sheet, cell)
	if err != nil {
		return nil, fmt.Errorf("failed to read style of %s: %w", cell, err)
	}
	if !p.isDateStyle(styleID) {
		return raw, nil
	}

	t, err := excelize.ExcelDateToTime(serial, p.date1904)
	if err != nil {
		// Out of range serials are kept as numbers.
		return raw, nil
	}
	return t, nil
}

// isDateStyle reports whether a style ID uses a date number format.
func (p *sheetParser) isDateStyle(styleID int) bool {
	if cached, ok := p.dateStyle[styleID]; ok {
		return cached
	}

	isDate := false
	if style, err := p.file.GetStyle(styleID); err == nil && style != nil {
		switch {
		case builtinDateFormats[style.NumFmt]:
			isDate = true
		case style.CustomNumFmt != nil:
			isDate = IsDateFormat(*style.CustomNumFmt)
		}
	}
	p.dateStyle[styleID] = isDate
	return isDate
}

// IsDateFormat reports whether a custom number format code renders a date.
// Time-only formats such as "h:mm" are not dates.
func IsDateFormat(code string) bool {
	cleaned := strings.ToLower(formatNoise.ReplaceAllString(code, ""))
	if cleaned == "general" {
		return false
	}
	return strings.ContainsAny(cleaned, "yd")
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func usesDate1904(f *excelize.File) bool {
	props, err := f.GetWorkbookProps()
	if err != nil || props.Date1904 == nil {
		return false
	}
	return *props.Date1904
}

// cleanHeaders trims header names and names empty ones by position.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}
		cleaned[i] = header
	}
	return cleaned
}

// isRowEmpty checks if a row contains only empty values.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
