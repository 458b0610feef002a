// =============================================================================
// Tabular Importer - Failure Aggregator
// =============================================================================
//
// This module turns the two kinds of failure payloads returned by the import
// service into FailedRow values, and renders a FailedRow list back to a
// rectangular table and a downloadable workbook.
//
//   - Chunk failures arrive as {row, reason}.
//   - Validation failures carry the reason inside the row, in the reserved
//     _REJECTION_REASON field. The field is removed from the row here so it
//     never reaches the rest of the program.
//
// =============================================================================

package failures

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/tabular-import/internal/types"
)

// RejectionReasonField is the reserved field carrying the reason in
// validation failure rows.
const RejectionReasonField = "_REJECTION_REASON"

// SheetName is the sheet the export is written to.
const SheetName = "Failed Rows"

// ReasonColumn is the trailing export column.
const ReasonColumn = "Reason"

// =============================================================================
// AGGREGATION
// =============================================================================

// RenderRow renders a record as one "field: value" line per field, in the
// record's key order.
func RenderRow(r types.Record) string {
	var b strings.Builder
	for _, k := range r.Keys() {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(r.String(k))
		b.WriteByte('\n')
	}
	return b.String()
}

// FromChunk converts chunk-level failures, preserving order.
func FromChunk(in []types.RowFailure) []types.FailedRow {
	out := make([]types.FailedRow, 0, len(in))
	for _, f := range in {
		out = append(out, types.FailedRow{
			Row:         f.Row,
			RowAsString: RenderRow(f.Row),
			Reason:      f.Reason,
		})
	}
	return out
}

// FromValidation converts validation failures, extracting the embedded
// rejection reason, preserving order.
func FromValidation(in []types.Record) []types.FailedRow {
	out := make([]types.FailedRow, 0, len(in))
	for _, rec := range in {
		reason := rec.String(RejectionReasonField)
		row := rec.Without(RejectionReasonField)
		out = append(out, types.FailedRow{
			Row:         row,
			RowAsString: RenderRow(row),
			Reason:      reason,
		})
	}
	return out
}

// =============================================================================
// EXPORT
// =============================================================================

// Table renders rows as a header line followed by one line per failure.
// The header is the first row's keys plus "Reason"; later rows are aligned
// to that header, with absent fields left blank.
func Table(rows []types.FailedRow) [][]string {
	if len(rows) == 0 {
		return nil
	}
	keys := rows[0].Row.Keys()
	header := append(append([]string{}, keys...), ReasonColumn)

	table := make([][]string, 0, len(rows)+1)
	table = append(table, header)
	for _, fr := range rows {
		line := make([]string, 0, len(header))
		for _, k := range keys {
			line = append(line, fr.Row.String(k))
		}
		line = append(line, fr.Reason)
		table = append(table, line)
	}
	return table
}

// WriteXLSX writes the export workbook to w. An empty list produces a
// sheet holding only the Reason header.
func WriteXLSX(w io.Writer, rows []types.FailedRow) error {
	table := Table(rows)
	if table == nil {
		table = [][]string{{ReasonColumn}}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, line := range table {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]any, len(line))
		for j, v := range line {
			values[j] = v
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(table[0]), 1)
		_ = f.SetCellStyle(SheetName, "A1", last, bold)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// ReadTable reads an export workbook back into a table. Rows are padded to
// the header width.
func ReadTable(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", SheetName, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	width := len(rows[0])
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}
	return rows, nil
}

// FromTable rebuilds failed rows from an export table. Values come back as
// strings.
func FromTable(table [][]string) []types.FailedRow {
	if len(table) < 2 {
		return nil
	}
	header := table[0]
	keys := header[:len(header)-1]

	out := make([]types.FailedRow, 0, len(table)-1)
	for _, line := range table[1:] {
		row := types.NewRecord(len(keys))
		for i, k := range keys {
			row.Set(k, line[i])
		}
		out = append(out, types.FailedRow{
			Row:         row,
			RowAsString: RenderRow(row),
			Reason:      line[len(header)-1],
		})
	}
	return out
}
