// =============================================================================
// Tabular Importer - CSV Parser Module
// =============================================================================
//
// This module parses delimited-text uploads. It handles:
//   - Different delimiters (comma, pipe, tab, semicolon)
//   - Different encodings (UTF-8 with or without BOM, ISO-8859-1,
//     Windows-1252)
//   - Quoted fields, including embedded delimiters and newlines
//
// The first line is the header. Every following non-blank line becomes one
// record keyed by header, and every value passes through the field
// transformer before it is stored.
//
// =============================================================================

package csvparser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ginjaninja78/tabular-import/internal/config"
	rowtransform "github.com/ginjaninja78/tabular-import/internal/transform"
	"github.com/ginjaninja78/tabular-import/internal/types"
)

// SheetName is the name given to the single sheet produced from CSV input.
const SheetName = "Sheet1"

// ErrEmpty is returned for input without a header line.
var ErrEmpty = errors.New("CSV file is empty")

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads delimited text and returns the normalized records.
//
// PARAMETERS:
//   - r: The raw payload.
//   - settings: Delimiter and encoding.
//   - tr: The field transformer applied to every row.
//
// RETURNS:
//   - The records in line order.
//   - An error if the payload cannot be decoded or a row fails to
//     transform. No partial result is returned.
func Parse(r io.Reader, settings config.CSVSettings, tr *rowtransform.Transformer) ([]types.Record, error) {
	decoder, err := decoderFor(settings.Encoding)
	if err != nil {
		return nil, err
	}

	csvReader := csv.NewReader(transform.NewReader(bufio.NewReader(r), decoder))
	configureReader(csvReader, settings)

	header, err := csvReader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	headers := cleanHeaders(header)

	records := make([]types.Record, 0, 64)
	for {
		row, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		if isRowEmpty(row) {
			continue
		}

		line, _ := csvReader.FieldPos(0)
		rec, err := tr.TransformRow(rowToRecord(headers, row))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// configureReader configures the CSV reader based on the settings.
func configureReader(reader *csv.Reader, settings config.CSVSettings) {
	switch settings.Delimiter {
	case "\\t", "\t", "tab", "TAB":
		reader.Comma = '\t'
	case "|", "pipe", "PIPE":
		reader.Comma = '|'
	case ";", "semicolon":
		reader.Comma = ';'
	default:
		if len(settings.Delimiter) > 0 {
			reader.Comma = rune(settings.Delimiter[0])
		} else {
			reader.Comma = ','
		}
	}

	// Rows may be shorter or longer than the header.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
}

// decoderFor returns the transformer that turns the payload into UTF-8.
// A leading UTF-8 BOM is always dropped.
func decoderFor(name string) (transform.Transformer, error) {
	var enc encoding.Encoding
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "UTF-8", "UTF8":
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	case "ISO-8859-1", "LATIN1":
		enc = charmap.ISO8859_1
	case "WINDOWS-1252", "CP1252":
		enc = charmap.Windows1252
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return unicode.BOMOverride(enc.NewDecoder()), nil
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

// rowToRecord keys a row by header. Missing trailing cells become "" and
// cells beyond the header are dropped.
func rowToRecord(headers, row []string) types.Record {
	rec := types.NewRecord(len(headers))
	for i, h := range headers {
		value := ""
		if i < len(row) {
			value = row[i]
		}
		rec.Set(h, value)
	}
	return rec
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
