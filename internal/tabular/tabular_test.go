package tabular

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/tabular-import/internal/config"
	rowtransform "github.com/ginjaninja78/tabular-import/internal/transform"
	"github.com/ginjaninja78/tabular-import/internal/types"
)

var settings = config.CSVSettings{Delimiter: ",", Encoding: "UTF-8"}

func TestFormatFromFilename(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"upload.csv", FormatDelimited, false},
		{"UPLOAD.CSV", FormatDelimited, false},
		{"book.xlsx", FormatWorkbook, false},
		{"macro.xlsm", FormatWorkbook, false},
		{"legacy.xls", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		got, err := FormatFromFilename(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("%s: expected ParseError, got %T", tt.name, err)
			}
		}
	}
}

func TestParse_DelimitedYieldsSheet1(t *testing.T) {
	set, err := Parse(strings.NewReader("a,b\n1,2\n"), FormatDelimited, nil, settings)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if names := set.Names(); len(names) != 1 || names[0] != "Sheet1" {
		t.Errorf("Expected single Sheet1, got %v", names)
	}
}

func TestParse_Workbook(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "x")
	_ = f.SetCellValue("Sheet1", "A2", "y")
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	set, err := Parse(bytes.NewReader(buf.Bytes()), FormatWorkbook, nil, settings)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	records, ok := set.Sheet("Sheet1")
	if !ok || len(records) != 1 || records[0].String("x") != "y" {
		t.Errorf("Unexpected records: %+v", records)
	}
}

func TestParse_ErrorClassification(t *testing.T) {
	_, err := Parse(strings.NewReader(""), FormatDelimited, nil, settings)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Errorf("Expected ParseError for empty CSV, got %v", err)
	}

	_, err = Parse(strings.NewReader("garbage"), FormatWorkbook, nil, settings)
	if !errors.As(err, &pe) || pe.Format != FormatWorkbook {
		t.Errorf("Expected workbook ParseError, got %v", err)
	}

	_, err = Parse(strings.NewReader("a"), Format("json"), nil, settings)
	if !errors.As(err, &pe) {
		t.Errorf("Expected ParseError for unknown format, got %v", err)
	}

	tr := rowtransform.New(rowtransform.Config{DateDimensions: []string{"d"}, UseFiscalDate: true})
	_, err = Parse(strings.NewReader("d\n202401\n"), FormatDelimited, tr, settings)
	var fe *rowtransform.FiscalDateResolutionError
	if !errors.As(err, &fe) {
		t.Errorf("Expected FiscalDateResolutionError, got %v", err)
	}
	if errors.As(err, &pe) {
		t.Error("Fiscal failures must not be reported as ParseError")
	}
}

func TestSelect(t *testing.T) {
	set := types.NewSheetSet()
	_ = set.Add("First", []types.Record{types.RecordOf("a", "1")})
	_ = set.Add("Second", nil)

	name, records, err := Select(set, "")
	if err != nil || name != "First" || len(records) != 1 {
		t.Errorf("Expected first sheet, got %q %d %v", name, len(records), err)
	}

	name, _, err = Select(set, "Second")
	if err != nil || name != "Second" {
		t.Errorf("Expected Second, got %q %v", name, err)
	}

	_, _, err = Select(set, "Missing")
	var ce *config.ConfigurationError
	if !errors.As(err, &ce) {
		t.Errorf("Expected ConfigurationError, got %v", err)
	}

	_, _, err = Select(types.NewSheetSet(), "")
	if !errors.As(err, &ce) {
		t.Errorf("Expected ConfigurationError for empty set, got %v", err)
	}
}
