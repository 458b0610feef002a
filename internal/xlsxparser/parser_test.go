package xlsxparser

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	rowtransform "github.com/ginjaninja78/tabular-import/internal/transform"
)

// buildWorkbook writes the given sheets (in order) to an in-memory workbook.
// The first sheet replaces the default "Sheet1".
func buildWorkbook(t *testing.T, sheets []string, fill func(f *excelize.File)) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatalf("SetSheetName failed: %v", err)
			}
			continue
		}
		if _, err := f.NewSheet(name); err != nil {
			t.Fatalf("NewSheet failed: %v", err)
		}
	}
	fill(f)

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer failed: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func set(t *testing.T, f *excelize.File, sheet, cell string, value any) {
	t.Helper()
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		t.Fatalf("SetCellValue %s!%s failed: %v", sheet, cell, err)
	}
}

func TestParse_AllSheetsInOrder(t *testing.T) {
	wb := buildWorkbook(t, []string{"Actuals", "Budget", "Empty"}, func(f *excelize.File) {
		set(t, f, "Actuals", "A1", "Account")
		set(t, f, "Actuals", "B1", "Amount")
		set(t, f, "Actuals", "A2", "REV100")
		set(t, f, "Actuals", "B2", 12.5)
		set(t, f, "Actuals", "A4", "EXP200")
		set(t, f, "Actuals", "B4", 3)

		set(t, f, "Budget", "A1", "Account")
		set(t, f, "Budget", "A2", "B1")
	})

	sheets, err := Parse(wb, rowtransform.Passthrough())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	names := sheets.Names()
	if strings.Join(names, ",") != "Actuals,Budget,Empty" {
		t.Fatalf("Expected workbook order, got %v", names)
	}

	actuals, _ := sheets.Sheet("Actuals")
	if len(actuals) != 2 {
		t.Fatalf("Expected blank row skipped and 2 records, got %d", len(actuals))
	}
	if got := actuals[0].String("Amount"); got != "12.5" {
		t.Errorf("Expected 12.5, got %q", got)
	}
	if got := actuals[1].String("Account"); got != "EXP200" {
		t.Errorf("Expected row order preserved, got %q", got)
	}

	empty, ok := sheets.Sheet("Empty")
	if !ok || len(empty) != 0 {
		t.Errorf("Expected empty sheet with no records, got %v", empty)
	}
}

func TestParse_HomogeneousRecords(t *testing.T) {
	wb := buildWorkbook(t, []string{"Data"}, func(f *excelize.File) {
		set(t, f, "Data", "A1", "a")
		set(t, f, "Data", "B1", "b")
		set(t, f, "Data", "C1", "c")
		set(t, f, "Data", "A2", "1")
		set(t, f, "Data", "C3", "3")
	})

	sheets, err := Parse(wb, rowtransform.Passthrough())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	records, _ := sheets.Sheet("Data")
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Len() != 3 {
			t.Errorf("record %d: expected 3 fields, got %v", i, rec.Keys())
		}
	}
	if records[1].String("a") != "" || records[1].String("c") != "3" {
		t.Errorf("Unexpected second record: a=%q c=%q", records[1].String("a"), records[1].String("c"))
	}
}

func TestParse_NativeDates(t *testing.T) {
	wb := buildWorkbook(t, []string{"Rates"}, func(f *excelize.File) {
		set(t, f, "Rates", "A1", "validFrom")
		set(t, f, "Rates", "B1", "rateValue")
		set(t, f, "Rates", "C1", "Posted")
		set(t, f, "Rates", "A2", time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC))
		set(t, f, "Rates", "B2", 1.123456789)

		code := "yyyy-mm-dd"
		style, err := f.NewStyle(&excelize.Style{CustomNumFmt: &code})
		if err != nil {
			t.Fatalf("NewStyle failed: %v", err)
		}
		set(t, f, "Rates", "C2", 45306)
		if err := f.SetCellStyle("Rates", "C2", "C2", style); err != nil {
			t.Fatalf("SetCellStyle failed: %v", err)
		}
	})

	tr := rowtransform.New(rowtransform.CurrencyConfig(nil, nil))
	sheets, err := Parse(wb, tr)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	records, _ := sheets.Sheet("Rates")

	if got := records[0].String("validFrom"); got != "2024-07-15" {
		t.Errorf("Expected 2024-07-15, got %q", got)
	}
	if got, _ := records[0].Get("rateValue"); got != 1.1234568 {
		t.Errorf("Expected rounded rate, got %v", got)
	}
	// 45306 is 2024-01-15; a date cell outside the date dimensions is still
	// rendered as a calendar date.
	if got := records[0].String("Posted"); got != "2024-01-15" {
		t.Errorf("Expected 2024-01-15, got %q", got)
	}
}

func TestParse_TextInDateColumnStaysText(t *testing.T) {
	wb := buildWorkbook(t, []string{"Actuals"}, func(f *excelize.File) {
		set(t, f, "Actuals", "A1", "Date")
		set(t, f, "Actuals", "B1", "Posted")
		if err := f.SetCellStr("Actuals", "A2", "202403"); err != nil {
			t.Fatalf("SetCellStr failed: %v", err)
		}
		set(t, f, "Actuals", "B2", 45306)

		style, err := f.NewStyle(&excelize.Style{NumFmt: 14})
		if err != nil {
			t.Fatalf("NewStyle failed: %v", err)
		}
		if err := f.SetCellStyle("Actuals", "A2", "B2", style); err != nil {
			t.Fatalf("SetCellStyle failed: %v", err)
		}
	})

	tr := rowtransform.New(rowtransform.Config{
		DateDimensions: []string{"Date"},
		UseFiscalDate:  true,
		FiscalCalendar: []rowtransform.FiscalPeriod{{Period: "202403", CalMonth: "2024-03"}},
	})
	sheets, err := Parse(wb, tr)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	records, _ := sheets.Sheet("Actuals")

	if got := records[0].String("Date"); got != "2024-03" {
		t.Errorf("Expected the text period to be resolved as 2024-03, got %q", got)
	}
	if got := records[0].String("Posted"); got != "2024-01-15" {
		t.Errorf("Expected the numeric cell as a date, got %q", got)
	}
}

func TestParse_FiscalFailureAbortsWholeParse(t *testing.T) {
	wb := buildWorkbook(t, []string{"First", "Second"}, func(f *excelize.File) {
		set(t, f, "First", "A1", "Date")
		set(t, f, "First", "A2", "202401")
		set(t, f, "Second", "A1", "Date")
		set(t, f, "Second", "A2", "209901")
	})

	tr := rowtransform.New(rowtransform.Config{
		DateDimensions: []string{"Date"},
		UseFiscalDate:  true,
		FiscalCalendar: []rowtransform.FiscalPeriod{{Period: "202401", CalMonth: "2024-01"}},
	})
	sheets, err := Parse(wb, tr)
	if sheets != nil {
		t.Error("Expected no partial result")
	}
	var fe *rowtransform.FiscalDateResolutionError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FiscalDateResolutionError, got %v", err)
	}
	if !strings.Contains(err.Error(), `sheet "Second"`) {
		t.Errorf("Expected sheet name in error, got %q", err.Error())
	}
}

func TestParse_InvalidPayload(t *testing.T) {
	if _, err := Parse(strings.NewReader("not a zip file"), rowtransform.Passthrough()); err == nil {
		t.Error("Expected error for non-workbook payload")
	}
}

func TestIsDateFormat(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"yyyy-mm-dd", true},
		{"dd/mm/yyyy", true},
		{"mmm d, yyyy", true},
		{"[$-409]d-mmm-yy;@", true},
		{"h:mm:ss", false},
		{"0.00", false},
		{`#,##0 "days"`, false},
		{"General", false},
		{"[Red]0.00", false},
	}
	for _, tt := range tests {
		if got := IsDateFormat(tt.code); got != tt.want {
			t.Errorf("IsDateFormat(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
