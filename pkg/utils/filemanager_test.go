package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ginjaninja78/tabular-import/internal/types"
)

func TestGenerateName(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 6, 7, 0, time.UTC)
	tests := []struct {
		format string
		params map[string]string
		want   string
	}{
		{"failed_records_{timestamp}.xlsx", nil, "failed_records_20240304_150607.xlsx"},
		{"failed_{source}_{job}", map[string]string{"source": "ledger", "job": "J42"}, "failed_ledger_J42.xlsx"},
		{"{date}-{time}.XLSX", nil, "20240304-150607.XLSX"},
		{"{job}.xlsx", map[string]string{"job": "a/b:c"}, "a_b_c.xlsx"},
	}
	for _, tt := range tests {
		if got := generateName(now, tt.format, tt.params); got != tt.want {
			t.Errorf("generateName(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}

	uuidName := regexp.MustCompile(`^failed_[0-9a-f-]{36}\.xlsx$`)
	if got := GenerateOutputFileName("failed_{uuid}", nil); !uuidName.MatchString(got) {
		t.Errorf("Unexpected uuid name %q", got)
	}
}

func TestSourceName(t *testing.T) {
	if got := SourceName("/data/in/ledger.2024.xlsx"); got != "ledger.2024" {
		t.Errorf("SourceName = %q", got)
	}
}

func TestArchiveInputFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ledger.csv")
	if err := os.WriteFile(input, []byte("a,b\n1,2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fm := NewFileManager(filepath.Join(dir, "out"), filepath.Join(dir, "archive"))
	fm.UseTimestampSubdirs = true
	fm.now = func() time.Time { return time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC) }

	archived, err := fm.ArchiveInputFile(input)
	if err != nil {
		t.Fatalf("ArchiveInputFile failed: %v", err)
	}
	want := filepath.Join(dir, "archive", "2024", "01", "15", "ledger.csv")
	if archived != want {
		t.Errorf("Archived to %q, want %q", archived, want)
	}
	if FileExists(input) || !FileExists(archived) {
		t.Error("Expected the input to be moved")
	}
}

func TestArchiveInputFile_Disabled(t *testing.T) {
	fm := NewFileManager(t.TempDir(), "")
	got, err := fm.ArchiveInputFile("/nowhere/ledger.csv")
	if err != nil || got != "/nowhere/ledger.csv" {
		t.Errorf("Expected no-op, got %q, %v", got, err)
	}
}

func TestWriteArtifact(t *testing.T) {
	dir := t.TempDir()
	fm := NewFileManager(filepath.Join(dir, "nested", "out"), "")
	if err := fm.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	path, err := fm.WriteArtifact("../escape.xlsx", []byte("PK"))
	if err != nil {
		t.Fatalf("WriteArtifact failed: %v", err)
	}
	if filepath.Dir(path) != fm.OutputDir {
		t.Errorf("Artifact must stay in the output directory, got %q", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "PK" {
		t.Errorf("Unexpected content %q", data)
	}
}

func TestWriteSummary(t *testing.T) {
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	summary := RunSummary{
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
		InputFile: "ledger.xlsx",
		Sheet:     "Q1",
		Result: &types.UploadResult{
			JobID:        "J42",
			ModelID:      "M1",
			JobStatus:    types.StatusFailed,
			CurrentStep:  types.StepPostingData,
			TotalRows:    10,
			FailedCount:  2,
			ErrorMessage: "Member not found",
		},
		FailedRecordsFile: "out/failed.xlsx",
	}

	var buf bytes.Buffer
	if err := WriteSummary(&buf, summary); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Duration:       1m30s",
		"Job ID:         J42",
		"Status:         FAILED",
		"Last Step:      Posting Data to Job",
		"Failed Rows:    2",
		"Error:          Member not found",
		"Failed Records: out/failed.xlsx",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in summary:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Stored At") {
		t.Error("Storage line must be omitted when nothing was uploaded")
	}

	dir := t.TempDir()
	path, err := WriteSummaryLog(summary, dir)
	if err != nil {
		t.Fatalf("WriteSummaryLog failed: %v", err)
	}
	if filepath.Base(path) != "upload_summary_20240304_100130.txt" {
		t.Errorf("Unexpected summary path %q", path)
	}
}
