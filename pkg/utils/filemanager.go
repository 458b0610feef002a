// =============================================================================
// Tabular Importer - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for the importer, including:
//   - Output directory management
//   - Artifact naming (failed records workbook)
//   - Input file archival after a completed run
//   - Run summary generation
//
// ARCHIVAL STRATEGY:
//   - Input files are moved to the archive directory after a completed run
//   - Runs that end as FAILED leave the input in place, ready for a retry
//   - Artifacts and summaries are written to the output directory
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/tabular-import/internal/types"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the importer.
type FileManager struct {
	// OutputDir is the directory where artifacts and summaries are placed.
	OutputDir string

	// ArchiveDir is the directory for archived input files. Empty disables
	// archival.
	ArchiveDir string

	// UseTimestampSubdirs creates date-based subdirectories in the archive.
	// Example: archive/2024/01/15/ledger.xlsx
	UseTimestampSubdirs bool

	// now is replaced in tests.
	now func() time.Time
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(outputDir, archiveDir string) *FileManager {
	return &FileManager{
		OutputDir:  outputDir,
		ArchiveDir: archiveDir,
		now:        time.Now,
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates all required directories if they don't exist.
//
// RETURNS:
//   - An error if any directory cannot be created.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.OutputDir, fm.ArchiveDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteArtifact writes data to name inside the output directory.
//
// RETURNS:
//   - The path of the written file.
func (fm *FileManager) WriteArtifact(name string, data []byte) (string, error) {
	if err := os.MkdirAll(fm.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(fm.OutputDir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an input file to the archive directory.
//
// PARAMETERS:
//   - filePath: The path to the file to archive.
//
// RETURNS:
//   - The path to the archived file, or filePath when archival is disabled.
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	if fm.ArchiveDir == "" {
		return filePath, nil
	}

	// Determine the archive path.
	archivePath := fm.getArchivePath(filePath)

	// Ensure the archive directory exists.
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	// Move the file.
	if err := os.Rename(filePath, archivePath); err != nil {
		// If rename fails (e.g., cross-device), try copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return archivePath, nil
}

// getArchivePath constructs the archive path for a file.
func (fm *FileManager) getArchivePath(filePath string) string {
	fileName := filepath.Base(filePath)

	if fm.UseTimestampSubdirs {
		now := fm.now()
		return filepath.Join(
			fm.ArchiveDir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
			fileName,
		)
	}

	return filepath.Join(fm.ArchiveDir, fileName)
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// GenerateOutputFileName generates a unique artifact file name.
//
// PARAMETERS:
//   - format: The format string for the file name.
//             Placeholders:
//               {uuid}      - A random UUID
//               {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//               {date}      - Current date (YYYYMMDD)
//               {time}      - Current time (HHMMSS)
//               {job}       - Job ID
//               {source}    - Input file name (without extension)
//   - params: A map of placeholder values.
//
// RETURNS:
//   - The generated file name, always ending in .xlsx.
//
// EXAMPLE:
//   format: "failed_{source}_{job}.xlsx"
//   params: {"source": "ledger", "job": "J42"}
//   output: "failed_ledger_J42.xlsx"
func GenerateOutputFileName(format string, params map[string]string) string {
	return generateName(time.Now(), format, params)
}

func generateName(now time.Time, format string, params map[string]string) string {
	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = sanitize(value)
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	// Ensure .xlsx extension.
	if !strings.HasSuffix(strings.ToLower(result), ".xlsx") {
		result += ".xlsx"
	}

	return result
}

// sanitize keeps placeholder values from introducing path separators.
func sanitize(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(s)
}

// SourceName returns the input file name without directory and extension.
func SourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// RunSummary contains summary information about one upload run.
type RunSummary struct {
	StartTime time.Time
	EndTime   time.Time
	InputFile string
	Sheet     string
	Result    *types.UploadResult

	// FailedRecordsFile is the local failed records workbook, if written.
	FailedRecordsFile string

	// ArtifactLocation is the object storage location, if uploaded.
	ArtifactLocation string
}

// WriteSummaryLog writes a run summary to a log file.
//
// PARAMETERS:
//   - summary: The run summary.
//   - outputDir: The directory to write the summary file.
//
// RETURNS:
//   - The path to the summary file.
//   - An error if writing fails.
func WriteSummaryLog(summary RunSummary, outputDir string) (string, error) {
	timestamp := summary.EndTime.Format("20060102_150405")
	summaryPath := filepath.Join(outputDir, fmt.Sprintf("upload_summary_%s.txt", timestamp))

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := WriteSummary(writer, summary); err != nil {
		return "", err
	}
	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}

	return summaryPath, nil
}

// WriteSummary renders a run summary to w.
func WriteSummary(w io.Writer, summary RunSummary) error {
	res := summary.Result
	if res == nil {
		res = &types.UploadResult{}
	}

	duration := summary.EndTime.Sub(summary.StartTime)
	_, err := fmt.Fprintf(w, "Tabular Importer - Upload Summary\n"+
		"================================================================================\n\n"+
		"Run Information:\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n"+
		"  Input File:     %s\n"+
		"  Sheet:          %s\n\n"+
		"Job:\n"+
		"  Job ID:         %s\n"+
		"  Target:         %s\n"+
		"  Status:         %s\n"+
		"  Last Step:      %s\n"+
		"  Total Rows:     %d\n"+
		"  Failed Rows:    %d\n",
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		duration.String(),
		summary.InputFile,
		summary.Sheet,
		res.JobID,
		res.ModelID,
		res.JobStatus,
		res.CurrentStep,
		res.TotalRows,
		res.FailedCount)
	if err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if res.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:          %s\n", res.ErrorMessage)
	}
	if summary.FailedRecordsFile != "" {
		fmt.Fprintf(w, "  Failed Records: %s\n", summary.FailedRecordsFile)
	}
	if summary.ArtifactLocation != "" {
		fmt.Fprintf(w, "  Stored At:      %s\n", summary.ArtifactLocation)
	}

	_, err = io.WriteString(w, "\n================================================================================\n"+
		"End of Summary\n")
	return err
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
