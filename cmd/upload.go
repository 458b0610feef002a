// =============================================================================
// Tabular Importer - Upload Command
// =============================================================================
//
// This file defines the 'upload' command, the main command of the importer.
// It runs one file through the whole pipeline as a single import job.
//
// COMMAND USAGE:
//   importer upload <file> [flags]
//
// FLAGS:
//   --sheet       : Workbook sheet to upload (default: job.sheet, then the
//                   first sheet)
//   --no-archive  : Leave the input file in place after a completed run
//   --strict      : Treat pre-flight warnings as errors
//
// PROCESSING PIPELINE:
//   1. Load configuration
//   2. Load model metadata (when transform.load_metadata is set)
//   3. Parse the file, transforming every field
//   4. Run the pre-flight checks
//   5. Run the import job: create, post chunks, validate, run, poll
//   6. Export failed records to XLSX (and object storage when enabled)
//   7. Archive the input file after a completed run
//   8. Print and write the run summary
//
// =============================================================================

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/tabular-import/internal/config"
	"github.com/ginjaninja78/tabular-import/internal/failures"
	"github.com/ginjaninja78/tabular-import/internal/logger"
	"github.com/ginjaninja78/tabular-import/internal/masterdata"
	"github.com/ginjaninja78/tabular-import/internal/orchestrator"
	"github.com/ginjaninja78/tabular-import/internal/storage"
	"github.com/ginjaninja78/tabular-import/internal/types"
	"github.com/ginjaninja78/tabular-import/internal/validation"
	"github.com/ginjaninja78/tabular-import/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// uploadSheet selects the sheet to upload.
var uploadSheet string

// noArchive keeps the input file in place after a completed run.
var noArchive bool

// uploadStrict treats pre-flight warnings as errors.
var uploadStrict bool

// =============================================================================
// UPLOAD COMMAND DEFINITION
// =============================================================================

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a spreadsheet or CSV file as an import job",
	Long: `The upload command parses one CSV or XLSX file, normalizes its records
and imports them into the configured model (or currency rate table) as a
single job.

On completion:
  - Rejected rows are written to a failed records workbook in the output
    directory, and uploaded to object storage when configured
  - The input file is moved to the archive directory (when configured)
  - A run summary is printed and written to the output directory

On failure:
  - The input file remains in place
  - The command exits with a non-zero status`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ctx, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		client, err := newServiceClient(ctx, cfg)
		if err != nil {
			return err
		}
		_, err = runUpload(ctx, cfg, client, uploadRequest{
			Path:    args[0],
			Sheet:   sheetOrDefault(uploadSheet, cfg),
			Archive: !noArchive,
			Strict:  uploadStrict,
			Out:     cmd.OutOrStdout(),
		})
		return err
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVar(&uploadSheet, "sheet", "", "Workbook sheet to upload")
	uploadCmd.Flags().BoolVar(&noArchive, "no-archive", false, "Leave the input file in place after a completed run")
	uploadCmd.Flags().BoolVar(&uploadStrict, "strict", false, "Treat pre-flight warnings as errors")
}

// =============================================================================
// PIPELINE
// =============================================================================

// uploadService is what an upload needs from the import service.
// *importapi.Client implements it.
type uploadService interface {
	orchestrator.ImportService
	masterdata.Source
}

type uploadRequest struct {
	Path    string
	Sheet   string
	Archive bool

	// Strict stops the upload on pre-flight warnings too.
	Strict bool

	Out io.Writer
}

// newObjectStorage is replaced in tests.
var newObjectStorage = func(cfg config.MinIOConfig) (storage.ObjectStorage, error) {
	m, err := storage.NewMinIO(cfg)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// runUpload runs one file through the pipeline.
//
// RETURNS:
//   - The result of the job, or nil if the job never started
//   - An error when the job could not start or ended FAILED
func runUpload(ctx context.Context, cfg *config.Config, svc uploadService, req uploadRequest) (*types.UploadResult, error) {
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"file":     req.Path,
		"job_type": cfg.Job.Type,
	})
	ctx = logger.WithContext(ctx, log)
	start := time.Now()

	fm := utils.NewFileManager(cfg.Output.Dir, cfg.Output.ArchiveDir)
	if err := fm.EnsureDirectories(); err != nil {
		return nil, err
	}

	// =========================================================================
	// STEP 1: TRANSFORMATION RULES
	// =========================================================================

	tcfg, err := sessionTransform(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}

	// =========================================================================
	// STEP 2: PARSE
	// =========================================================================

	sheet, records, err := readSheet(req.Path, req.Sheet, cfg, tcfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("sheet", sheet).Int("records", len(records)).Msg("File parsed")

	// =========================================================================
	// STEP 3: PRE-FLIGHT CHECKS
	// =========================================================================

	check := preflight(records, cfg, tcfg, req.Strict, false)
	for _, finding := range check.Errors {
		if finding.Severity == validation.SeverityWarning {
			log.Warn().Str("rule", finding.Rule).Int("record", finding.RecordNumber).Msg(finding.Message)
		}
	}
	if !check.IsValid {
		fmt.Fprint(req.Out, validation.FormatErrors(check.Errors))
		return nil, fmt.Errorf("pre-flight validation failed with %d error(s) and %d warning(s)", check.ErrorCount, check.WarningCount)
	}

	// =========================================================================
	// STEP 4: IMPORT JOB
	// =========================================================================

	maxPoll := 0
	if cfg.Service.MaxPollAttempts != nil {
		maxPoll = *cfg.Service.MaxPollAttempts
	}
	orch := orchestrator.New(svc, orchestrator.Options{
		ChunkSize:       cfg.Job.ChunkSize,
		PollInterval:    cfg.Service.PollInterval,
		MaxPollAttempts: maxPoll,
		Observer:        eventLogger(log),
	})
	res, err := orch.Run(ctx, orchestrator.Job{
		Kind:      orchestrator.JobKind(cfg.Job.Type),
		ModelID:   cfg.Job.ModelID,
		RateTable: cfg.Job.RateTable,
		Mapping:   cfg.Mapping,
		Defaults:  cfg.DefaultValues,
	}, records)
	if err != nil {
		return nil, err
	}

	summary := utils.RunSummary{
		StartTime: start,
		InputFile: req.Path,
		Sheet:     sheet,
		Result:    res,
	}

	// =========================================================================
	// STEP 5: FAILED RECORDS
	// =========================================================================

	if len(res.FailedRows) > 0 {
		summary.FailedRecordsFile, summary.ArtifactLocation, err = exportFailures(ctx, cfg, fm, res, req.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to export failed records")
		}
	}

	// =========================================================================
	// STEP 6: ARCHIVE
	// =========================================================================

	if !res.Failed() && req.Archive {
		archived, err := fm.ArchiveInputFile(req.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to archive input file")
		} else if archived != req.Path {
			log.Info().Str("archived_to", archived).Msg("Input file archived")
		}
	}

	// =========================================================================
	// STEP 7: SUMMARY
	// =========================================================================

	summary.EndTime = time.Now()
	if err := utils.WriteSummary(req.Out, summary); err != nil {
		log.Warn().Err(err).Msg("Failed to print summary")
	}
	if path, err := utils.WriteSummaryLog(summary, cfg.Output.Dir); err != nil {
		log.Warn().Err(err).Msg("Failed to write summary log")
	} else {
		log.Debug().Str("path", path).Msg("Summary written")
	}

	if res.Failed() {
		return res, fmt.Errorf("upload failed during %q: %s", res.CurrentStep, res.ErrorMessage)
	}
	return res, nil
}

// exportFailures writes the failed records workbook and, when object
// storage is enabled, uploads it.
//
// RETURNS:
//   - The local path of the workbook
//   - The storage location, or "" when storage is disabled
func exportFailures(ctx context.Context, cfg *config.Config, fm *utils.FileManager, res *types.UploadResult, source string) (string, string, error) {
	var buf bytes.Buffer
	if err := failures.WriteXLSX(&buf, res.FailedRows); err != nil {
		return "", "", err
	}

	name := utils.GenerateOutputFileName(cfg.Output.FailedRecordsFormat, map[string]string{
		"job":    res.JobID,
		"source": utils.SourceName(source),
	})
	path, err := fm.WriteArtifact(name, buf.Bytes())
	if err != nil {
		return "", "", err
	}

	m := cfg.Artifacts.MinIO
	if !m.Enabled {
		return path, "", nil
	}
	objects, err := newObjectStorage(m)
	if err != nil {
		return path, "", err
	}
	loc, err := storage.NewArtifactStore(objects, m.Bucket, m.Prefix).PutWorkbook(ctx, name, buf.Bytes())
	if err != nil {
		return path, "", err
	}
	log := logger.FromContext(ctx)
	log.Info().Str("location", loc).Msg("Failed records stored")
	return path, loc, nil
}

// eventLogger logs the lifecycle events of a run.
func eventLogger(log zerolog.Logger) orchestrator.Observer {
	return orchestrator.ObserverFunc(func(e orchestrator.Event) {
		res := e.Result
		switch e.Type {
		case orchestrator.EventFileAccepted:
			log.Info().Int("rows", res.TotalRows).Msg("File accepted")
		case orchestrator.EventBatchPosted:
			log.Info().Int("offset", e.Offset).Int("failed_rows", len(res.FailedRows)).Msg("Chunk posted")
		case orchestrator.EventCompleted:
			log.Info().Str("job_id", res.JobID).Str("status", string(res.JobStatus)).Int("failed_rows", res.FailedCount).Msg("Upload completed")
		case orchestrator.EventCancelled:
			log.Warn().Str("step", res.CurrentStep).Msg("Upload cancelled")
		case orchestrator.EventFailed:
			log.Error().Str("step", res.CurrentStep).Str("error", res.ErrorMessage).Msg("Upload failed")
		}
	})
}
