// =============================================================================
// Tabular Importer - Job Orchestrator
// =============================================================================
//
// This module drives one import job through the remote service:
//
//   INIT -> CREATING_JOB -> POSTING_DATA -> VALIDATING
//        -> (RUNNING -> POLLING)? -> COMPLETED | COMPLETED_WITH_FAILURES | FAILED
//
// RUNNING and POLLING are skipped when validation rejects every row. Every
// remote failure ends the run as FAILED; nothing is retried. Row-level
// rejections are data: they are collected into the result and the run may
// still complete.
//
// The progress of a run is held in a fresh types.UploadResult, which is
// returned to the caller. Lifecycle milestones are reported to an Observer.
//
// =============================================================================

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/tabular-import/internal/chunk"
	"github.com/ginjaninja78/tabular-import/internal/config"
	"github.com/ginjaninja78/tabular-import/internal/failures"
	"github.com/ginjaninja78/tabular-import/internal/importapi"
	"github.com/ginjaninja78/tabular-import/internal/logger"
	"github.com/ginjaninja78/tabular-import/internal/types"
)

// DefaultPollInterval is used when Options.PollInterval is not set.
const DefaultPollInterval = 2 * time.Second

// =============================================================================
// INTERFACES
// =============================================================================

// ImportService is the remote service a run talks to.
// *importapi.Client implements it.
type ImportService interface {
	CreateJob(ctx context.Context, modelID string, settings importapi.JobSettings) (importapi.Job, error)
	CreateCurrencyJob(ctx context.Context, tableID string, settings importapi.JobSettings) (importapi.Job, error)
	ResolveCurrencyTable(ctx context.Context, name string) (string, bool, error)
	PostChunk(ctx context.Context, jobURL string, settings importapi.JobSettings, records []types.Record) (importapi.ChunkResult, error)
	ValidateJob(ctx context.Context, validateJobURL string) (importapi.Validation, error)
	GetFailedRecords(ctx context.Context, invalidRowsURL string) ([]types.Record, error)
	RunJob(ctx context.Context, runJobURL string) error
	GetJobStatus(ctx context.Context, jobURL string) (types.JobStatus, error)
	LastExchange() importapi.Exchange
}

// =============================================================================
// JOBS AND OPTIONS
// =============================================================================

// JobKind selects the kind of job created on the service.
type JobKind string

const (
	KindFact     JobKind = config.JobTypeFact
	KindCurrency JobKind = config.JobTypeCurrency
)

// Job describes what a run imports and where.
type Job struct {
	Kind JobKind

	// ModelID is the target model of a fact job.
	ModelID string

	// RateTable is the name of the target rate table of a currency job.
	RateTable string

	Mapping  map[string]string
	Defaults map[string]string
}

func (j Job) validate() error {
	switch j.Kind {
	case KindFact:
		if j.ModelID == "" {
			return config.Errorf("job.model_id", "no model has been set")
		}
	case KindCurrency:
		if j.RateTable == "" {
			return config.Errorf("job.rate_table", "no rate table has been set")
		}
	default:
		return config.Errorf("job.type", "unknown job type %q", j.Kind)
	}
	return nil
}

// Options tunes a run.
type Options struct {
	// ChunkSize is the number of records per posted chunk. Zero means
	// chunk.DefaultSize.
	ChunkSize int

	// PollInterval is the pause between job status checks. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// MaxPollAttempts caps the number of status checks. Zero means no cap.
	MaxPollAttempts int

	// Observer receives lifecycle events. May be nil.
	Observer Observer
}

// =============================================================================
// JOB FAILURE
// =============================================================================

// JobFailure is a failure reported by the service itself rather than a
// transport fault: nothing upserted, every row invalid, or a FAILED job.
type JobFailure struct {
	Step   string
	Reason string
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("job failed during %q: %s", e.Step, e.Reason)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs import jobs one at a time.
type Orchestrator struct {
	svc  ImportService
	opts Options

	// mu is held for the duration of a run.
	mu sync.Mutex
}

// New creates an orchestrator for svc.
func New(svc ImportService, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPollAttempts < 0 {
		opts.MaxPollAttempts = 0
	}
	return &Orchestrator{svc: svc, opts: opts}
}

// Run imports records as one job.
//
// PARAMETERS:
//   - ctx: carries the logger; cancelling it ends the run as FAILED
//   - job: target and settings of the job
//   - records: the normalized records of one sheet, in order
//
// RETURNS:
//   - The result of the run. Remote failures are reported through it, with
//     JobStatus FAILED and Err set.
//   - A *config.ConfigurationError when the run could not start. No remote
//     call has been made in that case.
func (o *Orchestrator) Run(ctx context.Context, job Job, records []types.Record) (*types.UploadResult, error) {
	if !o.mu.TryLock() {
		return nil, config.Errorf("", "a job run is already in progress")
	}
	defer o.mu.Unlock()

	if err := job.validate(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, config.Errorf("records", "there are no records to upload")
	}

	r := &run{
		o:       o,
		job:     job,
		records: records,
		base:    logger.FromContext(ctx),
		settings: importapi.JobSettings{
			Mapping:       nonNil(job.Mapping),
			DefaultValues: nonNil(job.Defaults),
		},
		res: &types.UploadResult{
			CurrentStep:   types.StepInitialization,
			JobStatus:     types.StatusNotStarted,
			ModelID:       job.ModelID,
			Mapping:       job.Mapping,
			DefaultValues: job.Defaults,
			TotalRows:     len(records),
			FailedRows:    []types.FailedRow{},
		},
	}
	r.ctx = ctx
	r.log = r.base
	r.execute()
	return r.res, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// =============================================================================
// RUN STATE
// =============================================================================

// run is the mutable state of one in-flight job.
type run struct {
	o        *Orchestrator
	job      Job
	records  []types.Record
	settings importapi.JobSettings
	res      *types.UploadResult

	ctx context.Context

	// base carries run-wide fields; log adds the current step.
	base zerolog.Logger
	log  zerolog.Logger

	// validationFailed is the number of rows rejected by validation.
	validationFailed int
}

// step records a state transition and tags later log lines with it.
func (r *run) step(label string) {
	r.res.CurrentStep = label
	r.log = r.base.With().Str("step", label).Logger()
	r.log.Info().Msg("step started")
}

// stepCtx returns the context passed to service calls of the current step.
func (r *run) stepCtx() context.Context {
	return logger.WithContext(r.ctx, r.log)
}

// observe copies the last HTTP exchange into the result.
func (r *run) observe() {
	ex := r.o.svc.LastExchange()
	if ex.StatusCode != 0 {
		r.res.LastHTTPStatus = ex.StatusCode
	}
	if ex.Body != "" {
		r.res.LastResponse = ex.Body
	}
}

// fail ends the run as FAILED and raises the terminal notification.
func (r *run) fail(err error) {
	r.observe()
	r.res.JobStatus = types.StatusFailed
	r.res.Err = err
	r.res.ErrorMessage = errorMessage(err)

	if r.ctx.Err() != nil {
		r.log.Warn().Err(err).Msg("job run cancelled")
		r.notify(EventCancelled, 0)
		return
	}
	r.log.Error().Err(err).Msg("job run failed")
	r.notify(EventFailed, 0)
}

// errorMessage picks the best user-facing reason for err.
func errorMessage(err error) string {
	var te *importapi.TransportError
	if errors.As(err, &te) {
		return te.Message()
	}
	var jf *JobFailure
	if errors.As(err, &jf) {
		return jf.Reason
	}
	return err.Error()
}

// serviceReason prefers the message in the last response body, then the
// first rejected row's reason, then fallback.
func (r *run) serviceReason(rows []types.RowFailure, fallback string) string {
	if msg := importapi.ServiceMessage(r.o.svc.LastExchange().Body); msg != "" {
		return msg
	}
	for _, f := range rows {
		if f.Reason != "" {
			return f.Reason
		}
	}
	return fallback
}

func (r *run) notify(t EventType, offset int) {
	if r.o.opts.Observer == nil {
		return
	}
	r.o.opts.Observer.OnEvent(Event{Type: t, Offset: offset, Result: r.res})
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func (r *run) execute() {
	r.notify(EventFileAccepted, 0)

	job, ok := r.createJob()
	if !ok {
		return
	}

	links, ok := r.postChunks(job)
	if !ok {
		return
	}

	runJob, ok := r.validate(links)
	if !ok {
		return
	}
	if !runJob {
		r.fail(&JobFailure{
			Step:   types.StepValidatingJob,
			Reason: fmt.Sprintf("all %d rows failed validation", r.validationFailed),
		})
		return
	}

	r.step(types.StepRunningJob)
	if err := r.o.svc.RunJob(r.stepCtx(), links.RunJobURL); err != nil {
		r.fail(err)
		return
	}
	r.observe()

	r.poll(job)
}

// createJob creates the job, resolving the rate table first for currency
// jobs.
func (r *run) createJob() (importapi.Job, bool) {
	var (
		job     importapi.Job
		tableID string
		found   bool
		err     error
	)

	switch r.job.Kind {
	case KindCurrency:
		r.step(types.StepResolveRateTable)
		tableID, found, err = r.o.svc.ResolveCurrencyTable(r.stepCtx(), r.job.RateTable)
		if err != nil {
			r.fail(err)
			return job, false
		}
		if !found {
			r.fail(&JobFailure{
				Step:   types.StepResolveRateTable,
				Reason: "Could not find Currency Rate Table with Name: " + r.job.RateTable,
			})
			return job, false
		}
		r.res.ModelID = tableID

		r.step(types.StepCreatingJob)
		job, err = r.o.svc.CreateCurrencyJob(r.stepCtx(), tableID, r.settings)
	default:
		r.step(types.StepCreatingJob)
		job, err = r.o.svc.CreateJob(r.stepCtx(), r.job.ModelID, r.settings)
	}
	if err != nil {
		r.fail(err)
		return job, false
	}
	r.observe()

	r.res.JobID = job.ID
	r.res.JobStatus = types.StatusRunning
	r.base = r.base.With().Str("job_id", job.ID).Logger()
	r.log = r.base.With().Str("step", r.res.CurrentStep).Logger()
	r.log.Info().Str("job_url", job.URL).Msg("job created")
	return job, true
}

// postChunks submits every chunk in order and returns the links of the
// last accepted chunk.
func (r *run) postChunks(job importapi.Job) (importapi.ChunkResult, bool) {
	r.step(types.StepPostingData)
	r.log.Info().
		Int("records", len(r.records)).
		Int("chunks", chunk.Count(len(r.records), r.o.opts.ChunkSize)).
		Msg("posting records")

	var last importapi.ChunkResult
	for offset, records := range chunk.Plan(r.records, r.o.opts.ChunkSize) {
		res, err := r.o.svc.PostChunk(r.stepCtx(), job.URL, r.settings, records)
		if err != nil {
			r.fail(err)
			return last, false
		}
		r.observe()

		r.res.FailedCount += res.FailedCount
		r.res.FailedRows = append(r.res.FailedRows, failures.FromChunk(res.FailedRows)...)

		if res.UpsertedCount == 0 {
			r.fail(&JobFailure{
				Step:   types.StepPostingData,
				Reason: r.serviceReason(res.FailedRows, fmt.Sprintf("no rows were upserted from the batch starting at row %d", offset)),
			})
			return last, false
		}

		last = res
		r.res.BatchOffset = offset
		r.log.Info().
			Int("offset", offset).
			Int("rows", len(records)).
			Int("failed", res.FailedCount).
			Msg("batch posted")
		r.notify(EventBatchPosted, offset)
	}
	return last, true
}

// validate validates the posted data and collects the rejected rows.
//
// RETURNS:
//   - Whether the job should be run; false when every row was rejected
//   - Whether the run may continue
func (r *run) validate(links importapi.ChunkResult) (bool, bool) {
	r.step(types.StepValidatingJob)

	v, err := r.o.svc.ValidateJob(r.stepCtx(), links.ValidateJobURL)
	if err != nil {
		r.fail(err)
		return false, false
	}
	r.observe()

	r.validationFailed = v.FailedCount
	r.res.TotalRows = v.TotalRows
	r.res.FailedCount += v.FailedCount
	r.log.Info().
		Int("total", v.TotalRows).
		Int("failed", v.FailedCount).
		Msg("job validated")

	if v.FailedCount > 0 {
		rows, err := r.o.svc.GetFailedRecords(r.stepCtx(), v.InvalidRowsURL)
		if err != nil {
			r.fail(err)
			return false, false
		}
		r.observe()
		r.res.FailedRows = append(r.res.FailedRows, failures.FromValidation(rows)...)
	}

	return v.FailedCount != v.TotalRows, true
}

// poll checks the job status until it is terminal, the attempt cap is
// reached, or the context is cancelled.
func (r *run) poll(job importapi.Job) {
	r.step(types.StepCheckingJobStatus)

	maxAttempts := r.o.opts.MaxPollAttempts

	var status types.JobStatus
	for attempt := 1; ; attempt++ {
		var err error
		status, err = r.o.svc.GetJobStatus(r.stepCtx(), job.URL)
		if err != nil {
			r.fail(err)
			return
		}
		r.observe()
		r.log.Debug().Int("attempt", attempt).Str("status", string(status)).Msg("job status")

		if status.Terminal() {
			break
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			r.fail(&JobFailure{
				Step:   types.StepCheckingJobStatus,
				Reason: fmt.Sprintf("job status still %s after %d checks", status, attempt),
			})
			return
		}

		select {
		case <-r.ctx.Done():
			r.fail(fmt.Errorf("stopped waiting for job %s: %w", job.ID, r.ctx.Err()))
			return
		case <-time.After(r.o.opts.PollInterval):
		}
	}

	r.res.CurrentStep = types.StepUploadCompleted
	if status == types.StatusFailed {
		r.fail(&JobFailure{Step: types.StepCheckingJobStatus, Reason: r.serviceReason(nil, "the service reported the job as FAILED")})
		return
	}

	r.res.JobStatus = status
	if r.validationFailed > 0 {
		r.res.JobStatus = types.StatusCompletedWithFailures
	}
	r.log.Info().
		Str("status", string(r.res.JobStatus)).
		Int("failed", r.res.FailedCount).
		Msg("job finished")
	r.notify(EventCompleted, 0)
}
