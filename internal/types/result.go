package types

// =============================================================================
// JOB STATUS
// =============================================================================

// JobStatus is the status of a remote import job as reported to the caller.
// The service may report values not listed here; they are passed through.
type JobStatus string

const (
	StatusNotStarted            JobStatus = "NOT_STARTED"
	StatusRunning               JobStatus = "RUNNING"
	StatusCompleted             JobStatus = "COMPLETED"
	StatusCompletedWithFailures JobStatus = "COMPLETED_WITH_FAILURES"
	StatusFailed                JobStatus = "FAILED"
)

// Terminal reports whether polling should stop on this status.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// =============================================================================
// STEPS
// =============================================================================

// Step labels shown while a job run progresses.
const (
	StepInitialization    = "Initialization"
	StepResolveRateTable  = "Getting Rate Table ID"
	StepCreatingJob       = "Creating Job"
	StepPostingData       = "Posting Data to Job"
	StepValidatingJob     = "Validating Job"
	StepRunningJob        = "Running Job"
	StepCheckingJobStatus = "Checking Job Status"
	StepUploadCompleted   = "Upload Completed"
)

// =============================================================================
// FAILED ROW
// =============================================================================

// FailedRow is one rejected record with its rendered form and reason.
type FailedRow struct {
	Row         Record `json:"row"`
	RowAsString string `json:"rowAsString"`
	Reason      string `json:"reason"`
}

// =============================================================================
// UPLOAD RESULT
// =============================================================================

// UploadResult is the progress aggregate of one job run. A fresh value is
// created for every run and only the orchestrator writes to it.
type UploadResult struct {
	CurrentStep    string            `json:"currentStep"`
	JobID          string            `json:"jobID,omitempty"`
	ModelID        string            `json:"modelID,omitempty"`
	Mapping        map[string]string `json:"mapping,omitempty"`
	DefaultValues  map[string]string `json:"defaultValues,omitempty"`
	TotalRows      int               `json:"totalNumberRowsInJob"`
	FailedCount    int               `json:"failedNumberRows"`
	FailedRows     []FailedRow       `json:"failedRows"`
	JobStatus      JobStatus         `json:"jobStatus"`
	LastHTTPStatus int               `json:"lastHttpStatus,omitempty"`
	LastResponse   string            `json:"lastResponse,omitempty"`
	ErrorMessage   string            `json:"errorMessage,omitempty"`
	BatchOffset    int               `json:"currentBatchOffset"`

	// Err is the error that ended a failed run, when there was one.
	Err error `json:"-"`
}

// Failed reports whether the run ended in FAILED.
func (r *UploadResult) Failed() bool {
	return r.JobStatus == StatusFailed
}

// RowFailure is a rejected row as reported by the service for one posted
// chunk.
type RowFailure struct {
	Row    Record `json:"row"`
	Reason string `json:"reason"`
}
