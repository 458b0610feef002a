// =============================================================================
// Tabular Importer - Import Service Client
// =============================================================================
//
// This module is the HTTP/JSON adapter for the remote import service. Every
// operation is a single request: nothing is retried here, and every failure
// is returned as a *TransportError carrying the status and body.
//
// ENDPOINTS (relative to the tenant base URL):
//   POST /api/v1/dataimport/models/{model}/factData       create fact job
//   GET  /api/v1/dataimport/currencyConversions           list rate tables
//   POST /api/v1/dataimport/currencyConversions/{id}      create rate job
//   POST {jobURL}                                         post a chunk
//   POST {validateJobURL}                                 validate
//   GET  {invalidRowsURL}                                 failed rows
//   POST {runJobURL}                                      run
//   GET  {jobURL}/status                                  job status
//   GET  /api/v1/dataexport/providers/sac/{model}/$metadata?$format=JSON
//   GET  /api/v1/dataexport/providers/sac/{model}/{dim}Master
//
// =============================================================================

package importapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ginjaninja78/tabular-import/internal/auth"
	"github.com/ginjaninja78/tabular-import/internal/logger"
	"github.com/ginjaninja78/tabular-import/internal/types"
)

// CorrelationHeader is the response header identifying a request in the
// service's own logs.
const CorrelationHeader = "x-correlationid"

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 64 << 20

// =============================================================================
// DATA TRANSFER OBJECTS
// =============================================================================

// JobSettings is the mapping and default values sent with every job call.
type JobSettings struct {
	Mapping       map[string]string `json:"Mapping"`
	DefaultValues map[string]string `json:"DefaultValues"`
}

// Job identifies a created import job.
type Job struct {
	ID  string `json:"jobID"`
	URL string `json:"jobURL"`
}

// ChunkResult is the service's answer to one posted chunk.
type ChunkResult struct {
	UpsertedCount  int                `json:"upsertedNumberRows"`
	FailedCount    int                `json:"failedNumberRows"`
	FailedRows     []types.RowFailure `json:"failedRows"`
	RunJobURL      string             `json:"runJobURL"`
	ValidateJobURL string             `json:"validateJobURL"`
}

// Validation is the service's answer to a validation request.
type Validation struct {
	TotalRows      int    `json:"totalNumberRowsInJob"`
	FailedCount    int    `json:"failedNumberRows"`
	InvalidRowsURL string `json:"invalidRowsURL"`
}

// Exchange is the outcome of the most recent HTTP call.
type Exchange struct {
	StatusCode    int
	Body          string
	CorrelationID string
}

type postChunkRequest struct {
	JobSettings
	Data []types.Record `json:"Data"`
}

type currencyConversion struct {
	Name string `json:"currencyConversionName"`
	ID   string `json:"currencyConversionID"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to one tenant of the import service. It is safe for
// sequential use by one job run at a time.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	cred    auth.Credential

	mu   sync.Mutex
	last Exchange
}

// NewHTTPClient returns an HTTP client with a cookie jar, as needed for
// CSRF-protected sessions.
func NewHTTPClient(timeout time.Duration) *http.Client {
	// cookiejar.New only fails on a bad public suffix list option.
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar, Timeout: timeout}
}

// New creates a client for the tenant at baseURL.
//
// PARAMETERS:
//   - baseURL: tenant URL, e.g. https://tenant.example.com
//   - httpClient: transport; nil means a fresh client with a cookie jar
//   - cred: attached to every request; may be nil
//
// RETURNS:
//   - The client, or an error if baseURL is not an absolute URL
func New(baseURL string, httpClient *http.Client, cred auth.Credential) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(60 * time.Second)
	}
	return &Client{baseURL: u, http: httpClient, cred: cred}, nil
}

// LastExchange returns the status and body of the most recent response.
func (c *Client) LastExchange() Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// =============================================================================
// JOB OPERATIONS
// =============================================================================

// CreateJob creates a fact data job for modelID.
func (c *Client) CreateJob(ctx context.Context, modelID string, settings JobSettings) (Job, error) {
	var job Job
	path := "/api/v1/dataimport/models/" + url.PathEscape(modelID) + "/factData"
	err := c.do(ctx, "create job", http.MethodPost, c.endpoint(path), settings, &job)
	return job, err
}

// CreateCurrencyJob creates a currency rate job for the rate table with
// the given internal identifier.
func (c *Client) CreateCurrencyJob(ctx context.Context, tableID string, settings JobSettings) (Job, error) {
	var job Job
	path := "/api/v1/dataimport/currencyConversions/" + url.PathEscape(tableID)
	err := c.do(ctx, "create currency job", http.MethodPost, c.endpoint(path), settings, &job)
	return job, err
}

// ResolveCurrencyTable looks up the internal identifier of the rate table
// called name.
//
// RETURNS:
//   - The identifier and true when found
//   - "" and false when no table has that name
//   - An error if the listing failed
func (c *Client) ResolveCurrencyTable(ctx context.Context, name string) (string, bool, error) {
	var listing struct {
		Conversions []currencyConversion `json:"currencyConversions"`
	}
	err := c.do(ctx, "list currency tables", http.MethodGet, c.endpoint("/api/v1/dataimport/currencyConversions"), nil, &listing)
	if err != nil {
		return "", false, err
	}
	for _, conv := range listing.Conversions {
		if conv.Name == name {
			return conv.ID, true, nil
		}
	}
	return "", false, nil
}

// PostChunk submits one chunk of records to the job at jobURL.
func (c *Client) PostChunk(ctx context.Context, jobURL string, settings JobSettings, records []types.Record) (ChunkResult, error) {
	var res ChunkResult
	body := postChunkRequest{JobSettings: settings, Data: records}
	if body.Data == nil {
		body.Data = []types.Record{}
	}
	err := c.do(ctx, "post chunk", http.MethodPost, c.resolve(jobURL), body, &res)
	return res, err
}

// ValidateJob validates all data posted to the job.
func (c *Client) ValidateJob(ctx context.Context, validateJobURL string) (Validation, error) {
	var res Validation
	err := c.do(ctx, "validate job", http.MethodPost, c.resolve(validateJobURL), nil, &res)
	return res, err
}

// GetFailedRecords fetches the rows rejected by validation. Each row still
// carries its rejection reason in a reserved field.
func (c *Client) GetFailedRecords(ctx context.Context, invalidRowsURL string) ([]types.Record, error) {
	var res struct {
		FailedRows []types.Record `json:"failedRows"`
	}
	err := c.do(ctx, "get failed records", http.MethodGet, c.resolve(invalidRowsURL), nil, &res)
	return res.FailedRows, err
}

// RunJob starts execution of a validated job.
func (c *Client) RunJob(ctx context.Context, runJobURL string) error {
	return c.do(ctx, "run job", http.MethodPost, c.resolve(runJobURL), nil, nil)
}

// GetJobStatus returns the current status of the job at jobURL.
func (c *Client) GetJobStatus(ctx context.Context, jobURL string) (types.JobStatus, error) {
	var res struct {
		Status types.JobStatus `json:"jobStatus"`
	}
	err := c.do(ctx, "get job status", http.MethodGet, c.resolve(strings.TrimRight(jobURL, "/")+"/status"), nil, &res)
	return res.Status, err
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// endpoint joins a path onto the base URL.
func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// resolve makes a service-returned URL absolute. Relative references are
// resolved against the base URL.
func (c *Client) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return c.baseURL.ResolveReference(u).String()
}

// do sends one JSON request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, op, method, target string, in, out any) error {
	log := logger.FromContext(ctx)

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cred != nil {
		if err := c.cred.Apply(ctx, req); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("failed to attach credentials: %w", err)}
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(Exchange{})
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	ex := Exchange{
		StatusCode:    resp.StatusCode,
		Body:          string(raw),
		CorrelationID: resp.Header.Get(CorrelationHeader),
	}
	c.record(ex)

	event := log.Debug()
	if ex.CorrelationID != "" {
		event = log.Info().Str("correlation_id", ex.CorrelationID)
	}
	event.Str("op", op).
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("import service call")

	if readErr != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Body: ex.Body, Err: fmt.Errorf("failed to read response: %w", readErr)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Body: ex.Body}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Body: ex.Body, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func (c *Client) record(ex Exchange) {
	c.mu.Lock()
	c.last = ex
	c.mu.Unlock()
}
