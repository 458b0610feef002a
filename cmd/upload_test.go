package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ginjaninja78/tabular-import/internal/config"
	"github.com/ginjaninja78/tabular-import/internal/failures"
	"github.com/ginjaninja78/tabular-import/internal/importapi"
	"github.com/ginjaninja78/tabular-import/internal/storage"
	"github.com/ginjaninja78/tabular-import/internal/types"
)

// fakeTenant serves the import endpoints for model M1 as job J1.
type fakeTenant struct {
	mu         sync.Mutex
	posted     int
	finalState string
	failedRows string
	calls      []string
}

func (f *fakeTenant) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)

		if r.URL.Path == "/api/v1/csrf" {
			w.Header().Set("x-csrf-token", "tok")
			return
		}
		if r.Method == http.MethodPost && r.Header.Get("x-csrf-token") != "tok" {
			http.Error(w, `{"error":{"message":"CSRF token missing"}}`, http.StatusForbidden)
			return
		}

		w.Header().Set("x-correlationid", "corr-1")
		switch r.Method + " " + r.URL.Path {
		case "POST /api/v1/dataimport/models/M1/factData":
			fmt.Fprint(w, `{"jobID":"J1","jobURL":"/jobs/J1"}`)
		case "POST /jobs/J1":
			var body struct {
				Data []types.Record `json:"Data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("Bad chunk body: %v", err)
			}
			f.posted += len(body.Data)
			fmt.Fprintf(w, `{"upsertedNumberRows":%d,"failedNumberRows":0,"failedRows":[],"runJobURL":"/jobs/J1/run","validateJobURL":"/jobs/J1/validate"}`, len(body.Data))
		case "POST /jobs/J1/validate":
			failed := 0
			if f.failedRows != "" {
				failed = 1
			}
			fmt.Fprintf(w, `{"totalNumberRowsInJob":%d,"failedNumberRows":%d,"invalidRowsURL":"/jobs/J1/invalid"}`, f.posted, failed)
		case "GET /jobs/J1/invalid":
			fmt.Fprintf(w, `{"failedRows":[%s]}`, f.failedRows)
		case "POST /jobs/J1/run":
			fmt.Fprint(w, `{}`)
		case "GET /jobs/J1/status":
			fmt.Fprintf(w, `{"jobStatus":%q}`, f.finalState)
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeTenant) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

// uploadFixture writes a CSV input and a configuration pointing at url.
func uploadFixture(t *testing.T, url, extra string) (*config.Config, string, string) {
	t.Helper()
	dir := t.TempDir()

	input := filepath.Join(dir, "ledger.csv")
	csv := "GL,Amount\nREV100,10.5\nEXP200,2\nEXP300,3\n"
	if err := os.WriteFile(input, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	yml := fmt.Sprintf(`
service:
  base_url: %s
  poll_interval: 1ms
  max_poll_attempts: 5
job:
  model_id: M1
  chunk_size: 2
mapping:
  Account: GL
  SignedData: Amount
transform:
  measures: [SignedData]
output:
  dir: %s
  archive_dir: %s
  failed_records_format: "failed_{source}_{job}.xlsx"
log_level: error
%s`, url, filepath.Join(dir, "out"), filepath.Join(dir, "archive"), extra)

	cfg, err := config.Parse([]byte(yml))
	if err != nil {
		t.Fatalf("config.Parse failed: %v", err)
	}
	return cfg, input, dir
}

func newTestClient(t *testing.T, ctx context.Context, cfg *config.Config) *importapi.Client {
	t.Helper()
	client, err := newServiceClient(ctx, cfg)
	if err != nil {
		t.Fatalf("newServiceClient failed: %v", err)
	}
	return client
}

func TestRunUpload_CompletedWithFailures(t *testing.T) {
	tenant := &fakeTenant{
		finalState: "COMPLETED",
		failedRows: `{"GL":"EXP200","Amount":2,"_REJECTION_REASON":"Member not found"}`,
	}
	srv := httptest.NewServer(tenant.handler(t))
	defer srv.Close()

	ctx := context.Background()
	cfg, input, dir := uploadFixture(t, srv.URL, "")
	var out bytes.Buffer

	res, err := runUpload(ctx, cfg, newTestClient(t, ctx, cfg), uploadRequest{Path: input, Archive: true, Out: &out})
	if err != nil {
		t.Fatalf("runUpload failed: %v", err)
	}
	if res.JobStatus != types.StatusCompletedWithFailures || res.TotalRows != 3 || res.FailedCount != 1 {
		t.Errorf("Unexpected result %+v", res)
	}
	if tenant.posted != 3 {
		t.Errorf("Expected 3 posted records, got %d", tenant.posted)
	}

	// Failed records workbook.
	workbook := filepath.Join(dir, "out", "failed_ledger_J1.xlsx")
	f, err := os.Open(workbook)
	if err != nil {
		t.Fatalf("Expected failed records workbook: %v", err)
	}
	defer f.Close()
	table, err := failures.ReadTable(f)
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}
	if len(table) != 2 || table[1][len(table[1])-1] != "Member not found" {
		t.Errorf("Unexpected workbook table %v", table)
	}

	// Input archived after a completed run.
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Error("Expected the input to be archived")
	}
	if _, err := os.Stat(filepath.Join(dir, "archive", "ledger.csv")); err != nil {
		t.Errorf("Expected archived input: %v", err)
	}

	summary := out.String()
	for _, want := range []string{"Status:         COMPLETED_WITH_FAILURES", "failed_ledger_J1.xlsx"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Expected %q in summary:\n%s", want, summary)
		}
	}
}

func TestRunUpload_ServiceFailureKeepsInput(t *testing.T) {
	tenant := &fakeTenant{finalState: "FAILED"}
	srv := httptest.NewServer(tenant.handler(t))
	defer srv.Close()

	ctx := context.Background()
	cfg, input, _ := uploadFixture(t, srv.URL, "")
	var out bytes.Buffer

	res, err := runUpload(ctx, cfg, newTestClient(t, ctx, cfg), uploadRequest{Path: input, Archive: true, Out: &out})
	if err == nil {
		t.Fatal("Expected an error for a FAILED job")
	}
	if res == nil || !res.Failed() {
		t.Fatalf("Expected a FAILED result, got %+v", res)
	}
	if _, err := os.Stat(input); err != nil {
		t.Errorf("Input must stay in place after a failure: %v", err)
	}
	if !strings.Contains(out.String(), "Status:         FAILED") {
		t.Errorf("Expected the summary to be printed:\n%s", out.String())
	}
}

func TestRunUpload_PreflightStopsBeforeAnyCall(t *testing.T) {
	tenant := &fakeTenant{finalState: "COMPLETED"}
	srv := httptest.NewServer(tenant.handler(t))
	defer srv.Close()

	ctx := context.Background()
	cfg, input, _ := uploadFixture(t, srv.URL, "")
	cfg.Mapping["Date"] = "Period"
	var out bytes.Buffer

	res, err := runUpload(ctx, cfg, newTestClient(t, ctx, cfg), uploadRequest{Path: input, Out: &out})
	if err == nil || res != nil {
		t.Fatalf("Expected pre-flight failure, got %+v, %v", res, err)
	}
	if !strings.Contains(out.String(), "Column 'Period' mapped to 'Date'") {
		t.Errorf("Expected findings in output:\n%s", out.String())
	}
	if tenant.called("POST /api/v1/dataimport/models/M1/factData") {
		t.Error("No job may be created after a failed pre-flight")
	}
}

func TestRunUpload_StrictStopsOnWarnings(t *testing.T) {
	tenant := &fakeTenant{finalState: "COMPLETED"}
	srv := httptest.NewServer(tenant.handler(t))
	defer srv.Close()

	ctx := context.Background()
	cfg, _, dir := uploadFixture(t, srv.URL, "")
	input := filepath.Join(dir, "warned.csv")
	if err := os.WriteFile(input, []byte("GL,Amount\nREV100,n/a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer

	res, err := runUpload(ctx, cfg, newTestClient(t, ctx, cfg), uploadRequest{Path: input, Strict: true, Out: &out})
	if err == nil || res != nil {
		t.Fatalf("Expected strict pre-flight failure, got %+v, %v", res, err)
	}
	if !strings.Contains(out.String(), "[WARNING] Record 1, Field 'Amount'") {
		t.Errorf("Expected the warning in output:\n%s", out.String())
	}
	if tenant.called("POST /api/v1/dataimport/models/M1/factData") {
		t.Error("No job may be created when a strict pre-flight finds warnings")
	}
}

type capturedStorage struct {
	bucket, object string
	size           int64
}

func (c *capturedStorage) Upload(_ context.Context, bucket, objectName, _ string, reader io.Reader, size int64) (string, error) {
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", err
	}
	c.bucket, c.object, c.size = bucket, objectName, size
	return bucket + "/" + objectName, nil
}

func TestRunUpload_StoresFailedRecords(t *testing.T) {
	tenant := &fakeTenant{
		finalState: "COMPLETED",
		failedRows: `{"GL":"EXP200","Amount":2,"_REJECTION_REASON":"Member not found"}`,
	}
	srv := httptest.NewServer(tenant.handler(t))
	defer srv.Close()

	captured := &capturedStorage{}
	restore := newObjectStorage
	newObjectStorage = func(config.MinIOConfig) (storage.ObjectStorage, error) { return captured, nil }
	defer func() { newObjectStorage = restore }()

	ctx := context.Background()
	cfg, input, _ := uploadFixture(t, srv.URL, `
artifacts:
  minio:
    enabled: true
    endpoint: localhost:9000
    bucket: imports
    prefix: failed
`)
	var out bytes.Buffer

	if _, err := runUpload(ctx, cfg, newTestClient(t, ctx, cfg), uploadRequest{Path: input, Out: &out}); err != nil {
		t.Fatalf("runUpload failed: %v", err)
	}
	if captured.bucket != "imports" || captured.object != "failed/failed_ledger_J1.xlsx" || captured.size == 0 {
		t.Errorf("Unexpected upload %+v", captured)
	}
	if !strings.Contains(out.String(), "Stored At:      imports/failed/failed_ledger_J1.xlsx") {
		t.Errorf("Expected storage location in summary:\n%s", out.String())
	}
	if _, err := os.Stat(input); err != nil {
		t.Errorf("Archive was not requested, input must stay: %v", err)
	}
}

func TestRunUpload_StorageErrorIsNotFatal(t *testing.T) {
	tenant := &fakeTenant{
		finalState: "COMPLETED",
		failedRows: `{"GL":"EXP200","Amount":2,"_REJECTION_REASON":"Member not found"}`,
	}
	srv := httptest.NewServer(tenant.handler(t))
	defer srv.Close()

	restore := newObjectStorage
	newObjectStorage = func(config.MinIOConfig) (storage.ObjectStorage, error) { return nil, errors.New("unreachable") }
	defer func() { newObjectStorage = restore }()

	ctx := context.Background()
	cfg, input, _ := uploadFixture(t, srv.URL, `
artifacts:
  minio:
    enabled: true
    endpoint: localhost:9000
    bucket: imports
`)
	var out bytes.Buffer

	res, err := runUpload(ctx, cfg, newTestClient(t, ctx, cfg), uploadRequest{Path: input, Out: &out})
	if err != nil || res.JobStatus != types.StatusCompletedWithFailures {
		t.Fatalf("Expected completed run, got %+v, %v", res, err)
	}
	if !strings.Contains(out.String(), "Failed Records:") {
		t.Errorf("Local workbook must still be reported:\n%s", out.String())
	}
}
