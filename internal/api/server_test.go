package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fin-ingest/internal/blob"
	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/intake"
	"github.com/sells-group/fin-ingest/internal/lifecycle"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/pipeline"
	"github.com/sells-group/fin-ingest/internal/store"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []pipeline.ExtractionJob
	err  error
}

func (q *recordingQueue) EnqueueExtraction(_ context.Context, job pipeline.ExtractionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) EnqueueValidation(context.Context, pipeline.ValidationJob) error {
	return nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   *store.SQLiteStore
	blobDir string
	queue   *recordingQueue
	now     time.Time
}

func (e *testEnv) advance(d time.Duration) { e.now = e.now.Add(d) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	blobDir := filepath.Join(dir, "blobs")
	blobs, err := blob.NewFS(blobDir)
	require.NoError(t, err)

	cfg := &config.Config{
		Upload:     config.UploadConfig{MaxSizeMB: 1, AllowedExtensions: []string{".pdf", ".xlsx"}, RetentionDays: 2555},
		Processing: config.ProcessingConfig{TimeoutMinutes: 10, StatusCacheTTLSec: 10, StatusLogLimit: 20},
	}
	q := &recordingQueue{}
	env := &testEnv{store: st, blobDir: blobDir, queue: q, now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	env.srv = New(cfg, st,
		intake.New(cfg.Upload, st, blobs, q),
		pipeline.NewRetrier(cfg, st, blobs, q),
		WithClock(func() time.Time { return env.now }),
	)
	env.handler = env.srv.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) upload(t *testing.T, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(t, req)
}

func (e *testEnv) appendEvent(t *testing.T, docID string, typ model.EventType, data model.EventData) {
	t.Helper()
	require.NoError(t, e.store.AppendEvent(context.Background(), &model.ProcessingEvent{
		DocumentID: docID,
		EventType:  typ,
		Timestamp:  e.now,
		Data:       data,
	}))
	e.advance(time.Second)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestUpload_Accepted(t *testing.T) {
	env := newTestEnv(t)
	rr := env.upload(t, "statement.pdf", []byte("%PDF-1.7"))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	body := decode[map[string]any](t, rr)
	id, _ := body["document_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "statement.pdf", body["document_name"])
	assert.Equal(t, "Document uploaded successfully and queued for processing", body["message"])
	assert.EqualValues(t, 10, body["estimated_processing_time_minutes"])

	require.Len(t, env.queue.jobs, 1)
	assert.Equal(t, id, env.queue.jobs[0].DocumentID)
}

func TestUpload_Rejections(t *testing.T) {
	env := newTestEnv(t)

	rr := env.upload(t, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "validation_error", decode[errorBody](t, rr).ErrorType)

	rr = env.upload(t, "empty.pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.upload(t, "big.pdf", make([]byte, 1<<20+10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rr = env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Empty(t, env.queue.jobs)
}

func TestUpload_QueueUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = errors.New("queue full")

	rr := env.upload(t, "statement.pdf", []byte("%PDF-1.7"))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Equal(t, "queue_unavailable", body.ErrorType)
	assert.NotEmpty(t, body.DocumentID)
}

func TestStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/documents/missing/status", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "document_not_found", decode[errorBody](t, rr).ErrorType)
}

func TestStatus_CachedUntilTTL(t *testing.T) {
	env := newTestEnv(t)
	const id = "doc-status"
	env.appendEvent(t, id, model.EventQueued, model.EventData{DocumentName: "a.pdf", DocumentType: "pdf"})

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/documents/"+id+"/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, lifecycle.StatusQueued, decode[lifecycle.StatusReport](t, rr).Status)

	env.appendEvent(t, id, model.EventExtractionStarted, model.EventData{ExtractionResultID: "extraction-1", RetryCount: model.Ptr(0)})

	// Served from cache within the TTL.
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/documents/"+id+"/status", nil))
	assert.Equal(t, lifecycle.StatusQueued, decode[lifecycle.StatusReport](t, rr).Status)

	env.advance(10 * time.Second)
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/documents/"+id+"/status", nil))
	report := decode[lifecycle.StatusReport](t, rr)
	assert.Equal(t, lifecycle.StatusProcessing, report.Status)
	assert.NotNil(t, report.EstimatedCompletionTime)
	assert.Nil(t, report.ErrorMessage)
}

func TestStatus_AttachesExtractionSummary(t *testing.T) {
	env := newTestEnv(t)
	const id = "doc-done"
	env.appendEvent(t, id, model.EventQueued, model.EventData{DocumentName: "a.pdf", DocumentType: "pdf"})
	env.appendEvent(t, id, model.EventExtractionStarted, model.EventData{ExtractionResultID: "extraction-1", RetryCount: model.Ptr(0)})
	seedResult(t, env, id, 2)
	env.appendEvent(t, id, model.EventValidationCompleted, model.EventData{
		ValidationStatus:     "passed",
		ErrorCount:           model.Ptr(0),
		WarningCount:         model.Ptr(0),
		RequiresManualReview: model.Ptr(false),
	})

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/documents/"+id+"/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	report := decode[lifecycle.StatusReport](t, rr)
	assert.Equal(t, lifecycle.StatusCompleted, report.Status)
	require.NotNil(t, report.ExtractionSummary)
	assert.Equal(t, 2, report.ExtractionSummary.MetricsExtracted)
	require.NotNil(t, report.ValidationStatus)
	assert.Equal(t, model.ValidationPassed, *report.ValidationStatus)
}

func seedResult(t *testing.T, env *testEnv, docID string, metrics int) *model.ExtractionResult {
	t.Helper()
	ctx := context.Background()
	done := env.now
	res := &model.ExtractionResult{
		ID:               "extraction-" + docID,
		DocumentID:       docID,
		DocumentName:     docID + ".pdf",
		DocumentType:     model.DocumentPDF,
		Status:           model.ExtractionCompleted,
		OCRConfidenceAvg: 0.9,
		TablesExtracted:  1,
		MetricsExtracted: metrics,
		StartedAt:        done.Add(-time.Minute),
		CompletedAt:      &done,
		ValidationStatus: model.ValidationPassed,
	}
	require.NoError(t, env.store.SaveExtractionResult(ctx, res))

	var ms []model.FinancialMetric
	types := []model.MetricType{model.MetricRevenue, model.MetricNetIncome}
	for i := 0; i < metrics; i++ {
		mt := types[i%len(types)]
		ms = append(ms, model.FinancialMetric{
			ID:              docID + "-m" + string(rune('a'+i)),
			DocumentID:      docID,
			MetricType:      mt,
			MetricName:      mt.DisplayName(),
			Value:           float64(1000 * (i + 1)),
			Currency:        "USD",
			ConfidenceScore: 0.9,
			SourceReference: model.SourceReference{DocumentID: docID, TableID: "table-1", CellReference: "row:1,col:1"},
			ExtractedAt:     done,
		})
	}
	require.NoError(t, env.store.SaveMetrics(ctx, ms))
	return res
}

func TestResults(t *testing.T) {
	env := newTestEnv(t)
	seedResult(t, env, "doc-r", 2)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/documents/doc-r/results", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	detailed := decode[pipeline.DetailedResults](t, rr)
	assert.Len(t, detailed.Metrics, 2)
	assert.Equal(t, 2, detailed.Summary.TotalMetrics)

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/documents/doc-r/results?format=summary", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decode[pipeline.SummaryResults](t, rr)
	assert.Len(t, summary.MetricsSummary, 2)

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/documents/doc-r/results?format=csv", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/documents/doc-r/results?include_low_confidence=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResults_States(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/documents/none/results", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "document_not_found", decode[errorBody](t, rr).ErrorType)

	res := seedResult(t, env, "doc-p", 0)
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/documents/doc-p/results", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "no_metrics", decode[errorBody](t, rr).ErrorType)

	res.Status = model.ExtractionProcessing
	require.NoError(t, env.store.UpdateExtractionResult(ctx, res))
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/documents/doc-p/results", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, model.ExtractionProcessing, decode[pendingResponse](t, rr).Status)

	res.Status = model.ExtractionFailed
	require.NoError(t, env.store.UpdateExtractionResult(ctx, res))
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/documents/doc-p/results", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Equal(t, "processing_incomplete", body.ErrorType)
	assert.Equal(t, lifecycle.StatusFailed, body.CurrentStatus)
}

// failedUpload uploads a PDF through the API and records an OCR failure.
func failedUpload(t *testing.T, env *testEnv) string {
	t.Helper()
	rr := env.upload(t, "statement.pdf", []byte("%PDF-1.7"))
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := decode[map[string]any](t, rr)["document_id"].(string)
	env.appendEvent(t, id, model.EventFailed, model.EventData{
		Error:         "ocr timed out",
		ErrorType:     "ocr_failed",
		RetryEligible: model.Ptr(true),
	})
	return id
}

func TestRetry_Accepted(t *testing.T) {
	env := newTestEnv(t)
	id := failedUpload(t, env)

	// Prime the status cache; a retry must invalidate it.
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/documents/"+id+"/status", nil))
	require.Equal(t, lifecycle.StatusFailed, decode[lifecycle.StatusReport](t, rr).Status)

	req := httptest.NewRequest(http.MethodPost, "/documents/"+id+"/retry", strings.NewReader(`{"enhanced_ocr":true}`))
	req.Header.Set(principalHeader, "analyst-3")
	rr = env.do(t, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	out := decode[pipeline.RetryOutcome](t, rr)
	assert.Equal(t, "retry_queued", out.Status)
	assert.Equal(t, 1, out.RetryCount)
	assert.True(t, out.EnhancedOCR)

	require.Len(t, env.queue.jobs, 2)
	assert.Equal(t, id+"-retry-1", env.queue.jobs[1].MessageID)

	events, err := env.store.ListEvents(context.Background(), id, 0)
	require.NoError(t, err)
	var initiatedBy string
	for _, ev := range events {
		if ev.EventType == model.EventRetryInitiated {
			initiatedBy = ev.Data.InitiatedBy
		}
	}
	assert.Equal(t, "analyst-3", initiatedBy)

	_, cached := env.srv.status.Get(id)
	assert.False(t, cached)
}

func TestRetry_EmptyBody(t *testing.T) {
	env := newTestEnv(t)
	id := failedUpload(t, env)

	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/documents/"+id+"/retry", nil))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.False(t, decode[pipeline.RetryOutcome](t, rr).EnhancedOCR)
}

func TestRetry_Refusals(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/documents/ghost/retry", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "document_not_found", decode[errorBody](t, rr).ErrorType)

	rr = env.upload(t, "fresh.pdf", []byte("%PDF"))
	fresh := decode[map[string]any](t, rr)["document_id"].(string)
	rr = env.do(t, httptest.NewRequest(http.MethodPost, "/documents/"+fresh+"/retry", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Equal(t, "retry_not_eligible", body.ErrorType)
	assert.Equal(t, lifecycle.StatusProcessing, body.CurrentStatus)
	assert.True(t, strings.HasPrefix(body.Message, "Document cannot be retried. "))

	rr = env.do(t, httptest.NewRequest(http.MethodPost, "/documents/"+fresh+"/retry", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRetry_BlobMissing(t *testing.T) {
	env := newTestEnv(t)
	id := failedUpload(t, env)

	doc, err := env.store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(env.blobDir, filepath.FromSlash(doc.BlobPath))))

	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/documents/"+id+"/retry", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Equal(t, "blob_not_found", body.ErrorType)
	assert.Equal(t, "Document has been deleted or expired. Please re-upload the document.", body.Message)
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/documents", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := env.do(t, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
