package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/intake"
	"github.com/sells-group/fin-ingest/internal/lifecycle"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/pipeline"
	"github.com/sells-group/fin-ingest/internal/store"
)

// Error types returned in the error_type field.
const (
	errTypeValidation       = "validation_error"
	errTypeDocumentNotFound = "document_not_found"
	errTypeBlobNotFound     = "blob_not_found"
	errTypeNoMetrics        = "no_metrics"
	errTypeIncomplete       = "processing_incomplete"
	errTypeNotEligible      = "retry_not_eligible"
	errTypeQueue            = "queue_unavailable"
	errTypeStorage          = "storage_error"
)

type errorBody struct {
	Error         string           `json:"error"`
	ErrorType     string           `json:"error_type"`
	Message       string           `json:"message,omitempty"`
	DocumentID    string           `json:"document_id,omitempty"`
	CurrentStatus lifecycle.Status `json:"current_status,omitempty"`
}

type uploadResponse struct {
	*intake.Receipt
	Message                        string `json:"message"`
	EstimatedProcessingTimeMinutes int    `json:"estimated_processing_time_minutes"`
}

type pendingResponse struct {
	DocumentID string                 `json:"document_id"`
	Status     model.ExtractionStatus `json:"status"`
	Message    string                 `json:"message"`
}

type retryBody struct {
	EnhancedOCR bool   `json:"enhanced_ocr"`
	InitiatedBy string `json:"initiated_by"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}

func principal(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(principalHeader)); id != "" {
		return id
	}
	return "unknown-user"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Error("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.intake.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorBody{Error: intake.ErrTooLarge.Error(), ErrorType: errTypeValidation})
			return
		}
		writeError(w, http.StatusBadRequest, errorBody{Error: "invalid multipart form", ErrorType: errTypeValidation})
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Error: "no file uploaded, use form field 'file'", ErrorType: errTypeValidation})
		return
	}
	defer file.Close() //nolint:errcheck

	// Reject before reading when the declared size is already over.
	if _, err := s.intake.Check(header.Filename, header.Size); err != nil {
		writeIntakeError(w, err)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Error: "failed to read upload", ErrorType: errTypeValidation})
		return
	}

	rec, err := s.intake.Ingest(r.Context(), intake.Upload{Name: header.Filename, Data: data})
	if err != nil {
		if rec != nil {
			zap.L().Error("api: upload recorded but not queued", zap.String("document_id", rec.DocumentID), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, errorBody{
				Error:      "document stored but could not be queued",
				ErrorType:  errTypeQueue,
				Message:    "Retry the document once processing capacity is available.",
				DocumentID: rec.DocumentID,
			})
			return
		}
		writeIntakeError(w, err)
		return
	}

	zap.L().Info("api: document uploaded",
		zap.String("document_id", rec.DocumentID),
		zap.String("user_id", principal(r)),
	)
	writeJSON(w, http.StatusAccepted, uploadResponse{
		Receipt:                        rec,
		Message:                        "Document uploaded successfully and queued for processing",
		EstimatedProcessingTimeMinutes: s.cfg.Processing.TimeoutMinutes,
	})
}

func writeIntakeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error(), ErrorType: errTypeValidation})
	case errors.Is(err, intake.ErrEmptyFile),
		errors.Is(err, intake.ErrUnsupportedType),
		errors.Is(err, intake.ErrMissingFileName):
		writeError(w, http.StatusBadRequest, errorBody{Error: err.Error(), ErrorType: errTypeValidation})
	default:
		zap.L().Error("api: upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errorBody{Error: "failed to store document", ErrorType: errTypeStorage})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if report, ok := s.status.Get(id); ok {
		writeJSON(w, http.StatusOK, report)
		return
	}

	ctx := r.Context()
	events, err := s.store.ListEvents(ctx, id, s.cfg.Processing.StatusLogLimit)
	if err != nil {
		zap.L().Error("api: list events", zap.String("document_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, errorBody{Error: "failed to retrieve document status", ErrorType: errTypeStorage})
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, errorBody{Error: "document " + id + " not found", ErrorType: errTypeDocumentNotFound})
		return
	}

	report := lifecycle.Summarize(id, events, s.now(), s.cfg.Processing.Timeout())
	res, err := s.store.GetLatestExtractionResult(ctx, id)
	switch {
	case err == nil:
		report.AttachResult(res)
	case !store.IsNotFound(err):
		zap.L().Warn("api: load extraction result for status", zap.String("document_id", id), zap.Error(err))
	}

	s.status.Set(id, report)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	q := r.URL.Query()

	format := q.Get("format")
	if format == "" {
		format = pipeline.FormatDetailed
	}
	if format != pipeline.FormatDetailed && format != pipeline.FormatSummary {
		writeError(w, http.StatusBadRequest, errorBody{Error: "format must be detailed or summary", ErrorType: errTypeValidation})
		return
	}
	includeLow := true
	if v := q.Get("include_low_confidence"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errorBody{Error: "include_low_confidence must be true or false", ErrorType: errTypeValidation})
			return
		}
		includeLow = b
	}

	res, err := pipeline.LoadResults(r.Context(), s.store, pipeline.ResultQuery{DocumentID: id, IncludeLowConfidence: includeLow})
	if err != nil {
		var notReady *pipeline.NotReadyError
		switch {
		case store.IsNotFound(err):
			writeError(w, http.StatusNotFound, errorBody{Error: "no extraction found for document " + id, ErrorType: errTypeDocumentNotFound})
		case errors.As(err, &notReady) && notReady.Status == model.ExtractionProcessing:
			writeJSON(w, http.StatusAccepted, pendingResponse{
				DocumentID: id,
				Status:     notReady.Status,
				Message:    "Document is still being processed. Check the status endpoint for progress.",
			})
		case errors.As(err, &notReady):
			writeError(w, http.StatusConflict, errorBody{
				Error:         "Document processing is not complete",
				ErrorType:     errTypeIncomplete,
				CurrentStatus: lifecycle.Status(notReady.Status),
				Message:       "Please check the status endpoint for processing status",
			})
		default:
			zap.L().Error("api: load results", zap.String("document_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, errorBody{Error: "failed to retrieve document results", ErrorType: errTypeStorage})
		}
		return
	}
	if res.Extraction.MetricsExtracted == 0 {
		writeError(w, http.StatusNotFound, errorBody{
			Error:     "No financial metrics found for this document",
			ErrorType: errTypeNoMetrics,
			Message:   "Document was processed but no financial metrics were extracted",
		})
		return
	}

	zap.L().Info("audit: results viewed",
		zap.String("document_id", id),
		zap.String("user_id", principal(r)),
		zap.String("format", format),
	)
	if format == pipeline.FormatSummary {
		writeJSON(w, http.StatusOK, res.Summary())
		return
	}
	writeJSON(w, http.StatusOK, res.Detailed())
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")

	var body retryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, errorBody{Error: "invalid request body", ErrorType: errTypeValidation})
		return
	}
	if body.InitiatedBy == "" {
		body.InitiatedBy = principal(r)
	}

	out, err := s.retrier.Retry(r.Context(), pipeline.RetryRequest{
		DocumentID:  id,
		EnhancedOCR: body.EnhancedOCR,
		InitiatedBy: body.InitiatedBy,
	})
	if err != nil {
		var ineligible *pipeline.IneligibleError
		switch {
		case errors.As(err, &ineligible) && ineligible.Eligibility.CurrentStatus == lifecycle.StatusUnknown:
			writeError(w, http.StatusNotFound, errorBody{Error: ineligible.Eligibility.Reason, ErrorType: errTypeDocumentNotFound})
		case errors.As(err, &ineligible):
			reason := ineligible.Eligibility.Reason
			writeError(w, http.StatusConflict, errorBody{
				Error:         reason,
				ErrorType:     errTypeNotEligible,
				CurrentStatus: ineligible.Eligibility.CurrentStatus,
				Message:       "Document cannot be retried. " + reason,
			})
		case errors.Is(err, pipeline.ErrBlobMissing):
			writeError(w, http.StatusNotFound, errorBody{
				Error:     "Original document no longer exists in Blob Storage",
				ErrorType: errTypeBlobNotFound,
				Message:   "Document has been deleted or expired. Please re-upload the document.",
			})
		default:
			zap.L().Error("api: retry", zap.String("document_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, errorBody{Error: "failed to queue document for retry", ErrorType: errTypeStorage})
		}
		return
	}

	s.status.Delete(id)
	writeJSON(w, http.StatusAccepted, out)
}
