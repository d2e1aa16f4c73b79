package model

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentType is the file format of an uploaded document.
type DocumentType string

const (
	DocumentPDF  DocumentType = "pdf"
	DocumentXLSX DocumentType = "xlsx"
)

// DocumentTypeFromName derives the document type from a file extension.
// Unsupported extensions return "".
func DocumentTypeFromName(name string) DocumentType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return DocumentPDF
	case ".xlsx":
		return DocumentXLSX
	default:
		return ""
	}
}

// Document is an uploaded file awaiting or under processing.
type Document struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Type          DocumentType `json:"type"`
	SizeBytes     int64        `json:"size_bytes"`
	BlobPath      string       `json:"blob_path"`
	UploadedAt    time.Time    `json:"uploaded_at"`
	RetentionDate time.Time    `json:"retention_date"`
}

// ExtractionStatus is the state of one extraction attempt.
type ExtractionStatus string

const (
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// ValidationStatus is the combined verdict of the validation passes.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationPassed  ValidationStatus = "passed"
	ValidationFlagged ValidationStatus = "flagged"
	ValidationFailed  ValidationStatus = "failed"
)

// ExtractionResult summarises one extraction attempt and its validation.
type ExtractionResult struct {
	ID                   string           `json:"id"`
	DocumentID           string           `json:"document_id"`
	DocumentName         string           `json:"document_name"`
	DocumentType         DocumentType     `json:"document_type"`
	Status               ExtractionStatus `json:"status"`
	OCRConfidenceAvg     float64          `json:"ocr_confidence_avg"`
	TablesExtracted      int              `json:"tables_extracted"`
	MetricsExtracted     int              `json:"metrics_extracted"`
	ModelVersion         string           `json:"model_version,omitempty"`
	StartedAt            time.Time        `json:"started_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	ValidationStatus     ValidationStatus `json:"validation_status"`
	ValidationErrors     []string         `json:"validation_errors"`
	ValidationWarnings   []string         `json:"validation_warnings"`
	RequiresManualReview bool             `json:"requires_manual_review"`
	ErrorMessage         string           `json:"error_message,omitempty"`
}
