package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// EventType is the fixed vocabulary of processing log events.
type EventType string

const (
	EventQueued              EventType = "queued"
	EventIngestionStarted    EventType = "ingestion_started"
	EventExtractionStarted   EventType = "extraction_started"
	EventExtractionCompleted EventType = "extraction_completed"
	EventValidationStarted   EventType = "validation_started"
	EventValidationCompleted EventType = "validation_completed"
	EventRetryInitiated      EventType = "retry_initiated"
	EventFailed              EventType = "failed"
)

var eventTypes = map[EventType]bool{
	EventQueued:              true,
	EventIngestionStarted:    true,
	EventExtractionStarted:   true,
	EventExtractionCompleted: true,
	EventValidationStarted:   true,
	EventValidationCompleted: true,
	EventRetryInitiated:      true,
	EventFailed:              true,
}

// Valid reports whether e belongs to the vocabulary.
func (e EventType) Valid() bool {
	return eventTypes[e]
}

// ParseEventType validates a raw event type string.
func ParseEventType(s string) (EventType, error) {
	e := EventType(s)
	if !e.Valid() {
		return "", eris.Errorf("model: unknown event type %q", s)
	}
	return e, nil
}

// EventData is the payload of a processing event. Which fields are set
// depends on the event type; see ValidateEventData.
type EventData struct {
	DocumentName  string `json:"document_name,omitempty"`
	DocumentType  string `json:"document_type,omitempty"`
	FileSizeBytes *int64 `json:"file_size_bytes,omitempty"`

	ExtractionResultID string `json:"extraction_result_id,omitempty"`
	EnhancedOCR        *bool  `json:"enhanced_ocr,omitempty"`
	RetryCount         *int   `json:"retry_count,omitempty"`
	InitiatedBy        string `json:"initiated_by,omitempty"`

	MetricsExtracted *int     `json:"metrics_extracted,omitempty"`
	TablesExtracted  *int     `json:"tables_extracted,omitempty"`
	AvgConfidence    *float64 `json:"avg_confidence,omitempty"`
	DurationSeconds  *float64 `json:"duration_seconds,omitempty"`

	ValidationStatus     string `json:"validation_status,omitempty"`
	ErrorCount           *int   `json:"error_count,omitempty"`
	WarningCount         *int   `json:"warning_count,omitempty"`
	RequiresManualReview *bool  `json:"requires_manual_review,omitempty"`

	Error         string `json:"error,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
	RetryEligible *bool  `json:"retry_eligible,omitempty"`
}

// ProcessingEvent is one immutable fact in a document's processing log.
type ProcessingEvent struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	EventType  EventType `json:"event_type"`
	Timestamp  time.Time `json:"event_timestamp"`
	Data       EventData `json:"event_data"`
}

// Ptr returns a pointer to v. Used to fill optional EventData fields.
func Ptr[T any](v T) *T {
	return &v
}
